// Package localagg trains embedding encoders with the Local Aggregation loss.
//
// Local Aggregation learns codes on the unit hypersphere by pulling every
// sample towards the background neighbours that repeated clusterings agree
// with, and pushing it away from the rest of its neighbourhood. The module
// is split into focused packages:
//
//	memorybank  - per-sample unit embeddings mixed towards fresh codes
//	knn         - exact inner-product neighbours over a bank snapshot
//	cluster     - repeated clusterings and background refresh
//	loss        - the loss, its gradient and the memory commit
//	trainer     - the training loop around an encoder, a loader and SGD
//	checkpoint  - encoder weights in a blob store (local, memory, S3, MinIO)
//
// # Quick Start
//
//	ds, _ := dataset.NewSynthetic(1024, 64, 8, 0.1, 1)
//	loader, _ := dataset.NewLoader(ds, 32, dataset.WithShuffle(1))
//	enc, _ := nn.NewLinearEncoder(64, 32)
//	cfg := trainer.DefaultConfig()
//	tr, _ := trainer.New(enc, loader, cfg)
//	stats, _ := tr.Train(ctx, 10)
//
// # Errors
//
// Errors wrap one of ErrConfig, ErrState, ErrValue or ErrIndex:
//
//	if errors.Is(err, localagg.ErrConfig) {
//	    // fix the hyperparameters
//	}
//
// # Logging
//
// Components take a *slog.Logger through their options and stay silent by
// default. Logger adds the field names the trainer uses:
//
//	logger := localagg.NewJSONLogger(slog.LevelDebug)
//	tr, _ := trainer.New(enc, loader, cfg, trainer.WithLogger(logger.Logger))
package localagg
