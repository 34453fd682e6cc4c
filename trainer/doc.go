// Package trainer runs Local Aggregation training.
//
// A Trainer owns the memory bank, the loss, an SGD optimizer and its step
// scheduler. Every training step encodes a batch, evaluates the loss against
// the current bank snapshot and cluster assignment, back-propagates the loss
// gradient through the encoder, steps the optimizer and finally mixes the
// fresh codes into the bank:
//
//	enc, _ := nn.NewLinearEncoder(ds.Dim(), 32)
//	loader, _ := dataset.NewLoader(ds, 16, dataset.WithShuffle(seed))
//	tr, _ := trainer.New(enc, loader, trainer.DefaultConfig(),
//	    trainer.WithCheckpoints(mgr),
//	    trainer.WithLogger(logger),
//	)
//	stats, err := tr.Train(ctx, 20)
//
// When a checkpoint manager is configured, the encoder is saved under
// Config.SaveTmpName after every epoch.
package trainer
