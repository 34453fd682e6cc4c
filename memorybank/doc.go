// Package memorybank holds one exponentially mixed unit embedding per sample.
//
// The bank is a dense N×D float32 table in one row-major slice, indexed by the
// stable sample id in [0, N). It has exactly one mutator, Update, which mixes a
// fresh embedding into the stored row and renormalizes it:
//
//	new = m*old + (1-m)*fresh
//	new = new / ||new||
//
// Readers never see the live table. Snapshot returns an immutable copy that
// all workers of one loss evaluation share, so neighbour search and clustering
// observe a single consistent state while the trainer prepares the next update.
//
// # Usage
//
//	bank, err := memorybank.New(n, dim,
//	    memorybank.WithSeed(42),
//	    memorybank.WithMixingRate(0.5),
//	)
//	snap, err := bank.Snapshot()
//	// ... compute loss against snap ...
//	err = bank.Update(ids, embeddings, 0.5)
package memorybank
