// Package testutil generates reproducible embeddings and reference answers
// for the tests of this module.
//
//	rng := testutil.NewRNG(7)
//	vecs := rng.ClusteredVectors(100, 16, 4, 0.05)
//	want := testutil.BruteForceKNN(vecs, 3, 5) // excludes row 3 itself
package testutil
