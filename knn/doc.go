// Package knn finds the k most similar memory bank rows for a set of queries.
//
// Similarity is the inner product, which is the cosine similarity on the unit
// rows of a memory bank. Search is exact: a block of queries is scored against
// every snapshot row with one BLAS GEMM, and a bounded heap keeps the best k.
//
// Ordering is strict and deterministic. Results are sorted by descending
// similarity and equal similarities are broken by the lower id. The query id
// itself is never returned.
//
// Query blocks are scored concurrently. All workers read the same immutable
// snapshot, so one call always observes a single bank state.
package knn
