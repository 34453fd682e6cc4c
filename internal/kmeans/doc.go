// Package kmeans implements Lloyd's k-means over flattened float32 vectors.
//
// Used by the background clusterer to partition the memory bank snapshot.
// Seeding is k-means++ by default; the spherical variant renormalizes
// centroids after each update so that cosine assignment stays meaningful.
package kmeans
