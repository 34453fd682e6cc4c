// Package distance holds the vector primitives shared by the memory bank,
// the neighbour search, the loss and the clusterers.
//
// Embeddings live on the unit hypersphere, so Dot doubles as the cosine
// similarity. Normalize projects a vector back onto the sphere:
//
//	if !distance.Normalize(v) {
//	    return errZeroVector
//	}
//	sim := distance.Dot(v, w)
package distance
