// Package blobstore is the storage layer under checkpoints: a flat namespace
// of immutable, named blobs.
//
// LocalStore writes files with a rename on close, MemoryStore keeps blobs in
// a map, and ThrottledStore charges every transferred byte against the
// checkpoint bandwidth of a resource controller. The s3 and minio
// sub-packages put checkpoints into object storage.
//
// A store must be safe for concurrent use. Put and a closed Create are the
// only ways a blob becomes visible, and a reader never observes a partial
// write.
package blobstore
