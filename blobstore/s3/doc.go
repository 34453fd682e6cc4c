// Package s3 keeps checkpoints in an Amazon S3 bucket and, optionally,
// tracks the newest checkpoint of a run in a DynamoDB table.
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("runs/cifar"),
//	    s3.WithRegion("eu-central-1"),
//	)
//
// Large checkpoints are uploaded in parts with CRC32C checksums. Every
// commit to the DynamoDB pointer is a new versioned item written with a
// conditional put, so two trainers racing for the same version get
// blobstore.ErrConflict instead of silently overwriting each other.
package s3
