// Package minio stores checkpoints in MinIO or any other S3-compatible
// server reachable with static credentials.
//
//	store, err := minio.Dial(ctx, minio.Options{
//	    Endpoint:     "localhost:9000",
//	    AccessKey:    "minioadmin",
//	    SecretKey:    "minioadmin",
//	    Bucket:       "checkpoints",
//	    Prefix:       "runs/cifar",
//	    CreateBucket: true,
//	})
package minio
