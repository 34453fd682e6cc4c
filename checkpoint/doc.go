// Package checkpoint saves and restores encoder weights.
//
// A checkpoint holds only the encoder state, stored under the fixed key
// "model_state_dict", plus a little metadata. Blobs are named "<name>.tar"
// and live in any blobstore.BlobStore.
//
// # File Format
//
//	magic      [4]byte  "LAGC"
//	version    uint8
//	compress   uint8    0 none, 1 lz4, 2 zstd
//	codecLen   uint8
//	codec      [codecLen]byte
//	rawSize    uint64   little endian, size of the decoded document
//	checksum   uint32   CRC32C of the decoded document
//	payload    ...      compressed document
//
// The document is encoded with the codec named in the header, so files
// written with the stdlib JSON codec and with go-json load the same way.
//
// # Autoencoders
//
// Checkpoints written by an autoencoder carry both "encoder.*" and
// "decoder.*" weights. Loading such a checkpoint keeps the encoder weights
// with the prefix stripped and drops the rest.
package checkpoint
