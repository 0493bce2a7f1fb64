// Package chunkstore is the client side of the key-addressed block store
// chunks live in. Keys are opaque; the orchestrators build them with
// chunker.ChunkID.
package chunkstore

import "context"

// EncodingZstd marks an object whose stored bytes are one zstd frame.
const EncodingZstd = "zstd"

// Meta travels with an object. ContentEncoding is empty for bytes stored as
// given; it maps to the Content-Encoding header on S3-compatible stores.
type Meta struct {
	ContentType     string `json:"content_type,omitempty"`
	ContentEncoding string `json:"content_encoding,omitempty"`
}

// Store is a key → bytes store.
//
// Get returns an error matching common.ErrNotFound when the key is absent.
// Delete of an absent key succeeds. Put of an existing key overwrites it;
// since keys embed the content hash this is an idempotent no-op in practice.
type Store interface {
	Put(ctx context.Context, key string, data []byte, meta Meta) error
	Get(ctx context.Context, key string) ([]byte, Meta, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
