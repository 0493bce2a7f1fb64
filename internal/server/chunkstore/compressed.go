package chunkstore

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/klauspost/compress/zstd"
)

// Compressed zstd-compresses chunk bytes before they reach next and
// decompresses them on the way back. Only objects whose Meta says
// EncodingZstd are decoded; anything else, such as objects written before
// compression was enabled, is returned as stored.
type Compressed struct {
	next Store
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// NewCompressed wraps next. EncodeAll/DecodeAll are safe for concurrent use,
// so one encoder and one decoder serve every call.
func NewCompressed(next Store) (*Compressed, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Compressed{next: next, enc: enc, dec: dec}, nil
}

func (c *Compressed) Put(ctx context.Context, key string, data []byte, meta Meta) error {
	meta.ContentEncoding = EncodingZstd
	return c.next.Put(ctx, key, c.enc.EncodeAll(data, make([]byte, 0, len(data)/2)), meta)
}

func (c *Compressed) Get(ctx context.Context, key string) ([]byte, Meta, error) {
	stored, meta, err := c.next.Get(ctx, key)
	if err != nil {
		return nil, Meta{}, err
	}
	if meta.ContentEncoding != EncodingZstd {
		return stored, meta, nil
	}
	data, err := c.dec.DecodeAll(stored, nil)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("%w: decompress %s: %v", common.ErrIntegrity, key, err)
	}
	meta.ContentEncoding = ""
	return data, meta, nil
}

func (c *Compressed) Delete(ctx context.Context, key string) error {
	return c.next.Delete(ctx, key)
}

func (c *Compressed) Exists(ctx context.Context, key string) (bool, error) {
	return c.next.Exists(ctx, key)
}

// Close releases the decoder's goroutines.
func (c *Compressed) Close() {
	c.dec.Close()
}
