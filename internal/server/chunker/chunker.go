// Package chunker splits a byte stream into fixed-size, hashed chunks and
// builds the storage keys those chunks are kept under.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/dmitrijs2005/chunkvault/internal/common"
)

// DefaultSize is the chunk size used when none is configured (1 MiB).
const DefaultSize = 1 << 20

// Chunk is one slice of the input. Data is owned by the caller.
type Chunk struct {
	Index int
	Data  []byte
	// Hash is the lowercase hex SHA-256 of Data.
	Hash string
}

// Chunker reads forward through r and yields chunks of exactly size bytes,
// except the last one which may be shorter. It is not restartable and not
// safe for concurrent use.
type Chunker struct {
	r     io.Reader
	size  int
	next  int
	total int64
	whole hash.Hash
	done  bool
}

// New returns a chunker over r. size must be positive.
func New(r io.Reader, size int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", common.ErrValidation, size)
	}
	return &Chunker{r: r, size: size, whole: sha256.New()}, nil
}

// Next returns the next chunk, or io.EOF after the last one. An empty input
// yields io.EOF on the first call.
func (c *Chunker) Next() (Chunk, error) {
	if c.done {
		return Chunk{}, io.EOF
	}

	buf := make([]byte, c.size)
	n, err := io.ReadFull(c.r, buf)
	switch {
	case errors.Is(err, io.EOF):
		c.done = true
		return Chunk{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.done = true
	case err != nil:
		return Chunk{}, fmt.Errorf("read chunk %d: %w", c.next, err)
	}

	data := buf[:n]
	c.whole.Write(data)
	c.total += int64(n)

	ch := Chunk{Index: c.next, Data: data, Hash: Hash(data)}
	c.next++
	return ch, nil
}

// Count is the number of chunks produced so far.
func (c *Chunker) Count() int { return c.next }

// Total is the number of bytes consumed so far.
func (c *Chunker) Total() int64 { return c.total }

// Sum is the hex SHA-256 of everything consumed so far. After Next returned
// io.EOF it is the whole-file checksum.
func (c *Chunker) Sum() string {
	return hex.EncodeToString(c.whole.Sum(nil))
}

// Hash returns the lowercase hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify checks data against an expected hash.
func Verify(data []byte, expected string) error {
	if got := Hash(data); got != expected {
		return fmt.Errorf("%w: want sha256 %s, got %s", common.ErrIntegrity, expected, got)
	}
	return nil
}

// ExpectedCount is the number of chunks a stream of size bytes produces,
// or 0 when size is unknown.
func ExpectedCount(size int64, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + int64(chunkSize) - 1) / int64(chunkSize))
}
