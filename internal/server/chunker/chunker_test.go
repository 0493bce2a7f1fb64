package chunker

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, c *Chunker) []Chunk {
	t.Helper()
	var out []Chunk
	for {
		ch, err := c.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ch)
	}
}

func TestChunker_TenMiBInFourMiBChunks(t *testing.T) {
	const mib = 1 << 20
	input := make([]byte, 10*mib)
	_, err := rand.Read(input)
	require.NoError(t, err)

	c, err := New(bytes.NewReader(input), 4*mib)
	require.NoError(t, err)
	chunks := collect(t, c)

	require.Len(t, chunks, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{chunks[0].Index, chunks[1].Index, chunks[2].Index})
	assert.Len(t, chunks[0].Data, 4*mib)
	assert.Len(t, chunks[1].Data, 4*mib)
	assert.Len(t, chunks[2].Data, 2*mib)
	assert.Equal(t, int64(10485760), c.Total())
	assert.Equal(t, 3, c.Count())

	whole := sha256.Sum256(input)
	assert.Equal(t, hex.EncodeToString(whole[:]), c.Sum())

	var rebuilt []byte
	for _, ch := range chunks {
		require.NoError(t, Verify(ch.Data, ch.Hash))
		rebuilt = append(rebuilt, ch.Data...)
	}
	assert.Equal(t, input, rebuilt)
}

func TestChunker_ExactMultiple(t *testing.T) {
	c, err := New(strings.NewReader("abcdef"), 3)
	require.NoError(t, err)
	chunks := collect(t, c)

	require.Len(t, chunks, 2)
	assert.Equal(t, "abc", string(chunks[0].Data))
	assert.Equal(t, "def", string(chunks[1].Data))

	_, err = c.Next()
	assert.ErrorIs(t, err, io.EOF, "stays exhausted")
}

func TestChunker_EmptyInput(t *testing.T) {
	c, err := New(strings.NewReader(""), 4)
	require.NoError(t, err)

	_, err = c.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, c.Count())
	assert.Zero(t, c.Total())
}

func TestChunker_InvalidSize(t *testing.T) {
	_, err := New(strings.NewReader("x"), 0)
	assert.ErrorIs(t, err, common.ErrValidation)
}

// oneByteReader returns at most one byte per Read to exercise short reads.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestChunker_ShortReadsStillFillChunks(t *testing.T) {
	c, err := New(oneByteReader{strings.NewReader("hello world")}, 4)
	require.NoError(t, err)
	chunks := collect(t, c)

	require.Len(t, chunks, 3)
	assert.Equal(t, "hell", string(chunks[0].Data))
	assert.Equal(t, "o wo", string(chunks[1].Data))
	assert.Equal(t, "rld", string(chunks[2].Data))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestChunker_ReadErrorPropagates(t *testing.T) {
	c, err := New(failingReader{}, 4)
	require.NoError(t, err)

	_, err = c.Next()
	assert.ErrorContains(t, err, "disk gone")
}

func TestVerify_Mismatch(t *testing.T) {
	err := Verify([]byte("abc"), Hash([]byte("abd")))
	assert.ErrorIs(t, err, common.ErrIntegrity)
}

func TestExpectedCount(t *testing.T) {
	assert.Equal(t, 3, ExpectedCount(10<<20, 4<<20))
	assert.Equal(t, 2, ExpectedCount(8<<20, 4<<20))
	assert.Equal(t, 1, ExpectedCount(1, 4<<20))
	assert.Equal(t, 0, ExpectedCount(0, 4<<20))
	assert.Equal(t, 0, ExpectedCount(-1, 4<<20))
}
