package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/server/auth"
	"github.com/dmitrijs2005/chunkvault/internal/server/chunker"
	"github.com/dmitrijs2005/chunkvault/internal/server/chunkstore"
	"github.com/dmitrijs2005/chunkvault/internal/server/metrics"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
)

// Download is a fully fetched and verified file.
type Download struct {
	File   *models.File
	Size   int64
	Reader io.Reader
}

// DownloadService is the download orchestrator.
type DownloadService struct {
	manifest *ManifestService
	chunks   *chunkIO
	opts     Options
	logger   logging.Logger
	metrics  *metrics.Metrics
}

func NewDownloadService(manifest *ManifestService, store chunkstore.Store, opts Options, l logging.Logger, m *metrics.Metrics) *DownloadService {
	return &DownloadService{
		manifest: manifest,
		chunks:   newChunkIO(store, opts, m),
		opts:     opts,
		logger:   l.With("module", "download"),
		metrics:  m,
	}
}

// Download fetches every chunk of fileID with bounded concurrency, verifies
// each against its recorded hash and assembles them in index order. Nothing
// is returned unless the whole file was fetched and verified.
func (s *DownloadService) Download(ctx context.Context, fileID string, id auth.Identity) (*Download, error) {
	started := time.Now()
	d, err := s.download(ctx, fileID, id)
	s.metrics.Download(err)
	if err != nil {
		s.logger.Warn(ctx, "download failed", "file_id", fileID, "error", err)
		return nil, err
	}
	s.logger.Info(ctx, "download completed", "file_id", fileID, "size", d.Size, "took", time.Since(started))
	return d, nil
}

func (s *DownloadService) download(ctx context.Context, fileID string, id auth.Identity) (*Download, error) {
	f, err := s.manifest.require(ctx, fileID, id, models.AccessRead)
	if err != nil {
		return nil, err
	}
	switch f.Status {
	case models.FileCompleted:
	case models.FileUploading:
		return nil, fmt.Errorf("file %s is still uploading: %w", fileID, common.ErrIncomplete)
	default:
		return nil, fmt.Errorf("file %s: %w", fileID, common.ErrNotFound)
	}

	list, err := s.manifest.ListChunks(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("manifest of %s: %w", fileID, common.ErrNotFound)
	}
	if len(list) != f.ChunkCount {
		return nil, fmt.Errorf("file %s records %d chunks, manifest has %d: %w", fileID, f.ChunkCount, len(list), common.ErrIncomplete)
	}
	for _, c := range list {
		if err := checkChunkKey(f, c); err != nil {
			return nil, err
		}
	}

	parts := make([][]byte, len(list))
	err = fanOut(ctx, len(list), s.opts.Concurrency.Limit(len(list)), func(ctx context.Context, i int) error {
		c := list[i]
		data, err := s.chunks.get(ctx, c.Key)
		if errors.Is(err, common.ErrNotFound) {
			return &common.ChunkError{Index: c.Index, Key: c.Key, Err: fmt.Errorf("%w: missing from chunk store", common.ErrIncomplete)}
		}
		if err != nil {
			return &common.ChunkError{Index: c.Index, Key: c.Key, Err: err}
		}
		if err := chunker.Verify(data, c.Hash); err != nil {
			return &common.ChunkError{Index: c.Index, Key: c.Key, Err: err}
		}
		parts[i] = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	h := sha256.New()
	readers := make([]io.Reader, len(parts))
	var size int64
	for i, p := range parts {
		h.Write(p)
		size += int64(len(p))
		readers[i] = bytes.NewReader(p)
	}
	if f.Checksum != "" {
		if sum := hex.EncodeToString(h.Sum(nil)); sum != f.Checksum {
			return nil, fmt.Errorf("%w: file %s sha256 %s, want %s", common.ErrIntegrity, fileID, sum, f.Checksum)
		}
	}
	if f.Size > 0 && size != f.Size {
		return nil, fmt.Errorf("%w: file %s assembled %d bytes, want %d", common.ErrIntegrity, fileID, size, f.Size)
	}

	return &Download{File: f, Size: size, Reader: io.MultiReader(readers...)}, nil
}

// checkChunkKey makes sure a chunk record points into this file's key space.
func checkChunkKey(f *models.File, c *models.Chunk) error {
	cid, err := chunker.ParseChunkID(c.Key)
	if err != nil {
		return &common.ChunkError{Index: c.Index, Key: c.Key, Err: fmt.Errorf("%w: %v", common.ErrIntegrity, err)}
	}
	if cid.FileID != f.ID || cid.Owner != f.OwnerID || cid.Index != c.Index || cid.Hash != c.Hash {
		return &common.ChunkError{Index: c.Index, Key: c.Key, Err: fmt.Errorf("%w: key does not match chunk record", common.ErrIntegrity)}
	}
	return nil
}
