package chunkstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/chunkvault/internal/common"
)

// LocalStore keeps each chunk as a file under dir, one path segment per key
// segment. Writes go to a temp file that is renamed into place, so readers
// never see a partial chunk. A non-empty Meta is kept in a sidecar file with
// the metaSuffix next to the chunk.
type LocalStore struct {
	dir string
}

const metaSuffix = ".meta"

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: bad chunk key %q", common.ErrValidation, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: bad chunk key %q", common.ErrValidation, key)
		}
	}
	return filepath.Join(s.dir, filepath.FromSlash(key)), nil
}

func (s *LocalStore) Put(ctx context.Context, key string, data []byte, meta Meta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}

	// The sidecar goes first so a chunk is never visible without its Meta.
	if meta == (Meta{}) {
		if err := os.Remove(target + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove chunk meta: %w", err)
		}
	} else {
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode chunk meta: %w", err)
		}
		if err := writeAtomic(target+metaSuffix, b); err != nil {
			return fmt.Errorf("chunk meta: %w", err)
		}
	}
	return writeAtomic(target, data)
}

func writeAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".chunk-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write chunk: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync chunk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close chunk: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename chunk: %w", err)
	}
	return nil
}

func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, Meta{}, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, Meta{}, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Meta{}, fmt.Errorf("chunk %s: %w", key, common.ErrNotFound)
	}
	if err != nil {
		return nil, Meta{}, fmt.Errorf("read chunk: %w", err)
	}

	var meta Meta
	b, err := os.ReadFile(p + metaSuffix)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, Meta{}, fmt.Errorf("read chunk meta: %w", err)
	default:
		if err := json.Unmarshal(b, &meta); err != nil {
			return nil, Meta{}, fmt.Errorf("%w: chunk meta %s: %v", common.ErrIntegrity, key, err)
		}
	}
	return data, meta, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove chunk: %w", err)
	}
	if err := os.Remove(p + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove chunk meta: %w", err)
	}
	return nil
}

func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat chunk: %w", err)
}
