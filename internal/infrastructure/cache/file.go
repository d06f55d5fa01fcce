package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const headerSize = 4

// FileBlobStore keeps one <key>.blob file per entry under a directory. The file
// holds a big-endian uint32 sidecar length, the sidecar, then the data. It is
// written to a temp name and renamed, so data and sidecar always change together.
type FileBlobStore struct {
	dir    string
	logger *zap.Logger
}

func NewFileBlobStore(dir string, logger *zap.Logger) (*FileBlobStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FileBlobStore{dir: dir, logger: logger}, nil
}

func (f *FileBlobStore) path(key string) string {
	return filepath.Join(f.dir, sanitize(key)+".blob")
}

func sanitize(key string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
}

// ReadMeta reads the header and sidecar without loading the data
func (f *FileBlobStore) ReadMeta(ctx context.Context, key string) ([]byte, error) {
	file, err := f.open(key)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	meta, err := readSidecar(file)
	if err != nil {
		return nil, fmt.Errorf("corrupt blob %s: %w", key, err)
	}
	return meta, nil
}

func (f *FileBlobStore) Read(ctx context.Context, key string) (Entry, error) {
	file, err := f.open(key)
	if err != nil {
		return Entry{}, err
	}
	defer file.Close()

	meta, err := readSidecar(file)
	if err != nil {
		return Entry{}, fmt.Errorf("corrupt blob %s: %w", key, err)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return Entry{Data: data, Meta: meta}, nil
}

func (f *FileBlobStore) open(key string) (*os.File, error) {
	file, err := os.Open(f.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrBlobNotFound{Key: key}
		}
		return nil, fmt.Errorf("failed to open blob %s: %w", key, err)
	}
	return file, nil
}

func readSidecar(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	meta := make([]byte, binary.BigEndian.Uint32(header[:]))
	if _, err := io.ReadFull(r, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// Write ignores expiry; freshness is decided from the sidecar
func (f *FileBlobStore) Write(ctx context.Context, key string, e Entry, _ time.Duration) error {
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var header [headerSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(e.Meta)))
	for _, part := range [][]byte{header[:], e.Meta, e.Data} {
		if _, err := tmp.Write(part); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write temp file: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	path := f.path(key)
	if err := os.Rename(tmp.Name(), path); err != nil {
		f.logger.Error("blob rename failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func (f *FileBlobStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

func (f *FileBlobStore) Close() error { return nil }
