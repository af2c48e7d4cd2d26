package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const metaSuffix = ".meta.json"

// DiskBlobStore keeps each blob as a file under root with a JSON sidecar
// holding its Object. Writes go to a temp file and are renamed into place.
type DiskBlobStore struct {
	root string
}

func NewDiskBlobStore(root string) (*DiskBlobStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root %s: %w", root, err)
	}
	return &DiskBlobStore{root: root}, nil
}

func (s *DiskBlobStore) paths(key string) (string, string, error) {
	if err := ValidateKey(key); err != nil {
		return "", "", err
	}
	if strings.HasSuffix(key, metaSuffix) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	p := filepath.Join(s.root, filepath.FromSlash(key))
	return p, p + metaSuffix, nil
}

func (s *DiskBlobStore) Put(ctx context.Context, key, contentType string, r io.Reader, size int64, progress ProgressFunc) (obj *Object, err error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(dataPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	h := sha256.New()
	pr := newProgressReader(ctx, r, size, progress)
	n, err := io.Copy(io.MultiWriter(tmp, h), pr)
	if err != nil {
		return nil, fmt.Errorf("writing content: %w", err)
	}
	if err = pr.checkSize(); err != nil {
		return nil, err
	}
	if err = tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	obj = &Object{
		Key:         key,
		ContentType: contentType,
		Size:        n,
		SHA256:      hex.EncodeToString(h.Sum(nil)),
		CreatedAt:   time.Now().UTC(),
	}
	meta, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	// Sidecar first: a data file is never visible without its metadata.
	if err = os.WriteFile(metaPath, meta, 0o640); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}
	if err = os.Rename(tmp.Name(), dataPath); err != nil {
		os.Remove(metaPath)
		return nil, fmt.Errorf("commit blob: %w", err)
	}
	return obj, nil
}

func (s *DiskBlobStore) Stat(_ context.Context, key string) (*Object, error) {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dataPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	var obj Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", key, err)
	}
	return &obj, nil
}

func (s *DiskBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, *Object, error) {
	obj, err := s.Stat(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	dataPath, _, _ := s.paths(key)
	f, err := os.Open(dataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, err
	}
	return f, obj, nil
}

func (s *DiskBlobStore) Delete(_ context.Context, key string) error {
	dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dataPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrBlobNotFound
		}
		return err
	}
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
