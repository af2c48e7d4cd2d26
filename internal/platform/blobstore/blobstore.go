// Package blobstore stores uploaded studies under caller-chosen keys. It
// defines the BlobStore interface, an in-memory backend for development and
// tests, a local-disk backend, and the HTTP handler that serves stored images.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrInvalidKey   = errors.New("invalid blob key")
	ErrSizeMismatch = errors.New("blob size does not match declared size")
)

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// Object describes a stored blob.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProgressFunc receives bytes written so far and the declared total, which
// is -1 when unknown.
type ProgressFunc func(written, total int64)

// BlobStore is the contract for storage backends. Put is all-or-nothing: a
// cancelled or failed upload leaves nothing retrievable under key.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader, size int64, progress ProgressFunc) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	Stat(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

// ---------------------------------------------------------------------------
// Keys
// ---------------------------------------------------------------------------

// ImageKey builds "{category}/{ownerID}/{fileName}".
func ImageKey(category, ownerID, fileName string) string {
	return category + "/" + ownerID + "/" + fileName
}

// ValidateKey accepts slash-separated relative keys made of letters,
// digits, dot, dash and underscore. Segments may not be empty or start
// with a dot.
func ValidateKey(key string) error {
	if key == "" || len(key) > 512 {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if path.Clean(key) != key || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || strings.HasPrefix(seg, ".") {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
		for _, r := range seg {
			ok := r == '.' || r == '-' || r == '_' ||
				(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if !ok {
				return fmt.Errorf("%w: %q", ErrInvalidKey, key)
			}
		}
	}
	return nil
}

// progressReader reports every read and stops as soon as ctx is done.
type progressReader struct {
	ctx      context.Context
	r        io.Reader
	written  int64
	total    int64
	progress ProgressFunc
}

func newProgressReader(ctx context.Context, r io.Reader, total int64, progress ProgressFunc) *progressReader {
	if total < 0 {
		total = -1
	}
	return &progressReader{ctx: ctx, r: r, total: total, progress: progress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(b)
	if n > 0 {
		p.written += int64(n)
		if p.progress != nil {
			p.progress(p.written, p.total)
		}
	}
	return n, err
}

// checkSize enforces a declared size once the stream is drained.
func (p *progressReader) checkSize() error {
	if p.total >= 0 && p.written != p.total {
		return fmt.Errorf("%w: declared %d, got %d", ErrSizeMismatch, p.total, p.written)
	}
	return nil
}
