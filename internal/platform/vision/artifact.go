package vision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// ONNXLoader loads an ONNX classifier from Path. If the file is missing and
// URL is set, the artifact is downloaded to Path first.
type ONNXLoader struct {
	Path   string
	URL    string
	Client *http.Client
	Logger zerolog.Logger
}

// Load implements Loader.
func (l *ONNXLoader) Load(ctx context.Context) (Model, error) {
	path, err := l.ensureArtifact(ctx)
	if err != nil {
		return nil, err
	}
	return openONNX(path)
}

func (l *ONNXLoader) ensureArtifact(ctx context.Context) (string, error) {
	if l.Path == "" {
		return "", errors.New("model path is not configured")
	}
	if _, err := os.Stat(l.Path); err == nil {
		return l.Path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat model artifact: %w", err)
	}
	if l.URL == "" {
		return "", fmt.Errorf("model artifact %s not found and no download URL configured", l.Path)
	}
	if err := l.download(ctx); err != nil {
		return "", err
	}
	return l.Path, nil
}

func (l *ONNXLoader) download(ctx context.Context) error {
	client := l.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return fmt.Errorf("build model request: %w", err)
	}
	l.Logger.Info().Str("url", l.URL).Str("path", l.Path).Msg("downloading classifier model")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", l.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model download returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.Path), ".model-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write model artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.Path); err != nil {
		return fmt.Errorf("install model artifact: %w", err)
	}
	l.Logger.Info().Int64("bytes", n).Msg("classifier model downloaded")
	return nil
}
