// Package objectstore stores uploaded files such as avatars.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned for object paths that are empty or escape the store.
var ErrInvalidPath = errors.New("invalid object path")

// Store saves objects under slash-separated paths and hands out public URLs.
type Store interface {
	// Upload writes data at objectPath, replacing any existing object, and
	// returns its public URL.
	Upload(ctx context.Context, objectPath string, data []byte) (string, error)

	// Remove deletes the object. Removing a missing object is not an error.
	Remove(ctx context.Context, objectPath string) error

	// PathOf returns the object path behind a URL returned by Upload, or
	// false if the URL does not belong to this store.
	PathOf(url string) (string, bool)
}

// Local keeps objects on the local filesystem.
type Local struct {
	basePath string
	baseURL  string
	logger   *slog.Logger
}

// Ensure Local implements Store
var _ Store = (*Local)(nil)

// NewLocal creates a Local store rooted at basePath. Returned URLs are
// baseURL followed by the object path.
func NewLocal(basePath, baseURL string, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", basePath, err)
	}
	logger.Info("Local object storage ready", "path", basePath)

	return &Local{basePath: basePath, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}, nil
}

func (l *Local) Upload(ctx context.Context, objectPath string, data []byte) (string, error) {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst := filepath.Join(l.basePath, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}

	// Write to a temporary file first so readers never see a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create object: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store object: %w", err)
	}

	l.logger.Info("Object uploaded", "path", clean, "size", len(data))
	return l.URL(clean), nil
}

func (l *Local) Remove(ctx context.Context, objectPath string) error {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return err
	}

	err = os.Remove(filepath.Join(l.basePath, filepath.FromSlash(clean)))
	if errors.Is(err, os.ErrNotExist) {
		l.logger.Debug("Object to remove does not exist", "path", clean)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to remove object: %w", err)
	}

	l.logger.Info("Object removed", "path", clean)
	return nil
}

// URL returns the public URL of an object path.
func (l *Local) URL(objectPath string) string {
	return l.baseURL + "/" + strings.TrimLeft(objectPath, "/")
}

func (l *Local) PathOf(url string) (string, bool) {
	p, ok := strings.CutPrefix(url, l.baseURL+"/")
	if !ok || p == "" {
		return "", false
	}
	return p, true
}

// Handler serves stored objects. Mount it under the base URL's path with
// http.StripPrefix.
func (l *Local) Handler() http.Handler {
	return http.FileServer(http.Dir(l.basePath))
}

func cleanPath(p string) (string, error) {
	if strings.Contains(p, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	clean := path.Clean("/" + p)[1:]
	if clean == "" || clean != strings.TrimLeft(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return clean, nil
}
