// Package localfs implements storage.Backend on a local directory tree.
// Intended for development and single-node deployments; production setups
// point the pipeline at the s3 provider instead.
package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chatvault/chatvault/internal/storage"
)

// Provider stores media objects under a root directory.
type Provider struct {
	root          string
	publicBaseURL string
}

// New creates a filesystem storage backend rooted at root.
func New(root, publicBaseURL string) (*Provider, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Provider{
		root:          abs,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// Upload writes data to a file under the storage root. Object metadata
// (content type, disposition) has no filesystem equivalent and is dropped.
func (p *Provider) Upload(_ context.Context, key string, reader io.Reader, _ storage.PutOptions) error {
	dest, err := p.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, reader); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Exists reports whether a file is present for the key.
func (p *Provider) Exists(_ context.Context, key string) (bool, error) {
	dest, err := p.objectPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dest); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat file: %w", err)
	}
	return true, nil
}

// Open reads a stored file.
func (p *Provider) Open(_ context.Context, key string) (io.ReadCloser, error) {
	dest, err := p.objectPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dest)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete removes a stored file.
func (p *Provider) Delete(_ context.Context, key string) error {
	dest, err := p.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// PublicURL joins the configured base URL with the storage key.
func (p *Provider) PublicURL(key string) string {
	if p.publicBaseURL == "" {
		return filepath.Join(p.root, filepath.Clean(key))
	}
	return p.publicBaseURL + "/" + strings.TrimLeft(key, "/")
}

func (p *Provider) objectPath(key string) (string, error) {
	clean := filepath.Clean(key)
	if filepath.IsAbs(clean) || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", storage.ErrPathTraversal, key)
	}
	joined := filepath.Join(p.root, clean)
	if !strings.HasPrefix(joined, p.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", storage.ErrPathTraversal, key)
	}
	return joined, nil
}
