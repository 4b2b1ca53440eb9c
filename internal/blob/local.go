package blob

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pharma-cart/internal/model"
)

// Local is a Store on the local filesystem, one directory per container.
type Local struct {
	root string
}

// NewLocal returns a Store rooted at dir, creating it when missing.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, eris.Wrap(err, "blob: resolve local dir")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, eris.Wrap(err, "blob: create local dir")
	}
	return &Local{root: abs}, nil
}

func (l *Local) path(container, name string) (string, error) {
	if container == "" || name == "" || strings.Contains(container, "..") || strings.Contains(name, "..") {
		return "", eris.Errorf("blob: invalid blob path %q/%q", container, name)
	}
	return filepath.Join(l.root, container, filepath.FromSlash(name)), nil
}

func (l *Local) Upload(_ context.Context, container, name string, data []byte) (string, error) {
	p, err := l.path(container, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", eris.Wrapf(err, "blob: create container %s", container)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "blob: write %s/%s", container, name)
	}
	return "file://" + filepath.ToSlash(p), nil
}

func (l *Local) Download(_ context.Context, container, name string) ([]byte, error) {
	p, err := l.path(container, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(model.ErrNotFound, "blob: %s/%s", container, name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blob: read %s/%s", container, name)
	}
	return data, nil
}
