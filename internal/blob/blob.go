// Package blob stores task inputs, report exports, screenshots and logs in
// named containers.
package blob

import (
	"context"
	"mime"
	"path"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pharma-cart/internal/config"
)

// Store reads and writes blobs. Upload returns a URL for the stored blob.
type Store interface {
	Upload(ctx context.Context, container, name string, data []byte) (string, error)
	Download(ctx context.Context, container, name string) ([]byte, error)
}

// New returns the Store selected by cfg.Driver.
func New(cfg config.BlobConfig) (Store, error) {
	switch cfg.Driver {
	case "azure":
		return NewAzure(cfg.ConnectionString)
	case "local":
		return NewLocal(cfg.LocalDir)
	default:
		return nil, eris.Errorf("blob: unsupported driver %q", cfg.Driver)
	}
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
