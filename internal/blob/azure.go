package blob

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	azblobblob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pharma-cart/internal/model"
)

// Azure is a Store backed by an Azure Storage account.
type Azure struct {
	client *azblob.Client
}

// NewAzure connects with a storage account connection string.
func NewAzure(connectionString string) (*Azure, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, eris.Wrap(err, "blob: azure client")
	}
	return &Azure{client: client}, nil
}

func (a *Azure) Upload(ctx context.Context, container, name string, data []byte) (string, error) {
	_, err := a.client.UploadBuffer(ctx, container, name, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &azblobblob.HTTPHeaders{BlobContentType: to.Ptr(contentType(name))},
	})
	if err != nil {
		return "", eris.Wrapf(err, "blob: upload %s/%s", container, name)
	}
	return strings.TrimRight(a.client.URL(), "/") + "/" + url.PathEscape(container) + "/" + url.PathEscape(name), nil
}

func (a *Azure) Download(ctx context.Context, container, name string) ([]byte, error) {
	resp, err := a.client.DownloadStream(ctx, container, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, eris.Wrapf(model.ErrNotFound, "blob: %s/%s", container, name)
		}
		return nil, eris.Wrapf(err, "blob: download %s/%s", container, name)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: read %s/%s", container, name)
	}
	return data, nil
}
