package source

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"lakemart/internal/domain"
)

var _ domain.Container = (*AzureContainer)(nil)

// AzureContainer reads batch files from an Azure Blob Storage container
// prefix. Only account-key authentication is supported.
type AzureContainer struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureContainer creates an Azure-backed container from shared-key credentials.
func NewAzureContainer(cfg Config) (*AzureContainer, error) {
	if cfg.Bucket == "" {
		return nil, domain.ErrValidation("azure container requires a container name")
	}
	if cfg.AzureAccountKey == "" {
		return nil, domain.ErrValidation("azure container requires account-key authentication")
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AzureAccountName, cfg.AzureAccountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AzureAccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}

	return &AzureContainer{client: client, container: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// List returns the CSV blobs under the prefix, in discovery order.
func (c *AzureContainer) List(ctx context.Context) ([]domain.SourceFile, error) {
	var files []domain.SourceFile

	pager := c.client.NewListBlobsFlatPager(c.container, &azblob.ListBlobsFlatOptions{
		Prefix: &c.prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, domain.ErrTransient("list az://%s/%s: %v", c.container, c.prefix, err)
		}
		for _, blob := range page.Segment.BlobItems {
			if blob.Name == nil || !strings.HasSuffix(*blob.Name, ".csv") {
				continue
			}
			f := domain.SourceFile{ID: strings.TrimPrefix(*blob.Name, c.prefix)}
			if blob.Properties != nil {
				if blob.Properties.LastModified != nil {
					f.DiscoveredAt = blob.Properties.LastModified.UTC()
				}
				if blob.Properties.ContentLength != nil {
					f.Size = *blob.Properties.ContentLength
				}
			}
			files = append(files, f)
		}
	}
	sortFiles(files)
	return files, nil
}

// Open streams the named blob.
func (c *AzureContainer) Open(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := c.client.DownloadStream(ctx, c.container, c.prefix+fileID, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, domain.ErrNotFound("source file %q not found", fileID)
		}
		return nil, domain.ErrTransient("download az://%s/%s%s: %v", c.container, c.prefix, fileID, err)
	}
	return resp.Body, nil
}
