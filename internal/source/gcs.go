package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"lakemart/internal/domain"
)

var _ domain.Container = (*GCSContainer)(nil)

// GCSContainer reads batch files from a Google Cloud Storage bucket prefix.
type GCSContainer struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSContainer creates a GCS-backed container. When a key file is
// configured it is used for authentication; otherwise application default
// credentials apply.
func NewGCSContainer(ctx context.Context, cfg Config) (*GCSContainer, error) {
	if cfg.Bucket == "" {
		return nil, domain.ErrValidation("gcs container requires a bucket")
	}

	var opts []option.ClientOption
	if cfg.GCSKeyFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.GCSKeyFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}

	return &GCSContainer{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// List returns the CSV objects under the prefix, in discovery order.
func (c *GCSContainer) List(ctx context.Context) ([]domain.SourceFile, error) {
	var files []domain.SourceFile

	it := c.client.Bucket(c.bucket).Objects(ctx, &storage.Query{Prefix: c.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, domain.ErrTransient("list gs://%s/%s: %v", c.bucket, c.prefix, err)
		}
		if !strings.HasSuffix(attrs.Name, ".csv") {
			continue
		}
		files = append(files, domain.SourceFile{
			ID:           strings.TrimPrefix(attrs.Name, c.prefix),
			DiscoveredAt: attrs.Created.UTC(),
			Size:         attrs.Size,
		})
	}
	sortFiles(files)
	return files, nil
}

// Open streams the named object.
func (c *GCSContainer) Open(ctx context.Context, fileID string) (io.ReadCloser, error) {
	r, err := c.client.Bucket(c.bucket).Object(c.prefix + fileID).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, domain.ErrNotFound("source file %q not found", fileID)
		}
		return nil, domain.ErrTransient("open gs://%s/%s%s: %v", c.bucket, c.prefix, fileID, err)
	}
	return r, nil
}
