// Package source provides access to append-only source containers holding
// raw batch files. Implementations exist for local directories, Amazon S3,
// Google Cloud Storage, and Azure Blob Storage.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lakemart/internal/domain"
)

// Container kinds accepted by New.
const (
	KindLocal = "local"
	KindS3    = "s3"
	KindGCS   = "gcs"
	KindAzure = "azure"
)

// Config selects and configures a container implementation.
type Config struct {
	Kind string
	// Local
	Path string
	// Remote (S3/GCS/Azure)
	Bucket string // bucket or Azure container name
	Prefix string
	// S3
	S3Region   string
	S3Endpoint string // optional custom endpoint (S3-compatible storage)
	S3KeyID    string
	S3Secret   string
	// GCS
	GCSKeyFile string
	// Azure
	AzureAccountName string
	AzureAccountKey  string
}

// New constructs the container described by cfg.
func New(ctx context.Context, cfg Config) (domain.Container, error) {
	switch cfg.Kind {
	case KindLocal, "":
		return NewLocalContainer(cfg.Path), nil
	case KindS3:
		return NewS3Container(cfg)
	case KindGCS:
		return NewGCSContainer(ctx, cfg)
	case KindAzure:
		return NewAzureContainer(cfg)
	default:
		return nil, domain.ErrValidation("unknown source container kind %q", cfg.Kind)
	}
}

// sortFiles orders files by discovery time, tie-broken by file ID lexical
// order. This is the ingestion order contract.
func sortFiles(files []domain.SourceFile) {
	sort.Slice(files, func(i, j int) bool {
		if !files[i].DiscoveredAt.Equal(files[j].DiscoveredAt) {
			return files[i].DiscoveredAt.Before(files[j].DiscoveredAt)
		}
		return files[i].ID < files[j].ID
	})
}

var _ domain.Container = (*LocalContainer)(nil)

// LocalContainer reads batch files from a directory on the local
// filesystem. File modification time stands in for discovery time.
type LocalContainer struct {
	dir string
}

// NewLocalContainer creates a container over the given directory.
func NewLocalContainer(dir string) *LocalContainer {
	return &LocalContainer{dir: dir}
}

// List returns the CSV files in the directory, in discovery order.
func (c *LocalContainer) List(_ context.Context) ([]domain.SourceFile, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, domain.ErrTransient("list source directory %q: %v", c.dir, err)
	}

	var files []domain.SourceFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", e.Name(), err)
		}
		files = append(files, domain.SourceFile{
			ID:           e.Name(),
			DiscoveredAt: info.ModTime().UTC(),
			Size:         info.Size(),
		})
	}
	sortFiles(files)
	return files, nil
}

// Open opens the named file for reading.
func (c *LocalContainer) Open(_ context.Context, fileID string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(c.dir, filepath.Clean(fileID)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrNotFound("source file %q not found", fileID)
		}
		return nil, domain.ErrTransient("open source file %q: %v", fileID, err)
	}
	return f, nil
}
