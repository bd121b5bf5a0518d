package source

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"lakemart/internal/domain"
)

var _ domain.Container = (*S3Container)(nil)

// S3Container reads batch files from an S3 bucket prefix. Works with
// S3-compatible storage via a custom endpoint with path-style addressing.
type S3Container struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Container creates an S3-backed container from static credentials.
func NewS3Container(cfg Config) (*S3Container, error) {
	if cfg.Bucket == "" {
		return nil, domain.ErrValidation("s3 container requires a bucket")
	}

	opts := s3.Options{
		Region: cfg.S3Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.S3KeyID, cfg.S3Secret, "",
		),
	}
	if cfg.S3Endpoint != "" {
		opts.BaseEndpoint = aws.String("https://" + cfg.S3Endpoint)
		opts.UsePathStyle = true
	}

	return &S3Container{
		client: s3.New(opts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// List returns the CSV objects under the prefix, in discovery order.
// LastModified stands in for discovery time.
func (c *S3Container) List(ctx context.Context) ([]domain.SourceFile, error) {
	var files []domain.SourceFile

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(c.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, domain.ErrTransient("list s3://%s/%s: %v", c.bucket, c.prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".csv") {
				continue
			}
			files = append(files, domain.SourceFile{
				ID:           strings.TrimPrefix(key, c.prefix),
				DiscoveredAt: aws.ToTime(obj.LastModified).UTC(),
				Size:         aws.ToInt64(obj.Size),
			})
		}
	}
	sortFiles(files)
	return files, nil
}

// Open streams the object body for the named file.
func (c *S3Container) Open(ctx context.Context, fileID string) (io.ReadCloser, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.prefix + fileID),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") {
			return nil, domain.ErrNotFound("source file %q not found", fileID)
		}
		return nil, domain.ErrTransient("get s3://%s/%s%s: %v", c.bucket, c.prefix, fileID, err)
	}
	return out.Body, nil
}
