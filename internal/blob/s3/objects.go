package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

const (
	// archiveContentType labels objects holding length-delimited
	// google.protobuf.Struct records.
	archiveContentType = "application/x-protobuf-delimited"

	// minPartSize is the S3 multipart minimum (5 MiB).
	minPartSize int64 = 5 << 20

	defaultMultipartThreshold int64 = 32 << 20
)

// Objects stores archive batches in a single bucket. Bodies larger than the
// multipart threshold go through the upload manager.
type Objects struct {
	client    *s3.Client
	bucket    string
	uploader  *manager.Uploader
	threshold int64
}

// NewObjects returns an Objects over the client's bucket. A threshold of
// zero selects the 32 MiB default.
func NewObjects(c *Client, threshold int64) *Objects {
	if threshold <= 0 {
		threshold = defaultMultipartThreshold
	}
	if threshold < minPartSize {
		threshold = minPartSize
	}
	return &Objects{
		client: c.S3(),
		bucket: c.Bucket(),
		uploader: manager.NewUploader(c.S3(), func(u *manager.Uploader) {
			u.PartSize = minPartSize
		}),
		threshold: threshold,
	}
}

// Upload writes body under key. size is the body length in bytes.
func (o *Objects) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(archiveContentType),
	}
	if size > o.threshold {
		if _, err := o.uploader.Upload(ctx, in); err != nil {
			return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
		}
		return nil
	}
	in.ContentLength = aws.Int64(size)
	if _, err := o.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// Open streams the object at key. The caller closes the body.
func (o *Objects) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("s3blob: open %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("s3blob: open %s: %w", key, err)
	}
	return out.Body, nil
}

// List returns every object under prefix in key order.
func (o *Objects) List(ctx context.Context, prefix string) ([]domain.ArchiveObject, error) {
	pages := s3.NewListObjectsV2Paginator(o.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(o.bucket),
		Prefix: aws.String(prefix),
	})

	var objs []domain.ArchiveObject
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			objs = append(objs, domain.ArchiveObject{
				Key:        aws.ToString(obj.Key),
				Size:       aws.ToInt64(obj.Size),
				UploadedAt: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objs, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var resp interface{ HTTPStatusCode() int }
	return errors.As(err, &resp) && resp.HTTPStatusCode() == http.StatusNotFound
}

var _ domain.ObjectStore = (*Objects)(nil)
