package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// partSize is the multipart chunk size; the S3 minimum is 5 MiB.
const partSize int64 = 8 * 1024 * 1024

// Writer implements domain.BlobWriter. Uploads go through the transfer
// manager, which sends small bodies in one request and splits large ones.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
}

// NewWriter creates a Writer that uploads into the bucket configured on c.
func NewWriter(c *Client) *Writer {
	return &Writer{
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
		bucket: c.bucket,
	}
}

// Put uploads data to path with the given content type and user metadata,
// replacing any object already stored there. The body is streamed, so data
// does not need to fit in memory. Metadata keys are sent as x-amz-meta-*
// headers and come back lower-cased from Get.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string, meta map[string]string) error {
	input := &s3.PutObjectInput{
		Bucket:   aws.String(w.bucket),
		Key:      aws.String(path),
		Body:     data,
		Metadata: meta,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := w.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}
