package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string, meta map[string]string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	// Get returns the object body; the caller closes it.
	Get(ctx context.Context, path string) (io.ReadCloser, BlobInfo, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Report metadata keys attached to archived settlement reports.
const (
	ReportMetaMarket    = "polybet-market"
	ReportMetaRows      = "polybet-rows"
	ReportMetaSignature = "polybet-hmac"
)

// ReportArchiver writes settlement reports to cold storage and reads them back.
type ReportArchiver interface {
	ArchiveMarket(ctx context.Context, marketID string) (path string, err error)
	OpenReport(ctx context.Context, marketID string) (io.ReadCloser, BlobInfo, error)
}
