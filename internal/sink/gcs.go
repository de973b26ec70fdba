package sink

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/ershoufang-crawler/internal/listing"
)

type writerOpener func(ctx context.Context, bucket, object, contentType string) io.WriteCloser

// GCS uploads the CSV rendering of a batch to one Cloud Storage object.
type GCS struct {
	bucket    string
	object    string
	newWriter writerOpener
	closer    func() error
}

// OpenGCS creates a storage client using Application Default Credentials.
func OpenGCS(ctx context.Context, bucket, object string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	g, err := NewGCS(client, bucket, object)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	g.closer = client.Close
	return g, nil
}

// NewGCS wraps an existing client. The caller keeps ownership of client.
func NewGCS(client *storage.Client, bucket, object string) (*GCS, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return newGCS(bucket, object, func(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType
		return w
	})
}

func newGCS(bucket, object string, open writerOpener) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if strings.TrimSpace(object) == "" {
		return nil, fmt.Errorf("object path is required")
	}
	return &GCS{bucket: bucket, object: object, newWriter: open}, nil
}

// URI returns the gs:// location written by WriteAll.
func (g *GCS) URI() string {
	return fmt.Sprintf("gs://%s/%s", g.bucket, g.object)
}

// WriteAll streams the encoded CSV into the object.
func (g *GCS) WriteAll(ctx context.Context, records []listing.Record, columnOrder []string) error {
	writer := g.newWriter(ctx, g.bucket, g.object, csvContentType)
	if err := EncodeCSV(writer, records, columnOrder); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("upload %s: %w (close writer: %v)", g.URI(), err, closeErr)
		}
		return fmt.Errorf("upload %s: %w", g.URI(), err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Close releases the client when OpenGCS created it.
func (g *GCS) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}

func parseGCSURI(uri string) (string, string, error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, _ := strings.Cut(rest, "/")
	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs uri needs bucket and object: %q", uri)
	}
	return bucket, object, nil
}
