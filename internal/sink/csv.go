package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/ershoufang-crawler/internal/listing"
)

// utf8BOM lets spreadsheet tools detect the encoding of the Chinese text.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

const csvContentType = "text/csv; charset=utf-8"

// EncodeCSV writes a BOM, a header row in the resolved column order, and one row per record.
func EncodeCSV(w io.Writer, records []listing.Record, columnOrder []string) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	columns := listing.OrderColumns(columnOrder)
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, rec := range records {
		if err := cw.Write(rec.Values(columns)); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// CSV writes records to a local file, replacing any previous content.
type CSV struct {
	path string
}

// NewCSV targets the given file path.
func NewCSV(path string) *CSV {
	return &CSV{path: path}
}

// Path returns the target file path.
func (c *CSV) Path() string {
	return c.path
}

// WriteAll encodes the batch to a temporary file and renames it into place.
func (c *CSV) WriteAll(_ context.Context, records []listing.Record, columnOrder []string) error {
	if strings.TrimSpace(c.path) == "" {
		return fmt.Errorf("csv path is required")
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	var buf bytes.Buffer
	if err := EncodeCSV(&buf, records, columnOrder); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".ershoufang-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write csv: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close csv: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename csv: %w", err)
	}
	return nil
}

// Close implements Sink.
func (c *CSV) Close() error {
	return nil
}
