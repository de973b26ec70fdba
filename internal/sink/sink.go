// Package sink persists the records collected by a crawl run.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ershoufang-crawler/internal/listing"
)

// Sink persists a batch of records. Column order is a presentation preference;
// sinks without columns may ignore it.
type Sink interface {
	WriteAll(ctx context.Context, records []listing.Record, columnOrder []string) error
	Close() error
}

// Options carries run-scoped values some sinks record alongside each row.
type Options struct {
	RunID  string
	Logger *zap.Logger
}

// Open resolves a destination string into a Sink. Several destinations may be
// separated by commas. gs:// selects GCS, postgres:// or postgresql:// selects
// Postgres, and anything else is a local CSV path.
func Open(ctx context.Context, destination string, opts Options) (Sink, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	var targets []string
	for _, d := range strings.Split(destination, ",") {
		if d = strings.TrimSpace(d); d != "" {
			targets = append(targets, d)
		}
	}
	if len(targets) == 0 {
		return nil, errors.New("output destination is required")
	}

	sinks := make(Multi, 0, len(targets))
	for _, target := range targets {
		s, err := openOne(ctx, target, opts)
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("open sink %s: %w", redact(target), err)
		}
		opts.Logger.Info("output sink ready", zap.String("destination", redact(target)))
		sinks = append(sinks, s)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

func openOne(ctx context.Context, target string, opts Options) (Sink, error) {
	switch {
	case strings.HasPrefix(target, "gs://"):
		bucket, object, err := parseGCSURI(target)
		if err != nil {
			return nil, err
		}
		return OpenGCS(ctx, bucket, object)
	case strings.HasPrefix(target, "postgres://"), strings.HasPrefix(target, "postgresql://"):
		return NewPostgres(ctx, PostgresConfig{DSN: target, RunID: opts.RunID})
	default:
		return NewCSV(target), nil
	}
}

// Redact hides credentials in every comma separated destination.
func Redact(destination string) string {
	parts := strings.Split(destination, ",")
	for i, part := range parts {
		parts[i] = redact(strings.TrimSpace(part))
	}
	return strings.Join(parts, ",")
}

// redact hides credentials embedded in a destination URL.
func redact(target string) string {
	scheme, rest, ok := strings.Cut(target, "://")
	if !ok {
		return target
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***@" + rest[at+1:]
	}
	return scheme + "://" + rest
}

// Multi writes to every sink and joins their errors.
type Multi []Sink

// WriteAll fans the batch out to each sink in order.
func (m Multi) WriteAll(ctx context.Context, records []listing.Record, columnOrder []string) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteAll(ctx, records, columnOrder); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
