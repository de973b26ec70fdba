// Package notify publishes a summary of each finished crawl run.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/ershoufang-crawler/internal/listing"
)

// RunSummary is the message published when a run ends.
type RunSummary struct {
	RunID        string          `json:"run_id"`
	StartPage    int             `json:"start_page"`
	LastPage     int             `json:"last_page"`
	PagesFetched int             `json:"pages_fetched"`
	PagesFailed  int             `json:"pages_failed"`
	Challenges   int             `json:"challenges"`
	Reason       string          `json:"reason"`
	Destination  string          `json:"destination,omitempty"`
	Prices       listing.Summary `json:"prices"`
	FinishedAt   time.Time       `json:"finished_at"`
}

// Publisher delivers run summaries.
type Publisher interface {
	Publish(ctx context.Context, summary RunSummary) error
	Close() error
}

// Nop discards summaries.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, RunSummary) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
	Stop()
}

// PubSub publishes summaries as JSON to a Cloud Pub/Sub topic.
type PubSub struct {
	topic   topic
	closeFn func() error
	logger  *zap.Logger
}

// OpenPubSub connects with Application Default Credentials.
func OpenPubSub(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSub, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p := NewPubSub(client, topicID, logger)
	p.closeFn = client.Close
	return p, nil
}

// NewPubSub publishes through an existing client. The caller keeps ownership of client.
func NewPubSub(client *pubsub.Client, topicID string, logger *zap.Logger) *PubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSub{topic: client.Topic(topicID), logger: logger}
}

// Publish marshals the summary and waits for the server to acknowledge it.
func (p *PubSub) Publish(ctx context.Context, summary RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id": summary.RunID,
			"reason": summary.Reason,
		},
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}
	p.logger.Info("run summary published", zap.String("message_id", id), zap.String("run_id", summary.RunID))
	return nil
}

// Close flushes pending messages and releases the client.
func (p *PubSub) Close() error {
	p.topic.Stop()
	if p.closeFn == nil {
		return nil
	}
	if err := p.closeFn(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
