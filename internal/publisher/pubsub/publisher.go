// Package pubsub announces finished runs on a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JakeFAU/sitecheck/internal/report"
)

// RunMessage is the JSON payload published for every run.
type RunMessage struct {
	RunID      string                        `json:"run_id"`
	Scenario   string                        `json:"scenario"`
	Passed     bool                          `json:"passed"`
	Failures   int                           `json:"failures"`
	URLs       int                           `json:"urls"`
	Skipped    int                           `json:"skipped"`
	LoadErrors int                           `json:"load_errors"`
	StartedAt  time.Time                     `json:"started_at"`
	FinishedAt time.Time                     `json:"finished_at"`
	Checks     map[string]report.CheckCounts `json:"checks"`
}

// NewRunMessage condenses s into a RunMessage.
func NewRunMessage(s report.Summary) RunMessage {
	return RunMessage{
		RunID:      s.RunID,
		Scenario:   s.Scenario,
		Passed:     s.Passed(),
		Failures:   s.TotalFailures(),
		URLs:       s.URLs,
		Skipped:    s.Skipped,
		LoadErrors: s.LoadErrors,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Checks:     s.Checks,
	}
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New connects to projectID and verifies that topicID exists.
// It authenticates using Application Default Credentials.
func New(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil || !exists {
		_ = client.Close()
		if err != nil {
			return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}
	return &Publisher{client: client, topic: topic}, nil
}

// NewWithTopic wraps an existing topic. The caller keeps ownership of its client.
func NewWithTopic(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// PublishRun publishes the summary of a run and waits for the server ID.
func (p *Publisher) PublishRun(ctx context.Context, s report.Summary) (string, error) {
	if p == nil || p.topic == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(NewRunMessage(s))
	if err != nil {
		return "", fmt.Errorf("marshal run message: %w", err)
	}
	status := "passed"
	if !s.Passed() {
		status = "failed"
	}
	attrs := map[string]string{
		"run_id":   s.RunID,
		"scenario": s.Scenario,
		"status":   status,
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(attrs))

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish run message: %w", err)
	}
	return id, nil
}

// Deliver publishes s, discarding the message ID.
func (p *Publisher) Deliver(ctx context.Context, s report.Summary) error {
	_, err := p.PublishRun(ctx, s)
	return err
}

// Close flushes pending messages and closes an owned client.
func (p *Publisher) Close() error {
	if p == nil || p.topic == nil {
		return nil
	}
	p.topic.Stop()
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
