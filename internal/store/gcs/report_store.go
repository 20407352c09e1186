// Package gcs uploads rendered run reports to Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/sitecheck/internal/report"
)

// Config captures the bucket layout.
type Config struct {
	Bucket string
	Prefix string
	Format report.Format
}

// ReportStore writes one object per run.
type ReportStore struct {
	client *storage.Client
	cfg    Config
}

// New wraps an existing client.
func New(client *storage.Client, cfg Config) (*ReportStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.Format == "" {
		cfg.Format = report.FormatJSON
	}
	return &ReportStore{client: client, cfg: cfg}, nil
}

// Open creates a client using Application Default Credentials and checks
// that the bucket is reachable.
func Open(ctx context.Context, cfg Config) (*ReportStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", cfg.Bucket, err)
	}
	return New(client, cfg)
}

// ObjectName returns where the report of s is stored.
func (s *ReportStore) ObjectName(sum report.Summary) string {
	day := "unknown"
	if !sum.StartedAt.IsZero() {
		day = sum.StartedAt.UTC().Format("2006-01-02")
	}
	return path.Join(s.cfg.Prefix, sum.Scenario, day, sum.RunID+"."+s.cfg.Format.Extension())
}

// Upload renders sum and stores it, returning a gs:// URI.
func (s *ReportStore) Upload(ctx context.Context, sum report.Summary) (string, error) {
	if strings.TrimSpace(sum.RunID) == "" {
		return "", fmt.Errorf("run id is required")
	}
	var buf bytes.Buffer
	if err := report.Render(&buf, s.cfg.Format, sum); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	name := s.ObjectName(sum)
	writer := s.client.Bucket(s.cfg.Bucket).Object(name).NewWriter(ctx)
	writer.ContentType = s.cfg.Format.ContentType()
	writer.Metadata = map[string]string{"run_id": sum.RunID, "scenario": sum.Scenario}
	if _, err := io.Copy(writer, &buf); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.cfg.Bucket, name), nil
}

// Deliver uploads sum, discarding the URI.
func (s *ReportStore) Deliver(ctx context.Context, sum report.Summary) error {
	_, err := s.Upload(ctx, sum)
	return err
}

// Close releases the client.
func (s *ReportStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}
