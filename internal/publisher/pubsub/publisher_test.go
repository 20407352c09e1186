package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/sitecheck/internal/report"
)

func TestPublishRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := pstest.NewServer()
	defer srv.Close()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close()

	topic, err := client.CreateTopic(ctx, "runs")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "runs-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	failures := report.NewFailures()
	failures.Record("image-alt", "https://example.com/a", "b.png", 1)
	summary := report.Summary{
		RunID:    "run-7",
		Scenario: "image-alt",
		URLs:     4,
		Checks:   map[string]report.CheckCounts{"image-alt": {Attempted: 4, Passed: 3, Failed: 1}},
		Failures: failures.Groups(),
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})

	pub := NewWithTopic(topic)
	id, err := pub.PublishRun(trace.ContextWithSpanContext(ctx, spanCtx), summary)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	received := make(chan *pubsub.Message, 1)
	rctx, rcancel := context.WithCancel(ctx)
	go func() {
		_ = sub.Receive(rctx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			select {
			case received <- msg:
			default:
			}
			rcancel()
		})
	}()

	var msg *pubsub.Message
	select {
	case msg = <-received:
	case <-ctx.Done():
		t.Fatal("no message received")
	}
	assert.Equal(t, "run-7", msg.Attributes["run_id"])
	assert.Equal(t, "failed", msg.Attributes["status"])
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", msg.Attributes["traceparent"])

	var body RunMessage
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.False(t, body.Passed)
	assert.Equal(t, 1, body.Failures)
	assert.Equal(t, 4, body.URLs)
	assert.Equal(t, 3, body.Checks["image-alt"].Passed)

	require.NoError(t, pub.Close())
}

func TestPublishRunUnconfigured(t *testing.T) {
	t.Parallel()

	var pub *Publisher
	_, err := pub.PublishRun(context.Background(), report.Summary{})
	require.Error(t, err)
	require.NoError(t, pub.Close())
}
