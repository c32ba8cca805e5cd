package httpapi

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/draftd/internal/httpapi"

// StreamMetrics holds all stream-related metrics.
type StreamMetrics struct {
	meter         metric.Meter
	logger        *zap.Logger
	streamsTotal  metric.Int64Counter
	eventsTotal   metric.Int64Counter
	activeStreams metric.Int64UpDownCounter
}

// NewStreamMetrics creates a new StreamMetrics instance.
func NewStreamMetrics(logger *zap.Logger) *StreamMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &StreamMetrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *StreamMetrics) init() {
	var err error

	m.streamsTotal, err = m.meter.Int64Counter(
		"draftd.streams_total",
		metric.WithDescription("Total client streams labeled by outcome (done, cancelled, error). Use rate() for stream throughput."),
		metric.WithUnit("{stream}"),
	)
	if err != nil {
		m.logger.Warn("failed to create streams counter", zap.Error(err))
	}

	m.eventsTotal, err = m.meter.Int64Counter(
		"draftd.stream_events_total",
		metric.WithDescription("Total events delivered to clients labeled by event type (content, status, citations, done, cancelled, error)."),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		m.logger.Warn("failed to create events counter", zap.Error(err))
	}

	m.activeStreams, err = m.meter.Int64UpDownCounter(
		"draftd.active_streams",
		metric.WithDescription("Number of currently open client streams"),
		metric.WithUnit("{stream}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active streams gauge", zap.Error(err))
	}
}

// StreamStarted records a newly opened stream.
func (m *StreamMetrics) StreamStarted(ctx context.Context) {
	if m.activeStreams != nil {
		m.activeStreams.Add(ctx, 1)
	}
}

// StreamFinished records a stream's terminal outcome.
func (m *StreamMetrics) StreamFinished(ctx context.Context, outcome string) {
	if m.activeStreams != nil {
		m.activeStreams.Add(ctx, -1)
	}
	if m.streamsTotal != nil {
		m.streamsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// EventSent records one event delivered to a client.
func (m *StreamMetrics) EventSent(ctx context.Context, eventType string) {
	if m.eventsTotal != nil {
		m.eventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
	}
}
