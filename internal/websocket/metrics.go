package websocket

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "isxlicense.websocket"

// hubMetrics holds the OpenTelemetry instruments for the hub. A nil
// *hubMetrics records nothing.
type hubMetrics struct {
	connectionsTotal  metric.Int64Counter
	connectionsActive metric.Int64UpDownCounter
	messagesSent      metric.Int64Counter
	droppedMessages   metric.Int64Counter
}

func newHubMetrics() (*hubMetrics, error) {
	meter := otel.Meter(meterName)

	connectionsTotal, err := meter.Int64Counter(
		"websocket_connections_total",
		metric.WithDescription("Total number of WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	connectionsActive, err := meter.Int64UpDownCounter(
		"websocket_connections_active",
		metric.WithDescription("Number of active WebSocket connections"),
	)
	if err != nil {
		return nil, err
	}

	messagesSent, err := meter.Int64Counter(
		"websocket_messages_sent_total",
		metric.WithDescription("Messages queued to clients"),
	)
	if err != nil {
		return nil, err
	}

	droppedMessages, err := meter.Int64Counter(
		"websocket_dropped_messages_total",
		metric.WithDescription("Messages dropped because a queue was full"),
	)
	if err != nil {
		return nil, err
	}

	return &hubMetrics{
		connectionsTotal:  connectionsTotal,
		connectionsActive: connectionsActive,
		messagesSent:      messagesSent,
		droppedMessages:   droppedMessages,
	}, nil
}

func (m *hubMetrics) connected(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsActive.Add(ctx, 1)
}

func (m *hubMetrics) disconnected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.connectionsActive.Add(ctx, -1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *hubMetrics) sent(ctx context.Context, messageType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.messagesSent.Add(ctx, int64(n), metric.WithAttributes(attribute.String("message_type", messageType)))
}

func (m *hubMetrics) dropped(ctx context.Context, where string) {
	if m == nil {
		return
	}
	m.droppedMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", where)))
}
