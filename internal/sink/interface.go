package sink

import (
	"context"

	"github.com/transformerlab/provision-monitor/internal/domain"
)

// EventWriter records classified provisioning events for fleet-wide
// analytics. The sink is optional: the agent runs without one.
type EventWriter interface {
	// Write adds an event to the pending batch, flushing when the batch
	// is full or stale.
	Write(ctx context.Context, event domain.ProvisionEvent) error

	// Flush forces writing all pending events.
	Flush(ctx context.Context) error

	// Close flushes pending events and closes the writer.
	Close() error
}

// BatchConfig configures batching behavior.
type BatchConfig struct {
	MaxSize      int   // Maximum events per batch
	FlushTimeout int64 // Maximum milliseconds to wait before flush
}

// DefaultBatchConfig returns sensible defaults for slow provisioning logs.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxSize:      200,
		FlushTimeout: 5000,
	}
}
