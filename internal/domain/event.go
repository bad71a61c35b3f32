package domain

import (
	"time"

	"github.com/transformerlab/provision-monitor/internal/progress"
)

// ProvisionEvent is one classified log line from a provisioning session,
// recorded with the progress snapshot after the line was applied.
type ProvisionEvent struct {
	SessionID string // UUID of the stream session
	JobID     string // Backend job identifier the stream belongs to
	Timestamp time.Time
	LogLine   string
	State     progress.State
}
