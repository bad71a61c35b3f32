package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/transformerlab/provision-monitor/internal/domain"
	"github.com/transformerlab/provision-monitor/internal/retry"
)

const insertQuery = "INSERT INTO provision_events " +
	"(session_id, job_id, timestamp, log_line, machine_found, ip_allocated, " +
	"provisioning_complete, environment_setup, job_deployed, disk_mounted, " +
	"sdk_initialized, completed)"

// ClickHouseSink batches provisioning events and writes them to ClickHouse.
type ClickHouseSink struct {
	conn     clickhouse.Conn
	cfg      BatchConfig
	retryCfg retry.Config

	mu        sync.Mutex
	batch     []domain.ProvisionEvent
	lastFlush time.Time
}

// NewClickHouseSink connects to ClickHouse and returns a sink.
func NewClickHouseSink(host string, port int, database string, cfg BatchConfig) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", host, port)},
		Auth: clickhouse.Auth{
			Database: database,
			Username: "default",
			Password: "",
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	retryCfg := retry.DefaultConfig()
	if err := retry.Do(context.Background(), retryCfg, func() error {
		return conn.Ping(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	log.Info().
		Str("host", host).
		Int("port", port).
		Str("database", database).
		Msg("Connected to ClickHouse event sink")

	return &ClickHouseSink{
		conn:      conn,
		cfg:       cfg,
		retryCfg:  retryCfg,
		batch:     make([]domain.ProvisionEvent, 0, cfg.MaxSize),
		lastFlush: time.Now(),
	}, nil
}

// Write adds an event to the pending batch, flushing when the batch is full
// or older than the flush timeout.
func (s *ClickHouseSink) Write(ctx context.Context, event domain.ProvisionEvent) error {
	s.mu.Lock()
	s.batch = append(s.batch, event)
	full := len(s.batch) >= s.cfg.MaxSize ||
		time.Since(s.lastFlush).Milliseconds() >= s.cfg.FlushTimeout
	var snapshot []domain.ProvisionEvent
	if full {
		snapshot = s.takeBatchLocked()
	}
	s.mu.Unlock()

	if snapshot == nil {
		return nil
	}
	return s.send(ctx, snapshot)
}

// Flush forces writing all pending events.
func (s *ClickHouseSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	snapshot := s.takeBatchLocked()
	s.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}
	return s.send(ctx, snapshot)
}

// Close flushes pending events and closes the connection.
func (s *ClickHouseSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush event sink on close")
	}
	return s.conn.Close()
}

// takeBatchLocked snapshots and clears the pending batch. Caller holds mu.
func (s *ClickHouseSink) takeBatchLocked() []domain.ProvisionEvent {
	if len(s.batch) == 0 {
		return nil
	}
	snapshot := make([]domain.ProvisionEvent, len(s.batch))
	copy(snapshot, s.batch)
	s.batch = s.batch[:0]
	s.lastFlush = time.Now()
	return snapshot
}

// send writes one batch snapshot with retry on transient failures. A batch
// that still fails is dropped with a log line; provisioning analytics are
// best-effort and must never stall the stream.
func (s *ClickHouseSink) send(ctx context.Context, events []domain.ProvisionEvent) error {
	err := retry.Do(ctx, s.retryCfg, func() error {
		batch, err := s.conn.PrepareBatch(ctx, insertQuery)
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}
		for _, e := range events {
			if err := batch.Append(
				e.SessionID,
				e.JobID,
				e.Timestamp,
				e.LogLine,
				e.State.MachineFound,
				e.State.IPAllocated,
				e.State.ProvisioningComplete,
				e.State.EnvironmentSetup,
				e.State.JobDeployed,
				e.State.DiskMounted,
				e.State.SDKInitialized,
				e.State.Completed,
			); err != nil {
				return fmt.Errorf("failed to append to batch: %w", err)
			}
		}
		return batch.Send()
	})
	if err != nil {
		log.Error().
			Err(err).
			Int("batch_size", len(events)).
			Msg("Dropping event batch after failed writes")
		return err
	}

	log.Debug().
		Int("batch_size", len(events)).
		Msg("Event batch written to ClickHouse")
	return nil
}
