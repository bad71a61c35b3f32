// Package service wires watch targets into running stream readers and
// file watchers for the agent.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/transformerlab/provision-monitor/internal/config"
	"github.com/transformerlab/provision-monitor/internal/domain"
	"github.com/transformerlab/provision-monitor/internal/offset"
	"github.com/transformerlab/provision-monitor/internal/progress"
	"github.com/transformerlab/provision-monitor/internal/session"
	"github.com/transformerlab/provision-monitor/internal/sink"
	"github.com/transformerlab/provision-monitor/internal/stream"
	"github.com/transformerlab/provision-monitor/internal/tail"
)

// Monitor runs the configured stream readers and file watchers.
type Monitor struct {
	cfg       *config.Config
	sess      *session.Session
	positions offset.Store
	events    sink.EventWriter

	watchers []*tail.Watcher
	wg       sync.WaitGroup
}

// NewMonitor builds a monitor from configuration: session, persisted tail
// positions, and the optional ClickHouse event sink.
func NewMonitor(cfg *config.Config) (*Monitor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	m := &Monitor{
		cfg:  cfg,
		sess: session.New(),
	}

	if cfg.APIToken != "" {
		if err := m.sess.Login(cfg.APIToken); err != nil {
			return nil, fmt.Errorf("failed to establish session: %w", err)
		}
	}

	positions, err := offset.NewBoltDBStore(cfg.PositionsDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open position store: %w", err)
	}
	m.positions = positions

	if cfg.SinkEnabled() {
		events, err := sink.NewClickHouseSink(
			cfg.ClickHouseHost, cfg.ClickHousePort, cfg.ClickHouseDB,
			sink.DefaultBatchConfig(),
		)
		if err != nil {
			positions.Close()
			return nil, fmt.Errorf("failed to create event sink: %w", err)
		}
		m.events = events
	}

	return m, nil
}

// Start launches every watch target and blocks until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	log.Info().Msg("Monitor starting...")

	targets := &config.Targets{}
	if m.cfg.TargetsPath != "" {
		loaded, err := config.LoadTargets(m.cfg.TargetsPath)
		if err != nil {
			return fmt.Errorf("failed to load targets: %w", err)
		}
		targets = loaded
	}

	for _, file := range m.cfg.TailFiles {
		targets.Tails = append(targets.Tails, config.TailTarget{
			File:       file,
			UsePolling: m.cfg.UsePolling,
		})
	}

	for _, t := range targets.Tails {
		if err := m.startTail(t); err != nil {
			m.stopWatchers()
			return err
		}
	}
	for _, s := range targets.Streams {
		m.startStream(ctx, s)
	}

	log.Info().
		Int("tails", len(targets.Tails)).
		Int("streams", len(targets.Streams)).
		Msg("Monitor started")

	<-ctx.Done()
	return ctx.Err()
}

// Stop shuts down watchers, flushes the sink, and closes the position store.
func (m *Monitor) Stop() error {
	log.Info().Msg("Monitor stopping...")

	m.stopWatchers()
	m.wg.Wait()

	if m.events != nil {
		if err := m.events.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close event sink")
		}
	}
	return m.positions.Close()
}

func (m *Monitor) startTail(t config.TailTarget) error {
	w := tail.NewWatcher(t.File, tail.Options{
		UsePolling:      t.UsePolling,
		PollInterval:    time.Duration(m.cfg.PollIntervalMs) * time.Millisecond,
		StabilityWindow: time.Duration(m.cfg.StabilityMs) * time.Millisecond,
		Positions:       m.positions,
	})
	file := t.File
	w.OnUpdate(func(content string) {
		log.Info().
			Str("file", file).
			Int("bytes", len(content)).
			Msg("File appended")
		fmt.Print(content)
	})
	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start watcher for %s: %w", t.File, err)
	}
	m.watchers = append(m.watchers, w)
	return nil
}

func (m *Monitor) startStream(ctx context.Context, target config.StreamTarget) {
	opts := []stream.Option{
		stream.WithProgressCallback(func(s progress.State) {
			log.Info().
				Str("job_id", target.JobID).
				Bool("machine_found", s.MachineFound).
				Bool("ip_allocated", s.IPAllocated).
				Bool("provisioning_complete", s.ProvisioningComplete).
				Bool("environment_setup", s.EnvironmentSetup).
				Bool("job_deployed", s.JobDeployed).
				Bool("disk_mounted", s.DiskMounted).
				Bool("sdk_initialized", s.SDKInitialized).
				Bool("completed", s.Completed).
				Msg("Provisioning progress")
		}),
	}
	if m.events != nil {
		opts = append(opts, stream.WithEventCallback(func(e domain.ProvisionEvent) {
			if err := m.events.Write(ctx, e); err != nil {
				log.Warn().Err(err).Str("job_id", e.JobID).Msg("Failed to record event")
			}
		}))
	}

	reader := stream.NewReader(target.StreamURL(m.cfg.APIBaseURL), target.JobID, m.sess, opts...)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := reader.Follow(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("job_id", target.JobID).Msg("Stream failed")
		}
	}()
}

func (m *Monitor) stopWatchers() {
	for _, w := range m.watchers {
		if err := w.Stop(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop watcher")
		}
	}
	m.watchers = nil
}
