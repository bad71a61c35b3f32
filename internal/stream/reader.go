// Package stream follows the backend's server-sent-event provisioning log
// stream and feeds it through the progress classifier.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/transformerlab/provision-monitor/internal/domain"
	"github.com/transformerlab/provision-monitor/internal/progress"
	"github.com/transformerlab/provision-monitor/internal/retry"
	"github.com/transformerlab/provision-monitor/internal/session"
)

// doneSentinel terminates the stream; it is handled here, not by the
// classifier.
const doneSentinel = "data: [DONE]"

// maxLineSize bounds a single SSE line. Provisioning lines are short, but
// stack traces from failed setup scripts can get long.
const maxLineSize = 1024 * 1024

// Reader follows one job's provisioning stream.
type Reader struct {
	client   *http.Client
	url      string
	jobID    string
	session  *session.Session
	retryCfg retry.Config

	sessionID  string
	classifier *progress.Classifier

	onProgress func(progress.State)
	onEvent    func(domain.ProvisionEvent)
}

// Option configures a Reader.
type Option func(*Reader)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Reader) { r.client = c }
}

// WithRetryConfig overrides the reconnect backoff configuration.
func WithRetryConfig(cfg retry.Config) Option {
	return func(r *Reader) { r.retryCfg = cfg }
}

// WithProgressCallback registers a callback invoked whenever a chunk
// changes the progress state. Called from the reading goroutine.
func WithProgressCallback(fn func(progress.State)) Option {
	return func(r *Reader) { r.onProgress = fn }
}

// WithEventCallback registers a callback invoked for every log line, with
// the state snapshot after the line was applied. Used by the analytics sink.
func WithEventCallback(fn func(domain.ProvisionEvent)) Option {
	return func(r *Reader) { r.onEvent = fn }
}

// NewReader creates a reader for the stream at url belonging to jobID.
func NewReader(url, jobID string, sess *session.Session, opts ...Option) *Reader {
	r := &Reader{
		client:     &http.Client{}, // no timeout: the stream is long-lived
		url:        url,
		jobID:      jobID,
		session:    sess,
		retryCfg:   retry.DefaultConfig(),
		sessionID:  uuid.NewString(),
		classifier: progress.NewClassifier(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the progress state accumulated so far.
func (r *Reader) State() progress.State {
	return r.classifier.State()
}

// Lines returns every log line received so far, in arrival order.
func (r *Reader) Lines() []string {
	return r.classifier.Lines()
}

// Follow connects to the stream and consumes it until the done sentinel,
// a completed status, context cancellation, or retries are exhausted.
// Dropped connections reconnect with backoff; the classifier keeps its
// state across reconnects, so flags stay monotonic for the whole session.
func (r *Reader) Follow(ctx context.Context) error {
	tracer := otel.Tracer("provision-monitor/stream")
	ctx, span := tracer.Start(ctx, "stream.follow")
	span.SetAttributes(
		attribute.String("job.id", r.jobID),
		attribute.String("stream.session_id", r.sessionID),
	)
	defer span.End()

	log.Info().
		Str("url", r.url).
		Str("job_id", r.jobID).
		Str("session_id", r.sessionID).
		Msg("Following provisioning stream")

	err := retry.Do(ctx, r.retryCfg, func() error {
		return r.consume(ctx)
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("stream session %s: %w", r.sessionID, err)
	}

	log.Info().
		Str("job_id", r.jobID).
		Str("session_id", r.sessionID).
		Bool("completed", r.classifier.State().Completed).
		Msg("Provisioning stream finished")
	return nil
}

// consume runs one connection attempt to completion.
func (r *Reader) consume(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if token := r.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		if line == doneSentinel {
			return nil
		}
		r.apply(line)
		if r.classifier.State().Completed {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read error: %w", err)
	}
	// Server closed the stream without the sentinel. Treat as finished
	// rather than reconnecting into a dead session.
	return nil
}

// apply feeds one frame line to the classifier and fans out callbacks.
func (r *Reader) apply(line string) {
	before := r.classifier.State()
	linesBefore := len(r.classifier.Lines())

	state := r.classifier.ParseChunk(line)

	if r.onEvent != nil {
		for _, logLine := range r.classifier.Lines()[linesBefore:] {
			r.onEvent(domain.ProvisionEvent{
				SessionID: r.sessionID,
				JobID:     r.jobID,
				Timestamp: time.Now(),
				LogLine:   logLine,
				State:     state,
			})
		}
	}
	if r.onProgress != nil && state != before {
		r.onProgress(state)
	}
}
