package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/transformerlab/provision-monitor/internal/domain"
	"github.com/transformerlab/provision-monitor/internal/progress"
	"github.com/transformerlab/provision-monitor/internal/retry"
	"github.com/transformerlab/provision-monitor/internal/session"
)

func fastRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

// sseServer serves the given frames and then the done sentinel.
func sseServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("expected Accept: text/event-stream, got %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			fmt.Fprintf(w, "%s\n", frame)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReader_FollowClassifiesStream(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"log_line": "✓ node chosen"}`,
		`data: {"log_line": "Cluster launched: job-1"}`,
		`data: {"log_line": "Job submitted with ID 1"}`,
	})

	r := NewReader(srv.URL, "job-1", session.New(), WithRetryConfig(fastRetry()))
	if err := r.Follow(context.Background()); err != nil {
		t.Fatalf("Follow() error = %v", err)
	}

	s := r.State()
	if !s.MachineFound || !s.IPAllocated || !s.ProvisioningComplete || !s.JobDeployed {
		t.Errorf("unexpected state %+v", s)
	}
	if got := len(r.Lines()); got != 3 {
		t.Errorf("expected 3 lines, got %d", got)
	}
}

func TestReader_StopsOnCompletedStatus(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"status": "completed"}`,
		`data: {"log_line": "never read"}`,
	})

	r := NewReader(srv.URL, "job-1", session.New(), WithRetryConfig(fastRetry()))
	if err := r.Follow(context.Background()); err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
	if !r.State().Completed {
		t.Error("expected Completed=true")
	}
}

func TestReader_ProgressCallbackFiresOnChangeOnly(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"log_line": "Syncing files to node"}`,
		`data: {"log_line": "plain line, no milestone"}`,
		`data: {"log_line": "Syncing files again"}`,
	})

	var mu sync.Mutex
	var calls []progress.State
	r := NewReader(srv.URL, "job-1", session.New(),
		WithRetryConfig(fastRetry()),
		WithProgressCallback(func(s progress.State) {
			mu.Lock()
			calls = append(calls, s)
			mu.Unlock()
		}))
	if err := r.Follow(context.Background()); err != nil {
		t.Fatalf("Follow() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("expected 1 progress callback, got %d", len(calls))
	}
	if !calls[0].EnvironmentSetup {
		t.Errorf("unexpected callback state %+v", calls[0])
	}
}

func TestReader_EventCallbackSeesEveryLine(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"log_line": "one"}`,
		`data: {not json`,
		`data: {"log_line": "two"}`,
	})

	var mu sync.Mutex
	var events []domain.ProvisionEvent
	r := NewReader(srv.URL, "job-9", session.New(),
		WithRetryConfig(fastRetry()),
		WithEventCallback(func(e domain.ProvisionEvent) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}))
	if err := r.Follow(context.Background()); err != nil {
		t.Fatalf("Follow() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("expected 2 events (malformed frame skipped), got %d", len(events))
	}
	if events[0].LogLine != "one" || events[1].LogLine != "two" {
		t.Errorf("unexpected events %+v", events)
	}
	if events[0].JobID != "job-9" || events[0].SessionID == "" {
		t.Errorf("event missing identifiers: %+v", events[0])
	}
}

func TestReader_SendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	sess := session.New()
	if err := sess.Login("tok-123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	r := NewReader(srv.URL, "job-1", sess, WithRetryConfig(fastRetry()))
	if err := r.Follow(context.Background()); err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
}

func TestReader_ReconnectsKeepingState(t *testing.T) {
	var mu sync.Mutex
	attempt := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempt++
		n := attempt
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		if n == 1 {
			// First connection is refused at the gateway.
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "data: {\"log_line\": \"Cluster launched: x\"}\n")
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	r := NewReader(srv.URL, "job-1", session.New(), WithRetryConfig(fastRetry()))
	if err := r.Follow(context.Background()); err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
	if !r.State().IPAllocated {
		t.Error("expected state from the second connection attempt")
	}
	mu.Lock()
	defer mu.Unlock()
	if attempt != 2 {
		t.Errorf("expected 2 connection attempts, got %d", attempt)
	}
}

func TestReader_NonRetryableStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	r := NewReader(srv.URL, "job-1", session.New(), WithRetryConfig(fastRetry()))
	if err := r.Follow(context.Background()); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
