package progress

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// dataPrefix is the SSE frame prefix used by the orchestration backend.
const dataPrefix = "data: "

// ansiEscape matches SGR color sequences emitted by provisioning tools.
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// frame is the JSON payload of a single SSE data frame.
// Both fields are optional; unknown fields are ignored.
type frame struct {
	LogLine string `json:"log_line"`
	Status  string `json:"status"`
}

// Classifier incrementally parses a provisioning log stream and classifies
// lines into a State. The detection is heuristic substring matching over
// human-readable log text: a renamed upstream message silently stops
// triggering its flag, no error is raised.
//
// Not safe for concurrent use; feed it from a single reading goroutine.
type Classifier struct {
	state State
	lines []string
}

// NewClassifier returns a classifier with all flags cleared.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// ParseChunk consumes a raw chunk of the SSE stream. The chunk may contain
// any number of "data: <JSON>" frames; lines without the prefix and frames
// with malformed JSON are skipped without aborting the session.
// Returns a copy of the state after the chunk has been applied.
func (c *Classifier) ParseChunk(chunk string) State {
	for _, line := range strings.Split(chunk, "\n") {
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := line[len(dataPrefix):]

		var f frame
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			log.Warn().
				Err(err).
				Str("payload", truncate(payload, 120)).
				Msg("Skipping malformed stream frame")
			continue
		}

		if f.LogLine != "" {
			c.lines = append(c.lines, f.LogLine)
			c.classifyLine(f.LogLine)
		}
		if f.Status == "completed" {
			c.state.Completed = true
		}
	}
	return c.state
}

// classifyLine tests a single log line against the milestone heuristics.
// Checks are independent: one line may set several flags.
func (c *Classifier) classifyLine(line string) {
	clean := strings.ToLower(ansiEscape.ReplaceAllString(line, ""))

	if strings.Contains(clean, "instance is up") ||
		strings.Contains(clean, "✓") ||
		strings.Contains(clean, "chosen") {
		c.state.MachineFound = true
	}
	// Both flags keyed off the same phrase; the launcher prints no separate
	// line between address assignment and provisioning completion.
	if strings.Contains(clean, "cluster launched") {
		c.state.IPAllocated = true
	}
	if strings.Contains(clean, "cluster launched") {
		c.state.ProvisioningComplete = true
	}
	if strings.Contains(clean, "synced file_mounts") || strings.Contains(clean, "syncing files") {
		c.state.EnvironmentSetup = true
	}
	if strings.Contains(clean, "job submitted") || strings.Contains(clean, "job deployed") {
		c.state.JobDeployed = true
	}
	if strings.Contains(clean, "storage mounted") || strings.Contains(clean, "mounting") {
		c.state.DiskMounted = true
	}
	if strings.Contains(clean, "sdk initialized") || strings.Contains(clean, "lab sdk") {
		c.state.SDKInitialized = true
	}
}

// State returns a copy of the current progress state.
func (c *Classifier) State() State {
	return c.state
}

// Lines returns a copy of every log line seen this session, in arrival order.
func (c *Classifier) Lines() []string {
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

// Reset clears all flags and the accumulated lines, ready for a new session.
func (c *Classifier) Reset() {
	c.state = State{}
	c.lines = nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
