package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"API_BASE_URL", "TAIL_FILES", "CLICKHOUSE_HOST", "POLL_INTERVAL_MS", "USE_POLLING"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:8338" {
		t.Errorf("unexpected default APIBaseURL: %s", cfg.APIBaseURL)
	}
	if cfg.SinkEnabled() {
		t.Error("sink must be disabled by default")
	}
	if cfg.PollIntervalMs != 2000 {
		t.Errorf("unexpected default PollIntervalMs: %d", cfg.PollIntervalMs)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://lab.example.com")
	t.Setenv("TAIL_FILES", "/logs/a.log; /logs/b.log")
	t.Setenv("CLICKHOUSE_HOST", "ch.internal")
	t.Setenv("USE_POLLING", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIBaseURL != "https://lab.example.com" {
		t.Errorf("APIBaseURL = %s", cfg.APIBaseURL)
	}
	if len(cfg.TailFiles) != 2 || cfg.TailFiles[1] != "/logs/b.log" {
		t.Errorf("TailFiles = %v", cfg.TailFiles)
	}
	if !cfg.SinkEnabled() {
		t.Error("expected sink enabled")
	}
	if !cfg.UsePolling {
		t.Error("expected UsePolling=true")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"missing base url", func(c *Config) { c.APIBaseURL = "" }, true},
		{"poll interval too small", func(c *Config) { c.PollIntervalMs = 50 }, true},
		{"sink with bad port", func(c *Config) { c.ClickHouseHost = "h"; c.ClickHousePort = 0 }, true},
		{"sink without database", func(c *Config) { c.ClickHouseHost = "h"; c.ClickHouseDB = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				APIBaseURL:     "http://localhost:8338",
				PollIntervalMs: 2000,
				ClickHousePort: 9000,
				ClickHouseDB:   "provisioning",
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTargets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	content := `streams:
  - job_id: job-12
  - job_id: job-13
    path: /v1/train/13/log
tails:
  - file: /var/log/train/job-12.log
  - file: /mnt/shared/job-13.log
    use_polling: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write targets file: %v", err)
	}

	targets, err := LoadTargets(path)
	if err != nil {
		t.Fatalf("LoadTargets() error = %v", err)
	}
	if len(targets.Streams) != 2 || len(targets.Tails) != 2 {
		t.Fatalf("unexpected targets: %+v", targets)
	}
	if !targets.Tails[1].UsePolling {
		t.Error("expected use_polling for second tail target")
	}

	base := "http://localhost:8338"
	if got := targets.Streams[0].StreamURL(base); got != base+"/jobs/job-12/provision_log" {
		t.Errorf("default stream URL = %s", got)
	}
	if got := targets.Streams[1].StreamURL(base); got != base+"/v1/train/13/log" {
		t.Errorf("explicit path stream URL = %s", got)
	}
}

func TestLoadTargets_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	if err := os.WriteFile(path, []byte("streams:\n  - path: /x\n"), 0644); err != nil {
		t.Fatalf("failed to write targets file: %v", err)
	}
	if _, err := LoadTargets(path); err == nil {
		t.Error("expected error for stream target without job_id")
	}
}
