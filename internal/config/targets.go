package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StreamTarget names one provisioning stream to follow.
type StreamTarget struct {
	JobID string `yaml:"job_id"`
	Path  string `yaml:"path"` // URL path relative to the API base, optional
}

// TailTarget names one file to tail.
type TailTarget struct {
	File       string `yaml:"file"`
	UsePolling bool   `yaml:"use_polling"`
}

// Targets is the YAML watch-target list loaded from TARGETS_PATH.
type Targets struct {
	Streams []StreamTarget `yaml:"streams"`
	Tails   []TailTarget   `yaml:"tails"`
}

// LoadTargets loads a targets YAML file.
func LoadTargets(path string) (*Targets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file: %w", err)
	}

	var t Targets
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse targets file: %w", err)
	}

	for i, s := range t.Streams {
		if s.JobID == "" {
			return nil, fmt.Errorf("stream target %d: job_id is required", i)
		}
	}
	for i, f := range t.Tails {
		if f.File == "" {
			return nil, fmt.Errorf("tail target %d: file is required", i)
		}
	}

	return &t, nil
}

// StreamURL resolves the stream URL for a target against the API base.
func (s StreamTarget) StreamURL(baseURL string) string {
	if s.Path != "" {
		return baseURL + s.Path
	}
	return fmt.Sprintf("%s/jobs/%s/provision_log", baseURL, s.JobID)
}
