package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ParseInterval accepts a Go duration ("90s", "1m30s"), a cron "@every"
// descriptor ("@every 5m"), or a bare integer number of milliseconds ("250").
// Negative values are rejected.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty interval")
	}

	var d time.Duration
	switch {
	case strings.HasPrefix(s, "@"):
		sched, err := cron.ParseStandard(s)
		if err != nil {
			return 0, fmt.Errorf("invalid schedule %q: %w", s, err)
		}
		constant, ok := sched.(cron.ConstantDelaySchedule)
		if !ok {
			return 0, fmt.Errorf("schedule %q has no fixed interval, use @every", s)
		}
		d = constant.Delay
	default:
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			d = time.Duration(ms) * time.Millisecond
			break
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q: %w", s, err)
		}
		d = parsed
	}

	if d < 0 {
		return 0, fmt.Errorf("interval %q must not be negative", s)
	}
	return d, nil
}

// Duration is a time.Duration that unmarshals from any ParseInterval form.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseInterval(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// JobDefinition is one entry of the jobs file.
type JobDefinition struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Target   string   `yaml:"target"`
	Interval Duration `yaml:"interval"`
	Delay    Duration `yaml:"delay"`
}

// JobsFile is the top-level layout of the jobs file.
type JobsFile struct {
	Jobs []JobDefinition `yaml:"jobs"`
}

// LoadJobsFile reads job definitions from path. A missing file yields no jobs.
func LoadJobsFile(path string) ([]JobDefinition, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}
	return ParseJobs(data)
}

// ParseJobs decodes a jobs file and checks that every job names a kind.
func ParseJobs(data []byte) ([]JobDefinition, error) {
	var file JobsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse jobs file: %w", err)
	}
	for i, job := range file.Jobs {
		if job.Kind == "" {
			return nil, fmt.Errorf("job %d (%s): kind is required", i+1, job.Name)
		}
	}
	return file.Jobs, nil
}
