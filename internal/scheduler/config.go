package scheduler

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfinance/datacenter/internal/errs"
)

// RetrySpec declares how a failed job run is re-attempted.
type RetrySpec struct {
	Strategy   string  `yaml:"strategy"` // immediate, linear, exponential
	MaxRetries int     `yaml:"max_retries"`
	DelaySec   float64 `yaml:"delay"`
}

// Delay computes the pause before retry attempt n (1-based).
func (r RetrySpec) Delay(attempt int) time.Duration {
	base := time.Duration(r.DelaySec * float64(time.Second))
	if base <= 0 {
		base = time.Second
	}
	switch r.Strategy {
	case "", "immediate":
		return 0
	case "linear":
		return base * time.Duration(attempt)
	case "exponential":
		return base * (1 << (attempt - 1))
	}
	return base
}

// JobSpec is one scheduled task binding.
type JobSpec struct {
	Name            string                 `yaml:"name"`
	Task            string                 `yaml:"task"`
	Schedule        string                 `yaml:"schedule"`
	Params          map[string]interface{} `yaml:"params"`
	TradingDaysOnly bool                   `yaml:"trading_days_only"`
	Retry           RetrySpec              `yaml:"retry"`
	DependsOn       []string               `yaml:"depends_on"`
	TimeoutSec      int                    `yaml:"timeout"`
	Disabled        bool                   `yaml:"disabled"`
}

// Timeout returns the per-run timeout, zero meaning the task default.
func (j JobSpec) Timeout() time.Duration {
	return time.Duration(j.TimeoutSec) * time.Second
}

// CronExpr normalizes the schedule into a cron parser input. Three forms
// are accepted: a 5-field cron expression, "@every <duration>", and
// "daily HH:MM".
func (j JobSpec) CronExpr() (string, error) {
	s := strings.TrimSpace(j.Schedule)
	if s == "" {
		return "", fmt.Errorf("job %s: empty schedule", j.Name)
	}
	if strings.HasPrefix(s, "daily ") {
		var hh, mm int
		if _, err := fmt.Sscanf(strings.TrimPrefix(s, "daily "), "%d:%d", &hh, &mm); err != nil {
			return "", fmt.Errorf("job %s: bad daily schedule %q", j.Name, j.Schedule)
		}
		if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
			return "", fmt.Errorf("job %s: daily time %02d:%02d out of range", j.Name, hh, mm)
		}
		return fmt.Sprintf("%d %d * * *", mm, hh), nil
	}
	return s, nil
}

// Config is the scheduler section of the config tree.
type Config struct {
	Timezone      string    `yaml:"timezone"`
	MaxConcurrent int       `yaml:"max_concurrent"`
	Jobs          []JobSpec `yaml:"jobs"`
}

type configFile struct {
	Scheduler Config `yaml:"scheduler"`
}

// LoadConfig reads scheduler config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.E(errs.CategoryConfiguration, "load scheduler config",
			fmt.Errorf("read %s: %w", path, err))
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates scheduler config.
func ParseConfig(data []byte) (*Config, error) {
	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errs.E(errs.CategoryConfiguration, "parse scheduler config", err)
	}
	cfg := file.Scheduler
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Shanghai"
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	names := make(map[string]bool, len(cfg.Jobs))
	for i := range cfg.Jobs {
		j := &cfg.Jobs[i]
		if j.Name == "" {
			j.Name = j.Task
		}
		if j.Task == "" {
			return nil, errs.E(errs.CategoryConfiguration, "validate scheduler config",
				fmt.Errorf("job %s: task is required", j.Name))
		}
		if names[j.Name] {
			return nil, errs.E(errs.CategoryConfiguration, "validate scheduler config",
				fmt.Errorf("duplicate job name %s", j.Name))
		}
		names[j.Name] = true
		if _, err := j.CronExpr(); err != nil {
			return nil, errs.E(errs.CategoryConfiguration, "validate scheduler config", err)
		}
	}
	for _, j := range cfg.Jobs {
		for _, dep := range j.DependsOn {
			if !names[dep] {
				return nil, errs.E(errs.CategoryConfiguration, "validate scheduler config",
					fmt.Errorf("job %s depends on unknown job %s", j.Name, dep))
			}
		}
	}
	return &cfg, nil
}
