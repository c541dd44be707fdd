package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// AuditorConfig is the YAML configuration for the auditor daemon.
type AuditorConfig struct {
	DatabaseURL string `yaml:"database_url"`
	LogLevel    string `yaml:"log_level"`

	Schedules struct {
		// Validation is the cron schedule for the full system audit.
		Validation string `yaml:"validation"`
		// ExpireSweep transitions overdue assignments; empty disables it.
		ExpireSweep string `yaml:"expire_sweep"`
		// HistoryArchive uploads the rollback history; empty disables it.
		HistoryArchive string `yaml:"history_archive"`
	} `yaml:"schedules"`

	Validation struct {
		Concurrency     int `yaml:"concurrency"`
		MaxSystemAdmins int `yaml:"max_system_admins"`
	} `yaml:"validation"`

	Thresholds struct {
		// MinHealthScore is the score below which a validation run is
		// logged as a warning. Reloaded on config file changes.
		MinHealthScore int `yaml:"min_health_score"`
	} `yaml:"thresholds"`

	Archive struct {
		Enabled      bool   `yaml:"enabled"`
		Endpoint     string `yaml:"endpoint"`
		Region       string `yaml:"region"`
		Bucket       string `yaml:"bucket"`
		AccessKey    string `yaml:"access_key"`
		SecretKey    string `yaml:"secret_key"`
		UsePathStyle bool   `yaml:"use_path_style"`
		HistoryLimit int    `yaml:"history_limit"`
	} `yaml:"archive"`

	mu sync.RWMutex
}

// LoadAuditorConfig reads and validates the YAML configuration file.
func LoadAuditorConfig(path string) (*AuditorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &AuditorConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required")
	}
	if cfg.Archive.Enabled && cfg.Archive.Bucket == "" {
		return nil, fmt.Errorf("archive.bucket is required when archive is enabled")
	}
	return cfg, nil
}

func (c *AuditorConfig) applyDefaults() {
	if c.Schedules.Validation == "" {
		c.Schedules.Validation = "0 2 * * *" // 02:00 UTC daily
	}
	if c.Validation.Concurrency <= 0 {
		c.Validation.Concurrency = 8
	}
	if c.Validation.MaxSystemAdmins <= 0 {
		c.Validation.MaxSystemAdmins = 10
	}
	if c.Thresholds.MinHealthScore <= 0 {
		c.Thresholds.MinHealthScore = 90
	}
	if c.Archive.Region == "" {
		c.Archive.Region = "us-east-1"
	}
}

func (c *AuditorConfig) logrusLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func (c *AuditorConfig) minHealthScore() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Thresholds.MinHealthScore
}

func (c *AuditorConfig) setMinHealthScore(score int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Thresholds.MinHealthScore = score
}

// WatchConfig reloads the alert thresholds when the config file changes.
// Schedules and connection settings require a restart.
func (a *Auditor) WatchConfig(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory rather than the file: editors and config
	// managers typically replace the file, which drops a direct watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name, err := filepath.Abs(event.Name)
				if err != nil || name != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				fresh, err := LoadAuditorConfig(path)
				if err != nil {
					a.log.WithError(err).Warn("Ignoring invalid config reload")
					continue
				}
				a.cfg.setMinHealthScore(fresh.Thresholds.MinHealthScore)
				a.log.WithField("min_health_score", fresh.Thresholds.MinHealthScore).
					Info("Reloaded alert thresholds")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				a.log.WithError(err).Warn("Config watcher error")
			}
		}
	}()
	return nil
}
