// Package config loads the TOML configuration for the statagent and
// statstore binaries, following the teacher's Duration-wrapper and
// setDefaults/validate pattern.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration for TOML string parsing ("10s", "1m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	return nil
}

// AgentConfig is the statagent binary's configuration (spec §4.4, §4.5).
type AgentConfig struct {
	Watch   WatchConfig   `toml:"watch"`
	Merge   MergeConfig   `toml:"merge"`
	Forward ForwardConfig `toml:"forward"`
	Meta    MetaConfig    `toml:"meta"`
}

// WatchConfig names the directory tailers scan for `<prefix>_cursor.pt`
// sentinels and how often.
type WatchConfig struct {
	BaseDir           string   `toml:"base_dir"`
	WatchInterval     Duration `toml:"watch_interval"`
	StatCheckInterval Duration `toml:"stat_check_interval"`
	IoRetries         int      `toml:"io_retries"`
	IncludePrefixes   []string `toml:"include_prefixes"`
	ExcludePrefixes   []string `toml:"exclude_prefixes"`
}

// MergeConfig configures each tailer's bucketed merger (spec §4.2).
type MergeConfig struct {
	Ftype       uint8 `toml:"ftype"`
	Freqs       uint8 `toml:"freqs"`
	PeriodCount int   `toml:"period_count"`
}

// ForwardConfig is the agent's outbound connection to statstore.
type ForwardConfig struct {
	Address     string   `toml:"address"`
	BatchSize   int      `toml:"batch_size"`
	DialTimeout Duration `toml:"dial_timeout"`
}

// MetaConfig schedules the host-info-report side channel (spec §4.5).
type MetaConfig struct {
	ReportInterval Duration `toml:"report_interval"`
}

// StorageConfig is the statstore binary's configuration (spec §4.6-§4.8).
type StorageConfig struct {
	Listen  ListenConfig  `toml:"listen"`
	Storage StoreConfig   `toml:"storage"`
	Notify  NotifyConfig  `toml:"notify"`
}

// ListenConfig is the RPC address statstore accepts agent connections on.
type ListenConfig struct {
	Address string `toml:"address"`
}

// StoreConfig names the on-disk tree the writer/scanner operate over.
type StoreConfig struct {
	BaseDir string `toml:"base_dir"`
}

// NotifyConfig configures internal/notify's webhook sink for statstore's
// operational events (listener failure, write failure) — see
// cmd/statstore and internal/storesrv. Adapted from the teacher's
// alerting config; statstore itself never evaluates alert conditions, so
// only the webhook channel survived, not the email channel or condition
// engine.
type NotifyConfig struct {
	Webhooks []WebhookConfig `toml:"webhooks"`
}

type WebhookConfig struct {
	Enabled bool              `toml:"enabled"`
	URL     string            `toml:"url"`
	Headers map[string]string `toml:"headers"`
}

// LoadAgentConfig reads and validates a statagent TOML file.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &AgentConfig{}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	setAgentDefaults(cfg)
	if err := validateAgent(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadStorageConfig reads and validates a statstore TOML file.
func LoadStorageConfig(path string) (*StorageConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &StorageConfig{}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	setStorageDefaults(cfg)
	if err := validateStorage(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setAgentDefaults(cfg *AgentConfig) {
	if cfg.Watch.BaseDir == "" {
		cfg.Watch.BaseDir = "/var/lib/statpipe/logs"
	}
	if cfg.Watch.WatchInterval.Duration == 0 {
		cfg.Watch.WatchInterval.Duration = 30 * time.Second
	}
	if cfg.Watch.StatCheckInterval.Duration == 0 {
		cfg.Watch.StatCheckInterval.Duration = 2 * time.Second
	}
	if cfg.Watch.IoRetries == 0 {
		cfg.Watch.IoRetries = 5
	}
	if cfg.Merge.PeriodCount == 0 {
		cfg.Merge.PeriodCount = 60
	}
	if cfg.Merge.Freqs == 0 {
		cfg.Merge.Freqs = 1
	}
	if cfg.Forward.BatchSize == 0 {
		cfg.Forward.BatchSize = 100
	}
	if cfg.Forward.DialTimeout.Duration == 0 {
		cfg.Forward.DialTimeout.Duration = 5 * time.Second
	}
	if cfg.Meta.ReportInterval.Duration == 0 {
		cfg.Meta.ReportInterval.Duration = 5 * time.Minute
	}
}

func setStorageDefaults(cfg *StorageConfig) {
	if cfg.Listen.Address == "" {
		cfg.Listen.Address = ":7980"
	}
	if cfg.Storage.BaseDir == "" {
		cfg.Storage.BaseDir = "/var/lib/statpipe/store"
	}
}

func validateAgent(cfg *AgentConfig) error {
	if cfg.Watch.WatchInterval.Duration < time.Second {
		return fmt.Errorf("watch.watch_interval must be >= 1s, got %s", cfg.Watch.WatchInterval.Duration)
	}
	if cfg.Watch.StatCheckInterval.Duration < time.Millisecond {
		return fmt.Errorf("watch.stat_check_interval must be >= 1ms, got %s", cfg.Watch.StatCheckInterval.Duration)
	}
	if cfg.Watch.IoRetries < 1 {
		return fmt.Errorf("watch.io_retries must be >= 1, got %d", cfg.Watch.IoRetries)
	}
	if cfg.Merge.PeriodCount < 2 {
		return fmt.Errorf("merge.period_count must be >= 2, got %d", cfg.Merge.PeriodCount)
	}
	if cfg.Forward.Address == "" {
		return fmt.Errorf("forward.address is required")
	}
	if cfg.Forward.BatchSize < 1 {
		return fmt.Errorf("forward.batch_size must be >= 1, got %d", cfg.Forward.BatchSize)
	}
	return nil
}

func validateStorage(cfg *StorageConfig) error {
	if cfg.Listen.Address == "" {
		return fmt.Errorf("listen.address is required")
	}
	if cfg.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	for i, wh := range cfg.Notify.Webhooks {
		if err := validateWebhook(i, &wh); err != nil {
			return err
		}
	}
	return nil
}

func validateWebhook(idx int, wh *WebhookConfig) error {
	if !wh.Enabled {
		return nil
	}
	if wh.URL == "" {
		return fmt.Errorf("webhook[%d]: url is required when enabled", idx)
	}
	u, err := url.Parse(wh.URL)
	if err != nil {
		return fmt.Errorf("webhook[%d]: invalid url: %w", idx, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook[%d]: url scheme must be http or https", idx)
	}
	for key, val := range wh.Headers {
		if strings.ContainsAny(key, "\r\n") || strings.ContainsAny(val, "\r\n") {
			return fmt.Errorf("webhook[%d]: header contains invalid characters", idx)
		}
	}
	return nil
}
