// Package config loads the JSON runtime configuration. Fields are
// pointers so a partial file only overrides what it names; the Get*
// accessors supply defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is where the service looks for its configuration
// when no -config flag is given.
const DefaultConfigPath = "config/sentry.json"

// TrackerConfig tunes per-camera multi-object tracking.
type TrackerConfig struct {
	IoUThreshold      *float64 `json:"iou_threshold,omitempty"`
	MinHits           *int     `json:"min_hits,omitempty"`
	MaxAge            *int     `json:"max_age,omitempty"`
	MaxHistory        *int     `json:"max_history,omitempty"`
	OptimalAssignment *bool    `json:"optimal_assignment,omitempty"`
}

// BehaviorConfig tunes the scene-wide behavior detectors.
type BehaviorConfig struct {
	GroupDistanceThreshold    *float64 `json:"group_distance_threshold,omitempty"`
	GroupCooldown             *string  `json:"group_cooldown,omitempty"` // duration string like "30s"
	DirectionChangesThreshold *int     `json:"direction_changes_threshold,omitempty"`
	ErraticWindow             *string  `json:"erratic_window,omitempty"`
	StateMaxAge               *string  `json:"state_max_age,omitempty"`
}

// AlertsConfig tunes notification delivery.
type AlertsConfig struct {
	MaxRetries  *int    `json:"max_retries,omitempty"`
	RetryDelay  *string `json:"retry_delay,omitempty"`
	SendTimeout *string `json:"send_timeout,omitempty"`

	WebhookURL string            `json:"webhook_url,omitempty"`
	Headers    map[string]string `json:"webhook_headers,omitempty"`

	SMTPAddr string `json:"smtp_addr,omitempty"`
	SMTPFrom string `json:"smtp_from,omitempty"`

	SMSEndpoint string `json:"sms_endpoint,omitempty"`
	SMSFrom     string `json:"sms_from,omitempty"`
	SMSToken    string `json:"sms_token,omitempty"`

	PushEndpoint string `json:"push_endpoint,omitempty"`
	PushKey      string `json:"push_key,omitempty"`

	// Recipients maps priority ("high"/"medium"/"low") to channel name to
	// destination list.
	Recipients map[string]map[string][]string `json:"recipients,omitempty"`
}

// BusConfig tunes the in-process event bus.
type BusConfig struct {
	HistorySize *int `json:"history_size,omitempty"`
	QueueSize   *int `json:"queue_size,omitempty"`
}

// BridgeConfig configures the external broker bridges. Both legs are
// disabled unless addressed.
type BridgeConfig struct {
	NATSURL      string `json:"nats_url,omitempty"`
	NATSEmbedded *bool  `json:"nats_embedded,omitempty"`
	NATSPort     *int   `json:"nats_port,omitempty"`
	RedisAddr    string `json:"redis_addr,omitempty"`
	RedisDB      *int   `json:"redis_db,omitempty"`
	Pattern      string `json:"pattern,omitempty"`
}

// Config is the root runtime configuration.
type Config struct {
	DBPath    string         `json:"db_path,omitempty"`
	ZonesPath string         `json:"zones_path,omitempty"`
	Tracker   TrackerConfig  `json:"tracker,omitempty"`
	Behavior  BehaviorConfig `json:"behavior,omitempty"`
	Alerts    AlertsConfig   `json:"alerts,omitempty"`
	Bus       BusConfig      `json:"bus,omitempty"`
	Bridge    BridgeConfig   `json:"bridge,omitempty"`
}

// Load reads and validates a Config from a JSON file. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.Tracker.IoUThreshold != nil {
		if v := *c.Tracker.IoUThreshold; v <= 0 || v > 1 {
			return fmt.Errorf("tracker.iou_threshold must be in (0, 1], got %f", v)
		}
	}
	if c.Tracker.MinHits != nil && *c.Tracker.MinHits < 1 {
		return fmt.Errorf("tracker.min_hits must be at least 1, got %d", *c.Tracker.MinHits)
	}
	if c.Tracker.MaxAge != nil && *c.Tracker.MaxAge < 1 {
		return fmt.Errorf("tracker.max_age must be at least 1, got %d", *c.Tracker.MaxAge)
	}
	for name, v := range map[string]*string{
		"behavior.group_cooldown": c.Behavior.GroupCooldown,
		"behavior.erratic_window": c.Behavior.ErraticWindow,
		"behavior.state_max_age":  c.Behavior.StateMaxAge,
		"alerts.retry_delay":      c.Alerts.RetryDelay,
		"alerts.send_timeout":     c.Alerts.SendTimeout,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}
	return nil
}

// GetDBPath returns the journal path or the default.
func (c *Config) GetDBPath() string {
	if c.DBPath == "" {
		return "sentry.db"
	}
	return c.DBPath
}

// GetIoUThreshold returns tracker.iou_threshold or the default.
func (c *Config) GetIoUThreshold() float64 {
	if c.Tracker.IoUThreshold == nil {
		return 0.3
	}
	return *c.Tracker.IoUThreshold
}

// GetMinHits returns tracker.min_hits or the default.
func (c *Config) GetMinHits() int {
	if c.Tracker.MinHits == nil {
		return 3
	}
	return *c.Tracker.MinHits
}

// GetMaxAge returns tracker.max_age or the default.
func (c *Config) GetMaxAge() int {
	if c.Tracker.MaxAge == nil {
		return 30
	}
	return *c.Tracker.MaxAge
}

// GetMaxHistory returns tracker.max_history or the default.
func (c *Config) GetMaxHistory() int {
	if c.Tracker.MaxHistory == nil {
		return 300
	}
	return *c.Tracker.MaxHistory
}

// GetOptimalAssignment returns tracker.optimal_assignment or the default.
func (c *Config) GetOptimalAssignment() bool {
	if c.Tracker.OptimalAssignment == nil {
		return false
	}
	return *c.Tracker.OptimalAssignment
}

// GetGroupDistanceThreshold returns behavior.group_distance_threshold or
// the default.
func (c *Config) GetGroupDistanceThreshold() float64 {
	if c.Behavior.GroupDistanceThreshold == nil {
		return 100
	}
	return *c.Behavior.GroupDistanceThreshold
}

// GetGroupCooldown parses behavior.group_cooldown or returns the default.
func (c *Config) GetGroupCooldown() time.Duration {
	return durationOr(c.Behavior.GroupCooldown, 30*time.Second)
}

// GetDirectionChangesThreshold returns
// behavior.direction_changes_threshold or the default.
func (c *Config) GetDirectionChangesThreshold() int {
	if c.Behavior.DirectionChangesThreshold == nil {
		return 6
	}
	return *c.Behavior.DirectionChangesThreshold
}

// GetErraticWindow parses behavior.erratic_window or returns the default.
func (c *Config) GetErraticWindow() time.Duration {
	return durationOr(c.Behavior.ErraticWindow, 30*time.Second)
}

// GetStateMaxAge parses behavior.state_max_age or returns the default.
func (c *Config) GetStateMaxAge() time.Duration {
	return durationOr(c.Behavior.StateMaxAge, 2*time.Minute)
}

// GetMaxRetries returns alerts.max_retries or the default.
func (c *Config) GetMaxRetries() int {
	if c.Alerts.MaxRetries == nil {
		return 3
	}
	return *c.Alerts.MaxRetries
}

// GetRetryDelay parses alerts.retry_delay or returns the default.
func (c *Config) GetRetryDelay() time.Duration {
	return durationOr(c.Alerts.RetryDelay, 2*time.Second)
}

// GetSendTimeout parses alerts.send_timeout or returns the default.
func (c *Config) GetSendTimeout() time.Duration {
	return durationOr(c.Alerts.SendTimeout, 10*time.Second)
}

// GetHistorySize returns bus.history_size or the default.
func (c *Config) GetHistorySize() int {
	if c.Bus.HistorySize == nil {
		return 1000
	}
	return *c.Bus.HistorySize
}

// GetQueueSize returns bus.queue_size or the default.
func (c *Config) GetQueueSize() int {
	if c.Bus.QueueSize == nil {
		return 256
	}
	return *c.Bus.QueueSize
}

// GetNATSEmbedded returns bridge.nats_embedded or the default.
func (c *Config) GetNATSEmbedded() bool {
	if c.Bridge.NATSEmbedded == nil {
		return false
	}
	return *c.Bridge.NATSEmbedded
}

// GetNATSPort returns bridge.nats_port or the default.
func (c *Config) GetNATSPort() int {
	if c.Bridge.NATSPort == nil {
		return 4222
	}
	return *c.Bridge.NATSPort
}

// GetRedisDB returns bridge.redis_db or the default.
func (c *Config) GetRedisDB() int {
	if c.Bridge.RedisDB == nil {
		return 0
	}
	return *c.Bridge.RedisDB
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}
