// Package config provides configuration management for the ReelSync Agent.
// Configuration is loaded from defaults, an optional YAML file, and then
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reelsync/reelsync-agent/internal/project"
)

const (
	// Default values
	DefaultPort         = 8787
	DefaultLogLevel     = "info"
	DefaultDataDir      = ".reelsync"
	DefaultSyncInterval = 2 * time.Minute

	// Environment variable names
	EnvConfigFile   = "REELSYNC_CONFIG"
	EnvPort         = "REELSYNC_PORT"
	EnvLogLevel     = "REELSYNC_LOG_LEVEL"
	EnvDataDir      = "REELSYNC_DATA_DIR"
	EnvHeadless     = "REELSYNC_HEADLESS"
	EnvDisplayName  = "REELSYNC_DISPLAY_NAME"
	EnvUserID       = "REELSYNC_USER_ID"
	EnvRemoteURL    = "REELSYNC_REMOTE_URL"
	EnvRemoteToken  = "REELSYNC_REMOTE_TOKEN"
	EnvRemoteDir    = "REELSYNC_REMOTE_DIR"
	EnvSyncInterval = "REELSYNC_SYNC_INTERVAL"
	EnvSyncVideos   = "REELSYNC_SYNC_VIDEOS"
	EnvFanoutLimit  = "REELSYNC_FANOUT_LIMIT"
	EnvAMQPURL      = "REELSYNC_AMQP_URL"

	// Database filename
	DBFilename = "reelsync.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ClipsDir() string
	Headless() bool
	DisplayName() string
	UserID() string
	RemoteURL() string
	RemoteToken() string
	RemoteDir() string
	SyncInterval() time.Duration
	SyncVideos() bool
	FanoutLimit() int
	AMQPURL() string
	TierLimits() project.TierLimits
}

// fileConfig is the YAML file layout. Zero values leave the defaults alone.
type fileConfig struct {
	Port         int                `yaml:"port"`
	LogLevel     string             `yaml:"log_level"`
	DataDir      string             `yaml:"data_dir"`
	Headless     *bool              `yaml:"headless"`
	DisplayName  string             `yaml:"display_name"`
	UserID       string             `yaml:"user_id"`
	SyncInterval string             `yaml:"sync_interval"`
	SyncVideos   *bool              `yaml:"sync_videos"`
	FanoutLimit  *int               `yaml:"fanout_limit"`
	Remote       remoteFileConfig   `yaml:"remote"`
	AMQPURL      string             `yaml:"amqp_url"`
	Tiers        project.TierLimits `yaml:"tiers"`
}

type remoteFileConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	Dir   string `yaml:"dir"`
}

// EnvConfig holds configuration resolved from file and environment
type EnvConfig struct {
	port         int
	logLevel     string
	dataDir      string
	headless     bool
	displayName  string
	userID       string
	remoteURL    string
	remoteToken  string
	remoteDir    string
	syncInterval time.Duration
	syncVideos   bool
	fanoutLimit  int
	amqpURL      string
	tiers        project.TierLimits
}

// New creates a new EnvConfig with defaults, the optional REELSYNC_CONFIG
// file, and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:         DefaultPort,
		logLevel:     DefaultLogLevel,
		dataDir:      defaultDataDir(),
		displayName:  defaultDisplayName(),
		syncInterval: DefaultSyncInterval,
		syncVideos:   true,
		tiers:        project.DefaultTierLimits(),
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if cfg.port < 1 || cfg.port > 65535 {
		return nil, fmt.Errorf("invalid port %d: must be between 1 and 65535", cfg.port)
	}
	if cfg.fanoutLimit < 0 {
		return nil, fmt.Errorf("invalid fanout limit %d: must not be negative", cfg.fanoutLimit)
	}
	if cfg.syncInterval < 0 {
		return nil, fmt.Errorf("invalid sync interval %s: must not be negative", cfg.syncInterval)
	}

	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.Port != 0 {
		c.port = fc.Port
	}
	if fc.LogLevel != "" {
		c.logLevel = fc.LogLevel
	}
	if fc.DataDir != "" {
		c.dataDir = fc.DataDir
	}
	if fc.Headless != nil {
		c.headless = *fc.Headless
	}
	if fc.DisplayName != "" {
		c.displayName = fc.DisplayName
	}
	if fc.UserID != "" {
		c.userID = fc.UserID
	}
	if fc.SyncInterval != "" {
		d, err := time.ParseDuration(fc.SyncInterval)
		if err != nil {
			return fmt.Errorf("parse config file: sync_interval: %w", err)
		}
		c.syncInterval = d
	}
	if fc.SyncVideos != nil {
		c.syncVideos = *fc.SyncVideos
	}
	if fc.FanoutLimit != nil {
		c.fanoutLimit = *fc.FanoutLimit
	}
	if fc.Remote.URL != "" {
		c.remoteURL = fc.Remote.URL
	}
	if fc.Remote.Token != "" {
		c.remoteToken = fc.Remote.Token
	}
	if fc.Remote.Dir != "" {
		c.remoteDir = fc.Remote.Dir
	}
	if fc.AMQPURL != "" {
		c.amqpURL = fc.AMQPURL
	}
	for tier, limits := range fc.Tiers {
		if _, err := project.ParseTier(string(tier)); err != nil {
			return fmt.Errorf("parse config file: tiers: %w", err)
		}
		c.tiers[tier] = limits
	}
	return nil
}

func (c *EnvConfig) loadEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.dataDir = dd
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		v, err := strconv.ParseBool(h)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = v
	}

	if dn := os.Getenv(EnvDisplayName); dn != "" {
		c.displayName = dn
	}
	if uid := os.Getenv(EnvUserID); uid != "" {
		c.userID = uid
	}
	if u := os.Getenv(EnvRemoteURL); u != "" {
		c.remoteURL = u
	}
	if t := os.Getenv(EnvRemoteToken); t != "" {
		c.remoteToken = t
	}
	if d := os.Getenv(EnvRemoteDir); d != "" {
		c.remoteDir = d
	}

	if si := os.Getenv(EnvSyncInterval); si != "" {
		d, err := time.ParseDuration(si)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvSyncInterval, err)
		}
		c.syncInterval = d
	}

	if sv := os.Getenv(EnvSyncVideos); sv != "" {
		v, err := strconv.ParseBool(sv)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvSyncVideos, err)
		}
		c.syncVideos = v
	}

	if fl := os.Getenv(EnvFanoutLimit); fl != "" {
		n, err := strconv.Atoi(fl)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvFanoutLimit, err)
		}
		c.fanoutLimit = n
	}

	if a := os.Getenv(EnvAMQPURL); a != "" {
		c.amqpURL = a
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ClipsDir returns the directory holding recorded and downloaded videos
func (c *EnvConfig) ClipsDir() string {
	return filepath.Join(c.dataDir, "clips")
}

// Headless reports whether the tray UI is disabled
func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) DisplayName() string {
	return c.displayName
}

// UserID returns the configured identity, empty when one should be generated
func (c *EnvConfig) UserID() string {
	return c.userID
}

// RemoteURL returns the base URL of a remote store server, empty for a local store
func (c *EnvConfig) RemoteURL() string {
	return c.remoteURL
}

func (c *EnvConfig) RemoteToken() string {
	return c.remoteToken
}

// RemoteDir returns the directory of a filesystem-backed remote store
func (c *EnvConfig) RemoteDir() string {
	return c.remoteDir
}

// SyncInterval returns the background sync period; zero disables it
func (c *EnvConfig) SyncInterval() time.Duration {
	return c.syncInterval
}

func (c *EnvConfig) SyncVideos() bool {
	return c.syncVideos
}

// FanoutLimit bounds concurrent network tasks per fan-out group; zero is unbounded
func (c *EnvConfig) FanoutLimit() int {
	return c.fanoutLimit
}

func (c *EnvConfig) AMQPURL() string {
	return c.amqpURL
}

// TierLimits returns the member and clip limits for each tier
func (c *EnvConfig) TierLimits() project.TierLimits {
	out := make(project.TierLimits, len(c.tiers))
	for k, v := range c.tiers {
		out[k] = v
	}
	return out
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

func defaultDisplayName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "ReelSync device"
	}
	return host
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
