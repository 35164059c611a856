// Package config provides configuration management for livegrid
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/Spatial-NVR/livegrid/internal/grid"
)

// Config represents the livegrid configuration file
type Config struct {
	Version   string          `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Live      LiveConfig      `yaml:"live"`
	Logging   LoggingConfig   `yaml:"logging"`
	Cameras   []CameraConfig  `yaml:"cameras"`

	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*Config) `yaml:"-"`
}

// ServerConfig holds settings for livegrid-server
type ServerConfig struct {
	Address        string   `yaml:"address"`
	DataDir        string   `yaml:"data_dir"`
	DatabasePath   string   `yaml:"database_path"`
	NATSHost       string   `yaml:"nats_host"`
	NATSPort       int      `yaml:"nats_port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MetricsPrefix  string   `yaml:"metrics_prefix"`
}

// DashboardConfig holds settings for the dashboard client
type DashboardConfig struct {
	APIURL            string        `yaml:"api_url"`
	WSURL             string        `yaml:"ws_url"`
	Layout            string        `yaml:"layout"`
	ShowBoundingBoxes bool          `yaml:"show_bounding_boxes"`
	ShowConfidence    bool          `yaml:"show_confidence"`
	LiveEnabled       bool          `yaml:"live_enabled"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	// DefaultFPS is sent with start-stream commands issued by the dashboard
	DefaultFPS int `yaml:"default_fps"`
}

// LiveConfig holds reconnect settings of the live channel
type LiveConfig struct {
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	MaxAttempts    int           `yaml:"max_attempts"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CameraConfig seeds a camera record on server start
type CameraConfig struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Location   string `yaml:"location"`
	ZoneType   string `yaml:"zone_type,omitempty"`
	StreamURL  string `yaml:"stream_url"`
	StreamType string `yaml:"stream_type,omitempty"`
	BuildingID string `yaml:"building_id,omitempty"`
	FPS        int    `yaml:"fps,omitempty"`
	AutoStart  bool   `yaml:"auto_start,omitempty"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{
		Dashboard: DashboardConfig{
			ShowBoundingBoxes: true,
			ShowConfidence:    true,
			LiveEnabled:       true,
		},
	}
	cfg.setDefaults()
	return cfg
}

// Load loads configuration from a YAML file. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.path = path
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no sensible fallback
func (c *Config) Validate() error {
	if _, err := grid.ParseLayout(c.Dashboard.Layout); err != nil {
		return fmt.Errorf("invalid dashboard.layout: %w", err)
	}
	if c.Live.MaxDelay < c.Live.BaseDelay {
		return fmt.Errorf("live.max_delay (%s) must not be shorter than live.base_delay (%s)", c.Live.MaxDelay, c.Live.BaseDelay)
	}
	seen := make(map[string]bool)
	for _, cam := range c.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("camera %q has no id", cam.Name)
		}
		if seen[cam.ID] {
			return fmt.Errorf("duplicate camera id: %s", cam.ID)
		}
		seen[cam.ID] = true
	}
	return nil
}

// Save saves the configuration to its file
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveUnlocked()
}

// saveUnlocked writes the file atomically (caller must hold lock)
func (c *Config) saveUnlocked() error {
	if c.path == "" {
		return fmt.Errorf("config path not set")
	}

	out := struct {
		Version   string          `yaml:"version"`
		Server    ServerConfig    `yaml:"server"`
		Dashboard DashboardConfig `yaml:"dashboard"`
		Live      LiveConfig      `yaml:"live"`
		Logging   LoggingConfig   `yaml:"logging"`
		Cameras   []CameraConfig  `yaml:"cameras"`
	}{c.Version, c.Server, c.Dashboard, c.Live, c.Logging, c.Cameras}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# livegrid configuration\n# Auto-generated - manual edits are preserved\n\n"
	data = append([]byte(header), data...)

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Rename(tmpPath, c.path)
}

// Watch reloads the file when it changes until ctx is done. The parent
// directory is watched so atomic renames are seen too.
func (c *Config) Watch(ctx context.Context) error {
	path := c.Path()
	if path == "" {
		return fmt.Errorf("config path not set")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, c.reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watch error", "error", err)
			}
		}
	}()

	return nil
}

// OnChange registers a callback for config reloads
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

func (c *Config) reload() {
	newCfg, err := Load(c.Path())
	if err != nil {
		slog.Error("Failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	c.Version = newCfg.Version
	c.Server = newCfg.Server
	c.Dashboard = newCfg.Dashboard
	c.Live = newCfg.Live
	c.Logging = newCfg.Logging
	c.Cameras = newCfg.Cameras
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("Configuration reloaded", "path", c.Path())

	for _, fn := range watchers {
		fn(c)
	}
}

// DashboardSettings returns a copy of the dashboard section
func (c *Config) DashboardSettings() DashboardConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Dashboard
}

// GetCamera returns a seeded camera by ID
func (c *Config) GetCamera(id string) *CameraConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.Cameras {
		if c.Cameras[i].ID == id {
			cam := c.Cameras[i]
			return &cam
		}
	}
	return nil
}

// UpsertCamera adds or updates a seeded camera and saves the file
func (c *Config) UpsertCamera(cam CameraConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Cameras {
		if c.Cameras[i].ID == cam.ID {
			c.Cameras[i] = cam
			return c.saveUnlocked()
		}
	}
	c.Cameras = append(c.Cameras, cam)
	return c.saveUnlocked()
}

// RemoveCamera removes a seeded camera and saves the file
func (c *Config) RemoveCamera(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Cameras {
		if c.Cameras[i].ID == id {
			c.Cameras = append(c.Cameras[:i], c.Cameras[i+1:]...)
			return c.saveUnlocked()
		}
	}
	return fmt.Errorf("camera not found: %s", id)
}

// SetPath sets the file used by Save and Watch
func (c *Config) SetPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
}

// Path returns the config file path
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

func (c *Config) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}

	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.DataDir == "" {
		c.Server.DataDir = "./data"
	}
	if c.Server.DatabasePath == "" {
		c.Server.DatabasePath = filepath.Join(c.Server.DataDir, "livegrid.db")
	}
	if c.Server.NATSHost == "" {
		c.Server.NATSHost = "127.0.0.1"
	}
	if c.Server.NATSPort == 0 {
		c.Server.NATSPort = 4222
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MetricsPrefix == "" {
		c.Server.MetricsPrefix = "livegrid"
	}

	if c.Dashboard.APIURL == "" {
		c.Dashboard.APIURL = "http://localhost:8080/api"
	}
	if c.Dashboard.WSURL == "" {
		c.Dashboard.WSURL = "ws://localhost:8080/ws"
	}
	if c.Dashboard.Layout == "" {
		c.Dashboard.Layout = string(grid.DefaultLayout)
	}
	if c.Dashboard.RequestTimeout == 0 {
		c.Dashboard.RequestTimeout = 10 * time.Second
	}
	if c.Dashboard.DefaultFPS == 0 {
		c.Dashboard.DefaultFPS = 5
	}

	if c.Live.BaseDelay == 0 {
		c.Live.BaseDelay = time.Second
	}
	if c.Live.MaxDelay == 0 {
		c.Live.MaxDelay = 30 * time.Second
	}
	if c.Live.MaxAttempts == 0 {
		c.Live.MaxAttempts = 5
	}
	if c.Live.ConnectTimeout == 0 {
		c.Live.ConnectTimeout = 10 * time.Second
	}
	if c.Live.PingInterval == 0 {
		c.Live.PingInterval = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
