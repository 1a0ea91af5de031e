// Package config provides configuration management for the studio agent.
// Configuration is loaded from an optional YAML file and environment
// variables, with environment variables taking precedence over the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort         = 8787
	DefaultLogLevel     = "info"
	DefaultDataDir      = ".vibedstudio"
	DefaultTickHz       = 60
	DefaultStageRatio   = "16:9"
	DefaultExportBase   = 1280
	DefaultExportFPS    = 30
	DefaultExportSpeed  = 4.0
	DefaultExportFormat = "mp4"

	// Environment variable names
	EnvPort         = "STUDIO_PORT"
	EnvLogLevel     = "STUDIO_LOG_LEVEL"
	EnvDataDir      = "STUDIO_DATA_DIR"
	EnvHeadless     = "STUDIO_HEADLESS"
	EnvFFmpeg       = "STUDIO_FFMPEG"
	EnvFFprobe      = "STUDIO_FFPROBE"
	EnvTickHz       = "STUDIO_TICK_HZ"
	EnvStageRatio   = "STUDIO_STAGE_RATIO"
	EnvExportBase   = "STUDIO_EXPORT_BASE"
	EnvExportFPS    = "STUDIO_EXPORT_FPS"
	EnvExportSpeed  = "STUDIO_EXPORT_SPEED"
	EnvExportFormat = "STUDIO_EXPORT_FORMAT"
	EnvConfigFile   = "STUDIO_CONFIG"
	EnvWatchMedia   = "STUDIO_WATCH_MEDIA"

	// Database filename
	DBFilename = "studio.db"

	// Subprocess defaults
	DefaultProbeTimeout     = 30  // seconds
	DefaultTranscodeTimeout = 900 // 15 minutes
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	CacheDir() string
	ExportsDir() string
	MediaDir() string
	Headless() bool
	WatchMedia() bool
	FFmpegPath() string
	FFprobePath() string
	TickInterval() time.Duration
	StageRatio() string
	ExportBase() int
	ExportFPS() int
	ExportSpeed() float64
	ExportFormat() string
	ProbeTimeout() time.Duration
	TranscodeTimeout() time.Duration
}

// FileConfig is the YAML overlay. Absent keys keep their defaults.
type FileConfig struct {
	Port     *int    `yaml:"port"`
	LogLevel *string `yaml:"log_level"`
	DataDir  *string `yaml:"data_dir"`
	Headless *bool   `yaml:"headless"`
	Watch    *bool   `yaml:"watch_media"`
	FFmpeg   *string `yaml:"ffmpeg"`
	FFprobe  *string `yaml:"ffprobe"`
	TickHz   *int    `yaml:"tick_hz"`
	Stage    struct {
		Ratio *string `yaml:"ratio"`
	} `yaml:"stage"`
	Export struct {
		Base   *int     `yaml:"base"`
		FPS    *int     `yaml:"fps"`
		Speed  *float64 `yaml:"speed"`
		Format *string  `yaml:"format"`
	} `yaml:"export"`
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port         int
	logLevel     string
	dataDir      string
	headless     bool
	watchMedia   bool
	ffmpegPath   string
	ffprobePath  string
	tickHz       int
	stageRatio   string
	exportBase   int
	exportFPS    int
	exportSpeed  float64
	exportFormat string
}

// New creates a new EnvConfig with defaults, the optional YAML file named by
// STUDIO_CONFIG, and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := defaults()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *EnvConfig {
	return &EnvConfig{
		port:         DefaultPort,
		logLevel:     DefaultLogLevel,
		dataDir:      defaultDataDir(),
		watchMedia:   true,
		ffmpegPath:   "ffmpeg",
		ffprobePath:  "ffprobe",
		tickHz:       DefaultTickHz,
		stageRatio:   DefaultStageRatio,
		exportBase:   DefaultExportBase,
		exportFPS:    DefaultExportFPS,
		exportSpeed:  DefaultExportSpeed,
		exportFormat: DefaultExportFormat,
	}
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.Port != nil {
		c.port = *fc.Port
	}
	if fc.LogLevel != nil {
		c.logLevel = *fc.LogLevel
	}
	if fc.DataDir != nil {
		c.dataDir = *fc.DataDir
	}
	if fc.Headless != nil {
		c.headless = *fc.Headless
	}
	if fc.Watch != nil {
		c.watchMedia = *fc.Watch
	}
	if fc.FFmpeg != nil {
		c.ffmpegPath = *fc.FFmpeg
	}
	if fc.FFprobe != nil {
		c.ffprobePath = *fc.FFprobe
	}
	if fc.TickHz != nil {
		c.tickHz = *fc.TickHz
	}
	if fc.Stage.Ratio != nil {
		c.stageRatio = *fc.Stage.Ratio
	}
	if fc.Export.Base != nil {
		c.exportBase = *fc.Export.Base
	}
	if fc.Export.FPS != nil {
		c.exportFPS = *fc.Export.FPS
	}
	if fc.Export.Speed != nil {
		c.exportSpeed = *fc.Export.Speed
	}
	if fc.Export.Format != nil {
		c.exportFormat = *fc.Export.Format
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
	if w := os.Getenv(EnvWatchMedia); w != "" {
		v, err := strconv.ParseBool(w)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvWatchMedia, err)
		}
		c.watchMedia = v
	}
	if f := os.Getenv(EnvFFmpeg); f != "" {
		c.ffmpegPath = f
	}
	if f := os.Getenv(EnvFFprobe); f != "" {
		c.ffprobePath = f
	}
	if v := os.Getenv(EnvTickHz); v != "" {
		hz, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvTickHz, err)
		}
		c.tickHz = hz
	}
	if r := os.Getenv(EnvStageRatio); r != "" {
		c.stageRatio = r
	}
	if v := os.Getenv(EnvExportBase); v != "" {
		base, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvExportBase, err)
		}
		c.exportBase = base
	}
	if v := os.Getenv(EnvExportFPS); v != "" {
		fps, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvExportFPS, err)
		}
		c.exportFPS = fps
	}
	if v := os.Getenv(EnvExportSpeed); v != "" {
		speed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvExportSpeed, err)
		}
		c.exportSpeed = speed
	}
	if v := os.Getenv(EnvExportFormat); v != "" {
		c.exportFormat = strings.ToLower(v)
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.port)
	}
	if c.tickHz < 1 || c.tickHz > 240 {
		return fmt.Errorf("invalid tick rate %d: must be between 1 and 240", c.tickHz)
	}
	if c.exportFPS < 1 || c.exportFPS > 120 {
		return fmt.Errorf("invalid export fps %d: must be between 1 and 120", c.exportFPS)
	}
	if c.exportBase < 16 {
		return fmt.Errorf("invalid export base %d", c.exportBase)
	}
	if c.exportSpeed <= 0 {
		return fmt.Errorf("invalid export speed %g: must be positive", c.exportSpeed)
	}
	switch c.exportFormat {
	case "webm", "mp4", "png-zip":
	default:
		return fmt.Errorf("invalid export format %q: want webm, mp4 or png-zip", c.exportFormat)
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

// CacheDir returns the cache directory path
func (c *EnvConfig) CacheDir() string {
	return filepath.Join(c.dataDir, "cache")
}

// ExportsDir returns the directory export artifacts are written to
func (c *EnvConfig) ExportsDir() string {
	return filepath.Join(c.dataDir, "exports")
}

// MediaDir is the base for relative media locators
func (c *EnvConfig) MediaDir() string {
	return filepath.Join(c.dataDir, "media")
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

// WatchMedia reports whether files dropped into MediaDir are imported
// automatically.
func (c *EnvConfig) WatchMedia() bool {
	return c.watchMedia
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

// TickInterval is the playback loop period derived from the tick rate
func (c *EnvConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(c.tickHz)
}

func (c *EnvConfig) StageRatio() string {
	return c.stageRatio
}

// ExportBase is the long-edge pixel size of the export raster
func (c *EnvConfig) ExportBase() int {
	return c.exportBase
}

func (c *EnvConfig) ExportFPS() int {
	return c.exportFPS
}

func (c *EnvConfig) ExportSpeed() float64 {
	return c.exportSpeed
}

func (c *EnvConfig) ExportFormat() string {
	return c.exportFormat
}

func (c *EnvConfig) ProbeTimeout() time.Duration {
	return time.Duration(DefaultProbeTimeout) * time.Second
}

func (c *EnvConfig) TranscodeTimeout() time.Duration {
	return time.Duration(DefaultTranscodeTimeout) * time.Second
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

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
