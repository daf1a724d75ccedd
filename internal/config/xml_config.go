// Package config provides XML-based configuration management for the miner
// and its HTTP server.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/so-miner/backend/internal/miner"
	"github.com/so-miner/backend/internal/sink"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"SOMiner"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Mining engine configuration
	Mining MiningConfig `xml:"Mining"`

	// Export configuration
	Export ExportConfig `xml:"Export"`

	// Uploaded dump storage
	Storage StorageConfig `xml:"Storage"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// MiningConfig contains scan settings
type MiningConfig struct {
	BufferSizeMB      int `xml:"BufferSizeMB"`
	MaxLineSizeMB     int `xml:"MaxLineSizeMB"`
	ProgressEvery     int `xml:"ProgressEveryLines"`
	MaxRecordedErrors int `xml:"MaxRecordedErrors"`
}

// ExportConfig contains export sink settings
type ExportConfig struct {
	OutputDirectory string `xml:"OutputDirectory"`
	DefaultFormat   string `xml:"DefaultFormat"`
	Compress        bool   `xml:"Compress"`
	BatchSize       int    `xml:"BatchSize"`
}

// StorageConfig contains dump upload settings
type StorageConfig struct {
	DumpDirectory     string `xml:"DumpDirectory"`
	AllowDumpDeletion bool   `xml:"AllowDumpDeletion"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel               string `xml:"LogLevel"`
	EnableRequestLogging   bool   `xml:"EnableRequestLogging"`
	MaxSessions            int    `xml:"MaxSessions"`
	SessionTimeoutMinutes  int    `xml:"SessionTimeoutMinutes"`
	CleanupIntervalMinutes int    `xml:"CleanupIntervalMinutes"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			ReadTimeout:  30,
			WriteTimeout: 0, // progress streams stay open for the whole scan
			IdleTimeout:  120,
			BodyLimit:    "64M",
		},
		Mining: MiningConfig{
			BufferSizeMB:      miner.DefaultBufferSize >> 20,
			MaxLineSizeMB:     miner.DefaultMaxLineSize >> 20,
			ProgressEvery:     miner.DefaultProgressEvery,
			MaxRecordedErrors: miner.DefaultMaxRecordedErrors,
		},
		Export: ExportConfig{
			OutputDirectory: "./data/exports",
			DefaultFormat:   "duckdb",
			Compress:        false,
			BatchSize:       0,
		},
		Storage: StorageConfig{
			DumpDirectory:     "./data/dumps",
			AllowDumpDeletion: true,
		},
		Advanced: AdvancedConfig{
			LogLevel:               "info",
			EnableRequestLogging:   false,
			MaxSessions:            10,
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
		},
	}
}

// LoadConfig loads configuration from XML file. A missing file is created
// with the defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Elements missing from the file keep their defaults
		if err := xml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Stack Overflow dump miner configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dir := os.Getenv("SOMINER_EXPORT_DIR"); dir != "" {
		c.Export.OutputDirectory = dir
	}

	if dir := os.Getenv("SOMINER_DUMP_DIR"); dir != "" {
		c.Storage.DumpDirectory = dir
	}

	if level := os.Getenv("SOMINER_LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, dir := range []*string{&c.Export.OutputDirectory, &c.Storage.DumpDirectory} {
		if *dir != "" && !filepath.IsAbs(*dir) {
			*dir = filepath.Join(configDir, *dir)
		}
	}
}

// Validate checks value ranges.
func (c *AppConfig) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Mining.BufferSizeMB < 0 || c.Mining.MaxLineSizeMB < 0 {
		return fmt.Errorf("mining sizes must not be negative")
	}
	if c.Advanced.MaxSessions < 0 {
		return fmt.Errorf("max sessions must not be negative")
	}
	if c.Export.DefaultFormat != "" && !containsFold(sink.GetGlobalRegistry().Formats(), c.Export.DefaultFormat) {
		return fmt.Errorf("unknown export format %q", c.Export.DefaultFormat)
	}
	switch strings.ToLower(c.Advanced.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Advanced.LogLevel)
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// MinerOptions translates the Mining section into engine options.
func (c *AppConfig) MinerOptions() []miner.Option {
	return []miner.Option{
		miner.WithBufferSize(c.Mining.BufferSizeMB << 20),
		miner.WithMaxLineSize(c.Mining.MaxLineSizeMB << 20),
		miner.WithProgress(c.Mining.ProgressEvery, nil),
		miner.WithMaxRecordedErrors(c.Mining.MaxRecordedErrors),
	}
}

// SinkOptions translates the Export section into sink options.
func (c *AppConfig) SinkOptions() sink.Options {
	return sink.Options{BatchSize: c.Export.BatchSize, Compress: c.Export.Compress}
}

// SessionTimeout is how long finished sessions are kept.
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Advanced.SessionTimeoutMinutes) * time.Minute
}

// CleanupInterval is how often finished sessions are swept.
func (c *AppConfig) CleanupInterval() time.Duration {
	if c.Advanced.CleanupIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Advanced.CleanupIntervalMinutes) * time.Minute
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	for _, dir := range []string{c.Export.OutputDirectory, c.Storage.DumpDirectory} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
