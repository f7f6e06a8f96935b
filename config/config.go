package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"booth-bridge/logger"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BridgeDirName is the relay's directory inside the Unity project.
const BridgeDirName = "BoothBridge"

// Config holds all configuration for the relay.
// Values are loaded by Viper from BoothBridge/bridge.env and/or environment
// variables; paths tagged "-" are derived from the project path.
type Config struct {
	Host             string        `mapstructure:"BRIDGE_HOST"`
	Port             int           `mapstructure:"BRIDGE_PORT"`
	DownloadsDir     string        `mapstructure:"DOWNLOADS_DIR"`
	SettleDelay      time.Duration `mapstructure:"SETTLE_DELAY"`
	TrackingTTL      time.Duration `mapstructure:"TRACKING_TTL"`
	ProgressReset    time.Duration `mapstructure:"PROGRESS_RESET"`
	ThumbnailTimeout time.Duration `mapstructure:"THUMBNAIL_TIMEOUT"`
	UserAgent        string        `mapstructure:"USERAGENT"`
	ImportRoot       string        `mapstructure:"IMPORT_ROOT"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`

	ProjectPath  string `mapstructure:"-"`
	BridgeDir    string `mapstructure:"-"`
	CatalogPath  string `mapstructure:"-"`
	BackupPath   string `mapstructure:"-"`
	ThumbnailDir string `mapstructure:"-"`
	StagingDir   string `mapstructure:"-"`
	DatabasePath string `mapstructure:"-"`
	LogPath      string `mapstructure:"-"`
}

const (
	defaultHost             = "localhost"
	defaultPort             = 4823
	defaultSettleDelay      = time.Second
	defaultTrackingTTL      = time.Hour
	defaultProgressReset    = 3 * time.Second
	defaultThumbnailTimeout = 30 * time.Second
	defaultImportRoot       = "Assets/ImportedAssets"
	defaultUserAgent        = "booth-bridge/dev"
	defaultLogLevel         = "info"
)

var envKeys = []string{
	"BRIDGE_HOST", "BRIDGE_PORT", "DOWNLOADS_DIR", "SETTLE_DELAY", "TRACKING_TTL",
	"PROGRESS_RESET", "THUMBNAIL_TIMEOUT", "USERAGENT", "IMPORT_ROOT", "LOG_LEVEL",
}

// LoadConfig reads configuration for the Unity project at projectPath and
// creates the relay's directories.
func LoadConfig(projectPath string) (config Config, err error) {
	if strings.TrimSpace(projectPath) == "" {
		return Config{}, errors.New("project path is required")
	}
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return Config{}, fmt.Errorf("resolving project path: %w", err)
	}
	bridgeDir := filepath.Join(abs, BridgeDirName)

	v := viper.New()
	v.AddConfigPath(bridgeDir) // bridge.env lives next to the catalog
	v.SetConfigName("bridge")
	v.SetConfigType("env")

	vipErr := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(vipErr, &notFound) {
		logger.Log.Debugw("Config file (bridge.env) not found, relying on environment variables", zap.String("dir", bridgeDir))
	} else if vipErr != nil {
		return Config{}, fmt.Errorf("fatal error config file: %w", vipErr)
	}

	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			logger.Log.Warnw("Unable to bind env var", zap.String("key", key), zap.Error(err))
		}
	}

	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct, %w", err)
	}

	config.ProjectPath = abs
	processConfigDefaults(&config)
	if err := validateAndEnsureDirectories(&config); err != nil {
		return Config{}, err
	}
	return config, nil
}

// processConfigDefaults fills unset values and derives the relay paths from
// ProjectPath.
func processConfigDefaults(config *Config) {
	if config.Host == "" {
		config.Host = defaultHost
	}
	if config.Port <= 0 || config.Port > 65535 {
		if config.Port != 0 {
			logger.Log.Warnw("Invalid BRIDGE_PORT, using default", zap.Int("port", config.Port))
		}
		config.Port = defaultPort
	}
	if config.DownloadsDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			logger.Log.Warnw("Cannot determine home directory", zap.Error(err))
		} else {
			config.DownloadsDir = filepath.Join(home, "Downloads")
		}
	}
	if config.SettleDelay <= 0 {
		config.SettleDelay = defaultSettleDelay
	}
	if config.TrackingTTL <= 0 {
		config.TrackingTTL = defaultTrackingTTL
	}
	if config.ProgressReset <= 0 {
		config.ProgressReset = defaultProgressReset
	}
	if config.ThumbnailTimeout <= 0 {
		config.ThumbnailTimeout = defaultThumbnailTimeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	config.ImportRoot = strings.Trim(filepath.ToSlash(config.ImportRoot), "/")
	if config.ImportRoot == "" {
		config.ImportRoot = defaultImportRoot
	}
	if config.LogLevel == "" {
		config.LogLevel = defaultLogLevel
	}

	if config.ProjectPath != "" {
		config.BridgeDir = filepath.Join(config.ProjectPath, BridgeDirName)
		config.CatalogPath = filepath.Join(config.BridgeDir, "booth_assets.json")
		config.BackupPath = filepath.Join(config.BridgeDir, "booth_assets.backup.json")
		config.ThumbnailDir = filepath.Join(config.BridgeDir, "thumbnails")
		config.StagingDir = filepath.Join(config.BridgeDir, "temp")
		config.DatabasePath = filepath.Join(config.BridgeDir, "imports.db")
		config.LogPath = filepath.Join(config.BridgeDir, "bridge.log")
	}
}

// validateAndEnsureDirectories checks the project exists and creates the
// relay's own directories inside it.
func validateAndEnsureDirectories(config *Config) error {
	if config.ProjectPath == "" {
		return errors.New("project path is required")
	}
	info, err := os.Stat(config.ProjectPath)
	if err != nil {
		return fmt.Errorf("project path %s: %w", config.ProjectPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project path %s is not a directory", config.ProjectPath)
	}

	for _, dir := range []string{config.BridgeDir, config.ThumbnailDir, config.StagingDir} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			logger.Log.Infow("Directory does not exist, creating it", zap.String("path", dir))
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to check %s: %w", dir, err)
		}
	}
	return nil
}

// Addr is the relay's listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
