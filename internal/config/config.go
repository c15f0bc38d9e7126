package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	FFmpeg  FFmpegConfig  `toml:"ffmpeg"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
	Server  ServerConfig  `toml:"server"`
}

type FFmpegConfig struct {
	Binary string `toml:"binary"`
}

type StorageConfig struct {
	DatabasePath string `toml:"database_path"`
}

type LoggingConfig struct {
	Enabled bool   `toml:"enabled"`
	File    string `toml:"file"`
	Level   string `toml:"level"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		FFmpeg:  FFmpegConfig{Binary: "ffmpeg"},
		Storage: StorageConfig{DatabasePath: filepath.Join(home, ".mediaconv", "settings.db")},
		Logging: LoggingConfig{Enabled: true, File: "media_converter.log", Level: "info"},
		Server:  ServerConfig{Addr: "127.0.0.1:8085"},
	}
}

// Load reads the TOML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	cfg.FFmpeg.Binary = ExpandPath(cfg.FFmpeg.Binary)
	cfg.Storage.DatabasePath = ExpandPath(cfg.Storage.DatabasePath)
	cfg.Logging.File = ExpandPath(cfg.Logging.File)
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.FFmpeg.Binary = getEnv("MEDIACONV_FFMPEG", c.FFmpeg.Binary)
	c.Storage.DatabasePath = getEnv("MEDIACONV_DB", c.Storage.DatabasePath)
	c.Logging.File = getEnv("MEDIACONV_LOG_FILE", c.Logging.File)
	c.Logging.Level = getEnv("MEDIACONV_LOG_LEVEL", c.Logging.Level)
	c.Logging.Enabled = getEnvBool("MEDIACONV_LOGGING", c.Logging.Enabled)
	c.Server.Addr = getEnv("MEDIACONV_ADDR", c.Server.Addr)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "mediaconv", "config.toml")
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
