package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds application configuration
type Config struct {
	LogLevel       logrus.Level  `json:"log_level"`
	ScanTimeout    time.Duration `json:"scan_timeout"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	RunTimeout     time.Duration `json:"run_timeout"`
	OutputFormat   string        `json:"output_format"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		LogLevel:       logrus.InfoLevel,
		ScanTimeout:    10 * time.Second,
		ConnectTimeout: 30 * time.Second,
		RunTimeout:     0,       // bounded only by the caller's context
		OutputFormat:   "table", // table, json
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
