// Package config implements configuration for the queue processing pipeline.
// Configuration is an explicit struct handed to the processor at construction;
// environment variables are translated once at the process boundary via
// FromEnv and never read by the core packages.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// SQS caps receive batches at 10 messages and long polls at 20 seconds.
const (
	MaxReceiveBatch = 10
	MaxWaitTime     = 20 * time.Second
)

// Config holds all configuration for the queue processing pipeline.
type Config struct {
	QueueURL          string        // URL of the SQS queue to consume
	Region            string        // AWS region for the queue and object store
	TempDir           string        // Directory for downloaded temp files
	MaxMessages       int32         // Upper bound of messages per poll (1..10)
	WaitTime          time.Duration // Long-poll duration; 0 returns immediately
	VisibilityTimeout time.Duration // How long received messages stay invisible
	AutoDelete        bool          // Delete messages whose processing succeeded
	CleanupTempFiles  bool          // Remove downloaded temp files after each message
}

// Default returns a Config with the pipeline defaults applied.
// QueueURL and Region must still be set by the caller.
func Default() Config {
	return Config{
		TempDir:           os.TempDir(),
		MaxMessages:       10,
		WaitTime:          20 * time.Second,
		VisibilityTimeout: 30 * time.Second,
		AutoDelete:        true,
		CleanupTempFiles:  true,
	}
}

// FromEnv returns Default overlaid with values from the environment.
// Recognized variables: AWS_REGION, SQS_QUEUE_URL, SQS_MAX_MESSAGES,
// SQS_WAIT_TIME_SECONDS, SQS_VISIBILITY_TIMEOUT (seconds),
// AUTO_CLEANUP_TEMP_FILES (true/false), TEMP_DIR.
// Example:
//
//	cfg := config.FromEnv()
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Region = v
	}
	if v := os.Getenv("SQS_QUEUE_URL"); v != "" {
		cfg.QueueURL = v
	}
	if v := os.Getenv("TEMP_DIR"); v != "" {
		cfg.TempDir = v
	}
	if v := os.Getenv("SQS_MAX_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxMessages = int32(n)
		}
	}
	if v := os.Getenv("SQS_WAIT_TIME_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WaitTime = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("SQS_VISIBILITY_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.VisibilityTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("AUTO_CLEANUP_TEMP_FILES"); v != "" {
		cfg.CleanupTempFiles = strings.EqualFold(v, "true")
	}

	return cfg
}

// Validate ensures all required fields are present and within the bounds
// the queue service accepts.
func (c *Config) Validate() error {
	if c.QueueURL == "" {
		return fmt.Errorf("queue URL is required")
	}
	if !strings.HasPrefix(c.QueueURL, "https://") && !strings.HasPrefix(c.QueueURL, "http://") {
		return fmt.Errorf("queue URL must be an http(s) URL")
	}

	if c.Region == "" {
		return fmt.Errorf("region is required")
	}

	if c.TempDir == "" {
		return fmt.Errorf("temp dir is required")
	}

	if c.MaxMessages < 1 || c.MaxMessages > MaxReceiveBatch {
		return fmt.Errorf("max messages must be between 1 and %d", MaxReceiveBatch)
	}

	if c.WaitTime < 0 || c.WaitTime > MaxWaitTime {
		return fmt.Errorf("wait time must be between 0 and %s", MaxWaitTime)
	}
	if c.WaitTime%time.Second != 0 {
		return fmt.Errorf("wait time must be a whole number of seconds")
	}

	if c.VisibilityTimeout < time.Second {
		return fmt.Errorf("visibility timeout must be at least 1 second")
	}
	if c.VisibilityTimeout > 12*time.Hour {
		return fmt.Errorf("visibility timeout must be at most 12 hours")
	}

	return nil
}
