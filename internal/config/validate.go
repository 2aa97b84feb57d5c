package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable. Failures here abort process
// startup; no listener or worker starts on a partially valid config.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStorage() error {
	if strings.TrimSpace(c.Storage.Endpoint) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/worldsmith/config.toml"
		}
		return fmt.Errorf("storage.endpoint is required. Set WORLDSMITH_STORAGE_ENDPOINT env var or edit %s (create with 'worldsmith config init')", defaultPath)
	}
	if strings.Contains(c.Storage.Endpoint, "://") {
		return errors.New("storage.endpoint must be host:port without a URL scheme")
	}
	if strings.TrimSpace(c.Storage.AccessKey) == "" {
		return errors.New("storage.access_key is required (or set WORLDSMITH_STORAGE_ACCESS_KEY)")
	}
	if strings.TrimSpace(c.Storage.SecretKey) == "" {
		return errors.New("storage.secret_key is required (or set WORLDSMITH_STORAGE_SECRET_KEY)")
	}
	if strings.TrimSpace(c.Storage.Bucket) == "" {
		return errors.New("storage.bucket must be set")
	}
	if c.Storage.PresignExpirySeconds <= 0 {
		return errors.New("storage.presign_expiry_seconds must be positive")
	}
	return nil
}

func (c *Config) validateEngine() error {
	if strings.TrimSpace(c.Engine.Binary) == "" {
		return errors.New("engine.binary must be set")
	}
	if c.Engine.GPUSlots < 1 {
		return errors.New("engine.gpu_slots must be at least 1")
	}
	return ensurePositiveMap(map[string]int{
		"engine.panorama_timeout":  c.Engine.PanoramaTimeout,
		"engine.decompose_timeout": c.Engine.DecomposeTimeout,
		"engine.compose_timeout":   c.Engine.ComposeTimeout,
	})
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.retry_max_attempts":     c.Workflow.RetryMaxAttempts,
		"workflow.retry_interval_seconds": c.Workflow.RetryIntervalSeconds,
		"workflow.poll_interval_seconds":  c.Workflow.PollIntervalSeconds,
		"workflow.poll_max_wait_seconds":  c.Workflow.PollMaxWaitSeconds,
	}); err != nil {
		return err
	}
	if c.Workflow.RetryBackoffRate < 1 {
		return errors.New("workflow.retry_backoff_rate must be at least 1")
	}
	if c.Workflow.PollMaxWaitSeconds <= c.Workflow.PollIntervalSeconds {
		return errors.New("workflow.poll_max_wait_seconds must be greater than workflow.poll_interval_seconds")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
