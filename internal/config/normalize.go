package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStorage()
	c.normalizeEngine()
	c.normalizeWorkflow()
	c.normalizeLLM()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeStorage() {
	c.Storage.Endpoint = strings.TrimSpace(c.Storage.Endpoint)
	if c.Storage.Endpoint == "" {
		if value, ok := os.LookupEnv("WORLDSMITH_STORAGE_ENDPOINT"); ok {
			c.Storage.Endpoint = strings.TrimSpace(value)
		}
	}
	c.Storage.AccessKey = strings.TrimSpace(c.Storage.AccessKey)
	if c.Storage.AccessKey == "" {
		if value, ok := os.LookupEnv("WORLDSMITH_STORAGE_ACCESS_KEY"); ok {
			c.Storage.AccessKey = strings.TrimSpace(value)
		}
	}
	c.Storage.SecretKey = strings.TrimSpace(c.Storage.SecretKey)
	if c.Storage.SecretKey == "" {
		if value, ok := os.LookupEnv("WORLDSMITH_STORAGE_SECRET_KEY"); ok {
			c.Storage.SecretKey = strings.TrimSpace(value)
		}
	}
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = defaultBucket
	}
	c.Storage.RootPrefix = strings.Trim(strings.TrimSpace(c.Storage.RootPrefix), "/")
	if c.Storage.RootPrefix == "" {
		c.Storage.RootPrefix = defaultRootPrefix
	}
	c.Storage.Region = strings.TrimSpace(c.Storage.Region)
	if c.Storage.Region == "" {
		c.Storage.Region = defaultRegion
	}
	if c.Storage.PresignExpirySeconds <= 0 {
		c.Storage.PresignExpirySeconds = defaultPresignExpirySeconds
	}
}

func (c *Config) normalizeEngine() {
	c.Engine.Binary = strings.TrimSpace(c.Engine.Binary)
	if c.Engine.Binary == "" {
		c.Engine.Binary = defaultEngineBinary
	}
	if c.Engine.GPUSlots <= 0 {
		c.Engine.GPUSlots = defaultGPUSlots
	}
	if c.Engine.DefaultSeed < 0 {
		c.Engine.DefaultSeed = defaultSeed
	}
	if c.Engine.PanoramaTimeout <= 0 {
		c.Engine.PanoramaTimeout = defaultPanoramaTimeout
	}
	if c.Engine.DecomposeTimeout <= 0 {
		c.Engine.DecomposeTimeout = defaultDecomposeTimeout
	}
	if c.Engine.ComposeTimeout <= 0 {
		c.Engine.ComposeTimeout = defaultComposeTimeout
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.RetryMaxAttempts <= 0 {
		c.Workflow.RetryMaxAttempts = defaultRetryMaxAttempts
	}
	if c.Workflow.RetryIntervalSeconds <= 0 {
		c.Workflow.RetryIntervalSeconds = defaultRetryIntervalSeconds
	}
	if c.Workflow.RetryBackoffRate < 1 {
		c.Workflow.RetryBackoffRate = defaultRetryBackoffRate
	}
	if c.Workflow.PollIntervalSeconds <= 0 {
		c.Workflow.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if c.Workflow.PollMaxWaitSeconds <= 0 {
		c.Workflow.PollMaxWaitSeconds = defaultPollMaxWaitSeconds
	}
	if c.Workflow.StaleWorkMaxAgeHours <= 0 {
		c.Workflow.StaleWorkMaxAgeHours = defaultStaleWorkMaxAgeHours
	}
	c.Workflow.ComputeImage = strings.TrimSpace(c.Workflow.ComputeImage)
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("WORLDSMITH_LLM_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
