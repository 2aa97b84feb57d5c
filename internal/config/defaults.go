package config

const (
	defaultWorkDir              = "~/.local/share/worldsmith/work"
	defaultLogDir               = "~/.local/share/worldsmith/logs"
	defaultDataDir              = "~/.local/share/worldsmith/data"
	defaultAPIBind              = "127.0.0.1:7733"
	defaultBucket               = "worldsmith"
	defaultRootPrefix           = "worlds"
	defaultRegion               = "us-east-1"
	defaultPresignExpirySeconds = 600
	defaultEngineBinary         = "worldengine"
	defaultGPUSlots             = 1
	defaultSeed                 = 42
	defaultPanoramaTimeout      = 3600
	defaultDecomposeTimeout     = 1800
	defaultComposeTimeout       = 2400
	defaultRetryMaxAttempts     = 2
	defaultRetryIntervalSeconds = 30
	defaultRetryBackoffRate     = 2.0
	defaultPollIntervalSeconds  = 30
	defaultPollMaxWaitSeconds   = 7200
	defaultStaleWorkMaxAgeHours = 24
	defaultLLMBaseURL           = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel             = "google/gemini-3-flash-preview"
	defaultLLMTimeoutSeconds    = 30
	defaultNotifyTimeout        = 10
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
			DataDir: defaultDataDir,
			APIBind: defaultAPIBind,
		},
		Storage: Storage{
			Bucket:               defaultBucket,
			RootPrefix:           defaultRootPrefix,
			Region:               defaultRegion,
			PresignExpirySeconds: defaultPresignExpirySeconds,
		},
		Engine: Engine{
			Binary:           defaultEngineBinary,
			GPUSlots:         defaultGPUSlots,
			DefaultSeed:      defaultSeed,
			FP8Attention:     true,
			FP8GEMM:          true,
			DeepCache:        true,
			PanoramaTimeout:  defaultPanoramaTimeout,
			DecomposeTimeout: defaultDecomposeTimeout,
			ComposeTimeout:   defaultComposeTimeout,
		},
		Workflow: Workflow{
			RetryMaxAttempts:     defaultRetryMaxAttempts,
			RetryIntervalSeconds: defaultRetryIntervalSeconds,
			RetryBackoffRate:     defaultRetryBackoffRate,
			PollIntervalSeconds:  defaultPollIntervalSeconds,
			PollMaxWaitSeconds:   defaultPollMaxWaitSeconds,
			StaleWorkMaxAgeHours: defaultStaleWorkMaxAgeHours,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
