package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			LogFormat:             "text",
			DefaultProvider:       "claude",
			RequestTimeoutSeconds: 45,
			ReplyTimeoutSeconds:   10,
		},
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8080,
			WebhookPath:   "/webhook/telegram",
			TranslatePath: "/api/translate",
			MaxBodyBytes:  1 << 20,
		},
		Telegram: TelegramConfig{
			Enabled:      true,
			APIEndpoint:  "https://api.telegram.org/bot%s/%s",
			FileEndpoint: "https://api.telegram.org/file/bot%s/%s",
			ParseMode:    "Markdown",
		},
		Providers: map[string]ProviderConfig{
			"claude": {
				Enabled:        true,
				APIBase:        "https://api.anthropic.com",
				APIVersion:     "2023-06-01",
				DefaultModel:   "claude-3-5-sonnet-20240620",
				MaxTokens:      1024,
				TimeoutSeconds: 60,
			},
			"gemini": {
				Enabled:      false,
				DefaultModel: "gemini-1.5-flash",
				MaxTokens:    1024,
			},
		},
		Prompt: PromptConfig{
			Preset: "detailed",
		},
		Image: ImageConfig{
			SoftThresholdBytes: 3_000_000,
			HardCeilingBytes:   4_500_000,
			MaxEncodedBytes:    5 << 20,
			BytesPerPixel:      0.25,
			Transform: TransformConfig{
				Enabled:      true,
				MaxDimension: 1200,
				Quality:      70,
			},
		},
		Direct: DirectConfig{
			Enabled:         true,
			Model:           "claude-3-5-haiku-20241022",
			PromptPreset:    "concise",
			DefaultMimeType: "image/png",
			MaxBodyBytes:    10 << 20,
		},
		Dedup: DedupConfig{
			Enabled:    false,
			RedisAddr:  "localhost:6379",
			TTLSeconds: 3600,
		},
		Ledger: LedgerConfig{
			Enabled: false,
			Driver:  "sqlite",
			DSN:     "~/.pinyinbot/ledger.db",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
