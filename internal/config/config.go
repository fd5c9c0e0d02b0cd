package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for pinyinbot.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Server    ServerConfig              `json:"server"`
	Telegram  TelegramConfig            `json:"telegram"`
	Providers map[string]ProviderConfig `json:"providers"`
	Prompt    PromptConfig              `json:"prompt"`
	Image     ImageConfig               `json:"image"`
	Direct    DirectConfig              `json:"direct"`
	Dedup     DedupConfig               `json:"dedup"`
	Ledger    LedgerConfig              `json:"ledger"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel"`
	LogFormat             string `json:"logFormat"` // "text" | "json"
	DefaultProvider       string `json:"defaultProvider"`
	RequestTimeoutSeconds int    `json:"requestTimeoutSeconds"` // bound on one photo translation
	ReplyTimeoutSeconds   int    `json:"replyTimeoutSeconds"`   // bound on the final sendMessage
}

type ServerConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	WebhookPath   string `json:"webhookPath"`
	TranslatePath string `json:"translatePath"`
	MaxBodyBytes  int64  `json:"maxBodyBytes"` // webhook update body limit
}

type TelegramConfig struct {
	Enabled            bool   `json:"enabled"`
	Token              string `json:"token"`
	APIEndpoint        string `json:"apiEndpoint"`  // fmt pattern: token, method
	FileEndpoint       string `json:"fileEndpoint"` // fmt pattern: token, file path
	ParseMode          string `json:"parseMode"`
	WebhookURL         string `json:"webhookUrl,omitempty"`  // registered with setWebhook on serve
	SecretToken        string `json:"secretToken,omitempty"` // X-Telegram-Bot-Api-Secret-Token
	DropPendingUpdates bool   `json:"dropPendingUpdates,omitempty"`
}

type ProviderConfig struct {
	Enabled        bool   `json:"enabled"`
	APIBase        string `json:"apiBase,omitempty"`
	APIKey         string `json:"apiKey,omitempty"`
	APIVersion     string `json:"apiVersion,omitempty"`
	DefaultModel   string `json:"defaultModel,omitempty"`
	MaxTokens      int    `json:"maxTokens,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

type PromptConfig struct {
	Preset string `json:"preset"`         // "detailed" | "concise" | "custom"
	Text   string `json:"text,omitempty"` // used when preset is "custom"
}

// ImageConfig holds the size-fitting policy. All sizes are bytes.
type ImageConfig struct {
	SoftThresholdBytes int64           `json:"softThresholdBytes"`
	HardCeilingBytes   int64           `json:"hardCeilingBytes"`
	MaxEncodedBytes    int64           `json:"maxEncodedBytes"` // base64 payload limit of the provider
	BytesPerPixel      float64         `json:"bytesPerPixel"`   // estimate when the platform reports no size
	Transform          TransformConfig `json:"transform"`
}

type TransformConfig struct {
	Enabled      bool `json:"enabled"`
	MaxDimension int  `json:"maxDimension"`
	Quality      int  `json:"quality"`
}

// DirectConfig configures the envelope-free translate endpoint.
type DirectConfig struct {
	Enabled         bool   `json:"enabled"`
	Provider        string `json:"provider,omitempty"` // empty = general.defaultProvider
	Model           string `json:"model,omitempty"`
	PromptPreset    string `json:"promptPreset"`
	DefaultMimeType string `json:"defaultMimeType"`
	MaxBodyBytes    int64  `json:"maxBodyBytes"`
}

type DedupConfig struct {
	Enabled    bool   `json:"enabled"`
	RedisAddr  string `json:"redisAddr"`
	Password   string `json:"password,omitempty"`
	DB         int    `json:"db"`
	TTLSeconds int    `json:"ttlSeconds"`
}

// LedgerConfig configures the translation outcome log.
type LedgerConfig struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver"` // "sqlite" | "postgres"
	DSN     string `json:"dsn"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.pinyinbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pinyinbot"
	}
	return filepath.Join(home, ".pinyinbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML config file, expands ${VAR} references,
// overlays the environment and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := decodeFile(path, true)
	if err != nil {
		return nil, err
	}
	finish(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadRaw reads a config file as written: ${VAR} references stay in place
// and the environment is not consulted. Used to edit and save the file
// without copying secrets into it.
func LoadRaw(path string) (*Config, error) {
	return decodeFile(path, false)
}

func decodeFile(path string, expand bool) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	if expand {
		data = []byte(ExpandEnvVars(string(data)))
	}

	if isYAML(path) {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefaults behaves like Load but falls back to Defaults plus the
// environment when the file does not exist. The bool reports whether a
// file was read.
func LoadOrDefaults(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	cfg = Defaults()
	finish(cfg)
	if err := Validate(cfg); err != nil {
		return nil, false, fmt.Errorf("config validation: %w", err)
	}
	return cfg, false, nil
}

func finish(cfg *Config) {
	dropUnresolvedSecrets(cfg)
	ApplyEnv(cfg)
	cfg.Ledger.DSN = ExpandPath(cfg.Ledger.DSN)
}

// ApplyEnv fills secrets and the listen port from the process environment.
// Values already present in the file win, except PORT which platforms set.
func ApplyEnv(cfg *Config) {
	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if cfg.Telegram.SecretToken == "" {
		cfg.Telegram.SecretToken = os.Getenv("TELEGRAM_WEBHOOK_SECRET")
	}
	if pc, ok := cfg.Providers["claude"]; ok && pc.APIKey == "" {
		pc.APIKey = firstEnv("ANTHROPIC_API_KEY", "CLAUDE_API_KEY")
		cfg.Providers["claude"] = pc
	}
	if pc, ok := cfg.Providers["gemini"]; ok && pc.APIKey == "" {
		pc.APIKey = firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
		cfg.Providers["gemini"] = pc
	}
	if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
		cfg.Server.Port = p
	}
}

// dropUnresolvedSecrets clears secrets whose ${VAR} reference had no value
// in the environment, so they count as missing instead of being sent as is.
func dropUnresolvedSecrets(cfg *Config) {
	drop := func(s *string) {
		if envVarPattern.MatchString(*s) {
			*s = ""
		}
	}
	drop(&cfg.Telegram.Token)
	drop(&cfg.Telegram.SecretToken)
	drop(&cfg.Dedup.Password)
	for name, pc := range cfg.Providers {
		drop(&pc.APIKey)
		cfg.Providers[name] = pc
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty. Unknown
// variables without a default are left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON lets YAML files share the JSON field names and defaults.
func yamlToJSON(data []byte) ([]byte, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if isYAML(path) {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		if data, err = yaml.Marshal(m); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. Missing API keys are
// not an error here: they surface per request as a configuration failure.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}
	if cfg.General.RequestTimeoutSeconds < 1 || cfg.General.RequestTimeoutSeconds > 600 {
		errs = append(errs, "general.requestTimeoutSeconds must be between 1 and 600")
	}
	if cfg.General.ReplyTimeoutSeconds < 1 {
		errs = append(errs, "general.replyTimeoutSeconds must be >= 1")
	}
	if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
		errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}
	if !strings.HasPrefix(cfg.Server.TranslatePath, "/") {
		errs = append(errs, "server.translatePath must start with /")
	}
	if cfg.Server.WebhookPath == cfg.Server.TranslatePath {
		errs = append(errs, "server.webhookPath and server.translatePath must differ")
	}

	if cfg.Telegram.WebhookURL != "" && !strings.HasPrefix(cfg.Telegram.WebhookURL, "https://") {
		errs = append(errs, "telegram.webhookUrl must be an https:// URL")
	}
	if !strings.Contains(cfg.Telegram.APIEndpoint, "%s") || !strings.Contains(cfg.Telegram.FileEndpoint, "%s") {
		errs = append(errs, "telegram.apiEndpoint and telegram.fileEndpoint must contain %s placeholders")
	}

	for name, pc := range cfg.Providers {
		if pc.Enabled && name == "claude" && pc.APIBase == "" {
			errs = append(errs, "providers.claude: apiBase is required")
		}
		if pc.MaxTokens < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s: maxTokens must be >= 0", name))
		}
	}

	errs = append(errs, validatePreset("prompt.preset", cfg.Prompt.Preset)...)
	if cfg.Prompt.Preset == "custom" && strings.TrimSpace(cfg.Prompt.Text) == "" {
		errs = append(errs, "prompt.text is required when prompt.preset is custom")
	}

	img := cfg.Image
	if img.SoftThresholdBytes <= 0 {
		errs = append(errs, "image.softThresholdBytes must be > 0")
	}
	if img.HardCeilingBytes < img.SoftThresholdBytes {
		errs = append(errs, "image.hardCeilingBytes must be >= image.softThresholdBytes")
	}
	if img.MaxEncodedBytes <= 0 {
		errs = append(errs, "image.maxEncodedBytes must be > 0")
	}
	if img.BytesPerPixel <= 0 {
		errs = append(errs, "image.bytesPerPixel must be > 0")
	}
	if img.Transform.MaxDimension < 64 {
		errs = append(errs, "image.transform.maxDimension must be >= 64")
	}
	if img.Transform.Quality < 1 || img.Transform.Quality > 100 {
		errs = append(errs, "image.transform.quality must be between 1 and 100")
	}

	if cfg.Direct.Enabled {
		if cfg.Direct.Provider != "" {
			if _, ok := cfg.Providers[cfg.Direct.Provider]; !ok {
				errs = append(errs, fmt.Sprintf("direct.provider references unknown provider: %s", cfg.Direct.Provider))
			}
		}
		errs = append(errs, validatePreset("direct.promptPreset", cfg.Direct.PromptPreset)...)
		if cfg.Direct.MaxBodyBytes < 1024 {
			errs = append(errs, "direct.maxBodyBytes must be >= 1024")
		}
	}

	if cfg.Dedup.Enabled {
		if cfg.Dedup.RedisAddr == "" {
			errs = append(errs, "dedup.redisAddr is required when dedup is enabled")
		}
		if cfg.Dedup.TTLSeconds < 1 {
			errs = append(errs, "dedup.ttlSeconds must be >= 1")
		}
	}

	if cfg.Ledger.Enabled {
		switch cfg.Ledger.Driver {
		case "sqlite", "postgres":
		default:
			errs = append(errs, "ledger.driver must be one of: sqlite, postgres")
		}
		if cfg.Ledger.DSN == "" {
			errs = append(errs, "ledger.dsn is required when the ledger is enabled")
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validatePreset(field, preset string) []string {
	switch preset {
	case "detailed", "concise", "custom":
		return nil
	}
	return []string{field + " must be one of: detailed, concise, custom"}
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
