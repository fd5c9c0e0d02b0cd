package provider

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"pinyinbot/internal/config"
	"pinyinbot/internal/domain"
)

// ProviderConstructor is a function that creates a provider from a config entry.
type ProviderConstructor func(pc config.ProviderConfig, logger *slog.Logger) domain.VisionProvider

// Factory creates and caches vision providers from config.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.VisionProvider
	mu           sync.Mutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.VisionProvider),
	}
	f.constructors["claude"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.VisionProvider {
		return NewClaude(ClaudeConfig{
			APIKey:     pc.APIKey,
			APIBase:    pc.APIBase,
			APIVersion: pc.APIVersion,
			Model:      pc.DefaultModel,
			MaxTokens:  pc.MaxTokens,
			Client:     clientFor(pc),
			Logger:     logger,
		})
	}
	f.constructors["gemini"] = func(pc config.ProviderConfig, logger *slog.Logger) domain.VisionProvider {
		return NewGemini(GeminiConfig{
			APIKey:    pc.APIKey,
			Model:     pc.DefaultModel,
			MaxTokens: pc.MaxTokens,
			Logger:    logger,
		})
	}
	return f
}

func clientFor(pc config.ProviderConfig) *http.Client {
	return NewHTTPClient(time.Duration(pc.TimeoutSeconds) * time.Second)
}

// RegisterConstructor adds (or replaces) a provider constructor by name.
func (f *Factory) RegisterConstructor(name string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
	delete(f.cache, name)
}

// Get returns the provider with the given name, or the default if name is
// empty. Providers are created once and reused.
func (f *Factory) Get(name string) (domain.VisionProvider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	ctor, ok := f.constructors[name]
	if !ok {
		return nil, fmt.Errorf("provider %s: no constructor registered", name)
	}

	p := ctor(pc, f.logger.With("provider", name))
	f.cache[name] = p
	return p, nil
}

// DefaultProvider returns the configured default provider.
func (f *Factory) DefaultProvider() (domain.VisionProvider, error) {
	return f.Get("")
}

// Close releases providers that hold long-lived clients.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for name, p := range f.cache {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
