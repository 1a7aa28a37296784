package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/synod-run/synod/pkg/database"
	"gopkg.in/yaml.v3"
)

// modesYAMLConfig represents the modes.yaml file structure.
type modesYAMLConfig struct {
	Modes map[ModeName]*ModeConfig `yaml:"modes"`
}

// llmProvidersYAMLConfig represents the llm-providers.yaml file structure.
type llmProvidersYAMLConfig struct {
	LLMProviders map[string]*LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration. This
// is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load modes.yaml and llm-providers.yaml from configDir
//  2. Expand environment variables
//  3. Merge built-in + user-defined modes and providers
//  4. Apply database/HTTP defaults, then environment overrides
//  5. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized", "modes", stats.Modes, "llm_providers", stats.LLMProviders)
	return cfg, nil
}

type configLoader struct {
	configDir string
}

func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	userModes, err := loader.loadModesYAML()
	if err != nil {
		return nil, NewLoadError("modes.yaml", err)
	}

	userProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	modes := mergeModes(builtinModes(), userModes)
	providers := mergeLLMProviders(nil, userProviders)

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load database config: %w", err)
	}
	httpCfg := httpConfigFromEnv()

	return &Config{
		Modes:        modes,
		LLMProviders: providers,
		Database:     dbCfg,
		HTTP:         httpCfg,
	}, nil
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Both files are optional at load time; validation still
			// rejects any mode left without council or chairman endpoints,
			// which includes the builtin modes when no modes.yaml fills them.
			return nil
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func (l *configLoader) loadModesYAML() (map[ModeName]*ModeConfig, error) {
	cfg := modesYAMLConfig{Modes: make(map[ModeName]*ModeConfig)}
	if err := l.loadYAML("modes.yaml", &cfg); err != nil {
		return nil, err
	}
	return cfg.Modes, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]*LLMProviderConfig, error) {
	cfg := llmProvidersYAMLConfig{LLMProviders: make(map[string]*LLMProviderConfig)}
	if err := l.loadYAML("llm-providers.yaml", &cfg); err != nil {
		return nil, err
	}
	return cfg.LLMProviders, nil
}

func httpConfigFromEnv() HTTPConfig {
	return HTTPConfig{
		Port:         getEnv("HTTP_PORT", "8080"),
		GinMode:      getEnv("GIN_MODE", "release"),
		WriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", 5*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}
