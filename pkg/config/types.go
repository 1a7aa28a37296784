package config

import (
	"time"

	"github.com/synod-run/synod/pkg/database"
)

// ModeName identifies one of the deliberation modes a question can run under.
type ModeName string

const (
	ModeQuick     ModeName = "quick"
	ModeStandard  ModeName = "standard"
	ModeExtraCare ModeName = "extra_care"
)

// FollowupVerbosity controls how much of the prior Answer's context_summary
// is rendered into the query of a follow-up question.
type FollowupVerbosity string

const (
	FollowupMinimal  FollowupVerbosity = "minimal"
	FollowupStandard FollowupVerbosity = "standard"
	FollowupFull     FollowupVerbosity = "full"
)

// ModeConfig describes one deliberation mode: which stages run, which
// endpoints participate, and how much it costs the caller.
type ModeConfig struct {
	Name               ModeName          `yaml:"name"`
	CreditCost         int               `yaml:"credit_cost"`
	CouncilModels      []string          `yaml:"council_models"`      // endpoint ids fanned out to in S1
	ChairmanModel      string            `yaml:"chairman_model"`      // endpoint id used for S3 synthesis
	EnablePeerReview   bool              `yaml:"enable_peer_review"`  // run S2 ranking
	EnableCrossReview  bool              `yaml:"enable_cross_review"` // run S1.5 cross-review/refine
	FollowupVerbosity  FollowupVerbosity `yaml:"followup_verbosity"`
}

// LLMProviderConfig describes one upstream LLM endpoint.
type LLMProviderConfig struct {
	ID             string        `yaml:"id"`
	BaseURL        string        `yaml:"base_url"`
	APIKeyEnv      string        `yaml:"api_key_env"`
	Model          string        `yaml:"model"`
	SupportsVision bool          `yaml:"supports_vision,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
}

// HTTPConfig configures the gin-based control surface.
type HTTPConfig struct {
	Port         string        `yaml:"port"`
	GinMode      string        `yaml:"gin_mode"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Config is the fully loaded, validated process configuration.
type Config struct {
	Modes        map[ModeName]*ModeConfig
	LLMProviders map[string]*LLMProviderConfig
	Database     database.Config
	HTTP         HTTPConfig
}

// Mode looks up a mode by name, returning ErrUnknownMode if absent.
func (c *Config) Mode(name ModeName) (*ModeConfig, error) {
	m, ok := c.Modes[name]
	if !ok {
		return nil, NewValidationError("mode", string(name), "", ErrUnknownMode)
	}
	return m, nil
}

// Provider looks up an LLM endpoint by id, returning ErrLLMProviderNotFound if absent.
func (c *Config) Provider(id string) (*LLMProviderConfig, error) {
	p, ok := c.LLMProviders[id]
	if !ok {
		return nil, NewValidationError("llm_provider", id, "", ErrLLMProviderNotFound)
	}
	return p, nil
}

// Stats summarizes the loaded configuration for a startup log line, in the
// style of the teacher's Config.Stats().
type Stats struct {
	Modes        int
	LLMProviders int
}

func (c *Config) Stats() Stats {
	return Stats{Modes: len(c.Modes), LLMProviders: len(c.LLMProviders)}
}
