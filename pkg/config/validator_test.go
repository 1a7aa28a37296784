package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Modes: map[ModeName]*ModeConfig{
			ModeStandard: {
				Name:              ModeStandard,
				CouncilModels:     []string{"gpt", "claude"},
				ChairmanModel:     "gpt",
				EnablePeerReview:  true,
				FollowupVerbosity: FollowupStandard,
			},
		},
		LLMProviders: map[string]*LLMProviderConfig{
			"gpt":    {BaseURL: "https://api.example.com", Model: "gpt-4o", APIKeyEnv: "GPT_KEY"},
			"claude": {BaseURL: "https://api.example.com", Model: "claude-3", APIKeyEnv: "CLAUDE_KEY"},
		},
	}
}

func TestValidatorAcceptsWellFormedConfig(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidatorRejectsUnknownEndpointReference(t *testing.T) {
	cfg := validConfig()
	cfg.Modes[ModeStandard].CouncilModels = append(cfg.Modes[ModeStandard].CouncilModels, "ghost")

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestValidatorRejectsMissingChairman(t *testing.T) {
	cfg := validConfig()
	cfg.Modes[ModeStandard].ChairmanModel = ""

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chairman_model")
}

func TestValidatorRejectsProviderMissingFields(t *testing.T) {
	cfg := validConfig()
	cfg.LLMProviders["gpt"].Model = ""

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model")
}

func TestValidatorRejectsEmptyModeSet(t *testing.T) {
	cfg := &Config{Modes: map[ModeName]*ModeConfig{}, LLMProviders: map[string]*LLMProviderConfig{}}
	require.Error(t, NewValidator(cfg).ValidateAll())
}

func TestConfigModeLookupRejectsUnknownName(t *testing.T) {
	cfg := validConfig()
	_, err := cfg.Mode("nonexistent")
	require.ErrorIs(t, err, ErrUnknownMode)
}

func TestConfigProviderLookupRejectsUnknownID(t *testing.T) {
	cfg := validConfig()
	_, err := cfg.Provider("nonexistent")
	require.ErrorIs(t, err, ErrLLMProviderNotFound)
}
