package config

import (
	"errors"
	"fmt"
)

// Validator checks a fully-loaded Config for internal consistency: every
// mode must reference council/chairman endpoints that actually exist in the
// provider registry, and every provider must carry the fields the upstream
// client needs to build a request.
type Validator struct {
	cfg *Config
}

func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

func (v *Validator) ValidateAll() error {
	var errs []error

	if len(v.cfg.Modes) == 0 {
		errs = append(errs, NewValidationError("config", "modes", "", ErrMissingRequiredField))
	}

	for name, mode := range v.cfg.Modes {
		errs = append(errs, v.validateMode(name, mode)...)
	}

	for id, p := range v.cfg.LLMProviders {
		errs = append(errs, v.validateProvider(id, p)...)
	}

	return errors.Join(errs...)
}

func (v *Validator) validateMode(name ModeName, mode *ModeConfig) []error {
	var errs []error
	if len(mode.CouncilModels) == 0 {
		errs = append(errs, NewValidationError("mode", string(name), "council_models", ErrMissingRequiredField))
	}
	if mode.ChairmanModel == "" {
		errs = append(errs, NewValidationError("mode", string(name), "chairman_model", ErrMissingRequiredField))
	}
	for _, endpoint := range mode.CouncilModels {
		if _, ok := v.cfg.LLMProviders[endpoint]; !ok {
			errs = append(errs, NewValidationError("mode", string(name), "council_models", fmt.Errorf("%w: %s", ErrLLMProviderNotFound, endpoint)))
		}
	}
	if mode.ChairmanModel != "" {
		if _, ok := v.cfg.LLMProviders[mode.ChairmanModel]; !ok {
			errs = append(errs, NewValidationError("mode", string(name), "chairman_model", fmt.Errorf("%w: %s", ErrLLMProviderNotFound, mode.ChairmanModel)))
		}
	}
	switch mode.FollowupVerbosity {
	case FollowupMinimal, FollowupStandard, FollowupFull:
	default:
		errs = append(errs, NewValidationError("mode", string(name), "followup_verbosity", ErrInvalidValue))
	}
	return errs
}

func (v *Validator) validateProvider(id string, p *LLMProviderConfig) []error {
	var errs []error
	if p.BaseURL == "" {
		errs = append(errs, NewValidationError("llm_provider", id, "base_url", ErrMissingRequiredField))
	}
	if p.Model == "" {
		errs = append(errs, NewValidationError("llm_provider", id, "model", ErrMissingRequiredField))
	}
	if p.APIKeyEnv == "" {
		errs = append(errs, NewValidationError("llm_provider", id, "api_key_env", ErrMissingRequiredField))
	}
	return errs
}
