package config

// builtinModes mirrors the original RUN_MODES table: Quick skips peer review
// and cross-review entirely (single round, cheapest), Standard adds peer
// ranking (S2), and ExtraCare adds a cross-review/refine pass (S1.5) ahead of
// ranking. User-supplied modes.yaml entries override these by name.
func builtinModes() map[ModeName]*ModeConfig {
	return map[ModeName]*ModeConfig{
		ModeQuick: {
			Name:              ModeQuick,
			CreditCost:        1,
			EnablePeerReview:  false,
			EnableCrossReview: false,
			FollowupVerbosity: FollowupMinimal,
		},
		ModeStandard: {
			Name:              ModeStandard,
			CreditCost:        3,
			EnablePeerReview:  true,
			EnableCrossReview: false,
			FollowupVerbosity: FollowupStandard,
		},
		ModeExtraCare: {
			Name:              ModeExtraCare,
			CreditCost:        6,
			EnablePeerReview:  true,
			EnableCrossReview: true,
			FollowupVerbosity: FollowupFull,
		},
	}
}

// mergeModes overlays user-defined modes onto the builtin table. A
// user-defined mode with a name matching a builtin one replaces it entirely
// (no field-by-field merge) so operators can fully redefine a mode's model
// list without inheriting stale defaults.
func mergeModes(builtin, user map[ModeName]*ModeConfig) map[ModeName]*ModeConfig {
	merged := make(map[ModeName]*ModeConfig, len(builtin)+len(user))
	for k, v := range builtin {
		merged[k] = v
	}
	for k, v := range user {
		merged[k] = v
	}
	return merged
}

func mergeLLMProviders(builtin, user map[string]*LLMProviderConfig) map[string]*LLMProviderConfig {
	merged := make(map[string]*LLMProviderConfig, len(builtin)+len(user))
	for k, v := range builtin {
		merged[k] = v
	}
	for k, v := range user {
		merged[k] = v
	}
	return merged
}
