package catalog

import "github.com/haasonsaas/relay/pkg/models"

// builtinOptions is the model set shipped with the runtime. A user override
// file can extend or replace entries (see LoadOverrides).
func builtinOptions() []models.ModelOption {
	return []models.ModelOption{
		// Primary backend.
		{
			ID:          "gpt-5.2",
			Provider:    models.ProviderPrimary,
			Label:       "GPT-5.2",
			Description: "Flagship coding and agentic model",
			SupportedThinkingLevels: []models.ThinkingLevel{
				models.ThinkingLow, models.ThinkingMedium,
				models.ThinkingHigh, models.ThinkingXHigh,
			},
			DefaultThinkingLevel: models.ThinkingMedium,
			ContextWindowTokens:  272_000,
		},
		{
			ID:          "gpt-5.2-mini",
			Provider:    models.ProviderPrimary,
			Label:       "GPT-5.2 Mini",
			Description: "Faster, cheaper tier for everyday tasks",
			SupportedThinkingLevels: []models.ThinkingLevel{
				models.ThinkingMinimal, models.ThinkingLow,
				models.ThinkingMedium, models.ThinkingHigh,
			},
			DefaultThinkingLevel: models.ThinkingLow,
		},
		{
			ID:          "gpt-5.2-nano",
			Provider:    models.ProviderPrimary,
			Label:       "GPT-5.2 Nano",
			Description: "Smallest tier for quick completions",
			SupportedThinkingLevels: []models.ThinkingLevel{
				models.ThinkingMinimal, models.ThinkingLow,
			},
			DefaultThinkingLevel: models.ThinkingMinimal,
		},

		// Secondary backend.
		{
			ID:          "gemini-3-pro",
			Provider:    models.ProviderSecondary,
			Label:       "Gemini 3 Pro",
			Description: "Long-context multimodal model",
			SupportedThinkingLevels: []models.ThinkingLevel{
				models.ThinkingOff, models.ThinkingLow,
				models.ThinkingMedium, models.ThinkingHigh,
				models.ThinkingXHigh,
			},
			DefaultThinkingLevel: models.ThinkingOff,
			ContextWindowTokens:  1_048_576,
		},
		{
			ID:          "gemini-3-flash",
			Provider:    models.ProviderSecondary,
			Label:       "Gemini 3 Flash",
			Description: "Low-latency tier",
			SupportedThinkingLevels: []models.ThinkingLevel{
				models.ThinkingOff, models.ThinkingLow, models.ThinkingMedium,
			},
			DefaultThinkingLevel: models.ThinkingOff,
			ContextWindowTokens:  1_048_576,
		},

		// Routing aggregator.
		{
			ID:               "deepseek-v3.2",
			Provider:         models.ProviderRouter,
			Label:            "DeepSeek V3.2",
			Description:      "Open-weights generalist via the aggregator",
			RoutingProviders: []string{"any", "fireworks", "together", "deepinfra"},
		},
		{
			ID:               "qwen3-coder",
			Provider:         models.ProviderRouter,
			Label:            "Qwen3 Coder",
			Description:      "Open-weights coding model via the aggregator",
			RoutingProviders: []string{"any", "fireworks", "groq", "together"},
		},
		{
			ID:               "kimi-k2",
			Provider:         models.ProviderRouter,
			Label:            "Kimi K2",
			Description:      "Open-weights agentic model via the aggregator",
			RoutingProviders: []string{"any", "groq", "deepinfra"},
		},
	}
}
