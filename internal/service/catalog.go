package service

import (
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/internal/config"
	"github.com/bigdegenenergy/open-cloud-ops/arbiter/pkg/models"
)

// defaultModels returns the built-in catalog for every provider with a
// configured API key. Pricing is per million tokens; baseline performance
// numbers reflect typical provider behavior and get refined by live
// metrics once traffic flows.
func defaultModels(cfg *config.Config) []models.ModelConfig {
	var out []models.ModelConfig
	if cfg.OpenAIKey != "" {
		out = append(out, openAIModels()...)
	}
	if cfg.AnthropicKey != "" {
		out = append(out, anthropicModels()...)
	}
	if cfg.GeminiKey != "" {
		out = append(out, geminiModels()...)
	}
	return out
}

func intp(v int) *int { return &v }

func perf(latencyMs, accuracy float64) *models.ModelPerformance {
	return &models.ModelPerformance{
		AverageLatencyMs: latencyMs,
		Accuracy:         accuracy,
		Availability:     1,
	}
}

func openAIModels() []models.ModelConfig {
	return []models.ModelConfig{
		{
			ID:       "gpt-4o-mini",
			Name:     "gpt-4o-mini",
			Provider: models.ProviderOpenAI,
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Capabilities: []models.ModelCapability{
				{RequestType: models.TypeTextGeneration, MaxTokens: 16384, QualityScore: 0.65},
				{RequestType: models.TypeSummarization, MaxTokens: 16384, QualityScore: 0.70},
				{RequestType: models.TypeQuestionAnswering, MaxTokens: 16384, QualityScore: 0.68},
				{RequestType: models.TypeTranslation, MaxTokens: 16384, QualityScore: 0.62},
			},
			Pricing:     models.ModelPricing{InputPerMToken: 0.15, OutputPerMToken: 0.60, Currency: "USD"},
			Performance: perf(400, 0.80),
			Priority:    intp(40),
		},
		{
			ID:       "gpt-4o",
			Name:     "gpt-4o",
			Provider: models.ProviderOpenAI,
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Capabilities: []models.ModelCapability{
				{RequestType: models.TypeTextGeneration, MaxTokens: 16384, QualityScore: 0.85},
				{RequestType: models.TypeCodeGeneration, MaxTokens: 16384, QualityScore: 0.85, Specializations: []string{"code", "debugging"}},
				{RequestType: models.TypeImageAnalysis, MaxTokens: 16384, QualityScore: 0.85},
				{RequestType: models.TypeQuestionAnswering, MaxTokens: 16384, QualityScore: 0.85},
			},
			Pricing:     models.ModelPricing{InputPerMToken: 2.50, OutputPerMToken: 10.00, Currency: "USD"},
			Performance: perf(800, 0.90),
			Priority:    intp(60),
		},
		{
			ID:       "gpt-4-turbo",
			Name:     "gpt-4-turbo",
			Provider: models.ProviderOpenAI,
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Capabilities: []models.ModelCapability{
				{RequestType: models.TypeTextGeneration, MaxTokens: 4096, QualityScore: 0.90},
				{RequestType: models.TypeCodeGeneration, MaxTokens: 4096, QualityScore: 0.90, Specializations: []string{"code", "architecture"}},
			},
			Pricing:     models.ModelPricing{InputPerMToken: 10.00, OutputPerMToken: 30.00, Currency: "USD"},
			Performance: perf(1200, 0.92),
			Priority:    intp(70),
		},
	}
}

func anthropicModels() []models.ModelConfig {
	return []models.ModelConfig{
		{
			ID:       "claude-3-haiku-20240307",
			Name:     "claude-3-haiku-20240307",
			Provider: models.ProviderAnthropic,
			Endpoint: "https://api.anthropic.com/v1/messages",
			Capabilities: []models.ModelCapability{
				{RequestType: models.TypeTextGeneration, MaxTokens: 4096, QualityScore: 0.70},
				{RequestType: models.TypeSummarization, MaxTokens: 4096, QualityScore: 0.72},
				{RequestType: models.TypeTranslation, MaxTokens: 4096, QualityScore: 0.68, SupportedLanguages: []string{"en", "es", "fr", "de", "ja", "zh"}},
				{RequestType: models.TypeQuestionAnswering, MaxTokens: 4096, QualityScore: 0.70},
			},
			Pricing:     models.ModelPricing{InputPerMToken: 0.25, OutputPerMToken: 1.25, Currency: "USD"},
			Performance: perf(350, 0.82),
			Priority:    intp(40),
		},
		{
			ID:       "claude-3-5-sonnet-20241022",
			Name:     "claude-3-5-sonnet-20241022",
			Provider: models.ProviderAnthropic,
			Endpoint: "https://api.anthropic.com/v1/messages",
			Capabilities: []models.ModelCapability{
				{RequestType: models.TypeTextGeneration, MaxTokens: 8192, QualityScore: 0.88},
				{RequestType: models.TypeCodeGeneration, MaxTokens: 8192, QualityScore: 0.90, Specializations: []string{"code", "debugging", "refactoring"}},
				{RequestType: models.TypeImageAnalysis, MaxTokens: 8192, QualityScore: 0.85},
				{RequestType: models.TypeSummarization, MaxTokens: 8192, QualityScore: 0.88},
			},
			Pricing:     models.ModelPricing{InputPerMToken: 3.00, OutputPerMToken: 15.00, Currency: "USD"},
			Performance: perf(700, 0.91),
			Priority:    intp(65),
		},
		{
			ID:       "claude-3-opus-20240229",
			Name:     "claude-3-opus-20240229",
			Provider: models.ProviderAnthropic,
			Endpoint: "https://api.anthropic.com/v1/messages",
			Capabilities: []models.ModelCapability{
				{RequestType: models.TypeTextGeneration, MaxTokens: 4096, QualityScore: 0.92},
				{RequestType: models.TypeCodeGeneration, MaxTokens: 4096, QualityScore: 0.91, Specializations: []string{"code", "architecture"}},
				{RequestType: models.TypeQuestionAnswering, MaxTokens: 4096, QualityScore: 0.92},
			},
			Pricing:     models.ModelPricing{InputPerMToken: 15.00, OutputPerMToken: 75.00, Currency: "USD"},
			Performance: perf(1500, 0.93),
			Priority:    intp(75),
		},
	}
}

func geminiModels() []models.ModelConfig {
	return []models.ModelConfig{
		{
			ID:       "gemini-1.5-flash",
			Name:     "gemini-1.5-flash",
			Provider: models.ProviderGemini,
			Endpoint: "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash:generateContent",
			Capabilities: []models.ModelCapability{
				{RequestType: models.TypeTextGeneration, MaxTokens: 8192, QualityScore: 0.60},
				{RequestType: models.TypeSummarization, MaxTokens: 8192, QualityScore: 0.65},
				{RequestType: models.TypeAudioTranscription, MaxTokens: 8192, QualityScore: 0.70},
			},
			Pricing:     models.ModelPricing{InputPerMToken: 0.075, OutputPerMToken: 0.30, Currency: "USD"},
			Performance: perf(300, 0.75),
			Priority:    intp(35),
		},
		{
			ID:       "gemini-1.5-pro",
			Name:     "gemini-1.5-pro",
			Provider: models.ProviderGemini,
			Endpoint: "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-pro:generateContent",
			Capabilities: []models.ModelCapability{
				{RequestType: models.TypeTextGeneration, MaxTokens: 8192, QualityScore: 0.82},
				{RequestType: models.TypeImageAnalysis, MaxTokens: 8192, QualityScore: 0.80},
				{RequestType: models.TypeAudioTranscription, MaxTokens: 8192, QualityScore: 0.78},
				{RequestType: models.TypeTranslation, MaxTokens: 8192, QualityScore: 0.80, SupportedLanguages: []string{"en", "es", "fr", "de", "ja", "zh", "ko", "hi"}},
			},
			Pricing:     models.ModelPricing{InputPerMToken: 1.25, OutputPerMToken: 5.00, Currency: "USD"},
			Performance: perf(900, 0.85),
			Priority:    intp(55),
		},
	}
}
