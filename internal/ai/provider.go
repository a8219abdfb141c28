package ai

import "github.com/Vovarama1992/finbot-ai-bridge/internal/config"

// FromConfig picks the adapter named by AI_PROVIDER. "none" gives nil:
// the bot then runs on the knowledge base only.
func FromConfig(cfg config.AIConfig) Provider {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClientWithBaseURL(cfg.OpenAIKey, cfg.OpenAIURL, cfg.Model)
	case "http":
		return NewOutboundClient(cfg.HTTPURL, cfg.HTTPToken)
	case "mock":
		return NewMockClient()
	}
	return nil
}

// OptionsFromConfig — параметры генерации для каждого запроса
func OptionsFromConfig(cfg config.AIConfig) Options {
	return Options{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
}
