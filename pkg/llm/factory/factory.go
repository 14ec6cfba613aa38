package factory

import (
	"fmt"

	"knowledge-assistant-be/pkg/llm"
	"knowledge-assistant-be/pkg/llm/huggingface"
	"knowledge-assistant-be/pkg/llm/ollama"
	"knowledge-assistant-be/pkg/llm/openai"
)

// ProviderConfig selects and configures a completion backend.
type ProviderConfig struct {
	Type    string // "ollama", "openai", "huggingface"
	Model   string
	BaseURL string
	APIKey  string
}

func NewLLMProvider(cfg ProviderConfig) (llm.LLMProvider, error) {
	switch cfg.Type {
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return ollama.NewOllamaProvider(baseURL, cfg.Model), nil
	case "openai":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai provider needs an API key or a compatible base URL")
		}
		return openai.NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case "huggingface":
		return huggingface.NewHuggingFaceProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Type)
	}
}
