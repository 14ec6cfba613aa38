package embedding

import "fmt"

// NewProvider picks an embedding backend by name.
func NewProvider(providerType, baseURL, model, apiKey string) (EmbeddingProvider, error) {
	switch providerType {
	case "ollama":
		return NewOllamaProvider(baseURL, model), nil
	case "openai":
		return NewOpenAIProvider(apiKey, baseURL, model), nil
	case "gemini":
		if apiKey == "" {
			return nil, fmt.Errorf("gemini embedding provider needs an API key")
		}
		return NewGeminiProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", providerType)
	}
}
