package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Keys      APIKeys
	Ai        AIConfig
	Chat      ChatConfig
	Retrieval RetrievalConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	EventLogFilePath   string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	TopicExtractTopic  string
	AssistantName      string
	// Pushes queued per socket before a slow client is dropped.
	WSSendBuffer       int
}

type DatabaseConfig struct {
	Connection string
}

type APIKeys struct {
	OpenAI       string
	HuggingFace  string
	GoogleGemini string
}

type AIConfig struct {
	LLMProvider string // "ollama", "openai", "huggingface"
	LLMModel    string
	LLMBaseURL  string

	EmbeddingProvider string // "ollama", "openai", "gemini"
	EmbeddingModel    string
	EmbeddingBaseURL  string
}

// ChatConfig drives the context window and the response stream.
type ChatConfig struct {
	MaxContextTokens int
	ContextStrategy  string // "sliding", "token", "smart"
	WindowSize       int
	AuxTimeout       time.Duration
	PersistInterval  time.Duration
	PersistMinChars  int
}

type RetrievalConfig struct {
	MaxResults          int
	DirectK             int
	ProbeSize           int
	SmallDocumentChunks int
	SignificantFraction float64
	SimilarityThreshold float64
	DocumentsRoot       string
	DocumentCacheTTL    time.Duration
	EmbeddingCacheTTL   time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			EventLogFilePath:   getEnv("EVENT_LOG_FILE_PATH", "logs/events.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			TopicExtractTopic:  getEnv("TOPIC_EXTRACT_TOPIC_NAME", "EXTRACT_CONVERSATION_TOPICS"),
			AssistantName:      getEnv("ASSISTANT_NAME", ""),
			WSSendBuffer:       getEnvAsInt("WS_SEND_BUFFER", 64),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Keys: APIKeys{
			OpenAI:       getEnv("OPENAI_API_KEY", ""),
			HuggingFace:  getEnv("HUGGINGFACE_API_KEY", ""),
			GoogleGemini: getEnv("GOOGLE_GEMINI_API_KEY", ""),
		},
		Ai: AIConfig{
			LLMProvider:       getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:          getEnv("LLM_MODEL", "llama3"),
			LLMBaseURL:        getEnv("LLM_BASE_URL", "http://localhost:11434"),
			EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "ollama"),
			EmbeddingModel:    getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
			EmbeddingBaseURL:  getEnv("EMBEDDING_BASE_URL", "http://localhost:11434"),
		},
		Chat: ChatConfig{
			MaxContextTokens: getEnvAsInt("CHAT_MAX_CONTEXT_TOKENS", 8000),
			ContextStrategy:  getEnv("CHAT_CONTEXT_STRATEGY", "smart"),
			WindowSize:       getEnvAsInt("CHAT_WINDOW_SIZE", 6),
			AuxTimeout:       getEnvAsDuration("CHAT_AUX_TIMEOUT", 20*time.Second),
			PersistInterval:  getEnvAsDuration("CHAT_PERSIST_INTERVAL", 2*time.Second),
			PersistMinChars:  getEnvAsInt("CHAT_PERSIST_MIN_CHARS", 200),
		},
		Retrieval: RetrievalConfig{
			MaxResults:          clamp(getEnvAsInt("RETRIEVAL_MAX_RESULTS", 20), 1, 35),
			DirectK:             getEnvAsInt("RETRIEVAL_DIRECT_K", 5),
			ProbeSize:           getEnvAsInt("RETRIEVAL_PROBE_SIZE", 40),
			SmallDocumentChunks: getEnvAsInt("RETRIEVAL_SMALL_DOC_CHUNKS", 5),
			SignificantFraction: getEnvAsFloat("RETRIEVAL_SIGNIFICANT_FRACTION", 0.30),
			SimilarityThreshold: getEnvAsFloat("RETRIEVAL_SIMILARITY_THRESHOLD", 0.3),
			DocumentsRoot:       getEnv("DOCUMENTS_ROOT", "./documents"),
			DocumentCacheTTL:    getEnvAsDuration("DOCUMENT_CACHE_TTL", 10*time.Minute),
			EmbeddingCacheTTL:   getEnvAsDuration("EMBEDDING_CACHE_TTL", 5*time.Minute),
		},
	}
}

// IsProduction reports whether GO_ENV is "production".
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("2s", "500ms").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
