package bootstrap

import (
	"context"
	"fmt"

	"knowledge-assistant-be/internal/config"
	"knowledge-assistant-be/internal/controller"
	"knowledge-assistant-be/internal/handler"
	"knowledge-assistant-be/internal/lifecycle"
	"knowledge-assistant-be/internal/pkg/logger"
	"knowledge-assistant-be/internal/repository/memory"
	"knowledge-assistant-be/internal/repository/unitofwork"
	"knowledge-assistant-be/internal/service"
	"knowledge-assistant-be/internal/websocket"
	"knowledge-assistant-be/pkg/ai/pipeline"
	"knowledge-assistant-be/pkg/ai/router"
	"knowledge-assistant-be/pkg/embedding"
	"knowledge-assistant-be/pkg/llm"
	"knowledge-assistant-be/pkg/llm/factory"
	pktNats "knowledge-assistant-be/pkg/nats"
	"knowledge-assistant-be/pkg/rag/document"
	"knowledge-assistant-be/pkg/rag/iterative"
	"knowledge-assistant-be/pkg/rag/prompt"
	"knowledge-assistant-be/pkg/rag/rephrase"
	"knowledge-assistant-be/pkg/rag/retrieval"
	"knowledge-assistant-be/pkg/rag/search"
	"knowledge-assistant-be/pkg/rag/stream"
	"knowledge-assistant-be/pkg/rag/window"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	ChatController         controller.IChatController
	ConversationController controller.IConversationController

	// Background services, started by Start
	ConsumerService          service.IConsumerService
	ConversationEventService *service.ConversationEventService

	// Realtime
	RealtimeHandler *handler.RealtimeHandler
	WebSocketHub    *websocket.Hub

	Lifecycle *lifecycle.ProcessLifecycle
	Logger    logger.ILogger

	closers []func()
}

func NewContainer(db *gorm.DB, cfg *config.Config, life *lifecycle.ProcessLifecycle) (*Container, error) {
	// 1. Core facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	eventLogger := logger.NewIsolatedLogger(cfg.App.EventLogFilePath)

	c := &Container{Lifecycle: life, Logger: sysLogger}

	// 2. Model backends
	llmProvider, err := factory.NewLLMProvider(factory.ProviderConfig{
		Type:    cfg.Ai.LLMProvider,
		Model:   cfg.Ai.LLMModel,
		BaseURL: cfg.Ai.LLMBaseURL,
		APIKey:  llmAPIKey(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	sysLogger.Info("Bootstrap", "LLM provider ready", map[string]interface{}{"provider": cfg.Ai.LLMProvider, "model": cfg.Ai.LLMModel})

	embeddingProvider, err := embedding.NewProvider(cfg.Ai.EmbeddingProvider, cfg.Ai.EmbeddingBaseURL, cfg.Ai.EmbeddingModel, embeddingAPIKey(cfg))
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	// 3. Turn pipeline
	pipe, err := newPipeline(cfg, uowFactory, embeddingProvider, llmProvider, sysLogger)
	if err != nil {
		return nil, err
	}

	turnStore := service.NewTurnStore(uowFactory)
	streamer := stream.NewController(llmProvider, turnStore, turnStore, stream.Config{
		PersistInterval: cfg.Chat.PersistInterval,
		PersistMinChars: cfg.Chat.PersistMinChars,
		FinalAttempts:   stream.DefaultConfig().FinalAttempts,
		FinalBackoff:    stream.DefaultConfig().FinalBackoff,
		TitleTimeout:    cfg.Chat.AuxTimeout,
	}, sysLogger)

	// 4. Event bus and background work
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
	c.closers = append(c.closers, func() { pubSub.Close() })

	var eventPublisher service.EventPublisher
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL, eventLogger)
	if err != nil {
		sysLogger.Warn("Bootstrap", "NATS publisher unavailable, conversation events disabled", map[string]interface{}{"error": err.Error()})
	} else {
		eventPublisher = natsPub
		c.closers = append(c.closers, natsPub.Close)
	}

	c.ConsumerService = service.NewConsumerService(pubSub, cfg.App.TopicExtractTopic, uowFactory, llmProvider, cfg.Chat.AuxTimeout, sysLogger)

	// 5. Realtime push
	c.WebSocketHub = websocket.NewHub(newRedis(cfg, sysLogger), eventLogger)
	c.RealtimeHandler = handler.NewRealtimeHandler(c.WebSocketHub, websocket.ClientOptions{SendBuffer: cfg.App.WSSendBuffer}, eventLogger)

	natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL, eventLogger)
	if err != nil {
		sysLogger.Warn("Bootstrap", "NATS subscriber unavailable, analyzer results ignored", map[string]interface{}{"error": err.Error()})
	} else {
		c.ConversationEventService = service.NewConversationEventService(uowFactory, natsSub, c.WebSocketHub, eventLogger)
		c.closers = append(c.closers, natsSub.Close)
	}

	// 6. Services and controllers
	chatService := service.NewChatService(uowFactory, pipe, streamer, eventPublisher, pubSub, cfg.App.TopicExtractTopic, life, sysLogger)
	conversationService := service.NewConversationService(uowFactory)

	c.ChatController = controller.NewChatController(chatService, sysLogger)
	c.ConversationController = controller.NewConversationController(conversationService)

	return c, nil
}

func newPipeline(
	cfg *config.Config,
	uowFactory unitofwork.RepositoryFactory,
	embeddingProvider embedding.EmbeddingProvider,
	llmProvider llm.LLMProvider,
	log logger.ILogger,
) (*pipeline.Pipeline, error) {
	strategy, err := window.ParseStrategy(cfg.Chat.ContextStrategy)
	if err != nil {
		return nil, err
	}

	searcher := search.NewVectorSearcher(uowFactory, embeddingProvider, search.Config{
		DBThreshold:  cfg.Retrieval.SimilarityThreshold,
		EmbeddingTTL: cfg.Retrieval.EmbeddingCacheTTL,
	}, log)
	loader := document.NewFileLoader(cfg.Retrieval.DocumentsRoot, memory.NewDocumentCache(cfg.Retrieval.DocumentCacheTTL))

	retrievalCfg := retrieval.DefaultConfig()
	retrievalCfg.DirectK = cfg.Retrieval.DirectK
	retrievalCfg.ProbeSize = cfg.Retrieval.ProbeSize
	retrievalCfg.MaxResults = cfg.Retrieval.MaxResults
	retrievalCfg.SmallDocumentChunks = cfg.Retrieval.SmallDocumentChunks
	retrievalCfg.SignificantFraction = cfg.Retrieval.SignificantFraction
	retrievalCfg.JudgeTimeout = cfg.Chat.AuxTimeout
	gateway := retrieval.NewGateway(searcher, loader, llmProvider, retrievalCfg, log)

	prompts := prompt.NewSystemBuilder(cfg.App.AssistantName)

	return pipeline.New(
		gateway,
		router.NewEscapeHatch(llmProvider, cfg.Chat.AuxTimeout, log),
		rephrase.NewRephraser(llmProvider, cfg.Chat.AuxTimeout, log),
		window.NewManager(llmProvider, cfg.Chat.AuxTimeout, log),
		prompts,
		iterative.NewController(gateway, prompts, llmProvider, cfg.Chat.AuxTimeout, log),
		pipeline.Config{
			MaxContextTokens: cfg.Chat.MaxContextTokens,
			Strategy:         strategy,
			WindowSize:       cfg.Chat.WindowSize,
		},
		log,
	), nil
}

// newRedis returns nil when redis is unreachable; the hub then runs
// single instance.
func newRedis(cfg *config.Config, log logger.ILogger) *redis.Client {
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Warn("Bootstrap", "Failed to parse Redis URL, using it as address", map[string]interface{}{"error": err.Error()})
		opt = &redis.Options{Addr: cfg.App.RedisURL}
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Warn("Bootstrap", "Redis unavailable, websocket fan-out is local only", map[string]interface{}{"error": err.Error()})
		rdb.Close()
		return nil
	}
	return rdb
}

func llmAPIKey(cfg *config.Config) string {
	switch cfg.Ai.LLMProvider {
	case "openai":
		return cfg.Keys.OpenAI
	case "huggingface":
		return cfg.Keys.HuggingFace
	default:
		return ""
	}
}

func embeddingAPIKey(cfg *config.Config) string {
	switch cfg.Ai.EmbeddingProvider {
	case "openai":
		return cfg.Keys.OpenAI
	case "gemini":
		return cfg.Keys.GoogleGemini
	default:
		return ""
	}
}

// Start launches the background workers. They stop when ctx ends.
func (c *Container) Start(ctx context.Context) error {
	go c.WebSocketHub.Run(ctx)

	if err := c.ConsumerService.Consume(ctx); err != nil {
		return fmt.Errorf("topic consumer: %w", err)
	}
	if c.ConversationEventService != nil {
		if err := c.ConversationEventService.Start(ctx); err != nil {
			// the event bus is optional; chat keeps working without it
			c.Logger.Warn("Bootstrap", "Conversation event service not started", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}

func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.Logger.Sync()
}
