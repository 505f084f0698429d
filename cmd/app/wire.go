// File: cmd/app/wire.go
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"turnpipe/internal/config"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/domain/ports/adapter"
	"turnpipe/internal/domain/ports/repository"
	"turnpipe/internal/flow"
	aiAdapters "turnpipe/internal/infra/adapters/ai"
	"turnpipe/internal/infra/adapters/channel"
	"turnpipe/internal/infra/adapters/knowledge"
	tele "turnpipe/internal/infra/adapters/telegram"
	"turnpipe/internal/infra/db/memory"
	pg "turnpipe/internal/infra/db/postgres"
	"turnpipe/internal/infra/i18n"
	red "turnpipe/internal/infra/redis"
	"turnpipe/internal/infra/security"
	"turnpipe/internal/infra/worker"
	"turnpipe/internal/usecase"
)

// store is what both the postgres and the in-memory backends provide.
type store interface {
	Jobs() repository.JobRepository
	Turns() repository.TurnRepository
	Messages() repository.MessageRepository
	States() repository.StateRepository
	Flows() repository.FlowRepository
	RuntimeConfigs() repository.RuntimeConfigRepository
	AgentRuns() repository.AgentRunRepository
	Responses() repository.ResponsesRepository
	Memories() repository.MemoryRepository
	Locker() repository.Locker
	TxManager() repository.TransactionManager
}

// app holds the wired process. Fields that depend on optional backends
// (pool, redis, bus, bot) are nil when the backend is not configured.
type app struct {
	cfg *config.Config
	log *zerolog.Logger

	store store
	pool  *pgxpool.Pool
	redis *red.Client
	bus   *red.FlowInvalidationBus

	resolver    *flow.Resolver
	queue       usecase.JobQueue
	ingest      usecase.IngestUseCase
	reset       usecase.ResetUseCase
	responses   usecase.ResponsesUseCase
	flowAdmin   usecase.FlowAdminUseCase
	monitor     usecase.MonitorUseCase
	maintenance usecase.MaintenanceUseCase
	scheduler   *worker.Scheduler
	gateways    *channel.Router
	bot         *tele.Bot
}

// buildApp wires every component from cfg. Close releases the connections it
// opened.
func buildApp(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openRedis(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wirePipeline(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.Database.Driver != "postgres" {
		a.log.Warn().Msg("using the in-memory store; state is lost on restart")
		a.store = memory.New()
		return nil
	}
	pool, err := pg.Connect(ctx, a.cfg.Database)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	var cipher *security.TextCipher
	if key := a.cfg.Security.EncryptionKey; key != "" {
		if cipher, err = security.NewTextCipher(key); err != nil {
			pool.Close()
			return fmt.Errorf("encryption: %w", err)
		}
	} else {
		a.log.Warn().Msg("security.encryption_key not set; message texts are stored in plain text")
	}
	a.pool = pool
	a.store = pg.NewStore(pool, cipher)
	return nil
}

func (a *app) openRedis(ctx context.Context) error {
	if a.cfg.Redis.URL == "" {
		return nil
	}
	c, err := red.NewClient(ctx, &a.cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	a.redis = c
	a.bus = red.NewFlowInvalidationBus(c, processOrigin(), a.log)
	return nil
}

func (a *app) locker() repository.Locker {
	if a.redis != nil {
		return red.NewLocker(a.redis)
	}
	return a.store.Locker()
}

func (a *app) states() repository.StateRepository {
	if a.redis != nil && a.cfg.Redis.StateStore {
		return red.NewStateRepo(a.redis, a.cfg.Pipeline.SessionTimeout)
	}
	return a.store.States()
}

func (a *app) wirePipeline(ctx context.Context) error {
	cfg, p, st := a.cfg, &a.cfg.Pipeline, a.store
	locker, states := a.locker(), a.states()

	chat, byProvider, err := buildChatModels(ctx, cfg, a.log)
	if err != nil {
		return err
	}
	agents := aiAdapters.NewAgentDirectory(cfg.Agents, chat, byProvider)
	tokens := aiAdapters.NewTokenCounter(agents.Models(), cfg.AI.DefaultModel)

	a.queue = usecase.NewJobQueue(st.Jobs(), p.MaxAttempts)
	a.ingest = usecase.NewIngestUseCase(st.Messages(), a.queue, st.TxManager(), p.DebounceWindow, a.log)
	debounce := usecase.NewDebounceUseCase(st.Messages(), st.Turns(), locker, a.queue, st.TxManager(),
		usecase.DebounceConfig{
			Window:     p.DebounceWindow,
			Lookback:   p.MessageLookback,
			BatchLimit: p.MessageBatchLimit,
			LockTTL:    p.LockTTL,
		}, a.log)
	guard := usecase.NewTurnGuard(st.Turns(), st.Responses(), usecase.RateLimit{MaxTurns: p.RateLimitMaxTurns, Window: p.RateLimitWindow})
	dispatcher := usecase.NewAgentDispatcher(agents, st.AgentRuns(), st.Messages(), st.Memories(), knowledge.Noop{}, tokens,
		usecase.DispatcherConfig{Timeout: p.AgentTimeout, HistoryLimit: p.HistoryLimit, KnowledgeLimit: p.KnowledgeLimit},
		a.log)

	a.resolver = flow.NewResolver(st.Flows(), st.RuntimeConfigs(), flow.NewFileLoader(cfg.Flows.Dir),
		flow.NewCache(cfg.Flows.CacheTTL, time.Now), cfg.Flows.DefaultAgent, a.log)
	interp := flow.NewInterpreter(states, aiAdapters.NewLLMClassifier(chat, cfg.AI.ClassifierModel), dispatcher,
		flow.InterpreterConfig{MaxDepth: p.FSMMaxDepth, SessionTimeout: p.SessionTimeout}, time.Now, a.log)
	run := usecase.NewRunAgentUseCase(st.Turns(), guard, a.resolver, interp, a.queue, st.TxManager(), p.MemoryUpdateDelay, a.log)

	a.gateways = channel.NewRouter().
		Register(model.ChannelSimulation, channel.NewSimulationGateway(200, a.log)).
		WithFallback(model.ChannelSimulation)
	reply := usecase.NewReplyUseCase(st.Turns(), st.Messages(), guard, a.gateways, cfg.Runtime.Dev, a.log)
	mem := usecase.NewMemoryUseCase(st.Turns(), st.AgentRuns(), st.Memories(),
		aiAdapters.NewLLMFactExtractor(chat, cfg.AI.MemoryModel), p.MemoryFactLimit, a.log)

	a.reset = usecase.NewResetUseCase(states, st.Messages(), locker, p.LockTTL, p.ResetLockTTL, a.log)
	a.responses = usecase.NewResponsesUseCase(st.Responses(), a.log)
	a.flowAdmin = usecase.NewFlowAdminUseCase(st.Flows(), st.RuntimeConfigs(), a.log, a.invalidateFlow)
	a.monitor = usecase.NewMonitorUseCase(st.Turns(), st.AgentRuns(), st.Jobs(), a.log)
	a.maintenance = usecase.NewMaintenanceUseCase(st.Messages(), states, st.Jobs(), a.queue,
		usecase.MaintenanceConfig{DebounceWindow: p.DebounceWindow, Lookback: p.MessageLookback, SessionTimeout: p.SessionTimeout},
		a.log)

	a.scheduler, err = worker.NewScheduler(st.Jobs(), worker.Handlers{
		DebounceTurn: debounce.Handle,
		RunAgent:     run.Handle,
		SendReply:    reply.Handle,
		MemoryUpdate: mem.Handle,
	}, worker.SchedulerConfig{RetryBackoff: p.RetryBackoff, PollInterval: p.PollInterval, Budget: p.PollBudget}, a.log)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	if cfg.Telegram.Enabled {
		if err := a.wireTelegram(); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) wireTelegram() error {
	tr, err := i18n.NewTranslator(i18n.LocalesFS, a.cfg.Telegram.Lang)
	if err != nil {
		return fmt.Errorf("telegram locale: %w", err)
	}
	var limiter tele.InboundLimiter
	if a.redis != nil {
		limiter = red.NewRateLimiter(a.redis)
	}
	bot, err := tele.NewBot(a.cfg.Telegram, a.ingest, a.reset, limiter, tr, a.log)
	if err != nil {
		return err
	}
	a.bot = bot
	a.gateways.Register(tele.Channel, bot)
	return nil
}

// invalidateFlow drops the local cache entry and tells the other processes.
func (a *app) invalidateFlow(ctx context.Context, sessionID string) {
	a.resolver.Invalidate(sessionID)
	if a.bus == nil {
		return
	}
	if err := a.bus.Publish(ctx, sessionID); err != nil {
		a.log.Warn().Err(err).Str("session_id", sessionID).Msg("flow invalidation publish failed")
	}
}

// health pings the backends the process depends on.
func (a *app) health(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// buildChatModels returns the routing chat model plus the per-provider
// models agents may pin. noop is always available; the default provider
// falls back to it when its key is missing.
func buildChatModels(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (adapter.ChatModel, map[string]adapter.ChatModel, error) {
	ai := cfg.AI
	raw := map[string]adapter.ChatModel{
		"noop": aiAdapters.NewNoopAIAdapter(0, logger),
	}
	if ai.OpenAIKey != "" {
		m, err := aiAdapters.NewOpenAIAdapter(ai.OpenAIKey, ai.OpenAIBaseURL, ai.DefaultModel, ai.MaxOutputTokens)
		if err != nil {
			return nil, nil, fmt.Errorf("openai: %w", err)
		}
		raw["openai"] = m
	}
	if ai.GeminiKey != "" {
		m, err := aiAdapters.NewGeminiAdapter(ctx, ai.GeminiKey, ai.GeminiURL, ai.DefaultModel, ai.MaxOutputTokens)
		if err != nil {
			return nil, nil, fmt.Errorf("gemini: %w", err)
		}
		raw["gemini"] = m
	}

	byProvider := make(map[string]adapter.ChatModel, len(raw))
	for name, m := range raw {
		byProvider[name] = aiAdapters.NewLimitedAI(m, ai.ConcurrentLimit)
	}

	def := strings.ToLower(ai.DefaultProvider)
	if _, ok := byProvider[def]; !ok {
		logger.Warn().Str("provider", def).Msg("default AI provider has no credentials; replies come from the noop model")
		def = "noop"
	}

	modelToProvider := map[string]string{}
	for _, agent := range cfg.Agents {
		if agent.Model != "" && agent.Provider != "" {
			modelToProvider[agent.Model] = strings.ToLower(agent.Provider)
		}
	}
	return aiAdapters.NewMultiAIAdapter(def, byProvider, modelToProvider), byProvider, nil
}

func processOrigin() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "turnpipe"
	}
	return host + "-" + uuid.NewString()[:8]
}
