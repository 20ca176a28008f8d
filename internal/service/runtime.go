// Package service assembles the runtime: stores, AI routing, the reasoning
// loop, scheduler, approval sweeper, and the gateway, with ordered startup
// and shutdown.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/legionruntime/legion/internal/agentcomm"
	"github.com/legionruntime/legion/internal/ai"
	"github.com/legionruntime/legion/internal/ai/providers"
	"github.com/legionruntime/legion/internal/approval"
	"github.com/legionruntime/legion/internal/audit"
	"github.com/legionruntime/legion/internal/checkpoint"
	"github.com/legionruntime/legion/internal/classify"
	"github.com/legionruntime/legion/internal/collab"
	"github.com/legionruntime/legion/internal/config"
	"github.com/legionruntime/legion/internal/gateway"
	"github.com/legionruntime/legion/internal/hooks"
	"github.com/legionruntime/legion/internal/memory"
	"github.com/legionruntime/legion/internal/notify"
	"github.com/legionruntime/legion/internal/observability"
	"github.com/legionruntime/legion/internal/plan"
	"github.com/legionruntime/legion/internal/prompt"
	"github.com/legionruntime/legion/internal/rag"
	"github.com/legionruntime/legion/internal/ratelimit"
	"github.com/legionruntime/legion/internal/reasoning"
	"github.com/legionruntime/legion/internal/recovery"
	"github.com/legionruntime/legion/internal/reflection"
	"github.com/legionruntime/legion/internal/retry"
	"github.com/legionruntime/legion/internal/scheduler"
	"github.com/legionruntime/legion/internal/skills"
	"github.com/legionruntime/legion/internal/store"
	"github.com/legionruntime/legion/internal/tools"
	"github.com/legionruntime/legion/internal/usage"
	"github.com/legionruntime/legion/pkg/models"
)

// Runtime owns every long-lived component and their shutdown order.
type Runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	Stores    store.StoreSet
	Router    ai.Router
	Loop      *reasoning.Loop
	Scheduler *scheduler.Scheduler
	Hub       *gateway.Hub
	Approvals *approval.Service
	Notifier  *notify.Service
	Usage     *usage.Service
	Memory    *memory.Manager
	Knowledge *rag.Service
	Collab    *collab.Service
	Comms     *agentcomm.Service
	Audit     *audit.Logger
	Hooks     *hooks.Registry
	Metrics   *observability.Metrics

	httpServer *gateway.Server
	sweepStop  context.CancelFunc
	wg         sync.WaitGroup
	closers    []func() error
}

// promptKnowledge narrows the knowledge service to the assembler's view.
type promptKnowledge struct {
	svc *rag.Service
}

func (p promptKnowledge) ListLibraries(ctx context.Context, agentID string) ([]prompt.Library, error) {
	libs, err := p.svc.Libraries(ctx, agentID)
	if err != nil {
		return nil, err
	}
	out := make([]prompt.Library, len(libs))
	for i, l := range libs {
		out[i] = prompt.Library{ID: l.ID, Name: l.Name, Documents: l.Documents}
	}
	return out, nil
}

// New builds the full runtime from configuration. Nothing runs until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{cfg: cfg, logger: logger}

	rt.Metrics = observability.NewMetrics()

	stores, err := rt.openStores()
	if err != nil {
		return nil, err
	}
	rt.Stores = stores

	auditLog, err := audit.NewLogger(auditConfig(cfg.Audit))
	if err != nil {
		return nil, fmt.Errorf("audit logger: %w", err)
	}
	rt.Audit = auditLog
	rt.closers = append(rt.closers, auditLog.Close)

	router, cliProviders, err := buildRouter(cfg.AI, logger)
	if err != nil {
		return nil, err
	}

	var senders []notify.Sender
	if cfg.Notifications.Telegram.Enabled {
		tg, err := notify.NewTelegramSender(cfg.Notifications.Telegram.BotToken, logger)
		if err != nil {
			return nil, fmt.Errorf("telegram sender: %w", err)
		}
		senders = append(senders, tg)
	}
	rt.Notifier = notify.NewService(stores, cfg.Notifications.Retries, rt.Metrics, logger, senders...)

	rt.Usage = usage.NewService(stores, rt.Notifier, rt.Metrics, logger)
	rt.Router = ai.NewRecordingRouter(router, rt.Usage, rt.Metrics, logger)

	rt.Approvals = approval.NewService(stores, rt.Notifier, logger)
	rt.Comms = agentcomm.NewService(stores, logger)

	embedder := buildEmbedder(cfg.Memory)
	var index *memory.Index
	if cfg.Memory.Enabled && embedder != nil {
		index, err = memory.NewIndex(memory.IndexConfig{Path: cfg.Memory.IndexPath})
		if err != nil {
			return nil, fmt.Errorf("memory index: %w", err)
		}
		rt.closers = append(rt.closers, index.Close)
	}
	rt.Memory = memory.NewManager(stores.Memories, index, embedder, cfg.Memory.MinScore, logger)

	if embedder != nil {
		knowledge, err := rag.Open(rag.Config{Path: cfg.Memory.KnowledgePath}, embedder, logger)
		if err != nil {
			return nil, fmt.Errorf("knowledge db: %w", err)
		}
		rt.Knowledge = knowledge
		rt.closers = append(rt.closers, knowledge.Close)
	}

	personalities := prompt.NewPersonalities(cfg.Personality.Dir, logger)
	var promptKB prompt.Knowledge
	if rt.Knowledge != nil {
		promptKB = promptKnowledge{svc: rt.Knowledge}
	}
	assembler := prompt.NewAssembler(stores, personalities, promptKB, logger)

	var classifierRouter ai.Router
	if cfg.Classifier.UseAI {
		classifierRouter = rt.Router
	}
	classifier := classify.New(classifierRouter, logger)
	checkpoints := checkpoint.NewManager(stores.Checkpoints, logger)
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		CyclesPerHour: cfg.Runtime.CyclesPerHour,
		Window:        time.Hour,
		Enabled:       true,
	})
	decomposer := plan.NewDecomposer(rt.Router, stores.Plans, logger)

	registry := tools.NewRegistry(logger)
	strategies := recovery.NewStrategies(registry, retry.Policy{}, logger)
	skillSvc := skills.NewService(stores.Skills, logger)
	reflect := reflection.NewService(rt.Memory, skillSvc, registry, logger)

	rt.Hub = gateway.NewHub(rt.Metrics, logger)
	rt.httpServer = gateway.NewServer(rt.Hub, cfg.Server.Host, cfg.Server.HTTPPort, cfg.Server.MetricsPath, logger)
	rt.Hooks = hooks.NewRegistry(logger)

	collaborator := &collabAdapter{}
	orch := &orchestrator{stores: stores, logger: logger}
	orch.spawn = func(fn func()) {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			fn()
		}()
	}

	toolDeps := tools.Deps{
		Stores:       stores,
		Router:       rt.Router,
		CLIProviders: cliProviders,
		Memory:       rt.Memory,
		Planner:      decomposer,
		Agents:       orch,
		Collaborator: collaborator,
		NextRun:      scheduler.NextRun,
	}
	if rt.Knowledge != nil {
		toolDeps.Knowledge = &knowledgeAdapter{svc: rt.Knowledge}
	}
	if len(senders) > 0 {
		byChannel := map[string]notify.Sender{}
		for _, s := range senders {
			byChannel[s.Channel()] = s
		}
		toolDeps.Messenger = &messenger{contacts: stores.Contacts, senders: byChannel, logger: logger}
	}
	if err := tools.RegisterBuiltins(registry, toolDeps); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	loopDeps := reasoning.Deps{
		Stores:      stores,
		Router:      rt.Router,
		Registry:    registry,
		Assembler:   assembler,
		Classifier:  classifier,
		Recovery:    strategies,
		Checkpoints: checkpoints,
		Limiter:     limiter,
		Approvals:   rt.Approvals,
		Reflection:  reflect,
		Decomposer:  decomposer,
		Memories:    rt.Memory,
		Notifier:    rt.Notifier,
		Events:      newEventFan(rt.Hub, rt.Audit, rt.Hooks),
		Metrics:     rt.Metrics,
		Config: reasoning.Config{
			Timeout:  cfg.Runtime.ReasoningTimeout,
			LockWait: cfg.Runtime.LockWaitBudget,
			LockPoll: cfg.Runtime.LockPollInterval,
			Budgets:  budgetOverrides(cfg.Classifier),
		},
		Logger: logger,
	}
	if rt.Knowledge != nil {
		loopDeps.Knowledge = rt.Knowledge
	}
	rt.Loop = reasoning.NewLoop(loopDeps)
	orch.loop = rt.Loop

	rt.Collab = collab.NewService(stores, rt.Loop, rt.Memory, logger)
	collaborator.svc = rt.Collab

	if cfg.Scheduler.Enabled {
		handlers := scheduler.NewHandlers(stores, rt.Loop, rt.Memory, rt.Usage, logger)
		rt.Scheduler = scheduler.New(stores, handlers, scheduler.Config{
			TickInterval:   cfg.Scheduler.TickInterval,
			FirstTickDelay: cfg.Scheduler.FirstTickDelay,
			JobTimeout:     cfg.Scheduler.JobTimeout,
			MaxConcurrent:  cfg.Scheduler.MaxConcurrentJobs,
			SemaphoreWait:  cfg.Scheduler.AISemaphoreWait,
			RestartStagger: cfg.Scheduler.RestartStagger,
		}, logger, scheduler.WithNotifier(rt.Notifier), scheduler.WithMetrics(rt.Metrics))
	}

	return rt, nil
}

// Start brings the runtime up: HTTP gateway first so health checks answer
// during scheduler recovery, then the scheduler and the approval sweeper.
func (rt *Runtime) Start(ctx context.Context) error {
	if err := rt.httpServer.Start(ctx); err != nil {
		return err
	}
	if rt.Scheduler != nil {
		if err := rt.Scheduler.Start(ctx); err != nil {
			return err
		}
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	rt.sweepStop = cancel
	rt.Approvals.StartSweeper(sweepCtx, rt.cfg.Approvals.SweepInterval)

	rt.logger.Info("runtime started", "addr", rt.httpServer.Addr())
	return nil
}

// Stop shuts components down in reverse order: no new schedule firings, let
// in-flight work drain, then close the gateway and storage.
func (rt *Runtime) Stop(ctx context.Context) error {
	var firstErr error
	if rt.Scheduler != nil {
		if err := rt.Scheduler.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if rt.sweepStop != nil {
		rt.sweepStop()
	}
	rt.Collab.Wait()
	rt.wg.Wait()
	if err := rt.httpServer.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	rt.logger.Info("runtime stopped")
	return firstErr
}

// Addr reports the gateway's bound address.
func (rt *Runtime) Addr() string { return rt.httpServer.Addr() }

func (rt *Runtime) openStores() (store.StoreSet, error) {
	if rt.cfg.Database.Path == ":memory:" {
		return store.NewMemoryStores(), nil
	}
	stores, err := store.NewSQLiteStores(&store.SQLiteConfig{
		Path:         rt.cfg.Database.Path,
		MaxOpenConns: rt.cfg.Database.MaxOpen,
		BusyTimeout:  rt.cfg.Database.BusyTimeout,
	})
	if err != nil {
		return store.StoreSet{}, fmt.Errorf("open database: %w", err)
	}
	return stores, nil
}

func auditConfig(cfg config.AuditConfig) audit.Config {
	out := audit.Config{Enabled: cfg.Enabled, Output: "stdout"}
	if cfg.Path != "" {
		out.Output = "file:" + cfg.Path
	}
	return out
}

// buildRouter registers every configured provider on a tier router and
// applies tier route overrides. It also reports which providers get CLI
// prompt tools.
func buildRouter(cfg config.AIConfig, logger *slog.Logger) (*ai.TierRouter, []string, error) {
	router := ai.NewTierRouter(cfg.DefaultProvider, logger)
	var names []string
	for name, pc := range cfg.Providers {
		var (
			p   ai.Provider
			err error
		)
		switch name {
		case "anthropic":
			p, err = providers.NewAnthropic(providers.AnthropicConfig{
				APIKey: pc.APIKey, BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel,
			})
		case "openai":
			p, err = providers.NewOpenAI(providers.OpenAIConfig{
				APIKey: pc.APIKey, BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel,
			})
		case "openrouter":
			p, err = providers.NewOpenRouter(providers.OpenRouterConfig{
				APIKey: pc.APIKey, DefaultModel: pc.DefaultModel,
			})
		case "ollama":
			p = providers.NewOllama(providers.OllamaConfig{
				BaseURL: pc.BaseURL, DefaultModel: pc.DefaultModel,
			})
		default:
			return nil, nil, fmt.Errorf("unknown AI provider %q", name)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("provider %s: %w", name, err)
		}
		router.Register(p)
		names = append(names, name)
	}
	for tier, route := range cfg.Tiers {
		router.SetRoute(models.Tier(tier), ai.Route{Provider: route.Provider, Model: route.Model})
	}
	return router, names, nil
}

func buildEmbedder(cfg config.MemoryConfig) memory.Embedder {
	if !cfg.Enabled {
		return nil
	}
	switch cfg.Embeddings.Provider {
	case "openai":
		e, err := memory.NewOpenAIEmbedder(cfg.Embeddings.APIKey, cfg.Embeddings.BaseURL, cfg.Embeddings.Model)
		if err != nil {
			return nil
		}
		return e
	case "ollama":
		return memory.NewOllamaEmbedder(cfg.Embeddings.BaseURL, cfg.Embeddings.Model)
	default:
		return nil
	}
}

func budgetOverrides(cfg config.ClassifierConfig) map[models.Tier]classify.Budget {
	if len(cfg.Budgets) == 0 {
		return nil
	}
	out := make(map[models.Tier]classify.Budget, len(cfg.Budgets))
	for tier, b := range cfg.Budgets {
		out[models.Tier(tier)] = classify.Budget{MaxIterations: b.MaxIterations, MaxToolCalls: b.MaxToolCalls}
	}
	return out
}
