package main

import (
	"context"
	"os"

	"github.com/cogloop/core/internal/act"
	"github.com/cogloop/core/internal/bus"
	cogctx "github.com/cogloop/core/internal/context"
	"github.com/cogloop/core/internal/config"
	"github.com/cogloop/core/internal/journal"
	"github.com/cogloop/core/internal/llm"
	"github.com/cogloop/core/internal/memory"
	"github.com/cogloop/core/internal/queue"
	"github.com/cogloop/core/internal/reflex"
	"github.com/cogloop/core/internal/regulator"
	"github.com/cogloop/core/internal/router"
	"github.com/cogloop/core/internal/store/ephemeral"
	"github.com/cogloop/core/internal/store/postgres"
	"github.com/cogloop/core/internal/topic"
	"github.com/cogloop/core/internal/worker/supervisor"
)

// app bundles every collaborator a cogctl subcommand might need. Built once
// per process via buildApp; subcommands pull out only what they use.
type app struct {
	cfg   *config.Config
	store *postgres.Store
	eph   *ephemeral.Store
	bus   *bus.Bus

	planner  llm.Provider
	embedder llm.Embedder

	promptQueue   *queue.Queue
	chunkerQueue  *queue.Queue
	episodicQueue *queue.Queue
	semanticQueue *queue.Queue

	working  *memory.Working
	gists    *memory.Gists
	facts    *memory.Facts
	episodes *memory.Episodes
	concepts *memory.Concepts
	traits   *memory.Traits

	assembler  *cogctx.Assembler
	classifier *topic.Classifier
	boundaries *topic.BoundaryManager
	reflexes   *reflex.Engine
	router     *router.Router
	tools      *act.Registry

	fatigue *act.FatigueTracker
	critic  act.VerificationCritic

	journal    *journal.Journal
	hostwatch  *supervisor.HostWatcher
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// buildApp wires every component this process's subcommands need. Every
// subcommand builds its own app rather than sharing process state, since
// each cogctl invocation is a separate os.Exec.
func buildApp(ctx context.Context) (*app, error) {
	defaultsPath := envOr("COGLOOP_DEFAULTS", "config/defaults.yaml")

	// Loaded once with no store to read concept_embedding_dim before the
	// store that needs it exists, then reloaded against the real store so
	// router_weights/boundary params pick up any persisted regulator state.
	bootstrap, err := config.Load(defaultsPath, nil)
	if err != nil {
		return nil, err
	}
	dim := bootstrap.ConceptEmbeddingDim()

	store, err := postgres.Open(ctx, envOr("POSTGRES_DSN", "postgres://localhost:5432/cogloop"), dim)
	if err != nil {
		return nil, err
	}
	if introspected, err := store.IntrospectEmbeddingDim(ctx); err == nil && introspected > 0 {
		dim = introspected
	}

	cfg, err := config.Load(defaultsPath, store)
	if err != nil {
		return nil, err
	}

	eph, err := ephemeral.Open(envOr("REDIS_ADDR", "localhost:6379"), os.Getenv("REDIS_PASSWORD"), 0)
	if err != nil {
		return nil, err
	}

	b, err := bus.Connect(envOr("NATS_URL", "nats://localhost:4222"))
	if err != nil {
		return nil, err
	}

	planner := llm.NewAnthropicProvider(os.Getenv("ANTHROPIC_API_KEY"), envOr("ANTHROPIC_MODEL", ""))
	embedder := llm.NewOllamaEmbedder(envOr("OLLAMA_URL", ""), envOr("OLLAMA_EMBED_MODEL", ""), dim)

	promptQueue := queue.New(queue.Prompt, eph)
	chunkerQueue := queue.New(queue.MemoryChunker, eph)
	episodicQueue := queue.New(queue.Episodic, eph)
	semanticQueue := queue.New(queue.Semantic, eph)

	working := memory.NewWorking(eph)
	gists := memory.NewGists(eph)
	facts := memory.NewFacts(eph)
	episodes := memory.NewEpisodes(store)
	concepts := memory.NewConcepts(store)
	traits := memory.NewTraits(store)

	assembler := cogctx.NewAssembler(working, gists, facts, episodes, concepts)
	classifier := topic.NewClassifier(store)
	boundaries := topic.NewBoundaryManager()
	reflexes := reflex.NewEngine(store, 0)

	weightStore := router.NewConfigWeightStore(cfg)
	tiebreaker := router.NewLLMTiebreaker(planner, envOr("ROUTER_TIEBREAK_MODEL", ""))
	toolRegistry := act.NewRegistry(buildTools()...)
	r := router.NewRouter(weightStore, tiebreaker, toolRegistry)

	fatigue := act.NewFatigueTracker()
	var critic act.VerificationCritic
	if cfg.VerificationCriticEnabled() {
		critic = act.NewLLMVerificationCritic(planner, envOr("ACT_CRITIC_MODEL", ""))
	}

	j := journal.New(envOr("COGLOOP_STATE_DIR", "./state"))
	hostwatch := supervisor.NewHostWatcher()

	return &app{
		cfg: cfg, store: store, eph: eph, bus: b,
		planner: planner, embedder: embedder,
		promptQueue: promptQueue, chunkerQueue: chunkerQueue, episodicQueue: episodicQueue, semanticQueue: semanticQueue,
		working: working, gists: gists, facts: facts, episodes: episodes, concepts: concepts, traits: traits,
		assembler: assembler, classifier: classifier, boundaries: boundaries, reflexes: reflexes,
		router: r, tools: toolRegistry, fatigue: fatigue, critic: critic,
		journal: j, hostwatch: hostwatch,
	}, nil
}

// buildTools returns no tools: MCP_SERVERS is not read and no MCP-backed
// tool is wired, so every process runs with an empty registry (no
// action-capable/search-like tools, the router's deterministic ACT/RESPOND
// overrides simply never fire).
func buildTools() []act.Tool {
	return nil
}

// loopFactory builds the PromptBuilder+Loop pair every ACT entry point
// (digest's mode generation, the persistent-task poller) needs, scoped to
// one goal/context pairing.
func (a *app) loopFactory(goal, contextText string) *act.Loop {
	builder := act.NewDefaultPromptBuilder(goal, contextText, a.tools)
	return act.NewLoop(a.planner, builder, a.tools, a.fatigue, a.critic)
}

func (a *app) monitor(source string) *regulator.Monitor {
	return regulator.NewMonitor(a.journal, source)
}

func (a *app) close() {
	a.store.Close()
	_ = a.eph.Close()
	a.bus.Close()
}
