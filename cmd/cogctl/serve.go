package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cogloop/core/internal/act"
	"github.com/cogloop/core/internal/logging"
	"github.com/cogloop/core/internal/regulator"
	"github.com/cogloop/core/internal/scheduler"
	"github.com/cogloop/core/internal/stream"
	"github.com/cogloop/core/internal/types"
	"github.com/cogloop/core/internal/worker/consolidate"
	"github.com/cogloop/core/internal/worker/digest"
	"github.com/cogloop/core/internal/worker/supervisor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run every long-running component under one supervisor, plus the SSE front door",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		sup := supervisor.New()

		digestWorker := digest.New(digest.Deps{
			Store: a.store, Prompt: a.promptQueue, Chunker: a.chunkerQueue, Events: a.bus,
			Embedder: a.embedder, Planner: a.planner,
			Working: a.working, Gists: a.gists, Facts: a.facts, Episodes: a.episodes, Concepts: a.concepts,
			Assembler: a.assembler, Classifier: a.classifier, Boundaries: a.boundaries,
			Reflexes: a.reflexes, Router: a.router, Tools: a.tools,
			LoopFactory: func(threadID, goal, contextText string) *act.Loop { return a.loopFactory(goal, contextText) },
		})
		sup.Register(supervisor.Task{Name: "digest", Run: digestWorker.Run})
		sup.Register(supervisor.Task{Name: "reflex_refresh", Run: a.reflexes.Run})

		chunker := consolidate.NewChunker(a.store, a.chunkerQueue, a.episodicQueue, a.working, a.gists, a.facts, a.traits, a.planner)
		chunker.SetGate(a.hostwatch)
		sup.Register(supervisor.Task{Name: "consolidate_chunker", Run: chunker.Run})

		episodic := consolidate.NewEpisodic(a.store, a.episodicQueue, a.working, a.gists, a.episodes, a.embedder, a.planner)
		episodic.SetGate(a.hostwatch)
		sup.Register(supervisor.Task{Name: "consolidate_episodic", Run: episodic.Run})

		outbox := consolidate.NewOutboxRelay(a.store, a.semanticQueue)
		sup.Register(supervisor.Task{Name: "consolidate_outbox_relay", Run: outbox.Run})

		semantic := consolidate.NewSemantic(a.semanticQueue, a.concepts, a.embedder, a.planner)
		semantic.SetGate(a.hostwatch)
		sup.Register(supervisor.Task{Name: "consolidate_semantic", Run: semantic.Run})

		decay := consolidate.NewDecay(a.store, a.episodes, a.concepts, a.traits)
		sup.Register(supervisor.Task{Name: "consolidate_decay", Run: decay.Run})

		sup.Register(supervisor.Task{Name: "host_watcher", Run: a.hostwatch.Run})

		dueScheduler := scheduler.New(a.store, a.promptQueue, a.bus)
		sup.Register(supervisor.Task{Name: "scheduler_due_items", Run: dueScheduler.Run})

		persistentTasks := scheduler.NewPersistentTasks(a.store, func(task *types.PersistentTask) *act.Loop {
			return a.loopFactory(task.Goal, task.LastSummary)
		})
		sup.Register(supervisor.Task{Name: "scheduler_persistent_tasks", Run: persistentTasks.Run})

		routingReg := regulator.NewRouting(a.store, a.cfg, a.journal)
		sup.Register(supervisor.Task{Name: "regulator_routing", Run: routingReg.Run})

		topicReg := regulator.NewTopic(a.cfg, a.journal, a.boundaries)
		sup.Register(supervisor.Task{Name: "regulator_topic", Run: topicReg.Run})

		reflection := regulator.NewReflection(a.store, a.planner, a.monitor("routing_reflection"))
		sup.Register(supervisor.Task{Name: "regulator_reflection", Run: reflection.Run})

		outlet := stream.New(a.bus)
		mux := http.NewServeMux()
		mux.HandleFunc("GET /stream", outlet.Handler(userIDFromRequest))
		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

		srv := &http.Server{Addr: envOr("HTTP_ADDR", ":8080"), Handler: mux}
		sup.Register(supervisor.Task{Name: "http", Run: func(taskCtx context.Context) {
			go func() {
				<-taskCtx.Done()
				_ = srv.Close()
			}()
			l := logging.For("cogctl.serve")
			l.Info().Str("addr", srv.Addr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				l.Error().Err(err).Msg("http server exited")
			}
		}})

		sup.Run(ctx)
		return nil
	},
}

// userIDFromRequest resolves the caller's identity for the stream handler.
// This process has no inbound auth layer of its own (spec.md's Non-goals
// exclude an external-facing auth surface); it trusts an upstream gateway
// to set this header, the same assumption the stream outlet's doc comment
// about auth middleware describes.
func userIDFromRequest(r *http.Request) (string, error) {
	if id := r.Header.Get("X-Cogloop-User-ID"); id != "" {
		return id, nil
	}
	if id := r.URL.Query().Get("user_id"); id != "" {
		return id, nil
	}
	return "", http.ErrNoCookie
}
