package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cogloop/core/internal/act"
	"github.com/cogloop/core/internal/worker/consolidate"
	"github.com/cogloop/core/internal/worker/digest"
)

var workerCmd = &cobra.Command{
	Use:   "worker <name>",
	Short: "run one named background worker (digest|chunker|episodic|outbox_relay|semantic|decay)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		switch args[0] {
		case "digest":
			w := digest.New(digest.Deps{
				Store: a.store, Prompt: a.promptQueue, Chunker: a.chunkerQueue, Events: a.bus,
				Embedder: a.embedder, Planner: a.planner,
				Working: a.working, Gists: a.gists, Facts: a.facts, Episodes: a.episodes, Concepts: a.concepts,
				Assembler: a.assembler, Classifier: a.classifier, Boundaries: a.boundaries,
				Reflexes: a.reflexes, Router: a.router, Tools: a.tools,
				LoopFactory: func(threadID, goal, contextText string) *act.Loop { return a.loopFactory(goal, contextText) },
			})
			go a.reflexes.Run(ctx)
			w.Run(ctx)
		case "chunker":
			c := consolidate.NewChunker(a.store, a.chunkerQueue, a.episodicQueue, a.working, a.gists, a.facts, a.traits, a.planner)
			c.SetGate(a.hostwatch)
			go a.hostwatch.Run(ctx)
			c.Run(ctx)
		case "episodic":
			e := consolidate.NewEpisodic(a.store, a.episodicQueue, a.working, a.gists, a.episodes, a.embedder, a.planner)
			e.SetGate(a.hostwatch)
			go a.hostwatch.Run(ctx)
			e.Run(ctx)
		case "outbox_relay":
			r := consolidate.NewOutboxRelay(a.store, a.semanticQueue)
			r.Run(ctx)
		case "semantic":
			s := consolidate.NewSemantic(a.semanticQueue, a.concepts, a.embedder, a.planner)
			s.SetGate(a.hostwatch)
			go a.hostwatch.Run(ctx)
			s.Run(ctx)
		case "decay":
			d := consolidate.NewDecay(a.store, a.episodes, a.concepts, a.traits)
			d.Run(ctx)
		default:
			return fmt.Errorf("unknown worker %q", args[0])
		}
		return nil
	},
}
