package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cogloop/core/internal/regulator"
)

var regulateCmd = &cobra.Command{
	Use:   "regulate",
	Short: "run the routing/topic stability regulators and routing reflection",
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

		routing := regulator.NewRouting(a.store, a.cfg, a.journal)
		topicReg := regulator.NewTopic(a.cfg, a.journal, a.boundaries)
		reflection := regulator.NewReflection(a.store, a.planner, a.monitor("routing_reflection"))

		go routing.Run(ctx)
		go topicReg.Run(ctx)
		reflection.Run(ctx)
		return nil
	},
}
