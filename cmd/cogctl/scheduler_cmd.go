package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cogloop/core/internal/act"
	"github.com/cogloop/core/internal/scheduler"
	"github.com/cogloop/core/internal/types"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "run the scheduled-item and persistent-task pollers",
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

		due := scheduler.New(a.store, a.promptQueue, a.bus)
		persistent := scheduler.NewPersistentTasks(a.store, func(task *types.PersistentTask) *act.Loop {
			return a.loopFactory(task.Goal, task.LastSummary)
		})

		go persistent.Run(ctx)
		due.Run(ctx)
		return nil
	},
}
