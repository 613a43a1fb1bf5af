// cogctl is the single entry point for every long-running and one-shot
// process this system needs: the HTTP+SSE front door, each background
// worker, the scheduler, and the regulators, plus a migrate subcommand for
// schema setup. Grounded on the teacher's cmd/bud (a single main.go wiring
// every collaborator before handing off to internal/executive) and the
// codenerd CLI's cobra root/subcommand split, generalized from the
// teacher's one-process-does-everything shape into separate subcommands so
// each can be scaled and deployed independently.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cogctl",
	Short: "cogloop cognition pipeline and scheduling substrate",
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, workerCmd, schedulerCmd, regulateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
