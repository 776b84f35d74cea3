package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/touchon/flowbus/internal/interfaces/cli/run"
	"github.com/touchon/flowbus/internal/interfaces/cli/validate"
	"github.com/touchon/flowbus/internal/shared/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "flowbus",
		Short:   "Flowbus - flow nodes on a shared touchon bus",
		Long:    `Flowbus runs flow nodes that share one websocket connection per touchon server, filter its events and send commands back.`,
		Version: version.Current(),
	}

	rootCmd.AddCommand(
		run.NewCommand(),
		validate.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
