package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string

	// cycle command
	cycleProject string
	cycleWorker  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "perfwatch",
		Short:         "Worker performance enforcement",
		Long:          `Evaluates worker quality metrics per project, classifies performance zones and applies progressive enforcement actions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./config.yaml or ./configs/config.yaml)")

	cycleCmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one evaluation cycle and print the summary as JSON",
		RunE:  runCycle,
	}
	cycleCmd.Flags().StringVar(&cycleProject, "project", "", "Evaluate only this project")
	cycleCmd.Flags().StringVar(&cycleWorker, "worker", "", "Evaluate only this worker")

	schedulerCmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run evaluation cycles every engine.schedule_interval until stopped",
		RunE:  runScheduler,
	}

	consoleCmd := &cobra.Command{
		Use:   "console",
		Short: "Serve the console HTTP API",
		RunE:  runConsole,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		RunE:  runMigrate,
	}

	rootCmd.AddCommand(cycleCmd, schedulerCmd, consoleCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
