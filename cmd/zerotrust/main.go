package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "zerotrust",
		Short:   "Zero trust access evaluation toolkit",
		Long:    "Command line frontend for the access evaluation engines: behavioral baselines, anomaly detection, lateral movement detection, policy evaluation and the API server.",
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().Int64("seed", 42, "seed for synthetic data generation")

	root.AddCommand(
		newBaselineCmd(),
		newAnalyzeCmd(),
		newDetectCmd(),
		newPolicyCmd(),
		newDashboardCmd(),
		newDemoCmd(),
		newServeCmd(),
	)
	return root
}
