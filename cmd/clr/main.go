// clr is the cognitive load router: it ingests activity telemetry, estimates
// cognitive load every tick and serves state, directives and controls over
// HTTP.
package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/vthunder/clr/internal/config"
	"github.com/vthunder/clr/internal/logging"
)

var version = "dev"

var (
	cfg   config.Config
	debug bool

	rootCmd = &cobra.Command{
		Use:   "clr",
		Short: "Cognitive load router",
		Long: `clr estimates a learner's cognitive load from browser, IDE, desktop
and LMS telemetry and routes focus, break and task recommendations.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				logging.SetDebug(true)
			}
			var err error
			cfg, err = config.Load()
			return err
		},
		RunE: runServe,
	}
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Printf("clr: %v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, sessionsCmd, dailyCmd, timelineCmd)
}
