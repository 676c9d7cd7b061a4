package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/maxpert/pubkit/baggage"
	"github.com/maxpert/pubkit/cfg"
	"github.com/maxpert/pubkit/telemetry"
	"github.com/maxpert/pubkit/vat"
	"github.com/spf13/cobra"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// newRootCommand builds the CLI. The configuration flags are the cfg
// package's own, so they work before or after the subcommand name.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pubkit",
		Short:         "pubkit - durable publish/subscribe kit",
		Long:          "Runs and drives a durable singleton publish kit stored under the configured data directory.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load configuration
			if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
				return err
			}

			// Validate configuration
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			setupLogging()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRoot(cmd, []string{"serve"})
		},
	}
	cmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the admin server, follow the kit and read commands from stdin",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRoot(cmd, []string{"serve"})
			},
		},
		producerCommand("publish", "Publish a new value"),
		producerCommand("finish", "Finish the kit with a final value"),
		producerCommand("fail", "Fail the kit with a reason"),
		&cobra.Command{
			Use:   "get [lastSeen]",
			Short: "Print the update after lastSeen without waiting",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRoot(cmd, append([]string{"get"}, args...))
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the root version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRoot(cmd, []string{"version"})
			},
		},
	)

	return cmd
}

func producerCommand(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <value>",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRoot(cmd, append([]string{name}, args...))
		},
	}
}

func setupLogging() {
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}

// withRoot opens the store, builds the root and dispatches args to it
func withRoot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if args[0] == "serve" {
		log.Debug().Msg("Initializing telemetry")
		telemetry.InitializeTelemetry()
		telemetry.InitMetrics()
	}

	store, err := baggage.Open(cfg.Config.Store, cfg.Config.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	root, err := vat.Build(ctx, store, vat.ParametersFromConfig(cfg.Config))
	if err != nil {
		return fmt.Errorf("build root: %w", err)
	}

	return dispatch(ctx, root, args, cmd.InOrStdin(), cmd.OutOrStdout())
}
