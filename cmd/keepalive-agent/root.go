package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	server  string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "keepalive-agent",
		Short:         "Simulated agents for a keepalive server",
		Long:          "keepalive-agent connects fake agents to a keepalive server so rooms, pairing and the admin feed can be exercised without real browser sessions.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.server, "server", "s", envOrDefault("KEEPALIVE_SERVER", "localhost:3000"), "Server address")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newRoomsCmd(opts),
	)
	return rootCmd
}

func (o *globalOptions) logger() *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
