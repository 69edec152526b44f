package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"nostr-subs/internal/config"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	ConfigPath  string
	Relays      []string
	LogLevel    string
	MetricsAddr string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "relaywatch",
		Short:         "Watch and query Nostr relays through a shared connection pool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file (default $RELAYPOOL_CONFIG or config/relaypool.json)")
	root.PersistentFlags().StringArrayVarP(&flags.Relays, "relay", "r", nil, "relay URL, repeatable (overrides config)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "debug|info|warn|error (overrides config)")
	root.PersistentFlags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	root.AddCommand(
		newWatchCmd(&flags),
		newEventCmd(&flags),
		newProfileCmd(&flags),
		newThreadCmd(&flags),
		newFeedCmd(&flags),
	)
	return root
}

// loadApp resolves configuration with flag overrides and starts the components.
func loadApp(flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	if len(flags.Relays) > 0 {
		cfg.Relays = flags.Relays
	}
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
	}
	if len(cfg.Relays) == 0 {
		return nil, fmt.Errorf("no relays configured")
	}
	return newApp(cfg, flags.MetricsAddr), nil
}

// printJSON writes v as one JSON line.
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
