package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/stepflow/internal/actions"
)

var (
	cfg    Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "stepflow",
	Short: "Define, validate and run step workflows",
	Long: `stepflow compiles workflow documents (YAML or JSON) into state machines
and runs them: once from the command line, on cron schedules, or as tools
of an MCP server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = applyFlags(cmd, loaded)

		logger, err = newLogger(cfg, os.Stderr)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json")
	rootCmd.PersistentFlags().Duration("http-timeout", 0, "Default timeout of the http.request action")
}

// applyFlags layers explicitly set command flags over the loaded config.
func applyFlags(cmd *cobra.Command, c Config) Config {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		c.LogFormat, _ = flags.GetString("log-format")
	}
	if flags.Changed("http-timeout") {
		c.HTTPTimeout.Duration, _ = flags.GetDuration("http-timeout")
	}
	if flags.Lookup("metrics-addr") != nil && flags.Changed("metrics-addr") {
		c.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Lookup("interval") != nil && flags.Changed("interval") {
		c.SchedulerInterval.Duration, _ = flags.GetDuration("interval")
	}
	return c
}

func builtinActions() (*actions.Registry, error) {
	return actions.NewBuiltinRegistry(actions.Config{
		HTTP: actions.HTTPConfig{DefaultTimeout: cfg.HTTPTimeout.Duration},
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
