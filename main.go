package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/semihalev/zlog/v2"
	"github.com/spf13/cobra"

	"github.com/dnsproxy/dnsproxy/config"
)

const version = "1.0.0"

var (
	configPath string
	dryRun     bool

	rootCmd = &cobra.Command{
		Use:          "dnsproxy",
		Short:        "Transparent DNS proxy that routes around tampering resolvers",
		Version:      version,
		SilenceUsage: true,
		RunE:         runProxy,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Redirect the matching interfaces and serve DNS until stopped",
		Args:  cobra.NoArgs,
		RunE:  runProxy,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	{
		flags.StringVar(&configPath, "config", "dnsproxy.conf", "location of the config file, if config file not found, a config will generate")
		flags.BoolVar(&dryRun, "dry-run", false, "serve DNS but keep interface changes in memory")
	}

	rootCmd.AddCommand(runCmd, probeCmd, genconfigCmd)
}

func setupLogger(level string) {
	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())

	switch strings.ToLower(level) {
	case "debug":
		logger.SetLevel(zlog.LevelDebug)
	case "warn":
		logger.SetLevel(zlog.LevelWarn)
	case "error":
		logger.SetLevel(zlog.LevelError)
	default:
		logger.SetLevel(zlog.LevelInfo)
	}

	zlog.SetDefault(logger)
}

func runProxy(cmd *cobra.Command, args []string) error {
	setupLogger("info")

	cfg, err := config.Load(configPath, version)
	if err != nil {
		return err
	}

	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zlog.Info("Starting dnsproxy...", "version", version, "dryrun", dryRun)

	if err := run(ctx, cfg, dryRun); err != nil {
		return err
	}

	zlog.Info("Stopping dnsproxy...")

	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
