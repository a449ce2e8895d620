// Command siridb-server runs one storage/replication node of a SiriDB
// cluster: it loads a TOML configuration (internal/config), opens the
// local catalog/shard/buffer state (internal/server.Open) and serves the
// wire protocol until terminated.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/siridb/siridb-go/internal/config"
	"github.com/siridb/siridb-go/internal/server"
)

// version is overwritten at build time via -ldflags, matching the
// retrieval pack's cobra-based CLI (fenilsonani-vcs/cmd/vcs).
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgPath string
	var logLevel string

	root := &cobra.Command{
		Use:     "siridb-server",
		Short:   "SiriDB storage and replication node",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath, logLevel)
		},
	}
	root.Flags().StringVar(&cfgPath, "config", "", "path to the TOML configuration file")
	root.Flags().StringVar(&logLevel, "log-level", "", "override the configured log level (trace|debug|info|warn|error)")
	_ = root.MarkFlagRequired("config")

	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the siridb-server version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

// run implements the CLI surface spec.md §6 describes: it loads cfgPath,
// opens a server.Context, starts the background tasks and the accept
// loop, and blocks until SIGINT/SIGTERM. Exit codes follow spec.md §6:
// a non-zero return here becomes a non-zero process exit via main's
// os.Exit(1), which is as granular as the spec requires (init failure,
// lock held, and invalid config are all startup failures).
func run(cfgPath, logLevelOverride string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("siridb-server: %w", err)
	}
	level := cfg.Server.LogLevel
	if logLevelOverride != "" {
		level = logLevelOverride
	}
	log, err := newLogger(level)
	if err != nil {
		return fmt.Errorf("siridb-server: %w", err)
	}

	lock, err := acquireLock(cfg.Server.DataDir)
	if err != nil {
		return fmt.Errorf("siridb-server: %w", err)
	}
	defer lock.release()

	ctx, err := server.Open(cfg, log)
	if err != nil {
		return fmt.Errorf("siridb-server: open: %w", err)
	}
	defer func() {
		if cerr := ctx.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("siridb-server: close")
		}
	}()

	srv, err := server.Listen(ctx)
	if err != nil {
		return fmt.Errorf("siridb-server: listen: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Info().Msg("siridb-server: shutdown signal received")
		cancel()
	}()

	go ctx.Run(runCtx)

	log.Info().Str("listen", cfg.Server.Listen).Int("pools", len(cfg.Pools)).Msg("siridb-server: serving")
	if err := srv.Serve(runCtx); err != nil {
		return fmt.Errorf("siridb-server: serve: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown()
	<-shutdownCtx.Done()
	return nil
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parse log level %q: %w", level, err)
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger(), nil
}
