package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/iudanet/offsync/internal/config"
	"github.com/iudanet/offsync/internal/logging"
	"github.com/iudanet/offsync/internal/server"
	"github.com/iudanet/offsync/internal/server/handlers"
	"github.com/iudanet/offsync/internal/server/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "offsync-server",
		Short:         "Reference document server for offsync clients",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	flags.String("jwt-secret", "", "HS256 secret for bearer tokens (empty disables auth)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("log-file", "", "write logs to a rotating file instead of stderr")

	root.Flags().String("listen", "", "address to listen on")
	root.Flags().String("db", "", "SQLite database file")
	root.Flags().Int("rate-limit", 0, "requests per IP per window (0 disables)")

	root.AddCommand(tokenCommand(&configPath))
	return root
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, closer, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	store, err := sqlite.New(ctx, cfg.Server.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	logger.Info("offsync server starting",
		slog.String("version", Version),
		slog.String("db_path", cfg.Server.DBPath),
		slog.Bool("auth", cfg.Server.JWTSecret != ""),
		slog.Int("rate_limit", cfg.Server.RateLimit))

	return server.New(cfg.Server, store, logger).Run(ctx)
}

func tokenCommand(configPath *string) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a bearer token for a client",
		Long: `Signs an access token with the configured JWT secret. The subject names
the client device and shows up in the server logs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath, cmd.Flags())
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Server.TokenTTL
			}

			token, expiresIn, err := handlers.GenerateAccessToken(handlers.JWTConfig{
				Secret:   []byte(cfg.Server.JWTSecret),
				TokenTTL: ttl,
			}, args[0])
			if err != nil {
				return err
			}

			return printToken(cmd.OutOrStdout(), cmd.ErrOrStderr(), token, expiresIn)
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from server.token_ttl)")
	return cmd
}

func printToken(out, info io.Writer, token string, expiresIn int64) error {
	expires := time.Now().Add(time.Duration(expiresIn) * time.Second)
	if _, err := fmt.Fprintln(out, token); err != nil {
		return err
	}
	_, err := fmt.Fprintf(info, "Expires %s (%s)\n", humanize.Time(expires), expires.Format(time.RFC3339))
	return err
}
