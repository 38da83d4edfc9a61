// Package cli implements the offsync command line client.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/iudanet/offsync/internal/client/app"
	"github.com/iudanet/offsync/internal/client/iocli"
	"github.com/iudanet/offsync/internal/config"
	"github.com/iudanet/offsync/internal/logging"
)

// AppFactory assembles the engine; prompt asks for the storage passphrase.
type AppFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger, prompt func() (string, error)) (*app.App, error)

// DefaultAppFactory builds the engine with the OS filesystem and the HTTP transport.
func DefaultAppFactory(ctx context.Context, cfg *config.Config, logger *slog.Logger, prompt func() (string, error)) (*app.App, error) {
	return app.New(ctx, cfg, logger, app.WithPassphrasePrompt(prompt))
}

// Option configures a Cli.
type Option func(*Cli)

// WithAppFactory replaces DefaultAppFactory.
func WithAppFactory(f AppFactory) Option {
	return func(c *Cli) { c.newApp = f }
}

// WithLogOutput sets where logs go when no log file is configured.
func WithLogOutput(w io.Writer) Option {
	return func(c *Cli) { c.logOut = w }
}

// WithInput sets the reader used for "--data -".
func WithInput(r io.Reader) Option {
	return func(c *Cli) { c.in = r }
}

// Cli holds the command tree and the engine opened for the running command.
type Cli struct {
	io      iocli.IO
	newApp  AppFactory
	logOut  io.Writer
	in      io.Reader
	now     func() time.Time
	app     *app.App
	closers []io.Closer

	configPath     string
	passphraseFile string
	version        string
}

// New creates the client CLI.
func New(io iocli.IO, version string, opts ...Option) *Cli {
	c := &Cli{
		io:      io,
		newApp:  DefaultAppFactory,
		logOut:  os.Stderr,
		now:     time.Now,
		version: version,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute runs the command line and releases the engine afterwards.
func (c *Cli) Execute(ctx context.Context, args []string) error {
	root := c.Command()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	return multierr.Append(err, c.close())
}

// Command builds the cobra command tree.
func (c *Cli) Command() *cobra.Command {
	root := &cobra.Command{
		Use:           "offsync",
		Short:         "Offline-first sync client",
		Long:          "offsync keeps a local cache and a queue of pending writes, and delivers them to the server when connectivity allows.",
		Version:       c.version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !needsEngine(cmd) {
				return nil
			}
			return c.open(cmd)
		},
	}
	root.SetOut(c.io)
	if c.in != nil {
		root.SetIn(c.in)
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "path to YAML config file")
	flags.String("server-url", "", "sync server URL")
	flags.String("token", "", "bearer token for the sync server")
	flags.String("storage", "", "local storage backend: bolt or file")
	flags.String("storage-path", "", "bolt database file or file store directory")
	flags.Bool("encrypt", false, "encrypt the local store with a passphrase")
	flags.StringVar(&c.passphraseFile, "passphrase-file", "", "file containing the storage passphrase")
	flags.String("status-file", "", "connectivity status file maintained by the host")
	flags.String("rules", "", "conflict rules YAML file")
	flags.Int("workers", 0, "parallel sends during a drain")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("log-file", "", "write logs to a rotating file")

	root.AddCommand(
		c.enqueueCommand(),
		c.queueCommand(),
		c.drainCommand(),
		c.getCommand(),
		c.refreshCommand(),
		c.conflictsCommand(),
		c.resolveCommand(),
		c.statusCommand(),
		c.cacheCommand(),
		c.runCommand(),
	)
	return root
}

// needsEngine reports whether cmd works on the local store. Help and shell
// completion do not.
func needsEngine(cmd *cobra.Command) bool {
	for ; cmd != nil; cmd = cmd.Parent() {
		switch cmd.Name() {
		case "help", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd, "completion":
			return false
		}
	}
	return true
}

// open loads configuration and assembles the engine for the command.
func (c *Cli) open(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath, cmd.Flags())
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Log, c.logOut)
	if err != nil {
		return err
	}
	c.closers = append(c.closers, closer)

	a, err := c.newApp(cmd.Context(), cfg, logger, c.readPassphrase)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	c.app = a
	c.closers = append(c.closers, a)
	return nil
}

func (c *Cli) close() error {
	var errs error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, c.closers[i].Close())
	}
	c.closers = nil
	c.app = nil
	return errs
}

// readPassphrase reads the storage passphrase. It is only called when the
// passphrase is not configured (OFFSYNC_STORAGE_PASSPHRASE or config file):
// --passphrase-file is tried first, then an interactive prompt.
func (c *Cli) readPassphrase() (string, error) {
	if c.passphraseFile != "" {
		content, err := os.ReadFile(c.passphraseFile)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase file: %w", err)
		}
		// Убираем trailing newline/whitespace
		passphrase := strings.TrimSpace(string(content))
		if passphrase == "" {
			return "", fmt.Errorf("passphrase file is empty")
		}
		return passphrase, nil
	}

	passphrase, err := c.io.ReadPassword("Storage passphrase: ")
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase from stdin: %w", err)
	}
	if passphrase == "" {
		return "", fmt.Errorf("passphrase cannot be empty")
	}
	return passphrase, nil
}
