package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/cairn/cache"
	"github.com/roach88/cairn/internal/config"
	"github.com/roach88/cairn/migrate"
	"github.com/roach88/cairn/store"
)

// RootOptions holds global flags for all commands, and the configuration
// resolved from them before a command runs.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	EnvFile    string
	Database   string
	CacheRoot  string

	Config config.Config
	Logger *zap.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the cairn CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Logger: zap.NewNop()}

	cmd := &cobra.Command{
		Use:   "cairn",
		Short: "cairn - artifact cache and lineage store",
		Long: `Inspect and maintain the metadata store and artifact cache of
fingerprinted pipelines.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = opts.Logger.Sync()
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "project config file (default ./"+config.DefaultFile+" if present)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "environment file loaded before the config, if present")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the metadata database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.CacheRoot, "cache", "", "cache root directory (overrides config)")

	// Add subcommands
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))
	cmd.AddCommand(NewLineageCommand(opts))
	cmd.AddCommand(NewCacheCommand(opts))

	return cmd
}

// Execute runs the CLI with args and reports any error in the requested
// format. It returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	// Cobra's own argument and flag errors are usage errors.
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		err = NewExitError(ExitCommandError, ErrCodeUsage, err.Error())
	}

	format := "text"
	if f := cmd.PersistentFlags().Lookup("format"); f != nil && f.Value.String() == "json" {
		format = "json"
	}
	f := &OutputFormatter{Format: format, Writer: stdout, ErrWriter: stderr}
	return f.ReportError(err)
}

// setup validates global flags, loads the environment file and the config,
// and builds the logger. Flags override the config.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	if !isValidFormat(o.Format) {
		return NewExitError(ExitCommandError, ErrCodeUsage,
			fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}

	if o.EnvFile != "" {
		if err := godotenv.Load(o.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return WrapExitError(ExitCommandError, ErrCodeConfig, "failed to load environment file", err)
		}
	}

	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.StorePath = o.Database
	}
	if o.CacheRoot != "" {
		cfg.CacheRoot = o.CacheRoot
	}
	o.Config = cfg

	level, err := cfg.Level()
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeConfig, "invalid log level", err)
	}
	if o.Verbose {
		level = zapcore.DebugLevel
	}
	o.Logger = newLogger(cmd.ErrOrStderr(), level, o.Format)
	return nil
}

// newLogger writes to w; JSON output gets JSON logs.
func newLogger(w io.Writer, level zapcore.Level, format string) *zap.Logger {
	var enc zapcore.Encoder
	if format == "json" {
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "timestamp"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
	} else {
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddStacktrace(zapcore.ErrorLevel))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openStore opens the metadata store, applying pending migrations.
func (o *RootOptions) openStore() (*store.Store, error) {
	path := o.Config.StorePath
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, WrapExitError(ExitCommandError, ErrCodeStore, "failed to create database directory", err)
		}
	}

	st, err := store.Open(path, store.WithLogger(o.Logger))
	if err != nil {
		if migrate.IsMigrationError(err) {
			return nil, WrapExitError(ExitCommandError, ErrCodeMigrate, "migration failed", err)
		}
		return nil, WrapExitError(ExitCommandError, ErrCodeStore, "failed to open database", err)
	}
	return st, nil
}

func (o *RootOptions) openCache() (*cache.Store, error) {
	cs, err := cache.Open(o.Config.CacheRoot, cache.WithLogger(o.Logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeCache, "failed to open cache", err)
	}
	return cs, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
