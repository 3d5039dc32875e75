package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/MeKo-Tech/dpmscan/internal/config"
	"github.com/MeKo-Tech/dpmscan/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app is the configuration state shared by one command tree. Every call to
// NewRootCommand gets its own viper instance so trees can run side by side.
type app struct {
	v       *viper.Viper
	loader  *config.Loader
	cfg     *config.Config
	cfgFile string
	logger  *slog.Logger
}

// NewRootCommand builds the dpmscan command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}
	a.loader = config.NewLoaderWithViper(a.v)

	rootCmd := &cobra.Command{
		Use:   "dpmscan",
		Short: "Decode DataMatrix DPM codes from machine camera photographs",
		Long: `dpmscan reads photographs of direct part marked DataMatrix symbols taken by
the cameras of known machines, crops the region where the machine places the
mark, cleans it up and decodes it.

This tool provides:
- Batch decoding of a directory with a text, JSON or CSV report
- A per-machine crop table that can be extended from the configuration file
- An HTTP and WebSocket decode service with Prometheus metrics
- A SQLite history of past runs

Examples:
  dpmscan decode ./photos
  dpmscan decode ./photos --machine machine_2 --format json
  dpmscan serve --port 8080`,
		Version:      version.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/dpmscan, /etc/dpmscan)")
	pf.BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	pf.StringP("machine", "m", "machine_1", "machine profile used to crop the photographs")

	_ = a.v.BindPFlag("verbose", pf.Lookup("verbose"))
	_ = a.v.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("log_format", pf.Lookup("log-format"))
	_ = a.v.BindPFlag("machine", pf.Lookup("machine"))

	rootCmd.AddCommand(
		a.newDecodeCmd(),
		a.newMachinesCmd(),
		a.newConfigCmd(),
		a.newServeCmd(),
		a.newHistoryCmd(),
		a.newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree and exits 1 on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns a fresh root command for tests.
func GetRootCommand() *cobra.Command {
	return NewRootCommand()
}

// initConfig loads the configuration (file, env, flags) and installs the
// logger on stderr.
func (a *app) initConfig(cmd *cobra.Command) error {
	cfg, err := a.loader.LoadWithFile(a.cfgFile)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	a.cfg = cfg
	a.logger = newLogger(cmd.ErrOrStderr(), cfg)
	slog.SetDefault(a.logger)
	return nil
}

// config returns the loaded configuration, loading defaults when the
// command ran without the root pre-run hook.
func (a *app) config() *config.Config {
	if a.cfg == nil {
		cfg := config.DefaultConfig()
		a.cfg = &cfg
	}
	return a.cfg
}

func (a *app) log() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger
}

// newLogger builds the slog handler selected by the configuration.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel(cfg)}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func logLevel(cfg *config.Config) slog.Level {
	// --verbose wins over --log-level
	if cfg.Verbose {
		return slog.LevelDebug
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
