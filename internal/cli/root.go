package cli

import (
	stdcontext "context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/streamsup/internal/cliutil"
	"github.com/Paintersrp/streamsup/internal/config"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	ctx := &context{}

	root := &cobra.Command{
		Use:   "streamsup",
		Short: "Feed one input stream into supervised ffmpeg encoders",
	}

	root.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "", "Path to streamsup.yaml")
	root.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&ctx.logFormat, "log-format", "", "Log format (text, json)")

	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newCommandsCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// context carries the persistent flag values shared by every subcommand.
type context struct {
	configPath string
	logLevel   string
	logFormat  string
}

// loadConfig resolves the effective configuration: the file named by
// --config (or defaults when none is given), STREAMSUP_* variables, then any
// overrides from the calling command. Defaults and validation run last.
func (c *context) loadConfig(overrides ...func(*config.Config)) (*config.Config, error) {
	var cfg *config.Config
	if c.configPath != "" {
		read, err := config.Read(c.configPath)
		if err != nil {
			return nil, err
		}
		cfg = read
	} else {
		cfg = &config.Config{}
		if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
			return nil, err
		}
	}

	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.logFormat != "" {
		cfg.Logging.Format = c.logFormat
	}
	for _, apply := range overrides {
		apply(cfg)
	}

	if err := cfg.Finalize(); err != nil {
		if cfg.Source != "" {
			return nil, fmt.Errorf("%s: %w", cfg.Source, err)
		}
		return nil, err
	}
	return cfg, nil
}

func (c *context) newLogger(w io.Writer, cfg *config.Config) (*slog.Logger, error) {
	return cliutil.NewLogger(w, cfg.Logging.Level, cfg.Logging.Format)
}
