package cli

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	apihttp "github.com/Paintersrp/streamsup/internal/api/http"
	"github.com/Paintersrp/streamsup/internal/cliutil"
	"github.com/Paintersrp/streamsup/internal/config"
	"github.com/Paintersrp/streamsup/internal/engine"
	"github.com/Paintersrp/streamsup/internal/events"
	"github.com/Paintersrp/streamsup/internal/ffmpeg"
	"github.com/Paintersrp/streamsup/internal/tui"
)

var newAPIServer = apihttp.NewServer

// streamFlags are the per-invocation overrides of the stream section.
type streamFlags struct {
	mode       string
	dest       string
	portOffset int
	ffmpeg     string
}

func (f *streamFlags) register(cmd *cobra.Command) {
	modes := make([]string, 0, 3)
	for _, m := range ffmpeg.Modes() {
		modes = append(modes, string(m))
	}
	cmd.Flags().StringVar(&f.mode, "mode", "", "Encoder mode ("+strings.Join(modes, ", ")+")")
	cmd.Flags().StringVar(&f.dest, "dest", "", "Output destination (file path or URL)")
	cmd.Flags().IntVar(&f.portOffset, "port-offset", ffmpeg.DefaultPortOffset, "Port offset for the dual-stream audio branch")
	cmd.Flags().StringVar(&f.ffmpeg, "ffmpeg", "", "Path to the ffmpeg binary")
}

func (f *streamFlags) apply(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		flags := cmd.Flags()
		if flags.Changed("mode") {
			cfg.Stream.Mode = f.mode
		}
		if flags.Changed("dest") {
			cfg.Stream.Destination = f.dest
		}
		if flags.Changed("port-offset") {
			offset := f.portOffset
			cfg.Stream.PortOffset = &offset
		}
		if flags.Changed("ffmpeg") {
			cfg.Stream.FFmpeg = f.ffmpeg
		}
	}
}

func newRunCmd(ctx *context) *cobra.Command {
	var (
		stream     streamFlags
		listen     string
		useTUI     bool
		eventsJSON bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Pipe stdin into the configured encoders and keep them running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if useTUI && eventsJSON {
				return errors.New("--events-json cannot be combined with --tui")
			}
			cfg, err := ctx.loadConfig(stream.apply(cmd), func(cfg *config.Config) {
				if cmd.Flags().Changed("listen") {
					cfg.Server.Listen = listen
				}
			})
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if isTerminal(in) {
				return errors.New("stdin is a terminal; pipe the input stream into streamsup run")
			}
			if useTUI && !isTerminal(cmd.OutOrStdout()) {
				return errors.New("--tui requires an interactive terminal")
			}

			logOut := cmd.ErrOrStderr()
			if useTUI {
				// The dashboard owns the terminal.
				logOut = io.Discard
			}
			logger, err := ctx.newLogger(logOut, cfg)
			if err != nil {
				return err
			}

			var enc *json.Encoder
			if eventsJSON {
				enc = json.NewEncoder(cmd.OutOrStdout())
			}
			return runStream(cmd.Context(), in, cfg, runSinks{
				logger: logger,
				stderr: cmd.ErrOrStderr(),
				enc:    enc,
				tui:    useTUI,
			})
		},
	}
	stream.register(cmd)
	cmd.Flags().StringVar(&listen, "listen", "", "Address for the status and metrics server (disabled when empty)")
	cmd.Flags().BoolVar(&useTUI, "tui", false, "Show the interactive member dashboard")
	cmd.Flags().BoolVar(&eventsJSON, "events-json", false, "Write every runner event to stdout as a JSON line")
	return cmd
}

type runSinks struct {
	logger *slog.Logger
	stderr io.Writer
	enc    *json.Encoder
	tui    bool
}

func runStream(parent stdcontext.Context, in io.Reader, cfg *config.Config, sinks runSinks) error {
	logger := sinks.logger
	cmds, err := ffmpeg.Build(cfg.Settings())
	if err != nil {
		return err
	}
	for _, c := range cmds {
		logger.Debug("member configured",
			slog.String("member", c.Name),
			slog.String("argv", strings.Join(cliutil.RedactArgs(c.Argv()), " ")))
	}

	runner, err := engine.NewRunner(cmds, engine.Options{
		Mode:            cfg.Stream.Mode,
		MonitorInterval: cfg.Supervisor.MonitorInterval.Duration,
		ChunkSize:       cfg.Supervisor.ChunkSize,
		StopTimeout:     cfg.Supervisor.StopTimeout.Duration,
		PollInterval:    cfg.Supervisor.PollInterval.Duration,
		ForceKill:       cfg.ForceKill(),
		Env:             cfg.EnvList(),
		Dir:             cfg.Stream.Workdir,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := stdcontext.WithCancelCause(parent)
	defer cancel(nil)

	var wg sync.WaitGroup
	if cfg.Server.Listen != "" {
		server, err := newAPIServer(apihttp.Config{Addr: cfg.Server.Listen, Controller: runner, Logger: logger})
		if err != nil {
			return err
		}
		if err := server.Listen(); err != nil {
			return fmt.Errorf("control server: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(runCtx); err != nil && !errors.Is(err, stdcontext.Canceled) {
				logger.Error("control server failed", slog.Any("error", err))
				cancel(&serverError{err: err})
			}
		}()
	}

	var ui *tui.UI
	if sinks.tui {
		ui = tui.New(tui.WithRestart(func(member string) error {
			_, err := runner.RestartMember(runCtx, member)
			return err
		}))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ui.Run(runCtx); err != nil {
				logger.Error("dashboard failed", slog.Any("error", err))
			}
			// Leaving the dashboard ends the run.
			cancel(nil)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		forwardEvents(runner, ui, sinks)
	}()

	err = runner.Run(runCtx, in)
	var srvErr *serverError
	if errors.As(stdcontext.Cause(runCtx), &srvErr) {
		err = errors.Join(err, srvErr)
	}
	cancel(nil)
	wg.Wait()
	if err != nil {
		return fmt.Errorf("run %s: %w", cfg.Stream.Mode, err)
	}
	return nil
}

// serverError marks a run cancelled because the control server stopped.
type serverError struct {
	err error
}

func (e *serverError) Error() string { return "control server: " + e.err.Error() }

func (e *serverError) Unwrap() error { return e.err }

// forwardEvents routes runner events to the dashboard or the logger until
// the runner finishes, then flushes whatever is still buffered.
func forwardEvents(r *engine.Runner, ui *tui.UI, sinks runSinks) {
	if ui != nil {
		defer ui.CloseEvents()
	}
	handle := func(evt events.Event) {
		if sinks.enc != nil {
			cliutil.EncodeLogEvent(sinks.enc, sinks.stderr, evt)
		}
		if ui != nil {
			select {
			case ui.EventSink() <- evt:
			case <-ui.Done():
			}
			return
		}
		// Lifecycle transitions are already logged by the supervisor.
		if evt.Type == events.TypeLog {
			cliutil.LogEvent(sinks.logger, evt)
		}
	}

	for {
		select {
		case evt := <-r.Events():
			handle(evt)
		case <-r.Done():
			for {
				select {
				case evt := <-r.Events():
					handle(evt)
				default:
					return
				}
			}
		}
	}
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
