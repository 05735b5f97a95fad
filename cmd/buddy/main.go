// ABOUTME: CLI entrypoint for buddy with interactive, TUI, HTTP server, MCP and export modes.
// ABOUTME: Loads .env and configuration, builds the logger, then dispatches on flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/2389-research/buddy/config"
	"github.com/2389-research/buddy/conversation"
	"github.com/2389-research/buddy/logging"
	"github.com/2389-research/buddy/server"
	"github.com/2389-research/buddy/store"
	"github.com/2389-research/buddy/tools"
	"github.com/2389-research/buddy/tui"
)

var version = "dev"

// shutdownGrace bounds how long in-flight runs may finish after an interrupt.
const shutdownGrace = 30 * time.Second

// options holds everything parsed from the command line.
type options struct {
	tuiMode     bool
	serverMode  bool
	mcpMode     bool
	exportRuns  string
	exportLimit int
	configPath  string
	sessionID   string
	dataDir     string
	addr        string
	verbose     bool
	showVersion bool
}

func main() {
	loadDotEnvAuto()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// parseFlags parses args. flag.ErrHelp is returned after help was printed.
func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("buddy", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&opts.tuiMode, "tui", false, "Full-screen terminal chat")
	fs.BoolVar(&opts.serverMode, "server", false, "Start the HTTP API")
	fs.BoolVar(&opts.mcpMode, "mcp", false, "Serve the tools over MCP on stdio")
	fs.StringVar(&opts.exportRuns, "export-runs", "", "Write recorded runs as YAML to this file (- for stdout)")
	fs.IntVar(&opts.exportLimit, "limit", store.DefaultListLimit, "Maximum runs to export")
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&opts.sessionID, "session", "", "Conversation session id")
	fs.StringVar(&opts.dataDir, "data-dir", "", "Persistent state directory (default: $XDG_DATA_HOME/buddy)")
	fs.StringVar(&opts.addr, "addr", "", "HTTP listen address")
	fs.BoolVar(&opts.verbose, "verbose", false, "Debug logging")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")

	fs.Usage = func() {
		printHelp(stderr, version)
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	modes := 0
	for _, on := range []bool{opts.tuiMode, opts.serverMode, opts.mcpMode, opts.exportRuns != ""} {
		if on {
			modes++
		}
	}
	if modes > 1 {
		return opts, errors.New("-tui, -server, -mcp and -export-runs are mutually exclusive")
	}
	if opts.sessionID != "" && !conversation.ValidSessionID(opts.sessionID) {
		return opts, fmt.Errorf("invalid session id %q", opts.sessionID)
	}
	if opts.exportLimit < 1 {
		return opts, fmt.Errorf("-limit must be positive, got %d", opts.exportLimit)
	}
	return opts, nil
}

// run executes the selected mode and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "buddy %s\n", version)
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}

	dataDir, err := resolveDataDir(opts.dataDir, cfg.DataDir)
	if err != nil {
		fmt.Fprintf(stderr, "warning: could not resolve data dir: %v\n", err)
	}

	logOut := stderr
	if opts.tuiMode {
		// the alternate screen owns the terminal
		f, err := openLogFile(dataDir)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	logger, err := logging.New(cfg.Log, logOut)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if interactive(opts) && !opts.verbose && logger.GetLevel() < zerolog.WarnLevel {
		logger = logger.Level(zerolog.WarnLevel)
	}

	switch {
	case opts.mcpMode:
		return runMCP(ctx, logger, stderr)
	case opts.exportRuns != "":
		return runExport(ctx, cfg, dataDir, opts, stdout, stderr)
	}

	a, err := newApp(ctx, cfg, dataDir, logger)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			cliLog := logging.Component(logger, "cli")
			cliLog.Error().Err(err).Str("action", "close").Msg("shutdown failed")
		}
	}()

	sessionID := opts.sessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	switch {
	case opts.serverMode:
		return runServer(ctx, a, stderr)
	case opts.tuiMode:
		return runTUI(ctx, a, sessionID, stderr)
	default:
		if err := runREPL(ctx, a.supervisor, sessionID, stdin, stdout); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}
}

// interactive reports whether the user is chatting in this terminal.
func interactive(opts options) bool {
	return !opts.serverMode && !opts.mcpMode && opts.exportRuns == ""
}

func openLogFile(dataDir string) (*os.File, error) {
	if dataDir == "" {
		return nil, errors.New("the terminal UI needs a data directory for its log file")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dataDir, "buddy.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func runServer(ctx context.Context, a *app, stderr io.Writer) int {
	srv, err := server.New(server.Config{
		Addr:       a.cfg.Server.Addr,
		Supervisor: a.supervisor,
		Runs:       a.runs,
		History:    a.history,
		Tools:      a.registry,
		Backend:    a.backend.Name(),
		Logger:     a.logger,
	})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stderr, "listening on %s\n", a.cfg.Server.Addr)
	if err := srv.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func runTUI(ctx context.Context, a *app, sessionID string, stderr io.Writer) int {
	events := a.supervisor.Events()
	sub := events.Subscribe()
	defer events.Unsubscribe(sub)

	model := tui.NewAppModel(ctx, a.supervisor, tui.Options{
		SessionID: sessionID,
		Backend:   a.backend.Name(),
		Events:    sub,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func runMCP(ctx context.Context, logger zerolog.Logger, stderr io.Writer) int {
	mcpLog := logging.Component(logger, "mcp")
	mcpLog.Info().Str("action", "serve").Msg("serving tools over stdio")
	if err := tools.ServeMCP(ctx, tools.NewDefaultRegistry(nil), version); err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func runExport(ctx context.Context, cfg *config.Config, dataDir string, opts options, stdout, stderr io.Writer) int {
	if cfg.Store.Driver == store.DriverMemory {
		fmt.Fprintln(stderr, "warning: the memory run store keeps nothing between processes; set store.driver to sqlite or postgres")
	}
	runs, err := openRunStore(ctx, cfg, dataDir)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer runs.Close()

	w := stdout
	if opts.exportRuns != "-" {
		f, err := os.Create(opts.exportRuns)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		defer f.Close()
		w = f
	}

	n, err := store.ExportYAML(ctx, w, runs, store.ListOptions{SessionID: opts.sessionID, Limit: opts.exportLimit})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if opts.exportRuns != "-" {
		fmt.Fprintf(stderr, "exported %d runs to %s\n", n, opts.exportRuns)
	}
	return 0
}
