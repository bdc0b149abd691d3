package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/asheshgoplani/tabtint/internal/config"
	"github.com/asheshgoplani/tabtint/internal/logging"
)

const Version = "0.3.0"

// EnvDebug turns on the debug log (~/.tabtint/tabtint.log) for any command.
const EnvDebug = "TABTINT_DEBUG"

var cliLog = logging.ForComponent(logging.CompCLI)

func init() {
	initColorProfile()
}

// initColorProfile configures the lipgloss color profile. TABTINT_COLOR
// overrides detection: truecolor, 256, 16, none.
func initColorProfile() {
	if colorEnv := os.Getenv("TABTINT_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	// Tab colors are 24-bit; most terminals that tmux runs in cope.
	term := os.Getenv("TERM")
	for _, t := range []string{"256color", "xterm-direct", "alacritty", "kitty", "wezterm"} {
		if strings.Contains(term, t) {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}
	lipgloss.SetColorProfile(termenv.ANSI256)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run dispatches a subcommand and returns the process exit code.
func run(args []string) int {
	verbose := false
	for len(args) > 0 && (args[0] == "-v" || args[0] == "--verbose") {
		verbose = true
		args = args[1:]
	}
	if len(args) == 0 {
		printHelp()
		return exitFailed
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "version", "--version":
		fmt.Fprintf(stdout, "tabtint v%s\n", Version)
		return exitOK
	case "help", "--help", "-h":
		printHelp()
		return exitOK
	case "config":
		return handleConfig(rest)
	}

	cfg, path, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		_, code := classifyError(err)
		return code
	}
	// The daemon always keeps a log; other commands only when asked.
	shutdown := setupLogging(cfg, cmd == "daemon" || os.Getenv(EnvDebug) != "", verbose)
	defer shutdown()
	cliLog.Debug("command_started", slog.String("command", cmd), slog.String("config", path))

	switch cmd {
	case "classify":
		return handleClassify(cfg, rest)
	case "wait":
		return handleWait(cfg, rest)
	case "run", "launch":
		return handleRun(cfg, rest)
	case "daemon":
		return handleDaemon(cfg, path, rest)
	case "palette":
		return handlePalette(cfg, rest)
	case "history":
		return handleHistory(rest)
	}
	fmt.Fprintf(stderr, "Error: unknown command %q\n\n", cmd)
	printHelp()
	return exitFailed
}

func setupLogging(cfg *config.Config, toFile, verbose bool) func() {
	logDir := ""
	if toFile {
		if dir, err := config.Dir(); err == nil {
			logDir = dir
		}
	}
	logCfg := cfg.LogConfig(logDir, toFile)
	if verbose {
		logCfg.Verbose = stderr
		if !toFile {
			logCfg.Level = "debug"
		}
	}
	if logCfg.LogDir == "" {
		logCfg.Debug = false
	}
	logging.Init(logCfg)
	return logging.Shutdown
}

func printHelp() {
	fmt.Fprintf(stdout, `tabtint v%s - color and title terminal tabs by what runs in them

Usage: tabtint [-v] <command> [options]

Commands:
  classify   Classify a tmux pane (default: current) or explicit facts
  wait       Wait until a pattern shows up in a pane's output
  run        Open a window, color it, send text and wait for output
  daemon     Keep every tmux window colored and titled
  palette    Show the configured colors
  history    Show recent waits and applied decisions
  config     init | path | show
  version    Print the version

Exit codes:
  0 success, 1 error, 2 session not found, 3 timeout

Environment:
  TABTINT_CONFIG   config file (default ~/.tabtint/config.toml)
  TABTINT_DEBUG    write a debug log to ~/.tabtint/tabtint.log
  TABTINT_COLOR    truecolor | 256 | 16 | none

Run 'tabtint <command> -h' for command options.
`, Version)
}
