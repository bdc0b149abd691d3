package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/asheshgoplani/tabtint/internal/config"
	"github.com/asheshgoplani/tabtint/internal/watch"
)

// Output sinks; tests swap them.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Exit codes.
const (
	exitOK       = 0
	exitFailed   = 1
	exitNotFound = 2
	exitTimeout  = 3
)

// Error codes reported in JSON output.
const (
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeInvalidConfig = "INVALID_CONFIG"
	ErrCodeInvalidUsage  = "INVALID_USAGE"
	ErrCodeFailed        = "FAILED"
)

// Symbols for human-readable output
const (
	successSymbol = "✓"
	warnSymbol    = "!"
	bulletSymbol  = "•"
)

// classifyError maps an error to a JSON error code and a process exit code.
func classifyError(err error) (string, int) {
	switch {
	case err == nil:
		return "", exitOK
	case errors.Is(err, watch.ErrTimeout):
		return ErrCodeTimeout, exitTimeout
	case errors.Is(err, watch.ErrSessionNotFound):
		return ErrCodeNotFound, exitNotFound
	case errors.Is(err, config.ErrInvalid):
		return ErrCodeInvalidConfig, exitFailed
	}
	return ErrCodeFailed, exitFailed
}

// normalizeArgs reorders args so flags come before positional arguments.
// The flag package stops at the first non-flag argument, so
// "wait %3 --json" would otherwise ignore --json.
func normalizeArgs(fs *flag.FlagSet, args []string) []string {
	boolFlags := make(map[string]bool)
	fs.VisitAll(func(f *flag.Flag) {
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			boolFlags[f.Name] = true
		}
	})

	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if arg == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}

		if strings.HasPrefix(arg, "-") && arg != "-" {
			flags = append(flags, arg)
			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") {
				continue
			}
			if !boolFlags[name] && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			positional = append(positional, arg)
		}
	}
	return append(flags, positional...)
}

// parseFlags parses args into fs, reporting usage errors on stderr.
func parseFlags(fs *flag.FlagSet, args []string) bool {
	fs.SetOutput(stderr)
	return fs.Parse(normalizeArgs(fs, args)) == nil
}

// CLIOutput handles consistent output formatting across all CLI commands
type CLIOutput struct {
	jsonMode  bool
	quietMode bool
}

// NewCLIOutput creates a new CLI output handler
func NewCLIOutput(jsonMode, quietMode bool) *CLIOutput {
	return &CLIOutput{
		jsonMode:  jsonMode,
		quietMode: quietMode,
	}
}

// Success prints a success message or JSON response
func (c *CLIOutput) Success(message string, data any) {
	if c.quietMode {
		return
	}
	if c.jsonMode {
		c.printJSON(data)
		return
	}
	fmt.Fprintf(stdout, "%s %s\n", successSymbol, message)
}

// Warn prints a warning to stderr; JSON callers carry warnings in data.
func (c *CLIOutput) Warn(message string) {
	if c.jsonMode {
		return
	}
	fmt.Fprintf(stderr, "%s %s\n", warnSymbol, message)
}

// Error prints an error message or JSON error response
func (c *CLIOutput) Error(message string, code string) {
	if c.jsonMode {
		c.printJSON(map[string]any{
			"success": false,
			"error":   message,
			"code":    code,
		})
		return
	}
	fmt.Fprintf(stderr, "Error: %s\n", message)
}

// Fail reports err and returns the matching exit code.
func (c *CLIOutput) Fail(err error) int {
	code, exit := classifyError(err)
	c.Error(err.Error(), code)
	return exit
}

// Print prints data (human-readable or JSON)
func (c *CLIOutput) Print(humanOutput string, jsonData any) {
	if c.quietMode {
		return
	}
	if c.jsonMode {
		c.printJSON(jsonData)
		return
	}
	fmt.Fprint(stdout, humanOutput)
}

func (c *CLIOutput) printJSON(data any) {
	output, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to format JSON: %v\n", err)
		return
	}
	fmt.Fprintln(stdout, string(output))
}

// loadConfig reads the user's config file.
func loadConfig() (*config.Config, string, error) {
	path, err := config.Path()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}
