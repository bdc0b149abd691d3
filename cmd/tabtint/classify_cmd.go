package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/asheshgoplani/tabtint/internal/classify"
	"github.com/asheshgoplani/tabtint/internal/config"
	"github.com/asheshgoplani/tabtint/internal/tmux"
)

type classifyOutput struct {
	Target string         `json:"target,omitempty"`
	Facts  classify.Facts `json:"facts"`
	Rule   string         `json:"rule"`
	Color  string         `json:"color"`
	Hex    string         `json:"hex"`
	Title  string         `json:"title"`
	Apply  bool           `json:"applied"`
}

func handleClassify(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("classify", flag.ContinueOnError)
	target := fs.String("target", "", "tmux pane, window or session (default: current pane)")
	targetShort := fs.String("t", "", "Target (short)")
	process := fs.String("process", "", "Classify these facts instead of a pane: process name")
	cmdLine := fs.String("cmd", "", "Command line, space separated (with --process)")
	cwd := fs.String("cwd", "", "Working directory (with --process)")
	venv := fs.String("venv", "", "Virtual environment path (with --process)")
	apply := fs.Bool("apply", false, "Color and rename the tmux window")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: tabtint classify [--target T] [--apply] [--json]")
		fmt.Fprintln(stderr, "       tabtint classify --process P [--cmd C] [--cwd D] [--venv V] [--json]")
		fmt.Fprintln(stderr)
		fs.PrintDefaults()
	}
	if !parseFlags(fs, args) {
		return exitFailed
	}
	out := NewCLIOutput(*jsonOutput, false)

	classifier, err := cfg.Classifier()
	if err != nil {
		return out.Fail(err)
	}

	ctx := context.Background()
	client := tmux.New(tmux.WithEnvOption(cfg.Daemon.EnvOption))
	var (
		facts classify.Facts
		pane  string
	)
	if *process != "" {
		if *apply {
			out.Error("--apply needs a tmux pane, not --process", ErrCodeInvalidUsage)
			return exitFailed
		}
		facts = explicitFacts(*process, *cmdLine, *cwd, *venv)
	} else {
		pane, err = client.Resolve(ctx, firstNonEmpty(*target, *targetShort))
		if err != nil {
			return out.Fail(err)
		}
		facts, err = client.Facts(ctx, pane)
		if err != nil {
			return out.Fail(err)
		}
	}

	res := classifier.Classify(facts)
	if *apply {
		if err := client.Apply(ctx, pane, res, cfg.MaxTitleWidth); err != nil {
			return out.Fail(err)
		}
	}
	data := classifyOutput{
		Target: pane,
		Facts:  facts,
		Rule:   res.Rule,
		Color:  res.Color,
		Hex:    res.Hex(),
		Title:  tmux.TruncateTitle(res.Title, cfg.MaxTitleWidth),
		Apply:  *apply,
	}
	out.Print(formatClassify(data), data)
	return exitOK
}

// explicitFacts builds facts from flags. An empty command line is the
// process name alone.
func explicitFacts(process, cmdLine, cwd, venv string) classify.Facts {
	argv := strings.Fields(cmdLine)
	if len(argv) == 0 {
		argv = []string{process}
	}
	return classify.Facts{
		ProcessName:      process,
		CommandLine:      argv,
		WorkingDirectory: cwd,
		VirtualEnv:       venv,
	}
}

func formatClassify(d classifyOutput) string {
	var b strings.Builder
	if d.Target != "" {
		fmt.Fprintf(&b, "Target:  %s\n", d.Target)
	}
	fmt.Fprintf(&b, "Process: %s\n", d.Facts.ProcessName)
	fmt.Fprintf(&b, "Command: %s\n", d.Facts.JoinedCommand())
	if d.Facts.WorkingDirectory != "" {
		fmt.Fprintf(&b, "Cwd:     %s\n", d.Facts.WorkingDirectory)
	}
	if d.Facts.VirtualEnv != "" {
		fmt.Fprintf(&b, "Venv:    %s\n", d.Facts.VirtualEnv)
	}
	fmt.Fprintf(&b, "Rule:    %s\n", d.Rule)
	fmt.Fprintf(&b, "Color:   %s %s %s\n", swatch(d.Hex), d.Color, d.Hex)
	fmt.Fprintf(&b, "Title:   %s\n", d.Title)
	if d.Apply {
		fmt.Fprintf(&b, "%s applied to %s\n", successSymbol, d.Target)
	}
	return b.String()
}

// firstNonEmpty returns the first non-empty string after trimming whitespace.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
