package main

import (
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/asheshgoplani/tabtint/internal/config"
	"github.com/asheshgoplani/tabtint/internal/statedb"
)

const maxWaitHistory = 500

// openState opens and migrates ~/.tabtint/state.db.
func openState() (*statedb.StateDB, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	db, err := statedb.Open(filepath.Join(dir, statedb.FileName))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type historyOutput struct {
	Waits     []waitHistoryEntry     `json:"waits"`
	Decisions []decisionHistoryEntry `json:"decisions"`
}

type waitHistoryEntry struct {
	Target      string    `json:"target"`
	Label       string    `json:"label,omitempty"`
	Pattern     string    `json:"pattern"`
	Outcome     string    `json:"outcome"`
	Occurrences int       `json:"occurrences"`
	Required    int       `json:"required"`
	Polls       int       `json:"polls"`
	ElapsedMS   int64     `json:"elapsed_ms"`
	StartedAt   time.Time `json:"started_at"`
}

type decisionHistoryEntry struct {
	WindowID  string    `json:"window_id"`
	Target    string    `json:"target"`
	Rule      string    `json:"rule"`
	Color     string    `json:"color"`
	Hex       string    `json:"hex"`
	Title     string    `json:"title"`
	AppliedAt time.Time `json:"applied_at"`
}

func handleHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "Number of waits to show")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if !parseFlags(fs, args) {
		return exitFailed
	}
	out := NewCLIOutput(*jsonOutput, false)

	db, err := openState()
	if err != nil {
		return out.Fail(err)
	}
	defer db.Close()

	waits, err := db.RecentWaits(*limit)
	if err != nil {
		return out.Fail(err)
	}
	decisions, err := db.LoadDecisions()
	if err != nil {
		return out.Fail(err)
	}

	data := historyOutput{Waits: []waitHistoryEntry{}, Decisions: []decisionHistoryEntry{}}
	for _, w := range waits {
		data.Waits = append(data.Waits, waitHistoryEntry{
			Target: w.Target, Label: w.Label, Pattern: w.Pattern, Outcome: w.Outcome,
			Occurrences: w.Occurrences, Required: w.Required, Polls: w.Polls,
			ElapsedMS: w.Elapsed.Milliseconds(), StartedAt: w.StartedAt,
		})
	}
	for _, d := range decisions {
		data.Decisions = append(data.Decisions, decisionHistoryEntry{
			WindowID: d.WindowID, Target: fmt.Sprintf("%s:%d", d.Session, d.Window),
			Rule: d.Rule, Color: d.Color, Hex: d.Hex, Title: d.Title, AppliedAt: d.AppliedAt,
		})
	}
	out.Print(formatHistory(data), data)
	return exitOK
}

func formatHistory(h historyOutput) string {
	var b strings.Builder
	b.WriteString("Recent waits:\n")
	if len(h.Waits) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, w := range h.Waits {
		fmt.Fprintf(&b, "  %s %s  %-9s %-14s %q %d/%d in %s\n",
			bulletSymbol, w.StartedAt.Format("2006-01-02 15:04:05"), w.Outcome,
			firstNonEmpty(w.Label, w.Target), w.Pattern, w.Occurrences, w.Required,
			(time.Duration(w.ElapsedMS) * time.Millisecond).Round(time.Millisecond))
	}
	b.WriteString("\nWindows colored by the daemon:\n")
	if len(h.Decisions) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, d := range h.Decisions {
		fmt.Fprintf(&b, "  %s %-10s %s %-8s %s\n", swatch(d.Hex), d.Target, d.Hex, d.Rule, d.Title)
	}
	return b.String()
}
