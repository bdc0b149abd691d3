// Package classify derives a tab color and title from a snapshot of a
// terminal session. Classification is a pure function of the facts and the
// rule table; applying the result to a real tab is the host's job.
package classify

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/asheshgoplani/tabtint/internal/logging"
	"github.com/asheshgoplani/tabtint/internal/palette"
)

var classifyLog = logging.ForComponent(logging.CompClassify)

// Facts is a point-in-time snapshot of a session. Empty WorkingDirectory or
// VirtualEnv means the host could not report a value.
type Facts struct {
	ProcessName      string   `json:"process"`
	CommandLine      []string `json:"command_line"`
	WorkingDirectory string   `json:"cwd,omitempty"`
	VirtualEnv       string   `json:"virtual_env,omitempty"`
}

// JoinedCommand returns the command line tokens joined by single spaces.
func (f Facts) JoinedCommand() string {
	return strings.Join(f.CommandLine, " ")
}

// Result is a classification decision.
type Result struct {
	Rule  string      `json:"rule"`
	Color string      `json:"color"`
	RGB   palette.RGB `json:"-"`
	Title string      `json:"title"`
}

// Hex returns the resolved color as "#rrggbb".
func (r Result) Hex() string {
	return r.RGB.Hex()
}

// Classifier evaluates an ordered rule table. It is immutable once built and
// safe for concurrent use.
type Classifier struct {
	rules   []Rule
	palette *palette.Palette
}

// New validates rules and builds a classifier. A catch-all FallbackRule
// colored red is appended when the table does not end in one, so Classify
// always has an answer. Rules listed after a FallbackRule are rejected since
// they could never match. Color names missing from pal are accepted and
// resolve to the palette default; they are logged once here.
func New(pal *palette.Palette, rules ...Rule) (*Classifier, error) {
	if pal == nil {
		pal = palette.Default()
	}
	out := make([]Rule, 0, len(rules)+1)
	for i, r := range rules {
		if r == nil {
			return nil, fmt.Errorf("rule %d is nil", i)
		}
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if _, ok := r.(FallbackRule); ok && i != len(rules)-1 {
			return nil, fmt.Errorf("rule %d: fallback rule must be last, %d rules after it are unreachable", i, len(rules)-1-i)
		}
		out = append(out, normalize(r))
	}
	if len(out) == 0 || out[len(out)-1].Kind() != "fallback" {
		out = append(out, FallbackRule{Color: palette.Red})
	}

	for _, r := range out {
		for _, name := range r.colors() {
			if _, ok := pal.Lookup(name); !ok {
				classifyLog.Warn("unknown_color",
					slog.String("rule", r.Kind()),
					slog.String("color", name),
					slog.String("resolves_to", pal.DefaultRGB().Hex()))
			}
		}
	}

	return &Classifier{rules: out, palette: pal}, nil
}

// normalize copies the slices a rule holds so later mutation by the caller
// cannot reorder the table, and cleans path prefixes.
func normalize(r Rule) Rule {
	switch v := r.(type) {
	case PackageRule:
		v.Jobs = append([]string(nil), v.Jobs...)
		v.Packages = append([]Package(nil), v.Packages...)
		return v
	case PathRule:
		paths := make([]PathColor, len(v.Paths))
		for i, p := range v.Paths {
			paths[i] = PathColor{Prefix: filepath.Clean(p.Prefix), Color: p.Color}
		}
		v.Paths = paths
		return v
	}
	return r
}

// Classify returns the decision of the first matching rule. It never fails.
func (c *Classifier) Classify(f Facts) Result {
	for _, r := range c.rules {
		color, title, ok := r.eval(f)
		if !ok {
			continue
		}
		return Result{
			Rule:  r.Kind(),
			Color: color,
			RGB:   c.palette.Resolve(color),
			Title: title,
		}
	}
	// unreachable: New guarantees a trailing FallbackRule
	return Result{Rule: "fallback", RGB: c.palette.DefaultRGB(), Title: f.JoinedCommand()}
}

// Rules returns a copy of the rule table in evaluation order.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Palette returns the palette colors resolve against.
func (c *Classifier) Palette() *palette.Palette {
	return c.palette
}
