package classify

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/asheshgoplani/tabtint/internal/palette"
)

// Rule is one entry of a classification table. The set of variants is closed:
// PackageRule, JobRule, PathRule and FallbackRule.
type Rule interface {
	// Kind names the variant ("package", "job", "path", "fallback").
	Kind() string

	eval(f Facts) (color, title string, ok bool)
	colors() []string
	validate() error
}

// Package pairs a package name with the color used when an interpreter is
// running it.
type Package struct {
	Name  string
	Color string
}

// PackageRule matches interpreter processes. Packages are tested in order by
// substring containment against the whole joined command line, so "astra"
// also matches "/usr/bin/astra-cli".
type PackageRule struct {
	Jobs           []string
	Packages       []Package
	Color          string
	Label          string
	EnvPlaceholder string
}

func (r PackageRule) Kind() string { return "package" }

func (r PackageRule) eval(f Facts) (string, string, bool) {
	if !slices.Contains(r.Jobs, f.ProcessName) {
		return "", "", false
	}
	cmd := f.JoinedCommand()
	for _, pkg := range r.Packages {
		if strings.Contains(cmd, pkg.Name) {
			return pkg.Color, strings.ToUpper(pkg.Name), true
		}
	}
	return r.Color, r.Label + " " + r.envName(f.VirtualEnv), true
}

func (r PackageRule) envName(env string) string {
	if env == "" {
		return r.EnvPlaceholder
	}
	return env[strings.LastIndex(env, "/")+1:]
}

func (r PackageRule) colors() []string {
	out := []string{r.Color}
	for _, pkg := range r.Packages {
		out = append(out, pkg.Color)
	}
	return out
}

func (r PackageRule) validate() error {
	if len(r.Jobs) == 0 {
		return fmt.Errorf("package rule: no interpreter job names")
	}
	for _, j := range r.Jobs {
		if j == "" {
			return fmt.Errorf("package rule: empty interpreter job name")
		}
	}
	for i, pkg := range r.Packages {
		if pkg.Name == "" {
			return fmt.Errorf("package rule: package %d has an empty name", i)
		}
	}
	return nil
}

// JobRule matches a single job name exactly, e.g. a log viewer. The title is
// Label, followed by ": " and the command line from ArgOffset onwards when the
// command line is longer than ArgOffset. ArgOffset <= 0 means len(Job)+1,
// which skips the program name and the space after it.
type JobRule struct {
	Job       string
	Label     string
	Color     string
	ArgOffset int
}

func (r JobRule) Kind() string { return "job" }

func (r JobRule) eval(f Facts) (string, string, bool) {
	if f.ProcessName != r.Job {
		return "", "", false
	}
	offset := r.ArgOffset
	if offset <= 0 {
		offset = len([]rune(r.Job)) + 1
	}
	cmd := []rune(f.JoinedCommand())
	if len(cmd) > offset {
		return r.Color, r.Label + ": " + string(cmd[offset:]), true
	}
	return r.Color, r.Label, true
}

func (r JobRule) colors() []string { return []string{r.Color} }

func (r JobRule) validate() error {
	if r.Job == "" {
		return fmt.Errorf("job rule: empty job name")
	}
	return nil
}

// PathColor colors a shell whose working directory starts with Prefix.
type PathColor struct {
	Prefix string
	Color  string
}

// PathRule matches the shell job. Paths are scanned in order and the first
// prefix of the working directory wins, so a more specific prefix must be
// listed before its parent. Matching is a plain string prefix test:
// "/src/app" also matches "/src/apple".
type PathRule struct {
	Job           string
	Paths         []PathColor
	FallbackColor string
}

func (r PathRule) Kind() string { return "path" }

func (r PathRule) eval(f Facts) (string, string, bool) {
	if f.ProcessName != r.Job {
		return "", "", false
	}
	wd := f.WorkingDirectory
	if wd != "" {
		for _, p := range r.Paths {
			if !strings.HasPrefix(wd, p.Prefix) {
				continue
			}
			sub := ""
			if len(wd) > len(p.Prefix)+1 {
				sub = wd[len(p.Prefix):]
			}
			short := p.Prefix[strings.LastIndex(p.Prefix, "/")+1:]
			return p.Color, strings.ToUpper(short) + ": " + sub, true
		}
	}
	return r.FallbackColor, f.ProcessName + " " + wd, true
}

func (r PathRule) colors() []string {
	out := []string{r.FallbackColor}
	for _, p := range r.Paths {
		out = append(out, p.Color)
	}
	return out
}

func (r PathRule) validate() error {
	if r.Job == "" {
		return fmt.Errorf("path rule: empty shell job name")
	}
	for i, p := range r.Paths {
		if p.Prefix == "" {
			return fmt.Errorf("path rule: prefix %d is empty", i)
		}
		if strings.HasPrefix(p.Prefix, "~") || strings.HasPrefix(p.Prefix, "$") {
			return fmt.Errorf("path rule: prefix %q is not expanded", p.Prefix)
		}
		if !filepath.IsAbs(p.Prefix) {
			return fmt.Errorf("path rule: prefix %q is not an absolute path", p.Prefix)
		}
	}
	return nil
}

// FallbackRule matches everything; the title is the raw command line.
type FallbackRule struct {
	Color string
}

func (r FallbackRule) Kind() string { return "fallback" }

func (r FallbackRule) eval(f Facts) (string, string, bool) {
	return r.Color, f.JoinedCommand(), true
}

func (r FallbackRule) colors() []string { return []string{r.Color} }

func (r FallbackRule) validate() error { return nil }

// DefaultRules returns the built-in table: Python interpreters, lnav, zsh and
// a red catch-all. Package and path tables are empty; they are personal and
// come from configuration.
func DefaultRules() []Rule {
	return []Rule{
		PackageRule{
			Jobs:           []string{"Python", "python", "python3"},
			Color:          palette.DarkRed,
			Label:          "PYTHON",
			EnvPlaceholder: "?env?",
		},
		JobRule{
			Job:   "lnav",
			Label: "LNAV",
			Color: palette.Orange,
		},
		PathRule{
			Job:           "zsh",
			FallbackColor: palette.Green,
		},
		FallbackRule{Color: palette.Red},
	}
}
