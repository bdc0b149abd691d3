// Package config loads tabtint's TOML configuration: the palette, the
// classification tables and the defaults for waits, launches and the daemon.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	dark "github.com/thiagokokada/dark-mode-go"

	"github.com/asheshgoplani/tabtint/internal/classify"
	"github.com/asheshgoplani/tabtint/internal/logging"
	"github.com/asheshgoplani/tabtint/internal/palette"
	"github.com/asheshgoplani/tabtint/internal/watch"
)

var configLog = logging.ForComponent(logging.CompConfig)

// FileName is the config file inside Dir().
const FileName = "config.toml"

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "TABTINT_CONFIG"

// ErrInvalid wraps every validation failure so callers can tell a bad file
// from an unreadable one.
var ErrInvalid = errors.New("invalid config")

// Duration is a time.Duration written either as a Go duration string
// ("1.5s") or as a number of seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case string:
		return d.UnmarshalText([]byte(x))
	case int64:
		d.Duration = time.Duration(x) * time.Second
	case float64:
		d.Duration = time.Duration(x * float64(time.Second))
	default:
		return fmt.Errorf("invalid duration %v: want a string like \"5s\" or seconds", v)
	}
	return nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the on-disk configuration.
type Config struct {
	// Theme is "dark" (default), "light" or "system". When the resolved
	// theme is light, LightPalette entries override Palette.
	Theme string `toml:"theme"`

	// DefaultColor is what unknown color names resolve to ("#rrggbb").
	DefaultColor string `toml:"default_color"`

	// Colors maps color names to "#rrggbb". Entries extend the built-in
	// palette; reusing a built-in name replaces it.
	Colors map[string]string `toml:"palette"`

	// LightPalette overrides Palette under a light theme.
	LightPalette map[string]string `toml:"light_palette"`

	// FallbackColor colors processes no other rule recognizes.
	FallbackColor string `toml:"fallback_color"`

	// MaxTitleWidth truncates titles to this many terminal cells. 0 keeps
	// them whole.
	MaxTitleWidth int `toml:"max_title_width"`

	Interpreter InterpreterSettings `toml:"interpreter"`
	LogViewer   LogViewerSettings   `toml:"log_viewer"`
	Shell       ShellSettings       `toml:"shell"`
	Watch       WatchSettings       `toml:"watch"`
	Launch      LaunchSettings      `toml:"launch"`
	Daemon      DaemonSettings      `toml:"daemon"`
	Logs        LogSettings         `toml:"logs"`
}

// InterpreterSettings configures the package rule.
type InterpreterSettings struct {
	// Jobs are the process names treated as the interpreter.
	Jobs           []string       `toml:"jobs"`
	Label          string         `toml:"label"`
	Color          string         `toml:"color"`
	EnvPlaceholder string         `toml:"env_placeholder"`
	Packages       []PackageEntry `toml:"packages"`
}

// PackageEntry is one [[interpreter.packages]] table. Order matters.
type PackageEntry struct {
	Name  string `toml:"name"`
	Color string `toml:"color"`
}

// LogViewerSettings configures the job rule.
type LogViewerSettings struct {
	Job       string `toml:"job"`
	Label     string `toml:"label"`
	Color     string `toml:"color"`
	ArgOffset int    `toml:"arg_offset"`
}

// ShellSettings configures the path rule.
type ShellSettings struct {
	Job           string      `toml:"job"`
	FallbackColor string      `toml:"fallback_color"`
	Paths         []PathEntry `toml:"paths"`
}

// PathEntry is one [[shell.paths]] table. Order matters: list nested
// directories before their parents.
type PathEntry struct {
	// Prefix may start with "~/" or "$HOME/".
	Prefix string `toml:"prefix"`
	Color  string `toml:"color"`
}

// WatchSettings are defaults for `tabtint wait` and `tabtint run`.
type WatchSettings struct {
	Timeout      Duration `toml:"timeout"`
	PollInterval Duration `toml:"poll_interval"`
	Occurrences  int      `toml:"occurrences"`
	// OnTimeout is "fail" (default) or "warn".
	OnTimeout string `toml:"on_timeout"`
}

// LaunchSettings are defaults for `tabtint run`.
type LaunchSettings struct {
	// Color is a palette name or "#rrggbb".
	Color   string `toml:"color"`
	Command string `toml:"command"`
	Cols    int    `toml:"cols"`
	Rows    int    `toml:"rows"`
	// SettleDelay is how long to wait after the window opens before
	// coloring it, so a profile applied at startup does not win.
	SettleDelay Duration `toml:"settle_delay"`
}

// DaemonSettings configure `tabtint daemon`.
type DaemonSettings struct {
	Interval Duration `toml:"interval"`
	// Concurrency bounds parallel per-window fact lookups.
	Concurrency int `toml:"concurrency"`
	// EnvOption is the tmux pane option a shell hook sets to the active
	// virtual environment, e.g. `tmux set -p @virtual_env "$VIRTUAL_ENV"`.
	EnvOption string `toml:"env_option"`
	// ApplyPerSecond limits tmux style/rename calls.
	ApplyPerSecond float64 `toml:"apply_per_second"`
}

// LogSettings configure the debug log.
type LogSettings struct {
	DebugLevel         string `toml:"debug_level"`
	DebugFormat        string `toml:"debug_format"`
	DebugMaxMB         int    `toml:"debug_max_mb"`
	DebugBackups       int    `toml:"debug_backups"`
	DebugRetentionDays int    `toml:"debug_retention_days"`
	DebugCompress      bool   `toml:"debug_compress"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Theme:         "dark",
		DefaultColor:  palette.DefaultColor.Hex(),
		FallbackColor: palette.Red,
		Interpreter: InterpreterSettings{
			Jobs:           []string{"Python", "python", "python3"},
			Label:          "PYTHON",
			Color:          palette.DarkRed,
			EnvPlaceholder: "?env?",
		},
		LogViewer: LogViewerSettings{
			Job:   "lnav",
			Label: "LNAV",
			Color: palette.Orange,
		},
		Shell: ShellSettings{
			Job:           "zsh",
			FallbackColor: palette.Green,
		},
		Watch: WatchSettings{
			Timeout:      Duration{watch.DefaultTimeout},
			PollInterval: Duration{watch.DefaultPollInterval},
			Occurrences:  1,
			OnTimeout:    "fail",
		},
		Launch: LaunchSettings{
			Color:       "#006e24",
			Command:     "/bin/sh",
			Cols:        100,
			Rows:        20,
			SettleDelay: Duration{time.Second},
		},
		Daemon: DaemonSettings{
			Interval:       Duration{2 * time.Second},
			Concurrency:    4,
			EnvOption:      "@virtual_env",
			ApplyPerSecond: 20,
		},
		Logs: LogSettings{
			DebugLevel:         "info",
			DebugFormat:        "json",
			DebugMaxMB:         10,
			DebugBackups:       5,
			DebugRetentionDays: 10,
		},
	}
}

// Dir returns ~/.tabtint.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".tabtint"), nil
}

// Path returns the config file path, honoring TABTINT_CONFIG.
func Path() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads path. A missing file yields Default(). Keys left out of the file
// keep their defaults; unknown keys are logged and ignored. The result is
// validated, so a config that loads can always build a classifier.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := decode(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML text on top of the defaults and validates it.
func Parse(text string) (*Config, error) {
	cfg := Default()
	if err := decode([]byte(text), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	var file Config
	md, err := toml.Decode(string(data), &file)
	if err != nil {
		return fmt.Errorf("%w: parse error: %w", ErrInvalid, err)
	}
	for _, key := range md.Undecoded() {
		configLog.Warn("unknown_config_key", slog.String("key", key.String()))
	}
	cfg.merge(&file, md)
	return cfg.Validate()
}

// merge copies every key present in the file over the defaults.
func (c *Config) merge(f *Config, md toml.MetaData) {
	set := func(dst *string, src string, key ...string) {
		if md.IsDefined(key...) {
			*dst = src
		}
	}
	set(&c.Theme, f.Theme, "theme")
	set(&c.DefaultColor, f.DefaultColor, "default_color")
	set(&c.FallbackColor, f.FallbackColor, "fallback_color")
	if md.IsDefined("max_title_width") {
		c.MaxTitleWidth = f.MaxTitleWidth
	}
	if f.Colors != nil {
		c.Colors = f.Colors
	}
	if f.LightPalette != nil {
		c.LightPalette = f.LightPalette
	}

	if md.IsDefined("interpreter", "jobs") {
		c.Interpreter.Jobs = f.Interpreter.Jobs
	}
	set(&c.Interpreter.Label, f.Interpreter.Label, "interpreter", "label")
	set(&c.Interpreter.Color, f.Interpreter.Color, "interpreter", "color")
	set(&c.Interpreter.EnvPlaceholder, f.Interpreter.EnvPlaceholder, "interpreter", "env_placeholder")
	if md.IsDefined("interpreter", "packages") {
		c.Interpreter.Packages = f.Interpreter.Packages
	}

	set(&c.LogViewer.Job, f.LogViewer.Job, "log_viewer", "job")
	set(&c.LogViewer.Label, f.LogViewer.Label, "log_viewer", "label")
	set(&c.LogViewer.Color, f.LogViewer.Color, "log_viewer", "color")
	if md.IsDefined("log_viewer", "arg_offset") {
		c.LogViewer.ArgOffset = f.LogViewer.ArgOffset
	}

	set(&c.Shell.Job, f.Shell.Job, "shell", "job")
	set(&c.Shell.FallbackColor, f.Shell.FallbackColor, "shell", "fallback_color")
	if md.IsDefined("shell", "paths") {
		c.Shell.Paths = f.Shell.Paths
	}

	if md.IsDefined("watch", "timeout") {
		c.Watch.Timeout = f.Watch.Timeout
	}
	if md.IsDefined("watch", "poll_interval") {
		c.Watch.PollInterval = f.Watch.PollInterval
	}
	if md.IsDefined("watch", "occurrences") {
		c.Watch.Occurrences = f.Watch.Occurrences
	}
	set(&c.Watch.OnTimeout, f.Watch.OnTimeout, "watch", "on_timeout")

	set(&c.Launch.Color, f.Launch.Color, "launch", "color")
	set(&c.Launch.Command, f.Launch.Command, "launch", "command")
	if md.IsDefined("launch", "cols") {
		c.Launch.Cols = f.Launch.Cols
	}
	if md.IsDefined("launch", "rows") {
		c.Launch.Rows = f.Launch.Rows
	}
	if md.IsDefined("launch", "settle_delay") {
		c.Launch.SettleDelay = f.Launch.SettleDelay
	}

	if md.IsDefined("daemon", "interval") {
		c.Daemon.Interval = f.Daemon.Interval
	}
	if md.IsDefined("daemon", "concurrency") {
		c.Daemon.Concurrency = f.Daemon.Concurrency
	}
	set(&c.Daemon.EnvOption, f.Daemon.EnvOption, "daemon", "env_option")
	if md.IsDefined("daemon", "apply_per_second") {
		c.Daemon.ApplyPerSecond = f.Daemon.ApplyPerSecond
	}

	set(&c.Logs.DebugLevel, f.Logs.DebugLevel, "logs", "debug_level")
	set(&c.Logs.DebugFormat, f.Logs.DebugFormat, "logs", "debug_format")
	if md.IsDefined("logs", "debug_max_mb") {
		c.Logs.DebugMaxMB = f.Logs.DebugMaxMB
	}
	if md.IsDefined("logs", "debug_backups") {
		c.Logs.DebugBackups = f.Logs.DebugBackups
	}
	if md.IsDefined("logs", "debug_retention_days") {
		c.Logs.DebugRetentionDays = f.Logs.DebugRetentionDays
	}
	if md.IsDefined("logs", "debug_compress") {
		c.Logs.DebugCompress = f.Logs.DebugCompress
	}
}

// Validate checks the values a classifier or watcher would reject later.
func (c *Config) Validate() error {
	switch c.Theme {
	case "", "dark", "light", "system":
	default:
		return fmt.Errorf("%w: theme %q: want dark, light or system", ErrInvalid, c.Theme)
	}
	pal, err := c.buildPalette(true)
	if err != nil {
		return err
	}
	if _, err := c.buildPalette(false); err != nil {
		return err
	}
	rules, err := c.Rules()
	if err != nil {
		return err
	}
	if _, err := classify.New(pal, rules...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := watch.ParsePolicy(c.Watch.OnTimeout); err != nil {
		return fmt.Errorf("%w: watch.on_timeout: %w", ErrInvalid, err)
	}
	if c.Watch.Occurrences < 0 {
		return fmt.Errorf("%w: watch.occurrences must not be negative", ErrInvalid)
	}
	if c.MaxTitleWidth < 0 {
		return fmt.Errorf("%w: max_title_width must not be negative", ErrInvalid)
	}
	if c.Daemon.Interval.Duration < 0 || c.Daemon.Concurrency < 0 || c.Daemon.ApplyPerSecond < 0 {
		return fmt.Errorf("%w: daemon settings must not be negative", ErrInvalid)
	}
	if c.Launch.Cols < 0 || c.Launch.Rows < 0 {
		return fmt.Errorf("%w: launch size must not be negative", ErrInvalid)
	}
	return nil
}

// IsDark resolves Theme, asking the OS when it is "system". Detection
// failures count as dark.
func (c *Config) IsDark() bool {
	switch c.Theme {
	case "light":
		return false
	case "system":
		isDark, err := dark.IsDarkMode()
		if err != nil {
			configLog.Debug("dark_mode_detect_failed", slog.String("error", err.Error()))
			return true
		}
		return isDark
	}
	return true
}

// Palette builds the palette for the given theme.
func (c *Config) Palette(isDark bool) *palette.Palette {
	p, err := c.buildPalette(isDark)
	if err != nil {
		// Validate ran at load time; only a hand-built Config gets here.
		configLog.Warn("palette_invalid", slog.String("error", err.Error()))
		return palette.Default()
	}
	return p
}

func (c *Config) buildPalette(isDark bool) (*palette.Palette, error) {
	def := palette.DefaultColor
	if c.DefaultColor != "" {
		v, err := palette.ParseHex(c.DefaultColor)
		if err != nil {
			return nil, fmt.Errorf("%w: default_color: %w", ErrInvalid, err)
		}
		def = v
	}
	overrides, err := parseColors("palette", c.Colors)
	if err != nil {
		return nil, err
	}
	base := palette.Default().With(overrides)
	p := palette.New(nil, def).With(colorsOf(base))
	if isDark {
		return p, nil
	}
	light, err := parseColors("light_palette", c.LightPalette)
	if err != nil {
		return nil, err
	}
	return p.With(light), nil
}

func colorsOf(p *palette.Palette) map[string]palette.RGB {
	out := make(map[string]palette.RGB)
	for _, name := range p.Names() {
		out[name] = p.Resolve(name)
	}
	return out
}

func parseColors(section string, in map[string]string) (map[string]palette.RGB, error) {
	out := make(map[string]palette.RGB, len(in))
	for name, hex := range in {
		v, err := palette.ParseHex(hex)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%q: %w", ErrInvalid, section, name, err)
		}
		out[name] = v
	}
	return out, nil
}

// Rules builds the classification table in priority order: interpreter
// packages, log viewer, shell paths, catch-all. A rule whose job is set to
// the empty string is left out.
func (c *Config) Rules() ([]classify.Rule, error) {
	home, _ := os.UserHomeDir()

	var rules []classify.Rule
	if jobs := nonEmpty(c.Interpreter.Jobs); len(jobs) > 0 {
		pkgs := make([]classify.Package, 0, len(c.Interpreter.Packages))
		for _, p := range c.Interpreter.Packages {
			pkgs = append(pkgs, classify.Package{Name: p.Name, Color: p.Color})
		}
		rules = append(rules, classify.PackageRule{
			Jobs:           jobs,
			Packages:       pkgs,
			Color:          c.Interpreter.Color,
			Label:          c.Interpreter.Label,
			EnvPlaceholder: c.Interpreter.EnvPlaceholder,
		})
	}
	if c.LogViewer.Job != "" {
		rules = append(rules, classify.JobRule{
			Job:       c.LogViewer.Job,
			Label:     c.LogViewer.Label,
			Color:     c.LogViewer.Color,
			ArgOffset: c.LogViewer.ArgOffset,
		})
	}
	if c.Shell.Job != "" {
		paths := make([]classify.PathColor, 0, len(c.Shell.Paths))
		for i, p := range c.Shell.Paths {
			prefix, err := ExpandPath(p.Prefix, home)
			if err != nil {
				return nil, fmt.Errorf("%w: shell.paths[%d]: %w", ErrInvalid, i, err)
			}
			paths = append(paths, classify.PathColor{Prefix: prefix, Color: p.Color})
		}
		rules = append(rules, classify.PathRule{
			Job:           c.Shell.Job,
			Paths:         paths,
			FallbackColor: c.Shell.FallbackColor,
		})
	}
	return append(rules, classify.FallbackRule{Color: c.FallbackColor}), nil
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Classifier builds a classifier for the resolved theme.
func (c *Config) Classifier() (*classify.Classifier, error) {
	return c.ClassifierFor(c.IsDark())
}

// ClassifierFor builds a classifier for an explicit theme, e.g. after the
// OS switched between light and dark.
func (c *Config) ClassifierFor(isDark bool) (*classify.Classifier, error) {
	rules, err := c.Rules()
	if err != nil {
		return nil, err
	}
	return classify.New(c.Palette(isDark), rules...)
}

// ExpandPath expands a leading "~" or "$HOME" and requires the result to be
// absolute.
func ExpandPath(p, home string) (string, error) {
	p = strings.TrimSpace(p)
	switch {
	case p == "~" || p == "$HOME":
		p = home
	case strings.HasPrefix(p, "~/"):
		p = filepath.Join(home, p[2:])
	case strings.HasPrefix(p, "$HOME/"):
		p = filepath.Join(home, p[len("$HOME/"):])
	}
	if p == "" {
		return "", errors.New("empty path")
	}
	if !filepath.IsAbs(p) {
		return "", fmt.Errorf("path %q is not absolute", p)
	}
	return filepath.Clean(p), nil
}

// LaunchRGB resolves Launch.Color against pal, accepting "#rrggbb" too.
func (c *Config) LaunchRGB(pal *palette.Palette) palette.RGB {
	if strings.HasPrefix(c.Launch.Color, "#") {
		if v, err := palette.ParseHex(c.Launch.Color); err == nil {
			return v
		}
	}
	return pal.Resolve(c.Launch.Color)
}

// LogConfig maps [logs] onto the logging package.
func (c *Config) LogConfig(logDir string, debug bool) logging.Config {
	return logging.Config{
		LogDir:     logDir,
		Level:      c.Logs.DebugLevel,
		Format:     c.Logs.DebugFormat,
		MaxSizeMB:  c.Logs.DebugMaxMB,
		MaxBackups: c.Logs.DebugBackups,
		MaxAgeDays: c.Logs.DebugRetentionDays,
		Compress:   c.Logs.DebugCompress,
		Debug:      debug,
	}
}

// Encode renders c as TOML.
func (c *Config) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes c to path atomically: temp file, fsync, rename.
func Save(path string, c *Config) error {
	data, err := c.Encode()
	if err != nil {
		return err
	}
	return writeAtomic(path, append([]byte("# tabtint configuration\n\n"), data...))
}

// WriteSample writes SampleConfig to path unless a file already exists.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return writeAtomic(path, []byte(SampleConfig))
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	_ = f.Sync()
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize config save: %w", err)
	}
	return nil
}
