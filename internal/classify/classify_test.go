package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/tabtint/internal/palette"
)

const polaris = "/Users/me/go/src/github.com/NetApp-Polaris/polaris"

// testRules is a full table with personal package and path entries.
func testRules() []Rule {
	return []Rule{
		PackageRule{
			Jobs: []string{"Python", "python3"},
			Packages: []Package{
				{Name: "astra", Color: palette.Blue},
				{Name: "builder", Color: palette.DarkTeal},
			},
			Color:          palette.DarkRed,
			Label:          "PYTHON",
			EnvPlaceholder: "?env?",
		},
		JobRule{Job: "lnav", Label: "LNAV", Color: palette.Orange},
		PathRule{
			Job: "zsh",
			Paths: []PathColor{
				{Prefix: polaris + "/whelp", Color: palette.Yellow},
				{Prefix: polaris, Color: palette.Purple},
			},
			FallbackColor: palette.Green,
		},
		FallbackRule{Color: palette.Red},
	}
}

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := New(palette.Default(), testRules()...)
	require.NoError(t, err)
	return c
}

func TestClassify_PythonPackage(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name  string
		cmd   []string
		color string
		title string
	}{
		{"bare package", []string{"python3", "-m", "astra"}, palette.Blue, "ASTRA"},
		{"extra tokens", []string{"python3", "run.py", "--verbose", "builder", "x", "y"}, palette.DarkTeal, "BUILDER"},
		{"first package wins", []string{"python3", "builder", "astra"}, palette.Blue, "ASTRA"},
		{"substring of a token", []string{"python3", "/opt/astra-tools/main.py"}, palette.Blue, "ASTRA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(Facts{ProcessName: "python3", CommandLine: tt.cmd})
			assert.Equal(t, tt.color, got.Color)
			assert.Equal(t, tt.title, got.Title)
			assert.Equal(t, "package", got.Rule)
			assert.Equal(t, palette.Default().Resolve(tt.color), got.RGB)
		})
	}
}

func TestClassify_PythonEnv(t *testing.T) {
	c := newTestClassifier(t)

	got := c.Classify(Facts{ProcessName: "Python", CommandLine: []string{"python", "manage.py"}, VirtualEnv: "/home/me/.venvs/web"})
	assert.Equal(t, palette.DarkRed, got.Color)
	assert.Equal(t, "PYTHON web", got.Title)

	got = c.Classify(Facts{ProcessName: "Python", CommandLine: []string{"python"}})
	assert.Equal(t, "PYTHON ?env?", got.Title)

	got = c.Classify(Facts{ProcessName: "Python", VirtualEnv: "venv"})
	assert.Equal(t, "PYTHON venv", got.Title)
}

func TestClassify_LogViewer(t *testing.T) {
	c := newTestClassifier(t)

	got := c.Classify(Facts{ProcessName: "lnav", CommandLine: []string{"lnav", "/var/log/system.log"}})
	assert.Equal(t, palette.Orange, got.Color)
	assert.Equal(t, "LNAV: /var/log/system.log", got.Title)

	got = c.Classify(Facts{ProcessName: "lnav", CommandLine: []string{"lnav"}})
	assert.Equal(t, "LNAV", got.Title)

	got = c.Classify(Facts{ProcessName: "lnav", CommandLine: []string{"lnav", ""}})
	assert.Equal(t, "LNAV", got.Title, "joined command of exactly offset length has no remainder")

	custom, err := New(nil, JobRule{Job: "lnav", Label: "LOGS", Color: palette.Orange, ArgOffset: 2})
	require.NoError(t, err)
	got = custom.Classify(Facts{ProcessName: "lnav", CommandLine: []string{"lnav", "-r"}})
	assert.Equal(t, "LOGS: av -r", got.Title)
}

func TestClassify_ShellPaths(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name  string
		cwd   string
		color string
		title string
	}{
		{"nested prefix listed first wins", polaris + "/whelp/cmd", palette.Yellow, "WHELP: /cmd"},
		{"parent prefix", polaris + "/pkg/api", palette.Purple, "POLARIS: /pkg/api"},
		{"exact prefix", polaris, palette.Purple, "POLARIS: "},
		{"prefix plus separator only", polaris + "/", palette.Purple, "POLARIS: "},
		{"string prefix, not path prefix", polaris + "-docs", palette.Purple, "POLARIS: -docs"},
		{"no match", "/tmp", palette.Green, "zsh /tmp"},
		{"no cwd", "", palette.Green, "zsh "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(Facts{ProcessName: "zsh", CommandLine: []string{"-zsh"}, WorkingDirectory: tt.cwd})
			assert.Equal(t, tt.color, got.Color)
			assert.Equal(t, tt.title, got.Title)
		})
	}
}

func TestClassify_FirstMatchWinsRegardlessOfSpecificity(t *testing.T) {
	c, err := New(nil, PathRule{
		Job: "zsh",
		Paths: []PathColor{
			{Prefix: "/src", Color: palette.Blue},
			{Prefix: "/src/app", Color: palette.Yellow},
		},
		FallbackColor: palette.Green,
	})
	require.NoError(t, err)

	got := c.Classify(Facts{ProcessName: "zsh", WorkingDirectory: "/src/app/x"})
	assert.Equal(t, palette.Blue, got.Color)
	assert.Equal(t, "SRC: /app/x", got.Title)
}

func TestClassify_Fallback(t *testing.T) {
	c := newTestClassifier(t)

	got := c.Classify(Facts{ProcessName: "vim", CommandLine: []string{"vim", "main.go"}, WorkingDirectory: polaris})
	assert.Equal(t, palette.Red, got.Color)
	assert.Equal(t, "vim main.go", got.Title)
	assert.Equal(t, "fallback", got.Rule)
}

func TestClassify_NeverFails(t *testing.T) {
	c := newTestClassifier(t)
	inputs := []Facts{
		{},
		{ProcessName: "zsh"},
		{ProcessName: "python3"},
		{ProcessName: "lnav"},
		{CommandLine: []string{}},
		{ProcessName: "bash", CommandLine: nil, WorkingDirectory: ""},
	}
	for _, f := range inputs {
		assert.NotPanics(t, func() {
			got := c.Classify(f)
			assert.NotEmpty(t, got.Color)
		})
	}
}

func TestClassify_UnknownColorUsesPaletteDefault(t *testing.T) {
	c, err := New(palette.Default(), JobRule{Job: "htop", Label: "TOP", Color: "no-such-color"})
	require.NoError(t, err)

	got := c.Classify(Facts{ProcessName: "htop"})
	assert.Equal(t, "no-such-color", got.Color)
	assert.Equal(t, palette.DefaultColor, got.RGB)
}

func TestNew_AppendsFallback(t *testing.T) {
	c, err := New(nil, JobRule{Job: "lnav", Label: "LNAV", Color: palette.Orange})
	require.NoError(t, err)

	rules := c.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "fallback", rules[1].Kind())

	got := c.Classify(Facts{ProcessName: "top", CommandLine: []string{"top", "-o", "cpu"}})
	assert.Equal(t, palette.Red, got.Color)
	assert.Equal(t, "top -o cpu", got.Title)

	empty, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, palette.Red, empty.Classify(Facts{}).Color)
}

func TestNew_RejectsBadConfiguration(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"relative prefix", []Rule{PathRule{Job: "zsh", Paths: []PathColor{{Prefix: "src/app"}}}}},
		{"unexpanded home", []Rule{PathRule{Job: "zsh", Paths: []PathColor{{Prefix: "~/src"}}}}},
		{"unexpanded variable", []Rule{PathRule{Job: "zsh", Paths: []PathColor{{Prefix: "$HOME/src"}}}}},
		{"empty prefix", []Rule{PathRule{Job: "zsh", Paths: []PathColor{{Prefix: ""}}}}},
		{"empty shell job", []Rule{PathRule{}}},
		{"empty job", []Rule{JobRule{Label: "X"}}},
		{"no interpreter jobs", []Rule{PackageRule{Label: "PY"}}},
		{"empty package", []Rule{PackageRule{Jobs: []string{"python"}, Packages: []Package{{Name: ""}}}}},
		{"fallback not last", []Rule{FallbackRule{}, JobRule{Job: "lnav"}}},
		{"nil rule", []Rule{nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(nil, tt.rules...)
			assert.Error(t, err)
		})
	}
}

func TestNew_AcceptsTildeAndDollarInsidePaths(t *testing.T) {
	c, err := New(nil, PathRule{Job: "zsh", Paths: []PathColor{
		{Prefix: "/srv/$data", Color: palette.Blue},
		{Prefix: "/home/u/a~b", Color: palette.Green},
	}, FallbackColor: palette.Yellow})
	require.NoError(t, err)

	got := c.Classify(Facts{ProcessName: "zsh", WorkingDirectory: "/home/u/a~b/x"})
	assert.Equal(t, palette.Green, got.Color)
	got = c.Classify(Facts{ProcessName: "zsh", WorkingDirectory: "/srv/$data"})
	assert.Equal(t, palette.Blue, got.Color)
}

func TestNew_TableIsIsolatedFromCaller(t *testing.T) {
	paths := []PathColor{
		{Prefix: "/a/b", Color: palette.Yellow},
		{Prefix: "/a", Color: palette.Purple},
	}
	c, err := New(nil, PathRule{Job: "zsh", Paths: paths, FallbackColor: palette.Green})
	require.NoError(t, err)

	paths[0], paths[1] = paths[1], paths[0]

	got := c.Classify(Facts{ProcessName: "zsh", WorkingDirectory: "/a/b/c"})
	assert.Equal(t, palette.Yellow, got.Color)
}

func TestDefaultRules(t *testing.T) {
	c, err := New(palette.Default(), DefaultRules()...)
	require.NoError(t, err)

	assert.Equal(t, "PYTHON ?env?", c.Classify(Facts{ProcessName: "python3"}).Title)
	assert.Equal(t, palette.Orange, c.Classify(Facts{ProcessName: "lnav"}).Color)
	assert.Equal(t, "zsh /tmp", c.Classify(Facts{ProcessName: "zsh", WorkingDirectory: "/tmp"}).Title)
	assert.Equal(t, palette.Red, c.Classify(Facts{ProcessName: "ssh"}).Color)
}
