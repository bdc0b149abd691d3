package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/asheshgoplani/tabtint/internal/config"
)

// swatch renders a short block in the given "#rrggbb" color.
func swatch(hex string) string {
	return lipgloss.NewStyle().Background(lipgloss.Color(hex)).Render("    ")
}

type paletteEntry struct {
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

func handlePalette(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("palette", flag.ContinueOnError)
	theme := fs.String("theme", "", "dark or light (default: configured theme)")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if !parseFlags(fs, args) {
		return exitFailed
	}
	out := NewCLIOutput(*jsonOutput, false)

	isDark := cfg.IsDark()
	switch *theme {
	case "":
	case "dark":
		isDark = true
	case "light":
		isDark = false
	default:
		out.Error(fmt.Sprintf("invalid --theme %q: want dark or light", *theme), ErrCodeInvalidUsage)
		return exitFailed
	}

	pal := cfg.Palette(isDark)
	entries := make([]paletteEntry, 0, len(pal.Names())+2)
	width := 0
	for _, name := range pal.Names() {
		entries = append(entries, paletteEntry{Name: name, Hex: pal.Resolve(name).Hex()})
		width = max(width, len(name))
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %-*s %s\n", swatch(e.Hex), width, e.Name, e.Hex)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %-*s %s\n", swatch(pal.DefaultRGB().Hex()), width, "(default)", pal.DefaultRGB().Hex())
	launch := cfg.LaunchRGB(pal).Hex()
	fmt.Fprintf(&b, "%s %-*s %s\n", swatch(launch), width, "(launch)", launch)

	out.Print(b.String(), map[string]any{
		"dark":    isDark,
		"colors":  entries,
		"default": pal.DefaultRGB().Hex(),
		"launch":  launch,
	})
	return exitOK
}
