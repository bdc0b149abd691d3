// Package palette maps symbolic tab color names to RGB triples.
package palette

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RGB is a 24-bit color.
type RGB struct {
	R, G, B uint8
}

// Hex returns the color as "#rrggbb", the form tmux style strings and
// lipgloss accept.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c RGB) String() string {
	return c.Hex()
}

// ParseHex parses "#rrggbb" or "rrggbb".
func ParseHex(s string) (RGB, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return RGB{}, fmt.Errorf("invalid color %q: want #rrggbb", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// DefaultColor is what unknown names resolve to unless a palette is built
// with a different default.
var DefaultColor = RGB{0xfe, 0xff, 0xff}

// Color names used by the built-in rule table.
const (
	DarkTeal  = "dark teal"
	Indigo    = "indigo"
	DarkGreen = "dark green"
	Purple    = "purple"
	Yellow    = "yellow"
	Green     = "green"
	Red       = "red"
	Orange    = "orange"
	DarkRed   = "dark red"
	Blue      = "blue"
	Tangerine = "tangerine"
)

// Palette is a closed set of named colors. It is never mutated after
// construction, so one value can be shared between goroutines.
type Palette struct {
	colors map[string]RGB
	def    RGB
}

// New builds a palette from colors. Unknown names resolve to def.
func New(colors map[string]RGB, def RGB) *Palette {
	m := make(map[string]RGB, len(colors))
	for name, c := range colors {
		m[name] = c
	}
	return &Palette{colors: m, def: def}
}

// Default returns the built-in palette.
func Default() *Palette {
	return New(map[string]RGB{
		DarkTeal:  {0x00, 0x6b, 0x5e},
		Indigo:    {0x20, 0x00, 0x70},
		DarkGreen: {0x00, 0x3d, 0x00},
		Purple:    {0xce, 0x93, 0xd8},
		Yellow:    {0xff, 0xf5, 0x9d},
		Green:     {0x00, 0xc2, 0x00},
		Red:       {0xc9, 0x1b, 0x00},
		Orange:    {0xd3, 0x86, 0x02},
		DarkRed:   {0x53, 0x00, 0x00},
		Blue:      {0x03, 0x5d, 0xfc},
		Tangerine: {0xfe, 0x64, 0x03},
	}, DefaultColor)
}

// Resolve returns the RGB for name, or the palette default when name is
// not part of the palette. It never fails.
func (p *Palette) Resolve(name string) RGB {
	if p == nil {
		return DefaultColor
	}
	if c, ok := p.colors[name]; ok {
		return c
	}
	return p.def
}

// Lookup is Resolve that also reports whether name was known.
func (p *Palette) Lookup(name string) (RGB, bool) {
	if p == nil {
		return DefaultColor, false
	}
	c, ok := p.colors[name]
	if !ok {
		return p.def, false
	}
	return c, true
}

// DefaultRGB returns the color unknown names resolve to.
func (p *Palette) DefaultRGB() RGB {
	if p == nil {
		return DefaultColor
	}
	return p.def
}

// Names returns the palette's color names in sorted order.
func (p *Palette) Names() []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.colors))
	for name := range p.colors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// With returns a copy of p with overrides applied on top.
func (p *Palette) With(overrides map[string]RGB) *Palette {
	merged := make(map[string]RGB, len(p.colors)+len(overrides))
	for name, c := range p.colors {
		merged[name] = c
	}
	for name, c := range overrides {
		merged[name] = c
	}
	return &Palette{colors: merged, def: p.def}
}
