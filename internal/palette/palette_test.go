package palette

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_KnownNames(t *testing.T) {
	p := Default()
	for _, name := range p.Names() {
		c, ok := p.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, c, p.Resolve(name), name)
	}
	assert.Equal(t, RGB{0x53, 0x00, 0x00}, p.Resolve(DarkRed))
	assert.Equal(t, RGB{0x03, 0x5d, 0xfc}, p.Resolve(Blue))
}

func TestResolve_UnknownFallsBackToDefault(t *testing.T) {
	p := Default()
	for _, name := range []string{"", "chartreuse", "Red", "dark  red"} {
		assert.Equal(t, DefaultColor, p.Resolve(name), "name %q", name)
	}

	custom := New(map[string]RGB{"a": {1, 2, 3}}, RGB{9, 9, 9})
	assert.Equal(t, RGB{1, 2, 3}, custom.Resolve("a"))
	assert.Equal(t, RGB{9, 9, 9}, custom.Resolve("b"))

	var nilPalette *Palette
	assert.Equal(t, DefaultColor, nilPalette.Resolve("red"))
}

func TestNew_CopiesInput(t *testing.T) {
	in := map[string]RGB{"x": {1, 1, 1}}
	p := New(in, DefaultColor)
	in["x"] = RGB{2, 2, 2}
	assert.Equal(t, RGB{1, 1, 1}, p.Resolve("x"))
}

func TestWith_OverridesWithoutMutating(t *testing.T) {
	base := Default()
	light := base.With(map[string]RGB{Yellow: {0x99, 0x88, 0x00}, "ink": {0, 0, 0}})

	assert.Equal(t, RGB{0x99, 0x88, 0x00}, light.Resolve(Yellow))
	assert.Equal(t, RGB{0, 0, 0}, light.Resolve("ink"))
	assert.Equal(t, RGB{0xff, 0xf5, 0x9d}, base.Resolve(Yellow))
	assert.Equal(t, DefaultColor, base.Resolve("ink"))
}

func TestParseHex(t *testing.T) {
	c, err := ParseHex("#006e24")
	require.NoError(t, err)
	assert.Equal(t, RGB{0x00, 0x6e, 0x24}, c)
	assert.Equal(t, "#006e24", c.Hex())

	c, err = ParseHex("FE6403")
	require.NoError(t, err)
	assert.Equal(t, RGB{0xfe, 0x64, 0x03}, c)

	for _, bad := range []string{"", "#fff", "#gggggg", "#1234567"} {
		_, err := ParseHex(bad)
		assert.Error(t, err, bad)
	}
}
