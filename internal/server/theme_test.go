package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaletteFor_KnownSchemes(t *testing.T) {
	for _, scheme := range ColorSchemes() {
		p := paletteFor(scheme)
		assert.Equal(t, scheme, strings.ToLower(p.Name), "scheme=%s", scheme)
		assert.True(t, strings.HasPrefix(p.Base, "#"), "scheme=%s base=%s", scheme, p.Base)
		assert.NotEmpty(t, p.Text)
	}
}

func TestPaletteFor_UnknownFallsBackToDefault(t *testing.T) {
	assert.Equal(t, paletteFor(DefaultColorScheme), paletteFor("solarized"))
	assert.Equal(t, paletteFor(DefaultColorScheme), paletteFor(""))
}

func TestPaletteFor_CaseInsensitive(t *testing.T) {
	assert.Equal(t, paletteFor("latte"), paletteFor("Latte"))
}

func TestPaletteFor_SchemesDiffer(t *testing.T) {
	assert.NotEqual(t, paletteFor("latte").Base, paletteFor("mocha").Base)
}
