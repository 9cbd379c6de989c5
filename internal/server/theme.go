package server

import (
	"strings"

	catppuccin "github.com/catppuccin/go"
)

// DefaultColorScheme is the dashboard palette used when none is selected.
const DefaultColorScheme = "mocha"

// ColorSchemes lists the selectable dashboard palettes.
func ColorSchemes() []string {
	return []string{"latte", "frappe", "macchiato", "mocha"}
}

// palette is the subset of a catppuccin flavour the dashboard uses, as hex
// strings ready to drop into CSS custom properties.
type palette struct {
	Name    string
	Base    string
	Mantle  string
	Surface string
	Text    string
	Subtext string
	Green   string
	Yellow  string
	Red     string
	Blue    string
	Mauve   string
}

// paletteFor maps a scheme name to its palette. Unknown names fall back to
// the default scheme rather than failing; the selector is cosmetic only.
func paletteFor(scheme string) palette {
	f := flavourFor(scheme)

	return palette{
		Name:    f.Name(),
		Base:    f.Base().Hex,
		Mantle:  f.Mantle().Hex,
		Surface: f.Surface0().Hex,
		Text:    f.Text().Hex,
		Subtext: f.Subtext0().Hex,
		Green:   f.Green().Hex,
		Yellow:  f.Yellow().Hex,
		Red:     f.Red().Hex,
		Blue:    f.Blue().Hex,
		Mauve:   f.Mauve().Hex,
	}
}

func flavourFor(scheme string) catppuccin.Flavour {
	switch strings.ToLower(scheme) {
	case "latte":
		return catppuccin.Latte
	case "frappe":
		return catppuccin.Frappe
	case "macchiato":
		return catppuccin.Macchiato
	default:
		return catppuccin.Mocha
	}
}
