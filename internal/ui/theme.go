package ui

import (
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/theme"
)

// darkTheme pins the default theme to its dark variant regardless of the
// desktop preference.
type darkTheme struct {
	fyne.Theme
}

func newDarkTheme() fyne.Theme {
	return darkTheme{Theme: theme.DefaultTheme()}
}

func (t darkTheme) Color(name fyne.ThemeColorName, _ fyne.ThemeVariant) color.Color {
	return t.Theme.Color(name, theme.VariantDark)
}
