package scrape

import "strings"

// ColorStates maps a normalized inline CSS color to a sub-slot active flag.
//
// Station pages grey out idle sub-slot links with an inline color; no other
// signal exists, so the mapping is configurable rather than hardcoded.
// Colors absent from the mapping count as active.
type ColorStates map[string]bool

// DefaultInactiveColors are the greys station pages use for idle sub-slots.
var DefaultInactiveColors = []string{"#aaa", "#aaaaaa", "rgb(170, 170, 170)"}

// InactiveColors builds a mapping in which every given color means inactive.
func InactiveColors(colors ...string) ColorStates {
	states := make(ColorStates, len(colors))
	for _, c := range colors {
		if n := normalizeColor(c); n != "" {
			states[n] = false
		}
	}
	return states
}

// Active reports the sub-slot state for an inline style attribute value.
func (c ColorStates) Active(style string) bool {
	color := inlineColor(style)
	if color == "" {
		return true
	}
	if active, ok := c[color]; ok {
		return active
	}
	return true
}

// inlineColor returns the normalized value of the color declaration in
// style, ignoring background-color and friends.
func inlineColor(style string) string {
	for _, decl := range strings.Split(style, ";") {
		prop, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.ToLower(strings.TrimSpace(prop)) != "color" {
			continue
		}
		value = strings.TrimSuffix(strings.TrimSpace(value), "!important")
		return normalizeColor(value)
	}
	return ""
}

func normalizeColor(c string) string {
	return strings.ToLower(strings.Join(strings.Fields(c), ""))
}
