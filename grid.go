package stationwatch

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"text/template"
)

// NewStationGrid expands a URL template over every combination of dimension
// values and returns one [Station] per combination.
//
// A typical use is a rack of identical testers reachable at predictable
// addresses:
//
//	stations, err := stationwatch.NewStationGrid("ess", "ESS",
//	    stationwatch.WithURLTemplate("http://10.20.{{.bay}}.{{.unit}}/"),
//	    stationwatch.WithDimensions(map[string][]string{
//	        "bay":  {"1", "2"},
//	        "unit": {"8", "9"},
//	    }),
//	)
//
// Generated ids join baseID and the values of the alphabetically sorted
// dimension keys with '-' ("ess-1-8"); names follow "ESS (1/8)". Characters
// not allowed in a station id are replaced with '_'. Dimension values are
// URL-encoded before interpolation, and a template referencing an unknown
// key is an error. Dimension values become labels; labels from
// [WithGridLabels] win on collision.
func NewStationGrid(baseID, baseName string, opts ...GridOption) ([]Station, error) {
	if strings.TrimSpace(baseID) == "" {
		return nil, errors.New("grid id cannot be empty")
	}
	if strings.TrimSpace(baseName) == "" {
		baseName = baseID
	}

	cfg := &gridConfig{
		enabled:      true,
		staticLabels: make(map[string]string),
		headers:      make(map[string]string),
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.urlTemplate == "" {
		return nil, errors.New("URL template required")
	}
	if len(cfg.dimensions) == 0 {
		return nil, errors.New("at least one dimension required")
	}

	tmpl, err := template.New("url").Option("missingkey=error").Parse(cfg.urlTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid URL template: %w", err)
	}

	keys := sortedKeys(cfg.dimensions)
	combos := cartesianProduct(keys, cfg.dimensions)

	stations := make([]Station, 0, len(combos))
	seen := make(map[string]bool, len(combos))
	for _, combo := range combos {
		var buf strings.Builder
		if err := tmpl.Execute(&buf, queryEscapeValues(combo)); err != nil {
			return nil, fmt.Errorf("template execution failed: %w", err)
		}

		values := make([]string, len(keys))
		for i, k := range keys {
			values[i] = combo[k]
		}
		id := gridStationID(baseID, values)
		if seen[id] {
			return nil, fmt.Errorf("grid %q produces duplicate station id %q", baseID, id)
		}
		seen[id] = true
		name := fmt.Sprintf("%s (%s)", baseName, strings.Join(values, "/"))

		labels := make(map[string]string, len(combo)+len(cfg.staticLabels))
		for k, v := range combo {
			labels[k] = v
		}
		for k, v := range cfg.staticLabels {
			labels[k] = v
		}

		st, err := NewStation(id, name, buf.String(),
			WithEnabled(cfg.enabled),
			WithLabels(flattenMap(labels)...),
			WithHeaders(flattenMap(cfg.headers)...),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create station '%s': %w", id, err)
		}
		stations = append(stations, st)
	}

	return stations, nil
}

// cartesianProduct returns every combination of dims, iterating keys in the
// given order with the last key varying fastest.
//
//	keys [x y], {"x": [a b], "y": [1 2]} => [{a 1} {a 2} {b 1} {b 2}]
func cartesianProduct(keys []string, dims map[string][]string) []map[string]string {
	if len(keys) == 0 {
		return nil
	}
	combos := []map[string]string{{}}
	for _, k := range keys {
		next := make([]map[string]string, 0, len(combos)*len(dims[k]))
		for _, partial := range combos {
			for _, v := range dims[k] {
				combo := make(map[string]string, len(partial)+1)
				for pk, pv := range partial {
					combo[pk] = pv
				}
				combo[k] = v
				next = append(next, combo)
			}
		}
		combos = next
	}
	return combos
}

func gridStationID(baseID string, values []string) string {
	id := baseID + "-" + strings.Join(values, "-")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, id)
}

func queryEscapeValues(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = url.QueryEscape(v)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// flattenMap converts a map to key-value pairs in sorted key order.
func flattenMap(m map[string]string) []string {
	out := make([]string, 0, len(m)*2)
	for _, k := range sortedKeys(m) {
		out = append(out, k, m[k])
	}
	return out
}
