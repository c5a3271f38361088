package stationwatch

import (
	"testing"
)

func TestNewStation_Valid(t *testing.T) {
	st, err := NewStation("ess08", "ESS08", "http://10.20.0.8/")
	if err != nil {
		t.Fatalf("NewStation() error = %v", err)
	}

	if st.ID() != "ess08" {
		t.Errorf("ID() = %v, want %v", st.ID(), "ess08")
	}
	if st.Name() != "ESS08" {
		t.Errorf("Name() = %v, want %v", st.Name(), "ESS08")
	}
	if st.URL() != "http://10.20.0.8/" {
		t.Errorf("URL() = %v, want %v", st.URL(), "http://10.20.0.8/")
	}
	if !st.Enabled() {
		t.Error("Enabled() = false, want true by default")
	}
}

func TestNewStation_NameDefaultsToID(t *testing.T) {
	st, err := NewStation("ess08", "", "http://10.20.0.8/")
	if err != nil {
		t.Fatalf("NewStation() error = %v", err)
	}
	if st.Name() != "ess08" {
		t.Errorf("Name() = %q, want %q", st.Name(), "ess08")
	}
}

func TestNewStation_InvalidID(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"slash", "ess/08"},
		{"space", "ess 08"},
		{"leading dash", "-ess08"},
		{"query char", "ess08?x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewStation(tt.id, "ESS", "http://10.20.0.8/"); err == nil {
				t.Errorf("NewStation(%q) expected error, got nil", tt.id)
			}
		})
	}
}

func TestNewStation_InvalidURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"no scheme", "10.20.0.8/status"},
		{"empty url", ""},
		{"just path", "/status"},
		{"ftp scheme", "ftp://10.20.0.8/"},
		{"no host", "http:///status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewStation("ess08", "ESS08", tt.url); err == nil {
				t.Errorf("NewStation() expected error for URL %q, got nil", tt.url)
			}
		})
	}
}

func TestNewStation_ValidURLs(t *testing.T) {
	urls := []string{
		"http://10.20.0.8/",
		"https://tester.fab2.local/status",
		"http://localhost:8081/",
		"http://10.20.0.8/index.html?view=all",
	}

	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			if _, err := NewStation("ess08", "ESS08", u); err != nil {
				t.Errorf("NewStation() error = %v for URL %q", err, u)
			}
		})
	}
}

func TestWithEnabled(t *testing.T) {
	st, err := NewStation("ess08", "ESS08", "http://10.20.0.8/", WithEnabled(false))
	if err != nil {
		t.Fatalf("NewStation() error = %v", err)
	}
	if st.Enabled() {
		t.Error("Enabled() = true, want false")
	}
	if st.source().Enabled {
		t.Error("source().Enabled = true, want false")
	}
}

func TestWithLabels(t *testing.T) {
	st, err := NewStation("ess08", "ESS08", "http://10.20.0.8/",
		WithLabels("site", "fab2", "line", "4"),
	)
	if err != nil {
		t.Fatalf("NewStation() error = %v", err)
	}

	labels := st.Labels()
	if labels["site"] != "fab2" || labels["line"] != "4" {
		t.Errorf("Labels() = %v", labels)
	}
}

func TestWithLabels_OddArgs(t *testing.T) {
	if _, err := NewStation("ess08", "ESS08", "http://10.20.0.8/", WithLabels("site")); err == nil {
		t.Error("expected error for odd number of label arguments")
	}
}

func TestWithHeaders(t *testing.T) {
	st, err := NewStation("ess08", "ESS08", "http://10.20.0.8/",
		WithHeaders("Authorization", "Basic dGVzdDp0ZXN0"),
	)
	if err != nil {
		t.Fatalf("NewStation() error = %v", err)
	}
	if got := st.Headers()["Authorization"]; got != "Basic dGVzdDp0ZXN0" {
		t.Errorf("Headers()[Authorization] = %q", got)
	}
}

func TestWithHeaders_Invalid(t *testing.T) {
	tests := []struct {
		name string
		kv   []string
	}{
		{"odd args", []string{"Authorization"}},
		{"empty name", []string{"", "value"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewStation("ess08", "ESS08", "http://10.20.0.8/", WithHeaders(tt.kv...)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestStation_Immutability(t *testing.T) {
	st, err := NewStation("ess08", "ESS08", "http://10.20.0.8/",
		WithLabels("site", "fab2"),
		WithHeaders("X-Token", "abc"),
	)
	if err != nil {
		t.Fatalf("NewStation() error = %v", err)
	}

	st.Labels()["site"] = "mutated"
	st.Headers()["X-Token"] = "mutated"

	src := st.source()
	src.Labels["site"] = "mutated"

	if st.Labels()["site"] != "fab2" {
		t.Error("Labels() exposed internal map")
	}
	if st.Headers()["X-Token"] != "abc" {
		t.Error("Headers() exposed internal map")
	}
}

func TestStation_Source(t *testing.T) {
	st, err := NewStation("ess08", "ESS08", "http://10.20.0.8/",
		WithLabels("line", "4"),
		WithHeaders("X-Token", "abc"),
	)
	if err != nil {
		t.Fatalf("NewStation() error = %v", err)
	}

	src := st.source()
	if src.ID != "ess08" || src.Name != "ESS08" || src.Locator != "http://10.20.0.8/" || !src.Enabled {
		t.Errorf("source() = %+v", src)
	}
	if src.Labels["line"] != "4" || src.Headers["X-Token"] != "abc" {
		t.Errorf("source() maps = %v / %v", src.Labels, src.Headers)
	}
}
