package snapshot

import (
	"encoding/json"
	"time"
)

// Sentinel values substituted when a field cannot be derived from the page.
const (
	NotAvailable = "N/A"
	Unknown      = "Unknown"
)

// Page metadata keys.
const (
	MetaTitle       = "title"
	MetaStationName = "stationName"
)

// Source is one monitored test station endpoint.
//
// Sources are owned by the registry that loaded them; the polling pipeline
// only reads them.
type Source struct {
	// ID is the stable identifier used as the key everywhere in the pipeline.
	ID string `json:"id"`

	// Name is the human-readable station name shown in the dashboard.
	Name string `json:"name"`

	// Locator is the URL of the station's status page.
	Locator string `json:"url"`

	// Enabled sources are polled; disabled ones are skipped by the scheduler.
	Enabled bool `json:"enabled"`

	// Labels are key-value metadata used for grouping in the dashboard.
	Labels map[string]string `json:"labels,omitempty"`

	// Headers are extra request headers sent when fetching the page.
	Headers map[string]string `json:"-"`
}

// Outcome reports whether a snapshot was extracted from a live page.
type Outcome string

const (
	// OutcomeSuccess means the page was fetched and its slot container found.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure means the fetch failed or the page lacked its slot container.
	OutcomeFailure Outcome = "error"
)

// Counters are the five global status counters a station page reports.
type Counters struct {
	Testing int `json:"testing"`
	Failing int `json:"failing"`
	Aborted int `json:"aborted"`
	Failed  int `json:"failed"`
	Passed  int `json:"passed"`
}

// Sub returns the signed per-counter difference c - prev.
func (c Counters) Sub(prev Counters) Counters {
	return Counters{
		Testing: c.Testing - prev.Testing,
		Failing: c.Failing - prev.Failing,
		Aborted: c.Aborted - prev.Aborted,
		Failed:  c.Failed - prev.Failed,
		Passed:  c.Passed - prev.Passed,
	}
}

// IsZero reports whether every counter is zero.
func (c Counters) IsZero() bool {
	return c == Counters{}
}

// SubSlot is a nested position inside a slot.
type SubSlot struct {
	Name   string `json:"name"`
	Active bool   `json:"-"`
}

// MarshalJSON encodes Active as "active"/"inactive", the shape dashboard
// clients already consume.
func (s SubSlot) MarshalJSON() ([]byte, error) {
	status := "inactive"
	if s.Active {
		status = "active"
	}
	return json.Marshal(struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}{s.Name, status})
}

// UnmarshalJSON reverses MarshalJSON.
func (s *SubSlot) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Name = raw.Name
	s.Active = raw.Status != "inactive"
	return nil
}

// Slot is one physical test position reported on a station page.
type Slot struct {
	// ID is the element id the slot was extracted from (e.g. "slot-3").
	ID string `json:"id"`

	// Name is unique within a snapshot.
	Name string `json:"name"`

	// Status is the lower-case slot state ("testing", "passed", "available", ...).
	Status string `json:"status"`

	// TestDuration is the elapsed test time as displayed, or "N/A".
	TestDuration string `json:"testTime"`

	// SerialNumber is the unit serial, or "N/A" when none was accepted.
	SerialNumber string `json:"serialNumber"`

	SubSlots        []SubSlot `json:"subSlots"`
	ProductionInfo  string    `json:"productionInfo"`
	SoftwareVersion string    `json:"softwareVersion"`
}

// Snapshot is the structured view of one source's page at one point in time.
type Snapshot struct {
	SourceID   string    `json:"id"`
	SourceName string    `json:"name"`
	Locator    string    `json:"url"`
	CapturedAt time.Time `json:"timestamp"`
	Outcome    Outcome   `json:"status"`

	// Error carries the diagnostic of a failure snapshot.
	Error string `json:"error,omitempty"`

	Counters Counters          `json:"counters"`
	Slots    []Slot            `json:"slots"`
	PageMeta map[string]string `json:"pageData"`
}

// Succeeded reports whether the snapshot came from a parsed page.
func (s Snapshot) Succeeded() bool {
	return s.Outcome == OutcomeSuccess
}

// Slot returns the slot with the given name.
func (s Snapshot) Slot(name string) (Slot, bool) {
	for _, slot := range s.Slots {
		if slot.Name == name {
			return slot, true
		}
	}
	return Slot{}, false
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	cp := s
	if s.Slots != nil {
		cp.Slots = make([]Slot, len(s.Slots))
		for i, slot := range s.Slots {
			cp.Slots[i] = slot
			if slot.SubSlots != nil {
				cp.Slots[i].SubSlots = append([]SubSlot(nil), slot.SubSlots...)
			}
		}
	}
	if s.PageMeta != nil {
		cp.PageMeta = make(map[string]string, len(s.PageMeta))
		for k, v := range s.PageMeta {
			cp.PageMeta[k] = v
		}
	}
	return cp
}

// OfflineSlot is the synthetic slot carried by every failure snapshot so a
// failed source shows up as offline rather than empty.
func OfflineSlot() Slot {
	return Slot{
		ID:              "error",
		Name:            "Offline",
		Status:          "error",
		TestDuration:    NotAvailable,
		SerialNumber:    "",
		SubSlots:        []SubSlot{},
		ProductionInfo:  NotAvailable,
		SoftwareVersion: NotAvailable,
	}
}

// Failed builds the uniform failure snapshot for src.
func Failed(src Source, err error, at time.Time) Snapshot {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Snapshot{
		SourceID:   src.ID,
		SourceName: src.Name,
		Locator:    src.Locator,
		CapturedAt: at,
		Outcome:    OutcomeFailure,
		Error:      msg,
		Slots:      []Slot{OfflineSlot()},
		PageMeta:   map[string]string{},
	}
}
