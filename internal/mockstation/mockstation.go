// Package mockstation simulates tester status pages for demos and tests.
//
// Each simulated station renders the same markup real stations serve: a
// navbar button with the station name, the five global counters, and a
// #uutList container of slot panels. Slots walk a test lifecycle
// (available, testing, passed or failing, then back to available) on a
// randomized schedule so a watcher pointed at the server sees real
// transitions.
package mockstation

import (
	"fmt"
	"html/template"
	"math/rand/v2"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Slot lifecycle states, matching the status classes real pages use.
const (
	StateAvailable = "available"
	StateTesting   = "testing"
	StatePassed    = "passed"
	StateFailing   = "failing"
	StateFailed    = "failed"
	StateAborted   = "aborted"
)

const (
	defaultSlots   = 8
	defaultMinStep = 20 * time.Second
	defaultMaxStep = 60 * time.Second
	subSlotsPerBay = 2
	inactiveColor  = "#AAA"
	activeColor    = "green"
)

type slot struct {
	index     int
	state     string
	serial    string
	startedAt time.Time
	nextAt    time.Time
	active    []bool
}

type station struct {
	name  string
	line  string
	slots []*slot
}

// Server serves one status page per simulated station at /{name}.
type Server struct {
	mu       sync.Mutex
	stations map[string]*station
	order    []string
	rng      *rand.Rand
	now      func() time.Time
	minStep  time.Duration
	maxStep  time.Duration
	slots    int
	logger   zerolog.Logger
}

// Option configures a [Server].
type Option func(*Server)

// WithStations sets the simulated station names. Defaults to ESS08.
func WithStations(names ...string) Option {
	return func(s *Server) {
		if len(names) > 0 {
			s.order = append([]string(nil), names...)
		}
	}
}

// WithSlots sets the number of slots per station.
func WithSlots(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.slots = n
		}
	}
}

// WithStep bounds the random delay between a slot's state changes.
func WithStep(lo, hi time.Duration) Option {
	return func(s *Server) {
		if lo > 0 && hi >= lo {
			s.minStep, s.maxStep = lo, hi
		}
	}
}

// WithSeed makes the simulation reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Server) {
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a simulation with every slot idle.
func New(logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		stations: make(map[string]*station),
		order:    []string{"ESS08"},
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 1)),
		now:      time.Now,
		minStep:  defaultMinStep,
		maxStep:  defaultMaxStep,
		slots:    defaultSlots,
		logger:   logger.With().Str("component", "mockstation").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	now := s.now()
	for i, name := range s.order {
		st := &station{name: name, line: fmt.Sprintf("PROD-LINE-%d", i+1)}
		for n := 1; n <= s.slots; n++ {
			st.slots = append(st.slots, &slot{
				index:  n,
				state:  StateAvailable,
				nextAt: now.Add(s.step()),
				active: make([]bool, subSlotsPerBay),
			})
		}
		s.stations[name] = st
	}
	return s
}

// Names returns the simulated station names in creation order.
func (s *Server) Names() []string {
	return slices.Clone(s.order)
}

// Handler returns the HTTP handler. GET /{name} serves a status page;
// unknown names answer 404.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/{name}", s.handlePage)
	return r
}

// Advance moves every slot of the named station one lifecycle step,
// regardless of its schedule. It reports whether the station exists.
func (s *Server) Advance(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stations[name]
	if !ok {
		return false
	}
	now := s.now()
	for _, sl := range st.slots {
		s.transition(st, sl, now)
	}
	return true
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.mu.Lock()
	st, ok := s.stations[name]
	if !ok {
		s.mu.Unlock()
		http.NotFound(w, r)
		return
	}
	now := s.now()
	for _, sl := range st.slots {
		if !now.Before(sl.nextAt) {
			s.transition(st, sl, now)
		}
	}
	view := s.render(st, now)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, view); err != nil {
		s.logger.Error().Err(err).Str("station", name).Msg("failed to render page")
	}
}

// transition advances sl one lifecycle step. Caller holds s.mu.
func (s *Server) transition(st *station, sl *slot, now time.Time) {
	from := sl.state
	switch sl.state {
	case StateAvailable:
		sl.state = StateTesting
		sl.serial = s.serial()
		sl.startedAt = now
		for i := range sl.active {
			sl.active[i] = s.rng.IntN(2) == 0
		}
	case StateTesting:
		switch n := s.rng.IntN(10); {
		case n < 7:
			sl.state = StatePassed
		case n < 9:
			sl.state = StateFailing
		default:
			sl.state = StateAborted
		}
	case StateFailing:
		sl.state = StateFailed
	default:
		sl.state = StateAvailable
		sl.serial = ""
		for i := range sl.active {
			sl.active[i] = false
		}
	}
	sl.nextAt = now.Add(s.step())

	s.logger.Debug().
		Str("station", st.name).
		Int("slot", sl.index).
		Str("from", from).
		Str("to", sl.state).
		Msg("slot transition")
}

func (s *Server) step() time.Duration {
	span := int64(s.maxStep - s.minStep)
	if span <= 0 {
		return s.minStep
	}
	return s.minStep + time.Duration(s.rng.Int64N(span+1))
}

// serial builds a vendor-style unit serial, e.g. C8210F2B03254214T9560.
func (s *Server) serial() string {
	const hex = "0123456789ABCDEF"
	b := make([]byte, 0, 21)
	b = append(b, 'C')
	for range 15 {
		b = append(b, hex[s.rng.IntN(len(hex))])
	}
	b = append(b, 'T')
	return fmt.Sprintf("%s%04d", b, s.rng.IntN(10000))
}

type pageView struct {
	Station  string
	Counters map[string]int
	Slots    []slotView
}

type slotView struct {
	Index    int
	Name     string
	Class    string
	Label    string
	Elapsed  string
	Serial   string
	SubSlots []subSlotView
	Line     string
	Software string
}

type subSlotView struct {
	Name  string
	Style template.CSS
}

func (s *Server) render(st *station, now time.Time) pageView {
	view := pageView{
		Station:  st.name,
		Counters: make(map[string]int),
	}
	for _, sl := range st.slots {
		name := fmt.Sprintf("SLOT%02d", sl.index)
		sv := slotView{
			Index:    sl.index,
			Name:     name,
			Label:    sl.state,
			Line:     st.line,
			Software: "v2.14.1",
		}
		if sl.state != StateAvailable {
			sv.Class = sl.state
			sv.Elapsed = formatElapsed(now.Sub(sl.startedAt))
			sv.Serial = sl.serial
			view.Counters[sl.state]++
		}
		for i, active := range sl.active {
			color := inactiveColor
			if active {
				color = activeColor
			}
			sv.SubSlots = append(sv.SubSlots, subSlotView{
				Name:  fmt.Sprintf("%s_%02d", name, i+1),
				Style: template.CSS("color: " + color),
			})
		}
		view.Slots = append(view.Slots, sv)
	}
	return view
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	sec := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Station}} Test Status</title></head>
<body>
<nav class="navbar"><button type="button" class="btn btn-dark fs-6">{{.Station}}</button></nav>
<div id="teststatusdiv">
  <span class="badge">Testing <span id="testing-counter">{{index .Counters "testing"}}</span></span>
  <span class="badge">Failing <span id="failing-counter">{{index .Counters "failing"}}</span></span>
  <span class="badge">Aborted <span id="aborted-counter">{{index .Counters "aborted"}}</span></span>
  <span class="badge">Failed <span id="failed-counter">{{index .Counters "failed"}}</span></span>
  <span class="badge">Passed <span id="passed-counter">{{index .Counters "passed"}}</span></span>
</div>
<div id="uutList" class="row">
{{- range .Slots}}
  <div id="slot-{{.Index}}" class="col uut {{.Class}}">
    <div class="panel">
      <div class="panel-heading">
        <span class="chassisname"><a href="#">{{.Name}}</a></span>
        <span class="chassisstatus">{{.Label}}</span>
        {{- if .Elapsed}}
        <span class="testtime">{{.Elapsed}}</span>
        {{- end}}
      </div>
      <div class="panel-body">
        {{- if .Serial}}
        <span class="slot-sn"><a href="#">{{.Serial}}</a></span>
        {{- end}}
        {{- range .SubSlots}}
        <span class="slot-sn"><a href="#" style="{{.Style}}">{{.Name}}</a></span>
        {{- end}}
      </div>
      <div class="panel-footer">
        <span class="slot-sn fw-bold">{{.Line}}</span>
        <span class="slot-sn fw-bold">{{.Software}}</span>
      </div>
    </div>
  </div>
{{- end}}
</div>
</body>
</html>
`))
