package scrape

import (
	"bytes"
	"fmt"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jpalmerr/stationwatch/snapshot"
)

// Fixed anchors of the station status page.
const (
	titleSelector       = "title"
	stationNameSelector = "button.fs-6"
	slotContainerID     = "#uutList"
	slotSelector        = `div[id^="slot-"]`
	slotNameSelector    = "span.chassisname"
	slotStatusSelector  = "span.chassisstatus"
	testTimeSelector    = "span.testtime"
	panelBodySelector   = ".panel-body"
	serialLinkSelector  = ".slot-sn a"
	subSlotTagSelector  = "span.slot-sn"
	footerTextSelector  = "div.panel-footer span.slot-sn.fw-bold"
)

const defaultSlotStatus = "available"

// statusClassPriority is the order in which slot state classes win when an
// element carries several. The order is inferred from observed pages, not a
// documented contract, and breaks if the upstream markup changes its classes.
var statusClassPriority = []string{"testing", "failing", "aborted", "failed", "passed", "default"}

var counterSelectors = []struct {
	selector string
	set      func(*snapshot.Counters, int)
}{
	{"#testing-counter", func(c *snapshot.Counters, v int) { c.Testing = v }},
	{"#failing-counter", func(c *snapshot.Counters, v int) { c.Failing = v }},
	{"#aborted-counter", func(c *snapshot.Counters, v int) { c.Aborted = v }},
	{"#failed-counter", func(c *snapshot.Counters, v int) { c.Failed = v }},
	{"#passed-counter", func(c *snapshot.Counters, v int) { c.Passed = v }},
}

var (
	slotIDPattern = regexp.MustCompile(`^slot-(\d+)$`)

	// label markup reused inside detail panels; never a serial
	slotNamePattern    = regexp.MustCompile(`^SLOT\d+(_\d+)?$`)
	chamberNamePattern = regexp.MustCompile(`^CHAMBER\d+$`)
	shortLabelPattern  = regexp.MustCompile(`^[A-Z]+\d+$`)
)

const minSerialLength = 10

// Parser turns station status page markup into a [snapshot.Snapshot].
//
// Parser is a tolerant matcher: every optional field degrades to a sentinel
// when absent, and only a missing slot container fails the parse.
type Parser struct {
	colors ColorStates
	now    func() time.Time
	logger zerolog.Logger
}

// ParserOption configures a [Parser].
type ParserOption func(*Parser)

// WithColorStates replaces the sub-slot color mapping.
func WithColorStates(states ColorStates) ParserOption {
	return func(p *Parser) {
		p.colors = states
	}
}

// WithClock sets the time source used for CapturedAt.
func WithClock(now func() time.Time) ParserOption {
	return func(p *Parser) {
		p.now = now
	}
}

// NewParser creates a [Parser] using [DefaultInactiveColors] unless overridden.
func NewParser(logger zerolog.Logger, opts ...ParserOption) *Parser {
	p := &Parser{
		colors: InactiveColors(DefaultInactiveColors...),
		now:    time.Now,
		logger: logger.With().Str("component", "parser").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse extracts a snapshot from raw markup.
//
// Parse never fails: a structural problem or a panic inside the parser
// yields a failure snapshot carrying the diagnostic.
func (p *Parser) Parse(raw []byte, src snapshot.Source) (snap snapshot.Snapshot) {
	capturedAt := p.now()

	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			p.logger.Error().
				Str("correlation_id", correlationID).
				Str("station", src.ID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("parser panic")
			snap = snapshot.Failed(src, fmt.Errorf("parser panic (correlation_id: %s)", correlationID), capturedAt)
		}
	}()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return snapshot.Failed(src, &StructuralParseError{Anchor: "document", Err: err}, capturedAt)
	}

	container := doc.Find(slotContainerID).First()
	if container.Length() == 0 {
		err := &StructuralParseError{Anchor: slotContainerID}
		p.logger.Debug().Str("station", src.ID).Err(err).Msg("slot container missing")
		return snapshot.Failed(src, err, capturedAt)
	}

	return snapshot.Snapshot{
		SourceID:   src.ID,
		SourceName: src.Name,
		Locator:    src.Locator,
		CapturedAt: capturedAt,
		Outcome:    snapshot.OutcomeSuccess,
		Counters:   parseCounters(doc),
		Slots:      p.parseSlots(container, src),
		PageMeta:   parsePageMeta(doc),
	}
}

func parsePageMeta(doc *goquery.Document) map[string]string {
	return map[string]string{
		snapshot.MetaTitle:       textOr(doc.Find(titleSelector).First(), snapshot.Unknown),
		snapshot.MetaStationName: textOr(doc.Find(stationNameSelector).First(), snapshot.Unknown),
	}
}

func parseCounters(doc *goquery.Document) snapshot.Counters {
	var counters snapshot.Counters
	for _, c := range counterSelectors {
		c.set(&counters, leadingInt(text(doc.Find(c.selector).First())))
	}
	return counters
}

func (p *Parser) parseSlots(container *goquery.Selection, src snapshot.Source) []snapshot.Slot {
	slots := make([]snapshot.Slot, 0)
	seen := make(map[string]struct{})

	// direct children only; slot panels nest ids like slot-1-details
	container.ChildrenFiltered(slotSelector).Each(func(_ int, sel *goquery.Selection) {
		slot, ok := p.parseSlot(sel)
		if !ok {
			p.logger.Debug().Str("station", src.ID).Str("element", slot.ID).Msg("slot without name dropped")
			return
		}
		if _, dup := seen[slot.Name]; dup {
			p.logger.Debug().Str("station", src.ID).Str("slot", slot.Name).Msg("duplicate slot name dropped")
			return
		}
		seen[slot.Name] = struct{}{}
		slots = append(slots, slot)
	})

	return slots
}

// parseSlot derives one slot. ok is false when no name could be derived.
func (p *Parser) parseSlot(sel *goquery.Selection) (slot snapshot.Slot, ok bool) {
	id := sel.AttrOr("id", "")
	slot.ID = id

	slot.Name = slotName(sel, id)
	if slot.Name == "" {
		return slot, false
	}

	slot.Status = slotStatus(sel)
	slot.TestDuration = textOr(sel.Find(testTimeSelector).First(), snapshot.NotAvailable)
	slot.SerialNumber = serialNumber(sel)
	slot.SubSlots = p.subSlots(sel, slot.SerialNumber)
	slot.ProductionInfo, slot.SoftwareVersion = footerInfo(sel)

	return slot, true
}

func slotName(sel *goquery.Selection, id string) string {
	if tag := sel.Find(slotNameSelector).First(); tag.Length() > 0 {
		if name := text(tag.Find("a").First()); name != "" {
			return name
		}
		if name := text(tag); name != "" {
			return name
		}
	}

	if m := slotIDPattern.FindStringSubmatch(id); m != nil {
		return "SLOT" + padLeft(m[1], 2, '0')
	}
	return ""
}

func slotStatus(sel *goquery.Selection) string {
	for _, class := range statusClassPriority {
		if sel.HasClass(class) {
			return class
		}
	}
	if status := strings.ToLower(text(sel.Find(slotStatusSelector).First())); status != "" {
		return status
	}
	return defaultSlotStatus
}

// serialNumber reads the main serial from the first detail panel only; later
// panels reuse the same link markup for sub-slot labels.
func serialNumber(sel *goquery.Selection) string {
	link := sel.Find(panelBodySelector).First().Find(serialLinkSelector).First()
	if candidate := text(link); acceptSerial(candidate) {
		return candidate
	}
	return snapshot.NotAvailable
}

func acceptSerial(s string) bool {
	if len(s) < minSerialLength {
		return false
	}
	return !slotNamePattern.MatchString(s) &&
		!chamberNamePattern.MatchString(s) &&
		!shortLabelPattern.MatchString(s)
}

func (p *Parser) subSlots(sel *goquery.Selection, serial string) []snapshot.SubSlot {
	subs := make([]snapshot.SubSlot, 0)
	seen := make(map[string]struct{})

	sel.Find(panelBodySelector).Each(func(_ int, panel *goquery.Selection) {
		panel.Find(subSlotTagSelector).Each(func(_ int, tag *goquery.Selection) {
			link := tag.Find("a").First()
			if link.Length() == 0 {
				return
			}
			name := text(link)
			if name == "" || name == serial {
				return
			}
			if !strings.Contains(name, "_") && !strings.HasPrefix(name, "SLOT") {
				return
			}
			if _, dup := seen[name]; dup {
				return
			}
			seen[name] = struct{}{}
			subs = append(subs, snapshot.SubSlot{
				Name:   name,
				Active: p.colors.Active(link.AttrOr("style", "")),
			})
		})
	})

	return subs
}

// footerInfo assigns the first two footer texts positionally.
func footerInfo(sel *goquery.Selection) (production, software string) {
	production, software = snapshot.NotAvailable, snapshot.NotAvailable

	var texts []string
	sel.Find(footerTextSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t := text(s); t != "" {
			texts = append(texts, t)
		}
		return len(texts) < 2
	})

	if len(texts) >= 1 {
		production = texts[0]
	}
	if len(texts) >= 2 {
		software = texts[1]
	}
	return production, software
}

func text(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(sel.Text())
}

func textOr(sel *goquery.Selection, fallback string) string {
	if t := text(sel); t != "" {
		return t
	}
	return fallback
}

// leadingInt parses the leading decimal digits of s. Anything else,
// including a sign, yields 0.
func leadingInt(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

func padLeft(s string, width int, pad byte) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(string(pad), width-len(s)) + s
}
