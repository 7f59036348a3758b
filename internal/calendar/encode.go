package calendar

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"lunchcal/internal/model"
)

// Meta holds calendar-level properties.
type Meta struct {
	ProductID string // PRODID, e.g. "-//Bay Middle School Lunch Menu//"
	Name      string // X-WR-CALNAME
	Timezone  string // X-WR-TIMEZONE
}

// Encode serializes events into an iCalendar document. The output depends
// only on its inputs: DTSTAMP is the event date at midnight UTC rather than
// the wall clock, so re-encoding the same events is byte-for-byte identical.
// An empty event list still yields a complete VCALENDAR.
func Encode(events []model.CalendarEvent, meta Meta) ([]byte, error) {
	cal := ical.NewCalendar()
	if meta.ProductID != "" {
		cal.SetProductId(meta.ProductID)
	}
	cal.SetCalscale("GREGORIAN")
	cal.SetMethod(ical.MethodPublish)
	if meta.Name != "" {
		cal.SetXWRCalName(meta.Name)
	}
	if meta.Timezone != "" {
		cal.SetXWRTimezone(meta.Timezone)
	}

	for i, ev := range events {
		if ev.UID == "" {
			return nil, fmt.Errorf("event %d (%s): missing UID", i, ev.Date)
		}
		if ev.Date.IsZero() {
			return nil, fmt.Errorf("event %d (%s): missing date", i, ev.UID)
		}

		start := ev.Date.Time()
		ve := cal.AddEvent(ev.UID)
		ve.SetDtStampTime(start)
		ve.SetAllDayStartAt(start)
		ve.SetAllDayEndAt(ev.Date.AddDays(1).Time())
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		ve.SetTimeTransparency(ical.TransparencyTransparent)
	}

	return []byte(cal.Serialize()), nil
}

// DecodedEvent is the subset of a VEVENT read back by Decode.
type DecodedEvent struct {
	UID         string
	Date        model.Date
	AllDay      bool
	Summary     string
	Description string
}

// Decode parses an iCalendar document produced by Encode.
func Decode(data []byte) ([]DecodedEvent, error) {
	if len(data) == 0 {
		return nil, errors.New("empty calendar body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	out := make([]DecodedEvent, 0)
	for _, ve := range cal.Events() {
		var ev DecodedEvent
		if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
			ev.UID = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
			ev.Summary = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
			ev.Description = p.Value
		}

		p := ve.GetProperty(ical.ComponentPropertyDtStart)
		if p == nil {
			return nil, fmt.Errorf("event %q: missing DTSTART", ev.UID)
		}
		if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			ev.AllDay = true
		}
		if !strings.Contains(p.Value, "T") {
			ev.AllDay = true
		}
		t, err := time.Parse("20060102", p.Value[:min(len(p.Value), 8)])
		if err != nil {
			return nil, fmt.Errorf("event %q: DTSTART %q: %w", ev.UID, p.Value, err)
		}
		ev.Date = model.DateOf(t)

		out = append(out, ev)
	}
	return out, nil
}
