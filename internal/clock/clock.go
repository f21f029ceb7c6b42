// Package clock supplies "now" in the application's single civil timezone and
// compares stored civil timestamps as fixed-format strings.
//
// Stored dates are never converted through absolute time on the comparison
// path: "2025-03-01 08:00:00" written by one process compares the same way in
// every other process, whatever the host's local offset is.
package clock

import (
	"strings"
	"time"
	_ "time/tzdata" // civil zone must resolve on hosts without zoneinfo

	"github.com/rs/zerolog"
)

// Layout is the sortable civil timestamp layout used for every persisted date.
const Layout = "2006-01-02 15:04:05"

const (
	dateOnlyLayout = "2006-01-02"
	isoLayout      = "2006-01-02T15:04:05"
)

// Clock is the Clock/Time Service.
type Clock struct {
	loc *time.Location
	now func() time.Time
	log zerolog.Logger
}

// New creates a Clock reading the system time in loc.
func New(loc *time.Location, log zerolog.Logger) *Clock {
	return NewWithSource(loc, log, time.Now)
}

// NewWithSource creates a Clock whose current instant comes from now.
// Used by tests and by the reconcile CLI's --now flag.
func NewWithSource(loc *time.Location, log zerolog.Logger, now func() time.Time) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{
		loc: loc,
		now: now,
		log: log.With().Str("component", "clock").Logger(),
	}
}

// Location returns the civil timezone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Now returns the current instant expressed in the civil timezone.
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// NowString renders Now in Layout.
func (c *Clock) NowString() string {
	return c.Format(c.Now())
}

// Format renders t in the civil timezone using Layout.
func (c *Clock) Format(t time.Time) string {
	return t.In(c.loc).Format(Layout)
}

// Shift renders Now()+d in Layout.
func (c *Clock) Shift(d time.Duration) string {
	return c.Format(c.Now().Add(d))
}

// Normalize returns the canonical Layout form of s, or nil when s is nil,
// empty or malformed. Date-only values are padded to midnight.
func (c *Clock) Normalize(s *string) *string {
	if s == nil {
		return nil
	}
	raw := strings.TrimSpace(*s)
	if raw == "" {
		return nil
	}

	for _, layout := range []string{Layout, isoLayout, dateOnlyLayout} {
		// time.Parse without a zone keeps the wall clock as written; the
		// result is only reformatted, never shifted.
		if t, err := time.Parse(layout, raw); err == nil {
			out := t.Format(Layout)
			return &out
		}
	}

	c.log.Warn().Str("value", raw).Msg("Malformed civil timestamp, treating as absent")
	return nil
}

// HasPassed reports whether s is at or before now. Nil and malformed values
// have not passed.
func (c *Clock) HasPassed(s *string) bool {
	n := c.Normalize(s)
	if n == nil {
		return false
	}
	return *n <= c.NowString()
}

// IsBetween reports whether now lies inside [from, until). A nil bound is open.
func (c *Clock) IsBetween(from, until *string) bool {
	if from != nil && !c.HasPassed(from) {
		return false
	}
	if until != nil && c.HasPassed(until) {
		return false
	}
	return true
}

// SpanWithin reports whether until is strictly after from and no more than
// the given number of calendar years later. Both values must be in Layout.
func (c *Clock) SpanWithin(from, until string, years int) bool {
	if until <= from {
		return false
	}
	f, err := time.Parse(Layout, from)
	if err != nil {
		return false
	}
	limit := f.AddDate(years, 0, 0).Format(Layout)
	return until <= limit
}
