package driver

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sosodev/duration"
)

// Period is a parsed ISO-8601 duration such as "PT5M" or "P1DT4H".
//
// Calendar components (years, months, weeks, days) are applied with
// time.AddDate so "P1M" from January 31st lands where the calendar says;
// the rest is a fixed time.Duration.
type Period struct {
	raw    string
	years  int
	months int
	days   int
	clock  time.Duration
}

// ParsePeriod parses an ISO-8601 duration. Negative periods are rejected
// because they would move the virtual clock backward. Fractional values are
// only accepted for seconds.
func ParsePeriod(s string) (Period, error) {
	// The parser accepts "P", "PT" and dangling numbers ("PT5") silently.
	if s == "" || !strings.ContainsAny(s[len(s)-1:], "YMWDHS") {
		return Period{}, fmt.Errorf("parse period %q: missing designator", s)
	}
	d, err := duration.Parse(s)
	if err != nil {
		return Period{}, fmt.Errorf("parse period %q: %w", s, err)
	}
	if d.Negative {
		return Period{}, fmt.Errorf("parse period %q: negative periods are not allowed", s)
	}

	p := Period{raw: s}
	for _, c := range []struct {
		name string
		v    float64
		dst  *int
		mul  int
	}{
		{"years", d.Years, &p.years, 1},
		{"months", d.Months, &p.months, 1},
		{"weeks", d.Weeks, &p.days, 7},
		{"days", d.Days, &p.days, 1},
	} {
		if c.v != math.Trunc(c.v) {
			return Period{}, fmt.Errorf("parse period %q: fractional %s are not supported", s, c.name)
		}
		if c.v > maxCalendarUnits {
			return Period{}, fmt.Errorf("parse period %q: out of range", s)
		}
		*c.dst += int(c.v) * c.mul
	}
	if d.Hours != math.Trunc(d.Hours) || d.Minutes != math.Trunc(d.Minutes) {
		return Period{}, fmt.Errorf("parse period %q: only seconds may be fractional", s)
	}

	// Summed in float so an oversized component cannot wrap int64.
	nanos := d.Hours*float64(time.Hour) +
		d.Minutes*float64(time.Minute) +
		d.Seconds*float64(time.Second)
	if nanos >= math.MaxInt64 {
		return Period{}, fmt.Errorf("parse period %q: out of range", s)
	}
	p.clock = time.Duration(nanos)

	if ref := time.Unix(0, 0).UTC(); p.AddTo(ref).Before(ref) {
		return Period{}, fmt.Errorf("parse period %q: out of range", s)
	}
	return p, nil
}

// maxCalendarUnits caps year, month, week and day components. Larger values
// leave the range time.Time can represent.
const maxCalendarUnits = 1_000_000

// MustParsePeriod is ParsePeriod for literals; it panics on error.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

// AddTo returns t shifted forward by the period.
func (p Period) AddTo(t time.Time) time.Time {
	if p.years != 0 || p.months != 0 || p.days != 0 {
		t = t.AddDate(p.years, p.months, p.days)
	}
	return t.Add(p.clock)
}

// IsZero reports whether the period moves time at all.
func (p Period) IsZero() bool {
	return p.years == 0 && p.months == 0 && p.days == 0 && p.clock == 0
}

func (p Period) String() string { return p.raw }
