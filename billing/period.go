package billing

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - One calendar month billing cycle ("YYYY-MM")
// =============================================================================

// Period identifies a billing month. The zero value is invalid.
type Period struct {
	Year  int
	Month time.Month
}

const periodLayout = "2006-01"

// ParsePeriod parses a "YYYY-MM" string.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse(periodLayout, s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// MustParsePeriod is ParsePeriod for constants and tests.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PeriodOf returns the period containing t (in UTC).
func PeriodOf(t time.Time) Period {
	return PeriodIn(t, time.UTC)
}

// PeriodIn returns the period containing t on the wall clock of loc. A nil
// loc means UTC.
func PeriodIn(t time.Time, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return Period{Year: t.Year(), Month: t.Month()}
}

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

func (p Period) String() string {
	if p.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Start is midnight UTC on the first day of the month.
func (p Period) Start() time.Time { return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC) }

// StartIn is midnight on the first day of the month on the wall clock of loc.
func (p Period) StartIn(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, loc)
}

// End is the last instant of the month.
func (p Period) End() time.Time { return p.Start().AddDate(0, 1, 0).Add(-time.Nanosecond) }

func (p Period) Next() Period     { return PeriodOf(p.Start().AddDate(0, 1, 0)) }
func (p Period) Previous() Period { return PeriodOf(p.Start().AddDate(0, -1, 0)) }

func (p Period) Before(o Period) bool { return p.Start().Before(o.Start()) }
func (p Period) After(o Period) bool  { return p.Start().After(o.Start()) }

func (p Period) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Period) UnmarshalText(b []byte) error {
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock returns the current time. Injected so the future-period guard is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns T.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }
