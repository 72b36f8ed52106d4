package ir

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Span is a calendar-aware duration.
//
// Years, months and days are applied with calendar arithmetic (time.AddDate),
// so "1mo" from January 31st lands on March 2nd or 3rd the way AddDate does,
// and a day is a calendar day rather than 24 hours across DST changes.
// Clock is added afterwards as an exact duration.
type Span struct {
	Years  int           `json:"years,omitempty"`
	Months int           `json:"months,omitempty"`
	Days   int           `json:"days,omitempty"`
	Clock  time.Duration `json:"clock,omitempty"`
}

// DaysSpan returns a span of n calendar days.
func DaysSpan(n int) Span { return Span{Days: n} }

// ClockSpan returns a span of an exact duration.
func ClockSpan(d time.Duration) Span { return Span{Clock: d} }

// IsZero reports whether the span adds nothing.
func (s Span) IsZero() bool {
	return s.Years == 0 && s.Months == 0 && s.Days == 0 && s.Clock == 0
}

// Positive reports whether adding the span always moves time forward.
func (s Span) Positive() bool {
	if s.Years < 0 || s.Months < 0 || s.Days < 0 || s.Clock < 0 {
		return false
	}
	return !s.IsZero()
}

// AddTo returns t advanced by the span.
func (s Span) AddTo(t time.Time) time.Time {
	if s.Years != 0 || s.Months != 0 || s.Days != 0 {
		t = t.AddDate(s.Years, s.Months, s.Days)
	}
	return t.Add(s.Clock)
}

// String renders the span in the syntax accepted by ParseSpan.
func (s Span) String() string {
	if s.IsZero() {
		return "0s"
	}
	var b strings.Builder
	if s.Years != 0 {
		fmt.Fprintf(&b, "%dy", s.Years)
	}
	if s.Months != 0 {
		fmt.Fprintf(&b, "%dmo", s.Months)
	}
	days := s.Days
	if days != 0 && days%7 == 0 {
		fmt.Fprintf(&b, "%dw", days/7)
		days = 0
	}
	if days != 0 {
		fmt.Fprintf(&b, "%dd", days)
	}
	if s.Clock != 0 {
		b.WriteString(s.Clock.String())
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (s Span) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Span) UnmarshalText(text []byte) error {
	parsed, err := ParseSpan(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSpan parses a span such as "3d", "2w", "1mo", "1y2mo", "36h" or
// "1d12h30m".
//
// Calendar units are y (years), mo (months), w (weeks) and d (days). Anything
// after the calendar units is parsed with time.ParseDuration, so h, m, s, ms,
// us and ns are accepted with their usual meaning.
func ParseSpan(s string) (Span, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return Span{}, fmt.Errorf("empty span")
	}

	var span Span
	rest := in
	for rest != "" {
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 {
			return Span{}, fmt.Errorf("invalid span %q: expected number at %q", in, rest)
		}
		unitStart := i
		for i < len(rest) && (rest[i] < '0' || rest[i] > '9') {
			i++
		}
		unit := rest[unitStart:i]

		n, err := strconv.Atoi(rest[:unitStart])
		if err != nil {
			return Span{}, fmt.Errorf("invalid span %q: %w", in, err)
		}

		switch unit {
		case "y":
			span.Years += n
		case "mo":
			span.Months += n
		case "w":
			span.Days += 7 * n
		case "d":
			span.Days += n
		default:
			d, err := time.ParseDuration(rest)
			if err != nil {
				return Span{}, fmt.Errorf("invalid span %q: %w", in, err)
			}
			span.Clock += d
			return span, nil
		}
		rest = rest[i:]
	}
	return span, nil
}
