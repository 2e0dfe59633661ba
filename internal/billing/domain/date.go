package billing

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"math"
	"time"
)

// DateLayout is the wire and storage layout of a civil date.
const DateLayout = "2006-01-02"

// Date is a calendar date without time of day or zone.
// The zero value is "no date".
type Date struct {
	t time.Time
}

// NewDate builds a date. Out of range days roll over like time.Date.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the civil date of t as seen in t's own location.
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses a strict YYYY-MM-DD string.
func ParseDate(value string) (Date, error) {
	if len(value) != len(DateLayout) {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return Date{t: t}, nil
}

// MustParseDate is ParseDate for literals; it panics on malformed input.
func MustParseDate(value string) Date {
	d, err := ParseDate(value)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether d is the zero date.
func (d Date) IsZero() bool { return d.t.IsZero() }

// Year returns the year.
func (d Date) Year() int { return d.t.Year() }

// Month returns the month.
func (d Date) Month() time.Month { return d.t.Month() }

// Day returns the day of month.
func (d Date) Day() int { return d.t.Day() }

// AddDays returns d shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	if d.IsZero() {
		return d
	}
	return Date{t: d.t.AddDate(0, 0, n)}
}

// Before reports whether d is strictly before other.
func (d Date) Before(other Date) bool { return d.t.Before(other.t) }

// After reports whether d is strictly after other.
func (d Date) After(other Date) bool { return d.t.After(other.t) }

// Equal reports whether both dates name the same day.
func (d Date) Equal(other Date) bool { return d.t.Equal(other.t) }

// Time returns midnight UTC of d.
func (d Date) Time() time.Time { return d.t }

// String formats d as YYYY-MM-DD, or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// noon anchors the date at 12:00 UTC so day arithmetic never sees a DST jump.
func (d Date) noon() time.Time {
	return time.Date(d.t.Year(), d.t.Month(), d.t.Day(), 12, 0, 0, 0, time.UTC)
}

// DaysBetween returns the signed number of calendar days a - b.
func DaysBetween(a, b Date) int {
	return int(math.Round(a.noon().Sub(b.noon()).Hours() / 24))
}

// MarshalJSON encodes the date as "YYYY-MM-DD" or null.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON decodes "YYYY-MM-DD" or null. Timestamps are rejected.
func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("%w: %s", ErrInvalidDate, string(data))
	}
	parsed, err := ParseDate(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Scan implements sql.Scanner for DATE columns.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = DateOf(v)
		return nil
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case []byte:
		parsed, err := ParseDate(string(v))
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalidDate, src)
	}
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}
