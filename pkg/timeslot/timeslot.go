// Package timeslot implements the time-parsing contract consumed by the
// slotting logic and the slot-index arithmetic for slotted
// keywords.
//
// Full calendrical/Julian-day time parsing is a well-studied
// sub-library we only consume the contract of; this package implements the
// narrow grammar the original timeio.c exposes (calendar-clock form with an
// explicit zone tag) rather than re-deriving a general astronomical time
// library.
package timeslot

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/suncumby/drms/pkg/value"
)

// Epoch is the DRMS time epoch: 1977.01.01_00:00:00_TAI, expressed as a Go
// time in UTC for calendar arithmetic convenience. Parsed times are
// returned as seconds past this epoch, in the TAI timescale.
var Epoch = time.Date(1977, time.January, 1, 0, 0, 0, 0, time.UTC)

// leapTable holds the whole-second TAI-UTC offset introduced at each leap
// second boundary (UTC date the leap took effect -> cumulative offset).
// A fixed, necessarily-finite table: new leap seconds announced after this
// table was written are not reflected, same limitation as the original
// timeio.c carries until its table is regenerated.
var leapTable = []struct {
	at     time.Time
	offset float64
}{
	{time.Date(1977, 1, 1, 0, 0, 0, 0, time.UTC), 16},
	{time.Date(1978, 1, 1, 0, 0, 0, 0, time.UTC), 17},
	{time.Date(1979, 1, 1, 0, 0, 0, 0, time.UTC), 18},
	{time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC), 19},
	{time.Date(1981, 7, 1, 0, 0, 0, 0, time.UTC), 20},
	{time.Date(1982, 7, 1, 0, 0, 0, 0, time.UTC), 21},
	{time.Date(1983, 7, 1, 0, 0, 0, 0, time.UTC), 22},
	{time.Date(1985, 7, 1, 0, 0, 0, 0, time.UTC), 23},
	{time.Date(1988, 1, 1, 0, 0, 0, 0, time.UTC), 24},
	{time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC), 25},
	{time.Date(1991, 1, 1, 0, 0, 0, 0, time.UTC), 26},
	{time.Date(1992, 7, 1, 0, 0, 0, 0, time.UTC), 27},
	{time.Date(1993, 7, 1, 0, 0, 0, 0, time.UTC), 28},
	{time.Date(1994, 7, 1, 0, 0, 0, 0, time.UTC), 29},
	{time.Date(1996, 1, 1, 0, 0, 0, 0, time.UTC), 30},
	{time.Date(1997, 7, 1, 0, 0, 0, 0, time.UTC), 31},
	{time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC), 32},
	{time.Date(2006, 1, 1, 0, 0, 0, 0, time.UTC), 33},
	{time.Date(2009, 1, 1, 0, 0, 0, 0, time.UTC), 34},
	{time.Date(2012, 7, 1, 0, 0, 0, 0, time.UTC), 35},
	{time.Date(2015, 7, 1, 0, 0, 0, 0, time.UTC), 36},
	{time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), 37},
}

// TAIAdjustment returns the signed delta to apply to a parsed civil-time
// value in zone to convert it to TAI seconds.
func TAIAdjustment(t time.Time, zone string) float64 {
	switch strings.ToUpper(zone) {
	case "TAI":
		return 0
	case "UTC", "Z", "":
		return leapSecondsAt(t)
	case "TDT", "TT":
		return leapSecondsAt(t) - 32.184
	default:
		if off, ok := numericZoneOffset(zone); ok {
			return leapSecondsAt(t) + off
		}
		if off, ok := militaryZoneOffset(zone); ok {
			return leapSecondsAt(t) + off
		}
		return leapSecondsAt(t)
	}
}

func leapSecondsAt(t time.Time) float64 {
	acc := 0.0
	for _, e := range leapTable {
		if !t.Before(e.at) {
			acc = e.offset
		}
	}
	return acc
}

// numericZoneOffset parses a "+HHMM"/"-HHMM" zone tag, returning seconds to
// add to convert local time to UTC.
func numericZoneOffset(zone string) (float64, bool) {
	if len(zone) != 5 || (zone[0] != '+' && zone[0] != '-') {
		return 0, false
	}
	hh, err1 := strconv.Atoi(zone[1:3])
	mm, err2 := strconv.Atoi(zone[3:5])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	secs := float64(hh*3600 + mm*60)
	if zone[0] == '-' {
		secs = -secs
	}
	// The tag names the LOCAL offset from UTC; to go local->UTC we
	// subtract it, i.e. the adjustment applied is the negation.
	return -secs, true
}

var militaryZones = map[byte]int{
	'A': 1, 'B': 2, 'C': 3, 'D': 4, 'E': 5, 'F': 6, 'G': 7, 'H': 8, 'I': 9,
	'K': 10, 'L': 11, 'M': 12,
	'N': -1, 'O': -2, 'P': -3, 'Q': -4, 'R': -5, 'S': -6, 'T': -7, 'U': -8,
	'V': -9, 'W': -10, 'X': -11, 'Y': -12, 'Z': 0,
}

func militaryZoneOffset(zone string) (float64, bool) {
	if len(zone) != 1 {
		return 0, false
	}
	h, ok := militaryZones[strings.ToUpper(zone)[0]]
	if !ok {
		return 0, false
	}
	return float64(-h * 3600), true
}

// Parse accepts the calendar-clock form "YYYY.MM.DD_HH:MM:SS_ZONE" (zone
// optional, defaults to TAI) and the sentinel "JD_0.0", returning seconds
// past Epoch in TAI. Any other malformed input also returns
// value.MissingTime, not an error, since a
// missing time is itself a valid representable value.
func Parse(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "JD_0.0") || strings.EqualFold(s, "MISSING") {
		return value.MissingTime
	}

	parts := strings.Split(s, "_")
	datetime := parts[0]
	zone := "TAI"
	if len(parts) >= 3 {
		// "YYYY.MM.DD_HH:MM:SS_ZONE"
		datetime = parts[0] + "_" + parts[1]
		zone = parts[2]
	} else if len(parts) == 2 {
		datetime = parts[0] + "_" + parts[1]
	}

	t, ok := parseCalendarClock(datetime)
	if !ok {
		return value.MissingTime
	}

	secs := t.Sub(Epoch).Seconds()
	secs += TAIAdjustment(t, zone)
	return secs
}

func parseCalendarClock(s string) (time.Time, bool) {
	layouts := []string{
		"2006.01.02_15:04:05",
		"2006.01.02_15:04",
		"2006.01.02",
	}
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Format renders t (seconds past Epoch, TAI) back to the calendar-clock
// form at the given seconds-field precision (0..9), used by
// value.SprintfValue for TypeTime.
func Format(t float64, precision int) string {
	if t == value.MissingTime {
		return "MISSING"
	}
	whole := math.Floor(t)
	frac := t - whole
	civil := Epoch.Add(time.Duration(whole) * time.Second)
	base := civil.Format("2006.01.02_15:04:05")
	if precision <= 0 {
		return base + "_TAI"
	}
	fracStr := strconv.FormatFloat(frac, 'f', precision, 64)
	return base + fracStr[1:] + "_TAI"
}

// SlotIndex computes floor((v - base + round/2) / step), the quantization
// formula for a slotted keyword.
func SlotIndex(v, base, step, round float64) int64 {
	if step == 0 {
		return 0
	}
	return int64(math.Floor((v - base + round/2) / step))
}

// SlotValue is the inverse of SlotIndex: the canonical value of a slot.
func SlotValue(index int64, base, step float64) float64 {
	return base + float64(index)*step
}

// CarringtonBase is the fixed epoch used by the SlotCarrington flavor:
// Carrington rotation 1 began 1853.11.09, expressed in DRMS seconds.
var CarringtonBase = Parse("1853.11.09_00:00:00_TAI")

// ErrBadTimeFormat is returned by Validate for an ancillary constant whose
// declared type cannot hold a slot base/epoch value.
var ErrBadTimeFormat = fmt.Errorf("value must be double, float, time or string")
