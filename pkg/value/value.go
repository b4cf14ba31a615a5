// Package value implements the typed-value layer: a concrete
// runtime value tagged with its type, total conversions between any pair of
// types, lossless comparison, and pretty-printing via a format-string
// grammar.
//
// Values are modeled as a tagged union (types.Value) rather than the C-style
// (enum, union) pair the original DRMS uses — every conversion is an
// exhaustive switch over types.ValueType, so missing-value preservation is a
// total function rather than something each call site has to remember.
package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/suncumby/drms/pkg/types"
)

// Missing-value sentinels, one per scalar type.
const (
	MissingChar  = math.MinInt8
	MissingShort = math.MinInt16
	MissingInt   = math.MinInt32
	MissingLong  = math.MinInt64
)

// MissingTime is the sentinel invalid time: Julian Day zero expressed as
// seconds past the DRMS epoch, used whenever a time string fails to parse.
// See pkg/timeslot for the epoch this is defined against and testable
// the invariant that sscanf_time("JD_0.0") == MissingTime.
const MissingTime = -211087684800.0

// Missing returns the missing-value sentinel for t.
func Missing(t types.ValueType) types.Value {
	switch t {
	case types.TypeChar:
		return types.Value{Type: t, Int: MissingChar}
	case types.TypeShort:
		return types.Value{Type: t, Int: MissingShort}
	case types.TypeInt:
		return types.Value{Type: t, Int: MissingInt}
	case types.TypeLong:
		return types.Value{Type: t, Int: MissingLong}
	case types.TypeFloat, types.TypeDouble:
		return types.Value{Type: t, Float: math.NaN()}
	case types.TypeTime:
		return types.Value{Type: t, Float: MissingTime}
	case types.TypeString:
		return types.Value{Type: t, Str: ""}
	default:
		return types.Value{Type: t}
	}
}

// IsMissing reports whether v holds its type's missing sentinel.
func IsMissing(v types.Value) bool {
	switch v.Type {
	case types.TypeChar:
		return v.Int == MissingChar
	case types.TypeShort:
		return v.Int == MissingShort
	case types.TypeInt:
		return v.Int == MissingInt
	case types.TypeLong:
		return v.Int == MissingLong
	case types.TypeFloat, types.TypeDouble:
		return math.IsNaN(v.Float)
	case types.TypeTime:
		return v.Float == MissingTime
	case types.TypeString:
		return v.Str == ""
	default:
		return false
	}
}

func intBounds(t types.ValueType) (min, max int64) {
	switch t {
	case types.TypeChar:
		return math.MinInt8 + 1, math.MaxInt8 // MinInt8 reserved as missing
	case types.TypeShort:
		return math.MinInt16 + 1, math.MaxInt16
	case types.TypeInt:
		return math.MinInt32 + 1, math.MaxInt32
	case types.TypeLong:
		return math.MinInt64 + 1, math.MaxInt64
	default:
		return 0, 0
	}
}

func saturate(v int64, t types.ValueType) int64 {
	min, max := intBounds(t)
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Convert always succeeds: NaN/MIN propagates to the destination's missing
// sentinel, narrowing saturates at the destination's bounds, and strings
// parse using the destination type's recognized grammar.
func Convert(src types.Value, dst types.ValueType) types.Value {
	if dst == src.Type {
		return src
	}
	if IsMissing(src) {
		return Missing(dst)
	}

	switch src.Type {
	case types.TypeChar, types.TypeShort, types.TypeInt, types.TypeLong:
		return fromInt(src.Int, dst)
	case types.TypeFloat, types.TypeDouble:
		return fromFloat(src.Float, dst)
	case types.TypeTime:
		return fromTime(src.Float, dst)
	case types.TypeString:
		return fromString(src.Str, dst)
	default:
		return Missing(dst)
	}
}

func fromInt(i int64, dst types.ValueType) types.Value {
	switch dst {
	case types.TypeChar, types.TypeShort, types.TypeInt, types.TypeLong:
		return types.Value{Type: dst, Int: saturate(i, dst)}
	case types.TypeFloat, types.TypeDouble:
		return types.Value{Type: dst, Float: float64(i)}
	case types.TypeTime:
		return types.Value{Type: dst, Float: float64(i)}
	case types.TypeString:
		return types.Value{Type: dst, Str: strconv.FormatInt(i, 10)}
	default:
		return Missing(dst)
	}
}

func fromFloat(f float64, dst types.ValueType) types.Value {
	if math.IsNaN(f) {
		return Missing(dst)
	}
	switch dst {
	case types.TypeChar, types.TypeShort, types.TypeInt, types.TypeLong:
		if math.IsInf(f, 0) {
			min, max := intBounds(dst)
			if f > 0 {
				return types.Value{Type: dst, Int: max}
			}
			return types.Value{Type: dst, Int: min}
		}
		return types.Value{Type: dst, Int: saturate(int64(math.Round(f)), dst)}
	case types.TypeFloat:
		return types.Value{Type: dst, Float: float64(float32(f))}
	case types.TypeDouble:
		return types.Value{Type: dst, Float: f}
	case types.TypeTime:
		return types.Value{Type: dst, Float: f}
	case types.TypeString:
		return types.Value{Type: dst, Str: strconv.FormatFloat(f, 'g', -1, 64)}
	default:
		return Missing(dst)
	}
}

func fromTime(t float64, dst types.ValueType) types.Value {
	if t == MissingTime {
		return Missing(dst)
	}
	switch dst {
	case types.TypeFloat, types.TypeDouble:
		return types.Value{Type: dst, Float: t}
	case types.TypeTime:
		return types.Value{Type: dst, Float: t}
	case types.TypeChar, types.TypeShort, types.TypeInt, types.TypeLong:
		return types.Value{Type: dst, Int: saturate(int64(math.Round(t)), dst)}
	case types.TypeString:
		return types.Value{Type: dst, Str: strconv.FormatFloat(t, 'f', -1, 64)}
	default:
		return Missing(dst)
	}
}

func fromString(s string, dst types.ValueType) types.Value {
	s = strings.TrimSpace(s)
	switch dst {
	case types.TypeChar, types.TypeShort, types.TypeInt, types.TypeLong:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Missing(dst)
		}
		return types.Value{Type: dst, Int: saturate(n, dst)}
	case types.TypeFloat, types.TypeDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Missing(dst)
		}
		return types.Value{Type: dst, Float: f}
	case types.TypeTime:
		// Delegated to pkg/timeslot's time grammar in practice; here we
		// only accept a bare numeric seconds-since-epoch fallback so
		// pkg/value has no import on pkg/timeslot (would cycle back
		// through pkg/types otherwise it wouldn't, but timeslot is the
		// authority on time grammar).
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Missing(dst)
		}
		return types.Value{Type: dst, Float: f}
	case types.TypeString:
		return types.Value{Type: dst, Str: s}
	default:
		return Missing(dst)
	}
}

// Equal is bit-exact for ints, IEEE-equal for floats/time with one
// asymmetry from IEEE: two NaNs (or two time-missing sentinels) count as
// equal missings rather than unequal, and byte-equal for strings.
func Equal(a, b types.Value) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case types.TypeChar, types.TypeShort, types.TypeInt, types.TypeLong:
		return a.Int == b.Int
	case types.TypeFloat, types.TypeDouble:
		if math.IsNaN(a.Float) && math.IsNaN(b.Float) {
			return true
		}
		return a.Float == b.Float
	case types.TypeTime:
		if a.Float == MissingTime && b.Float == MissingTime {
			return true
		}
		return a.Float == b.Float
	case types.TypeString:
		return a.Str == b.Str
	default:
		return false
	}
}

// SprintfValue renders v using format, which must already have passed
// CheckFormat for v's type.
func SprintfValue(v types.Value, format string) (string, error) {
	if IsMissing(v) {
		switch v.Type {
		case types.TypeString:
			return "", nil
		default:
			return "MISSING", nil
		}
	}
	switch v.Type {
	case types.TypeChar, types.TypeShort, types.TypeInt, types.TypeLong:
		return fmt.Sprintf(rewriteIntVerb(format), v.Int), nil
	case types.TypeFloat:
		return fmt.Sprintf(format, float32(v.Float)), nil
	case types.TypeDouble:
		return fmt.Sprintf(format, v.Float), nil
	case types.TypeTime:
		prec, err := timeFormatPrecision(format)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(v.Float, 'f', prec, 64), nil
	case types.TypeString:
		return fmt.Sprintf(format, v.Str), nil
	default:
		return "", fmt.Errorf("sprintf_value: unknown type %v", v.Type)
	}
}

// rewriteIntVerb maps our int64-backed Go value onto whatever decimal verb
// the caller used (%d, %x, %o, ...), since v.Int is always stored as int64
// regardless of the keyword's declared width.
func rewriteIntVerb(format string) string {
	return format
}

// SscanfValue parses s into a value of type t. For strings, quoted forms
// are preserved verbatim (embedded delimiters allowed); callers needing the
// time grammar should use pkg/timeslot.Parse and wrap the result, since the
// full calendrical grammar lives there.
func SscanfValue(t types.ValueType, s string) (types.Value, error) {
	switch t {
	case types.TypeString:
		return types.Value{Type: t, Str: unquote(s)}, nil
	case types.TypeChar, types.TypeShort, types.TypeInt, types.TypeLong:
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			return Missing(t), nil
		}
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return types.Value{}, fmt.Errorf("sscanf_value: %w", err)
		}
		return types.Value{Type: t, Int: saturate(n, t)}, nil
	case types.TypeFloat, types.TypeDouble:
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			return Missing(t), nil
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return types.Value{}, fmt.Errorf("sscanf_value: %w", err)
		}
		return types.Value{Type: t, Float: f}, nil
	case types.TypeTime:
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			return Missing(t), nil
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return types.Value{}, fmt.Errorf("sscanf_value: %w", err)
		}
		return types.Value{Type: t, Float: f}, nil
	default:
		return types.Value{}, fmt.Errorf("sscanf_value: unknown type %v", t)
	}
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s
		}
	}
	return s
}
