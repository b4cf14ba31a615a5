package value

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suncumby/drms/pkg/types"
)

// CheckFormat validates a keyword's format string against its declared
// type: exactly one conversion specifier, no unsigned
// conversions, no pointer or Unicode conversions, no bare "l" length
// modifier. Time-type formats are a signed single digit giving the
// seconds-field precision (-9..9). Mismatch is a validation error —
// callers treat it as a warning at parse time (not fatal at runtime), per
// an unrecognized keyword.
func CheckFormat(t types.ValueType, format string) error {
	if t == types.TypeTime {
		return checkTimeFormat(format)
	}

	specs := findSpecifiers(format)
	if len(specs) != 1 {
		return fmt.Errorf("format %q must contain exactly one conversion specifier, found %d", format, len(specs))
	}
	spec := specs[0]

	if strings.ContainsAny(spec.length, "l") && !strings.Contains(spec.length, "ll") {
		return fmt.Errorf("format %q: bare 'l' length modifier is platform-ambiguous", format)
	}
	if strings.ContainsRune("uXp", spec.verb) {
		return fmt.Errorf("format %q: unsigned/pointer conversions not allowed", format)
	}
	if spec.verb == 'C' || spec.verb == 'S' {
		return fmt.Errorf("format %q: unicode conversions not allowed", format)
	}

	switch t {
	case types.TypeChar, types.TypeShort, types.TypeInt, types.TypeLong:
		if !strings.ContainsRune("dioxX", spec.verb) {
			return fmt.Errorf("format %q: verb %q not compatible with integer type", format, spec.verb)
		}
	case types.TypeFloat, types.TypeDouble:
		if !strings.ContainsRune("eEfFgG", spec.verb) {
			return fmt.Errorf("format %q: verb %q not compatible with floating type", format, spec.verb)
		}
	case types.TypeString:
		if spec.verb != 's' {
			return fmt.Errorf("format %q: verb %q not compatible with string type", format, spec.verb)
		}
	default:
		return fmt.Errorf("format %q: unsupported type %v", format, t)
	}
	return nil
}

func checkTimeFormat(format string) error {
	_, err := timeFormatPrecision(format)
	return err
}

// timeFormatPrecision parses a time format: a signed single digit, -9..9.
func timeFormatPrecision(format string) (int, error) {
	format = strings.TrimSpace(format)
	n, err := strconv.Atoi(format)
	if err != nil {
		return 0, fmt.Errorf("time format %q must be a signed single digit (-9..9)", format)
	}
	if n < -9 || n > 9 {
		return 0, fmt.Errorf("time format %q out of range -9..9", format)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

type specifier struct {
	flags  string
	length string
	verb   rune
}

// findSpecifiers is a small hand-rolled scanner for printf-style conversion
// specifiers (no regexp dependency needed for a grammar this narrow).
func findSpecifiers(format string) []specifier {
	var out []specifier
	runes := []rune(format)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '%' {
			continue
		}
		if i+1 < len(runes) && runes[i+1] == '%' {
			i++
			continue
		}
		j := i + 1
		var flags, length strings.Builder
		for j < len(runes) && strings.ContainsRune("-+ 0#", runes[j]) {
			flags.WriteRune(runes[j])
			j++
		}
		for j < len(runes) && (runes[j] >= '0' && runes[j] <= '9') {
			j++
		}
		if j < len(runes) && runes[j] == '.' {
			j++
			for j < len(runes) && runes[j] >= '0' && runes[j] <= '9' {
				j++
			}
		}
		for j < len(runes) && strings.ContainsRune("hlLqjzt", runes[j]) {
			length.WriteRune(runes[j])
			j++
		}
		if j >= len(runes) {
			break
		}
		out = append(out, specifier{flags: flags.String(), length: length.String(), verb: runes[j]})
		i = j
	}
	return out
}
