package runtime

import (
	"fmt"
	"strconv"
	"strings"

	"mqlbt/internal/value"
)

// Format renders a printf-style format string. Length modifiers (h, l, ll,
// I32, I64) are accepted and ignored; each argument is converted to the kind
// its verb asks for. Missing arguments render as zero values.
func Format(format string, args []value.Value) string {
	var b strings.Builder
	next := 0
	take := func() value.Value {
		if next < len(args) {
			next++
			return args[next-1]
		}
		return value.Unset
	}
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		start, j := i, i+1
		for j < len(format) && strings.IndexByte("-+ #0", format[j]) >= 0 {
			j++
		}
		spec := format[i:j]
		for j < len(format) && (isDigit(format[j]) || format[j] == '.' || format[j] == '*') {
			if format[j] == '*' {
				spec += strconv.FormatInt(take().Int64(), 10)
			} else {
				spec += string(format[j])
			}
			j++
		}
		j = skipModifier(format, j)
		if j >= len(format) {
			b.WriteString(format[i:])
			break
		}
		verb := format[j]
		i = j
		switch verb {
		case '%':
			b.WriteByte('%')
		case 'd', 'i':
			fmt.Fprintf(&b, spec+"d", take().Int64())
		case 'u':
			fmt.Fprintf(&b, spec+"d", unsigned(take()))
		case 'x', 'X', 'o':
			fmt.Fprintf(&b, spec+string(verb), unsigned(take()))
		case 'c':
			fmt.Fprintf(&b, spec+"c", rune(take().Int64()))
		case 'f', 'F', 'e', 'E':
			fmt.Fprintf(&b, spec+string(verb), take().Float64())
		case 'g', 'G':
			if !strings.Contains(spec, ".") {
				spec += ".6"
			}
			fmt.Fprintf(&b, spec+string(verb), take().Float64())
		case 's':
			fmt.Fprintf(&b, spec+"s", take().String())
		default:
			b.WriteString(format[start : j+1])
		}
	}
	return b.String()
}

// unsigned reinterprets v at its own width, so -1 as int prints as 2^32-1.
func unsigned(v value.Value) uint64 {
	u := v.Uint64()
	if v.Kind().IsInteger() && v.Kind().Bits() <= 32 {
		u = uint64(uint32(u))
	}
	return u
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func skipModifier(format string, j int) int {
	for _, m := range []string{"I64", "I32", "ll", "l", "h"} {
		if strings.HasPrefix(format[j:], m) {
			return j + len(m)
		}
	}
	return j
}
