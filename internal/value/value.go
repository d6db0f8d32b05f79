package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Value is an immutable script value. Integer kinds keep their canonical
// 64-bit form (see normalize); float keeps a float32-representable double.
type Value struct {
	kind Kind
	bits uint64
	f    float64
	s    string
	obj  *Instance
	arr  *ArrayValue
}

// Unset is the value of a variable or field that was never assigned.
var Unset = Value{}

// Null is the NULL object reference.
var Null = Value{kind: Object}

// NewInteger builds an integer value of kind k from raw bits, wrapping to
// the kind's width.
func NewInteger(k Kind, x uint64) Value {
	return Value{kind: k, bits: normalize(k, x)}
}

func NewBool(b bool) Value {
	if b {
		return Value{kind: Bool, bits: 1}
	}
	return Value{kind: Bool}
}

func NewInt(x int64) Value      { return NewInteger(Int, uint64(x)) }
func NewUInt(x uint64) Value    { return NewInteger(UInt, x) }
func NewLong(x int64) Value     { return NewInteger(Long, uint64(x)) }
func NewULong(x uint64) Value   { return NewInteger(ULong, x) }
func NewChar(x int64) Value     { return NewInteger(Char, uint64(x)) }
func NewColor(x uint64) Value   { return NewInteger(Color, x) }
func NewDatetime(x int64) Value { return NewInteger(Datetime, uint64(x)) }

// NewFloat rounds x through 32-bit representation.
func NewFloat(x float64) Value {
	return Value{kind: Float, f: float64(float32(x))}
}

func NewDouble(x float64) Value { return Value{kind: Double, f: x} }
func NewString(s string) Value  { return Value{kind: String, s: s} }

// NewObject wraps an object reference; a nil object is Null.
func NewObject(o *Instance) Value { return Value{kind: Object, obj: o} }

// NewArray wraps an array reference.
func NewArray(a *ArrayValue) Value { return Value{kind: Array, arr: a} }

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// IsUnset reports whether the value was never assigned.
func (v Value) IsUnset() bool { return v.kind == Invalid }

// IsNull reports whether v is a NULL object reference.
func (v Value) IsNull() bool { return v.kind == Object && v.obj == nil }

// Object returns the referenced object, or nil.
func (v Value) Object() *Instance { return v.obj }

// Array returns the referenced array, or nil.
func (v Value) Array() *ArrayValue { return v.arr }

// Str returns the raw string of a string value.
func (v Value) Str() string { return v.s }

// Int64 returns the value as a signed 64-bit integer.
func (v Value) Int64() int64 {
	switch {
	case v.kind.IsInteger():
		return int64(v.bits)
	case v.kind.IsFloat():
		return int64(floatBits(v.f))
	case v.kind == String:
		if n, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64); err == nil {
			return n
		}
		return int64(floatBits(parseNumber(v.s)))
	}
	return 0
}

// Uint64 returns the value's integer bits.
func (v Value) Uint64() uint64 {
	return uint64(v.Int64())
}

// Float64 returns the value as a double.
func (v Value) Float64() float64 {
	switch {
	case v.kind.IsInteger():
		if v.kind.Signed() {
			return float64(int64(v.bits))
		}
		return float64(v.bits)
	case v.kind.IsFloat():
		return v.f
	case v.kind == String:
		return parseNumber(v.s)
	}
	return 0
}

// Truthy reports the boolean interpretation: non-zero, non-empty, non-NULL.
func (v Value) Truthy() bool {
	switch {
	case v.kind.IsInteger():
		return v.bits != 0
	case v.kind.IsFloat():
		return v.f != 0
	case v.kind == String:
		return v.s != ""
	case v.kind == Object:
		return v.obj != nil
	case v.kind == Array:
		return v.arr != nil
	}
	return false
}

// String renders the value the way Print shows it.
func (v Value) String() string {
	switch v.kind {
	case Invalid, Void:
		return ""
	case Bool:
		if v.bits != 0 {
			return "true"
		}
		return "false"
	case Color:
		return fmt.Sprintf("%d,%d,%d", v.bits&0xff, v.bits>>8&0xff, v.bits>>16&0xff)
	case Datetime:
		return FormatTime(int64(v.bits))
	case Float:
		return strconv.FormatFloat(v.f, 'g', -1, 32)
	case Double:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case String:
		return v.s
	case Object:
		if v.obj == nil {
			return "NULL"
		}
		return v.obj.Class
	case Array:
		return "array"
	}
	if v.kind.Signed() {
		return strconv.FormatInt(int64(v.bits), 10)
	}
	return strconv.FormatUint(v.bits, 10)
}

// GoString makes test failures readable.
func (v Value) GoString() string {
	return fmt.Sprintf("%s(%s)", v.kind, v.String())
}

// Equal reports whether v and o have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch {
	case v.kind.IsInteger():
		return v.bits == o.bits
	case v.kind.IsFloat():
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case v.kind == String:
		return v.s == o.s
	case v.kind == Object:
		return v.obj == o.obj
	case v.kind == Array:
		return v.arr == o.arr
	}
	return true
}

// FormatTime renders seconds since the epoch as yyyy.mm.dd hh:mi:ss in UTC.
func FormatTime(sec int64) string {
	return time.Unix(sec, 0).UTC().Format("2006.01.02 15:04:05")
}

// floatBits converts a truncated double to integer bits, wrapping modulo
// 2^64 instead of saturating. NaN and infinities convert to zero.
func floatBits(f float64) uint64 {
	t := math.Trunc(f)
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0
	}
	const two63 = 1 << 63
	if t >= -two63 && t < two63 {
		return uint64(int64(t))
	}
	m := math.Mod(t, 2*two63)
	if m < 0 {
		m += 2 * two63
	}
	if m >= two63 {
		return uint64(int64(m - 2*two63))
	}
	return uint64(m)
}

// parseNumber reads the leading number of s, returning 0 when there is none.
func parseNumber(s string) float64 {
	if f, err := ParseNumber(s); err == nil {
		return f
	}
	s = strings.TrimSpace(s)
	end := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			end = i + 1
		case c == '.' || ((c == '+' || c == '-') && (i == 0 || s[i-1] == 'e' || s[i-1] == 'E')):
		case (c == 'e' || c == 'E') && end > 0:
		default:
			i = len(s)
		}
	}
	f, _ := strconv.ParseFloat(s[:end], 64)
	return f
}

// ParseNumber parses a decimal or 0x-prefixed number with optional
// surrounding space.
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := strconv.ParseUint(s[2:], 16, 64)
		return float64(n), err
	}
	return strconv.ParseFloat(s, 64)
}
