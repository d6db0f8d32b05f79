package value

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"mqlbt/internal/lexer"
)

// ErrCast is returned when a value cannot be converted to a type.
var ErrCast = errors.New("invalid conversion")

// Cast converts v to kind k. Conversions to string always succeed; integer
// conversions wrap to the target width; float conversions round through
// 32 bits. Strings convert to numbers only when they hold one.
func Cast(v Value, k Kind) (Value, error) {
	if v.kind == k && k != Float {
		return v, nil
	}
	if v.kind == Invalid {
		return Zero(Primitive(k)), nil
	}
	switch k {
	case String:
		return NewString(v.String()), nil
	case Bool:
		return NewBool(v.Truthy()), nil
	case Void:
		return Value{kind: Void}, nil
	case Object:
		if v.IsNull() || (v.kind.IsInteger() && v.bits == 0) {
			return Null, nil
		}
		return Unset, fmt.Errorf("%w: %s to object", ErrCast, v.kind)
	case Array:
		return Unset, fmt.Errorf("%w: %s to array", ErrCast, v.kind)
	}
	if v.kind == Object || v.kind == Array {
		return Unset, fmt.Errorf("%w: %s to %s", ErrCast, v.kind, k)
	}
	if v.kind == String {
		return castString(v.s, k)
	}
	if k.IsFloat() {
		return to(v, k), nil
	}
	if k.IsInteger() {
		return to(v, k), nil
	}
	return Unset, fmt.Errorf("%w: %s to %s", ErrCast, v.kind, k)
}

func castString(s string, k Kind) (Value, error) {
	text := strings.TrimSpace(s)
	switch {
	case k == Datetime:
		if t, err := lexer.ParseTimeText(text); err == nil {
			return NewDatetime(t), nil
		}
	case k == Color:
		if c, err := lexer.ParseColor("C'" + text + "'"); err == nil {
			return NewColor(uint64(c)), nil
		}
	}
	if k.IsInteger() {
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return NewInteger(k, uint64(n)), nil
		}
		if n, err := strconv.ParseUint(text, 0, 64); err == nil {
			return NewInteger(k, n), nil
		}
	}
	f, err := ParseNumber(text)
	if err != nil {
		return Unset, fmt.Errorf("%w: %q to %s", ErrCast, s, k)
	}
	return to(NewDouble(f), k), nil
}

// Convert is Cast with the platform's lenient string handling: text that is
// not a number converts to the zero value instead of failing.
func Convert(v Value, k Kind) Value {
	out, err := Cast(v, k)
	if err != nil {
		if v.kind == String {
			return to(NewDouble(parseNumber(v.s)), k)
		}
		return Zero(Primitive(k))
	}
	return out
}

// Assign converts x for storage in a variable of type t. Struct values are
// copied; pointers, arrays and template-typed values are stored as given.
func Assign(t Type, x Value) (Value, error) {
	switch {
	case t.Any:
		return x, nil
	case t.IsArray():
		if x.kind != Array {
			return Unset, fmt.Errorf("%w: %s to %s", ErrCast, x.kind, t)
		}
		return x, nil
	case t.Kind == Object:
		switch {
		case x.kind == Invalid, x.IsNull():
			return Null, nil
		case x.kind == Object:
			if t.Pointer {
				return x, nil
			}
			return NewObject(x.obj.Clone()), nil
		case x.kind.IsInteger() && x.bits == 0:
			return Null, nil
		}
		return Unset, fmt.Errorf("%w: %s to %s", ErrCast, x.kind, t)
	case t.Kind == Invalid:
		return x, nil
	}
	if x.kind == Invalid {
		return Zero(t), nil
	}
	if x.kind == String && t.Kind != String {
		return Convert(x, t.Kind), nil
	}
	return Cast(x, t.Kind)
}
