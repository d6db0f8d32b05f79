package value

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrZeroDivide is returned for integer division or remainder by zero.
	ErrZeroDivide = errors.New("zero divide")
	// ErrOperands is returned when an operator does not apply to its operands.
	ErrOperands = errors.New("invalid operands")
)

// numeric converts string operands to double so mixed string/number
// arithmetic computes numerically.
func numeric(v Value) Value {
	if v.kind == String {
		return NewDouble(parseNumber(v.s))
	}
	return v
}

// to converts a numeric value into kind k for computation.
func to(v Value, k Kind) Value {
	switch {
	case k.IsFloat():
		if k == Float {
			return NewFloat(v.Float64())
		}
		return NewDouble(v.Float64())
	case v.kind.IsFloat():
		return NewInteger(k, floatBits(v.f))
	}
	return NewInteger(k, v.bits)
}

// Binary applies a binary operator. Logical && and || are evaluated by the
// caller because they short-circuit.
func Binary(op string, a, b Value) (Value, error) {
	switch op {
	case "==", "!=", "<", ">", "<=", ">=":
		return compare(op, a, b)
	case "<<", ">>":
		return shift(op, a, b)
	}
	if op == "+" && (a.kind == String || b.kind == String) {
		return NewString(a.String() + b.String()), nil
	}
	if !operand(a) || !operand(b) {
		return Unset, fmt.Errorf("%w: %s %s %s", ErrOperands, a.kind, op, b.kind)
	}
	a, b = numeric(a), numeric(b)
	k := arithKind(a.kind, b.kind)
	a, b = to(a, k), to(b, k)
	if k.IsFloat() {
		return floatOp(op, k, a.f, b.f)
	}
	return intOp(op, k, a.bits, b.bits)
}

func operand(v Value) bool {
	return v.kind.IsNumeric() || v.kind == String
}

func floatOp(op string, k Kind, x, y float64) (Value, error) {
	var r float64
	switch op {
	case "+":
		r = x + y
	case "-":
		r = x - y
	case "*":
		r = x * y
	case "/":
		r = x / y
	case "%":
		r = math.Mod(x, y)
	default:
		return Unset, fmt.Errorf("%w: %s on %s", ErrOperands, op, k)
	}
	if k == Float {
		return NewFloat(r), nil
	}
	return NewDouble(r), nil
}

func intOp(op string, k Kind, x, y uint64) (Value, error) {
	var r uint64
	switch op {
	case "+":
		r = x + y
	case "-":
		r = x - y
	case "*":
		r = x * y
	case "/", "%":
		if y == 0 {
			return Unset, ErrZeroDivide
		}
		if k.Signed() {
			if op == "/" {
				r = uint64(int64(x) / int64(y))
			} else {
				r = uint64(int64(x) % int64(y))
			}
		} else if op == "/" {
			r = x / y
		} else {
			r = x % y
		}
	case "&":
		r = x & y
	case "|":
		r = x | y
	case "^":
		r = x ^ y
	default:
		return Unset, fmt.Errorf("%w: %s on %s", ErrOperands, op, k)
	}
	return NewInteger(k, r), nil
}

// shift computes in the promoted kind of the left operand. The count is
// masked to the operand width.
func shift(op string, a, b Value) (Value, error) {
	a, b = numeric(a), numeric(b)
	if a.kind.IsFloat() || b.kind.IsFloat() || !a.kind.IsNumeric() || !b.kind.IsNumeric() {
		return Unset, fmt.Errorf("%w: %s %s %s", ErrOperands, a.kind, op, b.kind)
	}
	k := promote(a.kind)
	x := to(a, k).bits
	n := uint(b.bits) & uint(k.Bits()-1)
	if op == "<<" {
		return NewInteger(k, x<<n), nil
	}
	if k.Signed() {
		return NewInteger(k, uint64(int64(x)>>n)), nil
	}
	return NewInteger(k, x>>n), nil
}

func compare(op string, a, b Value) (Value, error) {
	var c int
	switch {
	case a.kind == String && b.kind == String:
		c = strings.Compare(a.s, b.s)
	case a.kind == Object || b.kind == Object || a.kind == Array || b.kind == Array:
		if op != "==" && op != "!=" {
			return Unset, fmt.Errorf("%w: %s %s %s", ErrOperands, a.kind, op, b.kind)
		}
		eq := refIdentity(a) == refIdentity(b)
		return NewBool(eq == (op == "==")), nil
	default:
		a, b = numeric(a), numeric(b)
		k := arithKind(a.kind, b.kind)
		a, b = to(a, k), to(b, k)
		switch {
		case k.IsFloat():
			if math.IsNaN(a.f) || math.IsNaN(b.f) {
				return NewBool(op == "!="), nil
			}
			c = cmp3(a.f < b.f, a.f > b.f)
		case k.Signed():
			c = cmp3(int64(a.bits) < int64(b.bits), int64(a.bits) > int64(b.bits))
		default:
			c = cmp3(a.bits < b.bits, a.bits > b.bits)
		}
	}
	var r bool
	switch op {
	case "==":
		r = c == 0
	case "!=":
		r = c != 0
	case "<":
		r = c < 0
	case ">":
		r = c > 0
	case "<=":
		r = c <= 0
	case ">=":
		r = c >= 0
	}
	return NewBool(r), nil
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

// refIdentity returns the referenced pointer for objects and arrays, and
// nil for NULL and for the integer zero it is compared against.
func refIdentity(v Value) any {
	switch v.kind {
	case Object:
		if v.obj == nil {
			return nil
		}
		return v.obj
	case Array:
		if v.arr == nil {
			return nil
		}
		return v.arr
	}
	if v.Truthy() {
		return v.bits
	}
	return nil
}

// Unary applies a prefix operator: -, +, ~ or !.
func Unary(op string, v Value) (Value, error) {
	if op == "!" {
		return NewBool(!v.Truthy()), nil
	}
	v = numeric(v)
	if !v.kind.IsNumeric() {
		return Unset, fmt.Errorf("%w: %s%s", ErrOperands, op, v.kind)
	}
	if v.kind.IsFloat() {
		switch op {
		case "-":
			if v.kind == Float {
				return NewFloat(-v.f), nil
			}
			return NewDouble(-v.f), nil
		case "+":
			return v, nil
		}
		return Unset, fmt.Errorf("%w: %s%s", ErrOperands, op, v.kind)
	}
	k := promote(v.kind)
	x := to(v, k).bits
	switch op {
	case "-":
		return NewInteger(k, -x), nil
	case "+":
		return NewInteger(k, x), nil
	case "~":
		return NewInteger(k, ^x), nil
	}
	return Unset, fmt.Errorf("%w: %s%s", ErrOperands, op, v.kind)
}
