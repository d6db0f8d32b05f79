package runtime

import (
	"mqlbt/internal/eval"
	"mqlbt/internal/value"
)

// Helpers for host-supplied builtins. They apply the same conversion and
// error rules as the baseline registry.

// CheckArity fails with ErrArgCount unless min <= len(args) <= max. A
// negative max means unbounded.
func CheckArity(name string, args []eval.Arg, min, max int) error {
	return arity(name, args, min, max)
}

// FloatArg returns argument i as a double, or def when it was omitted.
func FloatArg(args []eval.Arg, i int, def float64) float64 { return num(args, i, def) }

// IntArg returns argument i as an integer, or def when it was omitted.
func IntArg(args []eval.Arg, i int, def int64) int64 { return integer(args, i, def) }

// StringArg returns the text of argument i, or "" when it was omitted.
func StringArg(args []eval.Arg, i int) string { return str(args, i) }

// ValueArg returns argument i, or an unset value when it was omitted.
func ValueArg(args []eval.Arg, i int) value.Value { return arg(args, i) }

// StoreArg writes v through reference argument i.
func StoreArg(name string, args []eval.Arg, i int, v value.Value) error {
	return storeArg(name, args, i, v)
}

// ArrayArg returns the array passed as argument i.
func ArrayArg(name string, args []eval.Arg, i int) (*value.ArrayValue, error) {
	return arrayArg(name, args, i)
}

// Zero returns the default value of t, constructing structs declared by
// the program.
func (rt *Runtime) Zero(t value.Type) value.Value { return rt.zero(t) }

// Params returns the parameter count of the first defined overload of name,
// or -1 when the program does not define it.
func (rt *Runtime) Params(name string) int {
	for _, fn := range rt.Functions[name] {
		if !fn.Prototype {
			return len(fn.Params)
		}
	}
	return -1
}
