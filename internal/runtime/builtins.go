package runtime

import (
	"fmt"
	"strings"
	"time"

	"mqlbt/internal/eval"
	"mqlbt/internal/value"
)

// BuiltinFunc implements a builtin. Arguments keep their places, so
// builtins with reference parameters store through args[i].Ref.
type BuiltinFunc func(rt *Runtime, args []eval.Arg) (value.Value, error)

// Registry maps builtin names to implementations.
type Registry map[string]BuiltinFunc

// Merge returns a registry with other's entries added over r's.
func (r Registry) Merge(other Registry) Registry {
	out := make(Registry, len(r)+len(other))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Baseline returns the builtins every program gets: output, strings, math,
// arrays, time and control helpers. Market, trading and terminal builtins
// are supplied by the host.
func Baseline() Registry {
	reg := Registry{
		"Print":       builtinPrint,
		"PrintFormat": builtinPrintFormat,
		"printf":      builtinPrintFormat,
		"Alert":       builtinAlert,
		"Comment":     builtinComment,
		"StringFormat": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("StringFormat", args, 1, -1); err != nil {
				return value.Unset, err
			}
			return value.NewString(Format(str(args, 0), values(args[1:]))), nil
		},

		"GetTickCount": func(rt *Runtime, _ []eval.Arg) (value.Value, error) {
			return value.NewUInt(uint64(rt.now().Sub(rt.started).Milliseconds())), nil
		},
		"GetMicrosecondCount": func(rt *Runtime, _ []eval.Arg) (value.Value, error) {
			return value.NewULong(uint64(rt.now().Sub(rt.started).Microseconds())), nil
		},
		"Sleep":        builtinSleep,
		"IsStopped":    func(rt *Runtime, _ []eval.Arg) (value.Value, error) { return value.NewBool(rt.stopped), nil },
		"ExpertRemove": func(rt *Runtime, _ []eval.Arg) (value.Value, error) { rt.Stop(); return value.Unset, nil },
		"GetLastError": func(rt *Runtime, _ []eval.Arg) (value.Value, error) { return value.NewInt(int64(rt.lastError)), nil },
		"ResetLastError": func(rt *Runtime, _ []eval.Arg) (value.Value, error) {
			rt.lastError = 0
			return value.Unset, nil
		},
		"SetUserError": func(rt *Runtime, args []eval.Arg) (value.Value, error) {
			rt.lastError = ErrUserErrorFirst + int(num(args, 0, 0))
			return value.Unset, nil
		},
		"CheckPointer": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("CheckPointer", args, 1, 1); err != nil {
				return value.Unset, err
			}
			if o := args[0].Value.Object(); o != nil && !o.Deleted {
				return value.NewInt(pointerDynamic), nil
			}
			return value.NewInt(pointerInvalid), nil
		},
		"ZeroMemory": func(rt *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("ZeroMemory", args, 1, 1); err != nil {
				return value.Unset, err
			}
			ref := args[0].Ref
			if ref == nil {
				return value.Unset, fmt.Errorf("%w: ZeroMemory needs a variable", ErrRefParam)
			}
			return value.Unset, ref.Store(rt.zero(ref.Type()))
		},
	}
	for _, group := range []Registry{stringBuiltins(), mathBuiltins(), arrayBuiltins(), timeBuiltins()} {
		for k, v := range group {
			reg[k] = v
		}
	}
	return reg
}

const (
	pointerInvalid = 0
	pointerDynamic = 1
)

// ErrUserErrorFirst is the first error code available to SetUserError.
const ErrUserErrorFirst = 65536

// SetLastError records the error code GetLastError reports.
func (rt *Runtime) SetLastError(code int) { rt.lastError = code }

// ---------------------------------------------------------------------------
// Argument helpers
// ---------------------------------------------------------------------------

// arity checks the argument count; max < 0 means unbounded.
func arity(name string, args []eval.Arg, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		return fmt.Errorf("%w: %s called with %d", ErrArgCount, name, len(args))
	}
	return nil
}

func arg(args []eval.Arg, i int) value.Value {
	if i < len(args) {
		return args[i].Value
	}
	return value.Unset
}

func num(args []eval.Arg, i int, def float64) float64 {
	if i < len(args) {
		return args[i].Value.Float64()
	}
	return def
}

func integer(args []eval.Arg, i int, def int64) int64 {
	if i < len(args) {
		return args[i].Value.Int64()
	}
	return def
}

func str(args []eval.Arg, i int) string {
	if i < len(args) {
		return args[i].Value.String()
	}
	return ""
}

func values(args []eval.Arg) []value.Value {
	out := make([]value.Value, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

func concat(args []eval.Arg) string {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(a.Value.String())
	}
	return b.String()
}

// storeArg writes through a reference argument.
func storeArg(name string, args []eval.Arg, i int, v value.Value) error {
	if i >= len(args) || args[i].Ref == nil {
		return fmt.Errorf("%w: %s argument %d must be a variable", ErrRefParam, name, i+1)
	}
	return args[i].Ref.Store(v)
}

// arrayArg returns the array passed as argument i.
func arrayArg(name string, args []eval.Arg, i int) (*value.ArrayValue, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("%w: %s called with %d", ErrArgCount, name, len(args))
	}
	arr := args[i].Value.Array()
	if arr == nil {
		return nil, fmt.Errorf("%w: %s argument %d is %s, want array", ErrArgType, name, i+1, args[i].Value.Kind())
	}
	return arr, nil
}

// ---------------------------------------------------------------------------
// Output and control
// ---------------------------------------------------------------------------

func builtinPrint(rt *Runtime, args []eval.Arg) (value.Value, error) {
	rt.Print(concat(args))
	return value.Unset, nil
}

func builtinPrintFormat(rt *Runtime, args []eval.Arg) (value.Value, error) {
	if err := arity("PrintFormat", args, 1, -1); err != nil {
		return value.Unset, err
	}
	rt.Print(Format(str(args, 0), values(args[1:])))
	return value.Unset, nil
}

func builtinAlert(rt *Runtime, args []eval.Arg) (value.Value, error) {
	rt.Print("Alert: " + concat(args))
	return value.Unset, nil
}

func builtinComment(rt *Runtime, args []eval.Arg) (value.Value, error) {
	rt.comment = concat(args)
	rt.logger.Debug("comment", "text", rt.comment)
	return value.Unset, nil
}

// builtinSleep busy-waits on the runtime clock, blocking the caller as the
// platform does.
func builtinSleep(rt *Runtime, args []eval.Arg) (value.Value, error) {
	if err := arity("Sleep", args, 1, 1); err != nil {
		return value.Unset, err
	}
	deadline := rt.now().Add(time.Duration(integer(args, 0, 0)) * time.Millisecond)
	for rt.now().Before(deadline) && !rt.stopped {
	}
	return value.Unset, nil
}
