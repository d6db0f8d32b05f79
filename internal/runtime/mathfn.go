package runtime

import (
	"math"
	"math/rand"

	"mqlbt/internal/eval"
	"mqlbt/internal/value"
)

// unary builds a one-argument double builtin.
func unary(name string, f func(float64) float64) BuiltinFunc {
	return func(_ *Runtime, args []eval.Arg) (value.Value, error) {
		if err := arity(name, args, 1, 1); err != nil {
			return value.Unset, err
		}
		return value.NewDouble(f(num(args, 0, 0))), nil
	}
}

func binary(name string, f func(x, y float64) float64) BuiltinFunc {
	return func(_ *Runtime, args []eval.Arg) (value.Value, error) {
		if err := arity(name, args, 2, 2); err != nil {
			return value.Unset, err
		}
		return value.NewDouble(f(num(args, 0, 0), num(args, 1, 0))), nil
	}
}

func mathBuiltins() Registry {
	return Registry{
		"MathAbs": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("MathAbs", args, 1, 1); err != nil {
				return value.Unset, err
			}
			v := arg(args, 0)
			if v.Kind().IsInteger() {
				if v.Kind().Signed() && v.Int64() < 0 {
					return value.Unary("-", v)
				}
				return v, nil
			}
			return value.NewDouble(math.Abs(v.Float64())), nil
		},
		"MathMax":    extremum("MathMax", ">"),
		"MathMin":    extremum("MathMin", "<"),
		"MathPow":    binary("MathPow", math.Pow),
		"MathMod":    binary("MathMod", math.Mod),
		"MathArctan": unary("MathArctan", math.Atan),
		"MathSqrt":   unary("MathSqrt", math.Sqrt),
		"MathFloor":  unary("MathFloor", math.Floor),
		"MathCeil":   unary("MathCeil", math.Ceil),
		"MathRound":  unary("MathRound", math.Round),
		"MathLog":    unary("MathLog", math.Log),
		"MathLog10":  unary("MathLog10", math.Log10),
		"MathExp":    unary("MathExp", math.Exp),
		"MathSin":    unary("MathSin", math.Sin),
		"MathCos":    unary("MathCos", math.Cos),
		"MathTan":    unary("MathTan", math.Tan),
		"MathIsValidNumber": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("MathIsValidNumber", args, 1, 1); err != nil {
				return value.Unset, err
			}
			f := num(args, 0, 0)
			return value.NewBool(!math.IsNaN(f) && !math.IsInf(f, 0)), nil
		},
		"MathRand": func(rt *Runtime, _ []eval.Arg) (value.Value, error) {
			return value.NewInt(int64(rt.rand.Intn(32768))), nil
		},
		"MathSrand": func(rt *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("MathSrand", args, 1, 1); err != nil {
				return value.Unset, err
			}
			rt.rand = rand.New(rand.NewSource(integer(args, 0, 1)))
			return value.Unset, nil
		},
		"NormalizeDouble": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("NormalizeDouble", args, 2, 2); err != nil {
				return value.Unset, err
			}
			return value.NewDouble(Normalize(num(args, 0, 0), int(integer(args, 1, 0)))), nil
		},
	}
}

// extremum keeps integer kinds when both arguments are integers.
func extremum(name, op string) BuiltinFunc {
	return func(_ *Runtime, args []eval.Arg) (value.Value, error) {
		if err := arity(name, args, 2, 2); err != nil {
			return value.Unset, err
		}
		a, b := arg(args, 0), arg(args, 1)
		pick, err := value.Binary(op, a, b)
		if err != nil {
			return value.Unset, err
		}
		out := b
		if pick.Truthy() {
			out = a
		}
		if a.Kind().IsInteger() && b.Kind().IsInteger() {
			return out, nil
		}
		return value.NewDouble(out.Float64()), nil
	}
}

// Normalize rounds x to digits decimal places, half away from zero.
func Normalize(x float64, digits int) float64 {
	if digits < 0 {
		digits = 0
	}
	if digits > 8 {
		digits = 8
	}
	p := math.Pow10(digits)
	return math.Round(x*p) / p
}
