package runtime

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"mqlbt/internal/eval"
	"mqlbt/internal/value"
)

func stringBuiltins() Registry {
	return Registry{
		"StringLen": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("StringLen", args, 1, 1); err != nil {
				return value.Unset, err
			}
			return value.NewInt(int64(utf8.RuneCountInString(str(args, 0)))), nil
		},
		"StringSubstr": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("StringSubstr", args, 2, 3); err != nil {
				return value.Unset, err
			}
			r := []rune(str(args, 0))
			start := clamp(int(integer(args, 1, 0)), 0, len(r))
			n := int(integer(args, 2, -1))
			end := len(r)
			if n >= 0 && start+n < end {
				end = start + n
			}
			return value.NewString(string(r[start:end])), nil
		},
		"StringFind": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("StringFind", args, 2, 3); err != nil {
				return value.Unset, err
			}
			r := []rune(str(args, 0))
			start := clamp(int(integer(args, 2, 0)), 0, len(r))
			i := strings.Index(string(r[start:]), str(args, 1))
			if i < 0 {
				return value.NewInt(-1), nil
			}
			return value.NewInt(int64(start + utf8.RuneCountInString(string(r[start:])[:i]))), nil
		},
		"StringReplace": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("StringReplace", args, 3, 3); err != nil {
				return value.Unset, err
			}
			s, find, repl := str(args, 0), str(args, 1), str(args, 2)
			if find == "" {
				return value.NewInt(0), nil
			}
			n := strings.Count(s, find)
			if err := storeArg("StringReplace", args, 0, value.NewString(strings.ReplaceAll(s, find, repl))); err != nil {
				return value.Unset, err
			}
			return value.NewInt(int64(n)), nil
		},
		"StringToUpper":  transform("StringToUpper", strings.ToUpper),
		"StringToLower":  transform("StringToLower", strings.ToLower),
		"StringTrimLeft": transform("StringTrimLeft", func(s string) string { return strings.TrimLeft(s, " \t\r\n") }),
		"StringTrimRight": transform("StringTrimRight", func(s string) string {
			return strings.TrimRight(s, " \t\r\n")
		}),
		"StringSplit": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("StringSplit", args, 3, 3); err != nil {
				return value.Unset, err
			}
			arr, err := arrayArg("StringSplit", args, 2)
			if err != nil {
				return value.Unset, err
			}
			sep := string(rune(integer(args, 1, 0)))
			s := str(args, 0)
			var parts []string
			if s != "" {
				parts = strings.Split(s, sep)
			}
			arr.Resize(0, value.Zero)
			arr.Resize(len(parts), value.Zero)
			for i, p := range parts {
				if err := arr.Set(int64(i), value.NewString(p)); err != nil {
					return value.Unset, err
				}
			}
			return value.NewInt(int64(len(parts))), nil
		},
		"StringToInteger": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("StringToInteger", args, 1, 1); err != nil {
				return value.Unset, err
			}
			return value.Convert(value.NewString(str(args, 0)), value.Long), nil
		},
		"StringToDouble": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("StringToDouble", args, 1, 1); err != nil {
				return value.Unset, err
			}
			return value.Convert(value.NewString(str(args, 0)), value.Double), nil
		},
		"IntegerToString": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("IntegerToString", args, 1, 3); err != nil {
				return value.Unset, err
			}
			s := strconv.FormatInt(integer(args, 0, 0), 10)
			width := int(integer(args, 1, 0))
			fill := " "
			if len(args) > 2 {
				fill = string(rune(integer(args, 2, ' ')))
			}
			if pad := width - len(s); pad > 0 {
				s = strings.Repeat(fill, pad) + s
			}
			return value.NewString(s), nil
		},
		"DoubleToString": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("DoubleToString", args, 1, 2); err != nil {
				return value.Unset, err
			}
			digits := int(integer(args, 1, 8))
			if digits < 0 {
				return value.NewString(strconv.FormatFloat(num(args, 0, 0), 'e', -digits, 64)), nil
			}
			return value.NewString(strconv.FormatFloat(num(args, 0, 0), 'f', clamp(digits, 0, 16), 64)), nil
		},
		"StringConcatenate": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			return value.NewString(concat(args)), nil
		},
		"StringGetCharacter": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("StringGetCharacter", args, 2, 2); err != nil {
				return value.Unset, err
			}
			r := []rune(str(args, 0))
			i := integer(args, 1, 0)
			if i < 0 || i >= int64(len(r)) {
				return value.NewInteger(value.UShort, 0), nil
			}
			return value.NewInteger(value.UShort, uint64(r[i])), nil
		},
		"CharToString": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("CharToString", args, 1, 1); err != nil {
				return value.Unset, err
			}
			return value.NewString(string(rune(uint8(integer(args, 0, 0))))), nil
		},
		"ShortToString": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("ShortToString", args, 1, 1); err != nil {
				return value.Unset, err
			}
			return value.NewString(string(rune(uint16(integer(args, 0, 0))))), nil
		},
		"StringCompare": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("StringCompare", args, 2, 3); err != nil {
				return value.Unset, err
			}
			a, b := str(args, 0), str(args, 1)
			if len(args) > 2 && !args[2].Value.Truthy() {
				a, b = strings.ToLower(a), strings.ToLower(b)
			}
			return value.NewInt(int64(strings.Compare(a, b))), nil
		},
		"ColorToString": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("ColorToString", args, 1, 2); err != nil {
				return value.Unset, err
			}
			return value.NewString(value.NewColor(uint64(integer(args, 0, 0))).String()), nil
		},
	}
}

// transform builds a builtin that rewrites a string variable in place and
// returns true, or returns the rewritten text when given a plain value.
func transform(name string, f func(string) string) BuiltinFunc {
	return func(_ *Runtime, args []eval.Arg) (value.Value, error) {
		if err := arity(name, args, 1, 1); err != nil {
			return value.Unset, err
		}
		out := f(str(args, 0))
		if args[0].Ref == nil {
			return value.NewString(out), nil
		}
		if err := args[0].Ref.Store(value.NewString(out)); err != nil {
			return value.Unset, err
		}
		return value.NewBool(true), nil
	}
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
