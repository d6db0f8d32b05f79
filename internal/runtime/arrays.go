package runtime

import (
	"sort"

	"mqlbt/internal/eval"
	"mqlbt/internal/value"
)

// WholeArray selects every element from the start position.
const WholeArray = -1

func arrayBuiltins() Registry {
	return Registry{
		"ArraySize": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			arr, err := arrayArg("ArraySize", args, 0)
			if err != nil {
				return value.Unset, err
			}
			return value.NewInt(int64(totalSize(arr))), nil
		},
		"ArrayRange": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			arr, err := arrayArg("ArrayRange", args, 0)
			if err != nil {
				return value.Unset, err
			}
			for dim := integer(args, 1, 0); dim > 0; dim-- {
				if arr.Len() == 0 || arr.Items[0].Array() == nil {
					return value.NewInt(-1), nil
				}
				arr = arr.Items[0].Array()
			}
			return value.NewInt(int64(arr.Len())), nil
		},
		"ArrayResize": func(rt *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("ArrayResize", args, 2, 3); err != nil {
				return value.Unset, err
			}
			arr, err := arrayArg("ArrayResize", args, 0)
			if err != nil {
				return value.Unset, err
			}
			n := integer(args, 1, 0)
			if !arr.Dynamic || n < 0 {
				return value.NewInt(-1), nil
			}
			arr.Resize(int(n), rt.zero)
			return value.NewInt(n), nil
		},
		"ArrayFree": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			arr, err := arrayArg("ArrayFree", args, 0)
			if err != nil {
				return value.Unset, err
			}
			if arr.Dynamic {
				arr.Items = nil
			}
			return value.Unset, nil
		},
		"ArrayIsDynamic": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			arr, err := arrayArg("ArrayIsDynamic", args, 0)
			if err != nil {
				return value.Unset, err
			}
			return value.NewBool(arr.Dynamic), nil
		},
		"ArrayInitialize": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("ArrayInitialize", args, 2, 2); err != nil {
				return value.Unset, err
			}
			arr, err := arrayArg("ArrayInitialize", args, 0)
			if err != nil {
				return value.Unset, err
			}
			n, err := fill(arr, args[1].Value)
			if err != nil {
				return value.Unset, err
			}
			return value.NewInt(int64(n)), nil
		},
		"ArraySetAsSeries": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("ArraySetAsSeries", args, 2, 2); err != nil {
				return value.Unset, err
			}
			arr, err := arrayArg("ArraySetAsSeries", args, 0)
			if err != nil {
				return value.Unset, err
			}
			if !arr.Dynamic {
				return value.NewBool(false), nil
			}
			arr.Series = args[1].Value.Truthy()
			return value.NewBool(true), nil
		},
		"ArrayGetAsSeries": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			arr, err := arrayArg("ArrayGetAsSeries", args, 0)
			if err != nil {
				return value.Unset, err
			}
			return value.NewBool(arr.Series), nil
		},
		"ArrayMaximum": extremeIndex("ArrayMaximum", ">"),
		"ArrayMinimum": extremeIndex("ArrayMinimum", "<"),
		"ArrayCopy":    builtinArrayCopy,
		"ArraySort":    builtinArraySort,
	}
}

// totalSize counts the leaf elements of a possibly nested array.
func totalSize(arr *value.ArrayValue) int {
	if !arr.Elem.IsArray() {
		return arr.Len()
	}
	n := 0
	for _, item := range arr.Items {
		if sub := item.Array(); sub != nil {
			n += totalSize(sub)
		}
	}
	return n
}

func fill(arr *value.ArrayValue, v value.Value) (int, error) {
	n := 0
	for i, item := range arr.Items {
		if sub := item.Array(); sub != nil {
			m, err := fill(sub, v)
			if err != nil {
				return n, err
			}
			n += m
			continue
		}
		conv, err := value.Assign(arr.Elem, v)
		if err != nil {
			return n, err
		}
		arr.Items[i] = conv
		n++
	}
	return n, nil
}

// window resolves a (start, count) pair against an array of size n.
func window(n int, start, count int64) (int, int) {
	if start < 0 {
		start = 0
	}
	if start > int64(n) {
		start = int64(n)
	}
	end := int64(n)
	if count >= 0 && start+count < end {
		end = start + count
	}
	return int(start), int(end)
}

// extremeIndex returns the logical index of the first element that wins op
// against every other element in the window, or -1 for an empty window.
func extremeIndex(name, op string) BuiltinFunc {
	return func(_ *Runtime, args []eval.Arg) (value.Value, error) {
		if err := arity(name, args, 1, 3); err != nil {
			return value.Unset, err
		}
		arr, err := arrayArg(name, args, 0)
		if err != nil {
			return value.Unset, err
		}
		start, end := window(arr.Len(), integer(args, 1, 0), integer(args, 2, WholeArray))
		best := -1
		var bestVal value.Value
		for i := start; i < end; i++ {
			v, err := arr.Get(int64(i))
			if err != nil {
				return value.Unset, err
			}
			if best < 0 {
				best, bestVal = i, v
				continue
			}
			wins, err := value.Binary(op, v, bestVal)
			if err != nil {
				return value.Unset, err
			}
			if wins.Truthy() {
				best, bestVal = i, v
			}
		}
		return value.NewInt(int64(best)), nil
	}
}

// builtinArrayCopy implements ArrayCopy(dst, src, dst_start, src_start,
// count). A dynamic destination grows to fit.
func builtinArrayCopy(rt *Runtime, args []eval.Arg) (value.Value, error) {
	if err := arity("ArrayCopy", args, 2, 5); err != nil {
		return value.Unset, err
	}
	dst, err := arrayArg("ArrayCopy", args, 0)
	if err != nil {
		return value.Unset, err
	}
	src, err := arrayArg("ArrayCopy", args, 1)
	if err != nil {
		return value.Unset, err
	}
	at := int(integer(args, 2, 0))
	if at < 0 {
		at = 0
	}
	from, to := window(src.Len(), integer(args, 3, 0), integer(args, 4, WholeArray))
	n := to - from
	if at+n > dst.Len() {
		if dst.Dynamic {
			dst.Resize(at+n, rt.zero)
		} else {
			n = max(dst.Len()-at, 0)
		}
	}
	items := make([]value.Value, n)
	for i := range items {
		if items[i], err = src.Get(int64(from + i)); err != nil {
			return value.Unset, err
		}
	}
	for i, v := range items {
		if err := dst.Set(int64(at+i), v); err != nil {
			return value.Unset, err
		}
	}
	return value.NewInt(int64(n)), nil
}

// Sort directions accepted by ArraySort.
const (
	ModeAscend  = 1
	ModeDescend = 2
)

// builtinArraySort sorts the window of a one-dimensional array in storage
// order: ArraySort(arr, count, start, direction).
func builtinArraySort(_ *Runtime, args []eval.Arg) (value.Value, error) {
	if err := arity("ArraySort", args, 1, 4); err != nil {
		return value.Unset, err
	}
	arr, err := arrayArg("ArraySort", args, 0)
	if err != nil {
		return value.Unset, err
	}
	if arr.Elem.IsArray() || arr.Elem.Kind == value.Object {
		return value.NewBool(false), nil
	}
	start, end := window(arr.Len(), integer(args, 2, 0), integer(args, 1, WholeArray))
	desc := integer(args, 3, ModeAscend) == ModeDescend
	part := arr.Items[start:end]
	sort.SliceStable(part, func(i, j int) bool {
		a, b := part[i], part[j]
		if desc {
			a, b = b, a
		}
		if a.Kind() == value.String {
			return a.Str() < b.Str()
		}
		return a.Float64() < b.Float64()
	})
	return value.NewBool(true), nil
}
