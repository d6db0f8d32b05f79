package backtest

import (
	"errors"
	"strings"

	"mqlbt/internal/eval"
	"mqlbt/internal/runtime"
	"mqlbt/internal/terminal"
	"mqlbt/internal/value"
)

const invalidHandle = -1

// chartID identifies the single simulated chart.
const chartID = 0

func (r *Runner) terminalBuiltins() runtime.Registry {
	reg := runtime.Registry{
		"GlobalVariableSet":            r.globalSet,
		"GlobalVariableGet":            r.globalGet,
		"GlobalVariableCheck":          r.globalCheck,
		"GlobalVariableDel":            r.globalDel,
		"GlobalVariableTime":           r.globalTime,
		"GlobalVariableSetOnCondition": r.globalSetOnCondition,
		"GlobalVariablesDeleteAll":     r.globalsDeleteAll,
		"GlobalVariablesTotal": func(*runtime.Runtime, []eval.Arg) (value.Value, error) {
			return value.NewInt(int64(len(r.term.GlobalNames()))), nil
		},
		"GlobalVariableName": func(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
			if err := runtime.CheckArity("GlobalVariableName", args, 1, 1); err != nil {
				return value.Unset, err
			}
			names := r.term.GlobalNames()
			i := runtime.IntArg(args, 0, -1)
			if i < 0 || i >= int64(len(names)) {
				return value.NewString(""), nil
			}
			return value.NewString(names[i]), nil
		},
		"GlobalVariablesFlush": func(*runtime.Runtime, []eval.Arg) (value.Value, error) {
			if err := r.term.Flush(); err != nil {
				r.logger.Warn("flushing globals", "error", err)
			}
			return value.Unset, nil
		},

		"EventSetTimer": func(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
			if err := runtime.CheckArity("EventSetTimer", args, 1, 1); err != nil {
				return value.Unset, err
			}
			return value.NewBool(r.term.SetTimer(runtime.IntArg(args, 0, 0) * 1000)), nil
		},
		"EventSetMillisecondTimer": func(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
			if err := runtime.CheckArity("EventSetMillisecondTimer", args, 1, 1); err != nil {
				return value.Unset, err
			}
			return value.NewBool(r.term.SetTimer(runtime.IntArg(args, 0, 0))), nil
		},
		"EventKillTimer": func(*runtime.Runtime, []eval.Arg) (value.Value, error) {
			r.term.KillTimer()
			return value.Unset, nil
		},
		"EventChartCustom": func(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
			if err := runtime.CheckArity("EventChartCustom", args, 5, 5); err != nil {
				return value.Unset, err
			}
			r.term.PushChartEvent(runtime.IntArg(args, 1, 0), runtime.IntArg(args, 2, 0),
				runtime.FloatArg(args, 3, 0), runtime.StringArg(args, 4))
			return value.NewBool(true), nil
		},
		"ChartID": func(*runtime.Runtime, []eval.Arg) (value.Value, error) {
			return value.NewLong(chartID), nil
		},
	}
	for k, v := range r.fileBuiltins() {
		reg[k] = v
	}
	return reg
}

// ---------------------------------------------------------------------------
// Global variables
// ---------------------------------------------------------------------------

func (r *Runner) globalSet(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("GlobalVariableSet", args, 2, 2); err != nil {
		return value.Unset, err
	}
	return value.NewDatetime(r.term.GlobalSet(runtime.StringArg(args, 0), runtime.FloatArg(args, 1, 0))), nil
}

// globalGet supports (name) returning the value and (name, &out) returning
// success.
func (r *Runner) globalGet(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("GlobalVariableGet", args, 1, 2); err != nil {
		return value.Unset, err
	}
	x, ok := r.term.GlobalGet(runtime.StringArg(args, 0))
	if !ok {
		rt.SetLastError(errGlobalNotFound)
	}
	if len(args) == 2 {
		if ok {
			if err := runtime.StoreArg("GlobalVariableGet", args, 1, value.NewDouble(x)); err != nil {
				return value.Unset, err
			}
		}
		return value.NewBool(ok), nil
	}
	return value.NewDouble(x), nil
}

func (r *Runner) globalCheck(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("GlobalVariableCheck", args, 1, 1); err != nil {
		return value.Unset, err
	}
	return value.NewBool(r.term.GlobalCheck(runtime.StringArg(args, 0))), nil
}

func (r *Runner) globalDel(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("GlobalVariableDel", args, 1, 1); err != nil {
		return value.Unset, err
	}
	return value.NewBool(r.term.GlobalDel(runtime.StringArg(args, 0))), nil
}

func (r *Runner) globalTime(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("GlobalVariableTime", args, 1, 1); err != nil {
		return value.Unset, err
	}
	at, ok := r.term.GlobalTime(runtime.StringArg(args, 0))
	if !ok {
		rt.SetLastError(errGlobalNotFound)
	}
	return value.NewDatetime(at), nil
}

func (r *Runner) globalSetOnCondition(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("GlobalVariableSetOnCondition", args, 3, 3); err != nil {
		return value.Unset, err
	}
	name := runtime.StringArg(args, 0)
	if !r.term.GlobalCheck(name) {
		rt.SetLastError(errGlobalNotFound)
		return value.NewBool(false), nil
	}
	return value.NewBool(r.term.GlobalSetOnCondition(name, runtime.FloatArg(args, 1, 0), runtime.FloatArg(args, 2, 0))), nil
}

// globalsDeleteAll: (prefix, limit_data). Returns the number deleted.
func (r *Runner) globalsDeleteAll(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
	if err := runtime.CheckArity("GlobalVariablesDeleteAll", args, 0, 2); err != nil {
		return value.Unset, err
	}
	prefix := ""
	if v := runtime.ValueArg(args, 0); v.Kind() == value.String {
		prefix = v.Str()
	}
	return value.NewInt(int64(r.term.GlobalsDeleteAll(prefix, runtime.IntArg(args, 1, 0)))), nil
}

// ---------------------------------------------------------------------------
// Files
// ---------------------------------------------------------------------------

// fileError records the script error code for a terminal file error.
func fileError(rt *runtime.Runtime, err error) {
	if errors.Is(err, terminal.ErrInvalidHandle) {
		rt.SetLastError(errInvalidFileHandle)
		return
	}
	rt.SetLastError(errCannotOpenFile)
}

// delimiter reads the FileOpen delimiter, given as a character or a string.
func delimiter(args []eval.Arg, i int) string {
	v := runtime.ValueArg(args, i)
	switch {
	case v.IsUnset():
		return "\t"
	case v.Kind() == value.String:
		return v.Str()
	default:
		return string(rune(v.Int64()))
	}
}

func (r *Runner) fileBuiltins() runtime.Registry {
	return runtime.Registry{
		"FileOpen": func(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
			if err := runtime.CheckArity("FileOpen", args, 2, 4); err != nil {
				return value.Unset, err
			}
			fd, err := r.term.OpenFile(runtime.StringArg(args, 0), int(runtime.IntArg(args, 1, 0)), delimiter(args, 2))
			if err != nil {
				r.logger.Debug("FileOpen", "file", runtime.StringArg(args, 0), "error", err)
				fileError(rt, err)
				return value.NewInt(invalidHandle), nil
			}
			return value.NewInt(int64(fd)), nil
		},
		"FileClose": func(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
			if err := runtime.CheckArity("FileClose", args, 1, 1); err != nil {
				return value.Unset, err
			}
			if err := r.term.CloseFile(int(runtime.IntArg(args, 0, 0))); err != nil {
				fileError(rt, err)
			}
			return value.Unset, nil
		},
		"FileFlush": func(*runtime.Runtime, []eval.Arg) (value.Value, error) { return value.Unset, nil },
		"FileWrite": func(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
			if err := runtime.CheckArity("FileWrite", args, 1, -1); err != nil {
				return value.Unset, err
			}
			fields := make([]string, len(args)-1)
			for i, a := range args[1:] {
				fields[i] = a.Value.String()
			}
			n, err := r.term.WriteFields(int(runtime.IntArg(args, 0, 0)), fields...)
			if err != nil {
				fileError(rt, err)
				return value.NewUInt(0), nil
			}
			return value.NewUInt(uint64(n)), nil
		},
		"FileWriteString": func(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
			if err := runtime.CheckArity("FileWriteString", args, 2, 3); err != nil {
				return value.Unset, err
			}
			s := runtime.StringArg(args, 1)
			if n := runtime.IntArg(args, 2, -1); n >= 0 && n < int64(len(s)) {
				s = s[:n]
			}
			n, err := r.term.WriteString(int(runtime.IntArg(args, 0, 0)), s)
			if err != nil {
				fileError(rt, err)
				return value.NewUInt(0), nil
			}
			return value.NewUInt(uint64(n)), nil
		},
		"FileReadString": func(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
			if err := runtime.CheckArity("FileReadString", args, 1, 2); err != nil {
				return value.Unset, err
			}
			s, err := r.term.ReadString(int(runtime.IntArg(args, 0, 0)))
			if err != nil {
				fileError(rt, err)
				return value.NewString(""), nil
			}
			return value.NewString(s), nil
		},
		"FileReadNumber": func(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
			if err := runtime.CheckArity("FileReadNumber", args, 1, 1); err != nil {
				return value.Unset, err
			}
			x, err := r.term.ReadNumber(int(runtime.IntArg(args, 0, 0)))
			if err != nil {
				fileError(rt, err)
			}
			return value.NewDouble(x), nil
		},
		"FileIsEnding": func(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
			if err := runtime.CheckArity("FileIsEnding", args, 1, 1); err != nil {
				return value.Unset, err
			}
			end, err := r.term.IsEnding(int(runtime.IntArg(args, 0, 0)))
			if err != nil {
				fileError(rt, err)
				return value.NewBool(true), nil
			}
			return value.NewBool(end), nil
		},
		"FileSize": func(rt *runtime.Runtime, args []eval.Arg) (value.Value, error) {
			if err := runtime.CheckArity("FileSize", args, 1, 1); err != nil {
				return value.Unset, err
			}
			n, err := r.term.FileSize(int(runtime.IntArg(args, 0, 0)))
			if err != nil {
				fileError(rt, err)
			}
			return value.NewULong(uint64(n)), nil
		},
		"FileDelete": func(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
			if err := runtime.CheckArity("FileDelete", args, 1, 2); err != nil {
				return value.Unset, err
			}
			return value.NewBool(r.term.DeleteFile(runtime.StringArg(args, 0))), nil
		},
		"FileIsExist": func(_ *runtime.Runtime, args []eval.Arg) (value.Value, error) {
			if err := runtime.CheckArity("FileIsExist", args, 1, 2); err != nil {
				return value.Unset, err
			}
			return value.NewBool(r.term.FileExists(strings.TrimSpace(runtime.StringArg(args, 0)))), nil
		},
	}
}
