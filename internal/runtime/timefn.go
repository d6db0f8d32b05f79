package runtime

import (
	"fmt"
	"strings"
	"time"

	"mqlbt/internal/eval"
	"mqlbt/internal/value"
)

// TimeToString flags.
const (
	TimeDate    = 1
	TimeMinutes = 2
	TimeSeconds = 4
)

func timeBuiltins() Registry {
	return Registry{
		"TimeCurrent": func(rt *Runtime, _ []eval.Arg) (value.Value, error) {
			return value.NewDatetime(rt.now().Unix()), nil
		},
		"TimeLocal": func(rt *Runtime, _ []eval.Arg) (value.Value, error) {
			return value.NewDatetime(rt.now().Unix()), nil
		},
		"TimeToString": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("TimeToString", args, 1, 2); err != nil {
				return value.Unset, err
			}
			return value.NewString(TimeToString(integer(args, 0, 0), int(integer(args, 1, TimeDate|TimeMinutes)))), nil
		},
		"StringToTime": func(rt *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("StringToTime", args, 1, 1); err != nil {
				return value.Unset, err
			}
			sec, err := ParseTime(str(args, 0), rt.now())
			if err != nil {
				rt.logger.Warn("StringToTime", "error", err)
				return value.NewDatetime(0), nil
			}
			return value.NewDatetime(sec), nil
		},
		"TimeYear":      timePart("TimeYear", func(t time.Time) int { return t.Year() }),
		"TimeMonth":     timePart("TimeMonth", func(t time.Time) int { return int(t.Month()) }),
		"TimeDay":       timePart("TimeDay", time.Time.Day),
		"TimeHour":      timePart("TimeHour", time.Time.Hour),
		"TimeMinute":    timePart("TimeMinute", time.Time.Minute),
		"TimeSeconds":   timePart("TimeSeconds", time.Time.Second),
		"TimeDayOfWeek": timePart("TimeDayOfWeek", func(t time.Time) int { return int(t.Weekday()) }),
		"TimeDayOfYear": timePart("TimeDayOfYear", func(t time.Time) int { return t.YearDay() - 1 }),
		"TimeToStruct": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("TimeToStruct", args, 2, 2); err != nil {
				return value.Unset, err
			}
			obj := args[1].Value.Object()
			if obj == nil {
				return value.NewBool(false), nil
			}
			t := time.Unix(integer(args, 0, 0), 0).UTC()
			parts := map[string]int{
				"year":        t.Year(),
				"mon":         int(t.Month()),
				"day":         t.Day(),
				"hour":        t.Hour(),
				"min":         t.Minute(),
				"sec":         t.Second(),
				"day_of_week": int(t.Weekday()),
				"day_of_year": t.YearDay() - 1,
			}
			for name, n := range parts {
				if f, ok := obj.Fields[name]; ok {
					if err := f.Store(value.NewInt(int64(n))); err != nil {
						return value.Unset, err
					}
				}
			}
			return value.NewBool(true), nil
		},
		"StructToTime": func(_ *Runtime, args []eval.Arg) (value.Value, error) {
			if err := arity("StructToTime", args, 1, 1); err != nil {
				return value.Unset, err
			}
			obj := args[0].Value.Object()
			if obj == nil {
				return value.NewDatetime(0), nil
			}
			field := func(name string) int {
				if f, ok := obj.Fields[name]; ok {
					return int(f.Value.Int64())
				}
				return 0
			}
			t := time.Date(field("year"), time.Month(field("mon")), field("day"),
				field("hour"), field("min"), field("sec"), 0, time.UTC)
			return value.NewDatetime(t.Unix()), nil
		},
	}
}

func timePart(name string, f func(time.Time) int) BuiltinFunc {
	return func(_ *Runtime, args []eval.Arg) (value.Value, error) {
		if err := arity(name, args, 1, 1); err != nil {
			return value.Unset, err
		}
		return value.NewInt(int64(f(time.Unix(integer(args, 0, 0), 0).UTC()))), nil
	}
}

// TimeToString renders sec with the parts selected by flags.
func TimeToString(sec int64, flags int) string {
	t := time.Unix(sec, 0).UTC()
	var parts []string
	if flags&TimeDate != 0 {
		parts = append(parts, t.Format("2006.01.02"))
	}
	switch {
	case flags&TimeSeconds != 0:
		parts = append(parts, t.Format("15:04:05"))
	case flags&TimeMinutes != 0:
		parts = append(parts, t.Format("15:04"))
	}
	return strings.Join(parts, " ")
}

var timeLayouts = []string{
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006.01.02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
}

// ParseTime reads a date and optional time in UTC. A bare hh:mi[:ss] is taken
// on the date of now.
func ParseTime(s string, now time.Time) (int64, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			day := now.UTC().Truncate(24 * time.Hour)
			return day.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second).Unix(), nil
		}
	}
	return 0, fmt.Errorf("cannot parse time %q", s)
}
