package runtime

import (
	"math"

	"mqlbt/internal/value"
)

var intConstants = map[string]int64{
	"INIT_SUCCEEDED":            0,
	"INIT_FAILED":               1,
	"INIT_PARAMETERS_INCORRECT": 2,
	"INIT_AGENT_NOT_SUITABLE":   3,

	"OP_BUY":                0,
	"OP_SELL":               1,
	"OP_BUYLIMIT":           2,
	"OP_SELLLIMIT":          3,
	"OP_BUYSTOP":            4,
	"OP_SELLSTOP":           5,
	"ORDER_TYPE_BUY":        0,
	"ORDER_TYPE_SELL":       1,
	"ORDER_TYPE_BUY_LIMIT":  2,
	"ORDER_TYPE_SELL_LIMIT": 3,
	"ORDER_TYPE_BUY_STOP":   4,
	"ORDER_TYPE_SELL_STOP":  5,

	"MODE_TRADES":      0,
	"MODE_HISTORY":     1,
	"SELECT_BY_POS":    0,
	"SELECT_BY_TICKET": 1,

	"PERIOD_CURRENT": 0,
	"PERIOD_M1":      1,
	"PERIOD_M5":      5,
	"PERIOD_M15":     15,
	"PERIOD_M30":     30,
	"PERIOD_H1":      60,
	"PERIOD_H4":      240,
	"PERIOD_D1":      1440,
	"PERIOD_W1":      10080,
	"PERIOD_MN1":     43200,

	"MODE_SMA":  0,
	"MODE_EMA":  1,
	"MODE_SMMA": 2,
	"MODE_LWMA": 3,

	"PRICE_CLOSE":    0,
	"PRICE_OPEN":     1,
	"PRICE_HIGH":     2,
	"PRICE_LOW":      3,
	"PRICE_MEDIAN":   4,
	"PRICE_TYPICAL":  5,
	"PRICE_WEIGHTED": 6,

	"MODE_OPEN":      0,
	"MODE_LOW":       1,
	"MODE_HIGH":      2,
	"MODE_CLOSE":     3,
	"MODE_VOLUME":    4,
	"MODE_TIME":      5,
	"MODE_BID":       9,
	"MODE_ASK":       10,
	"MODE_POINT":     11,
	"MODE_DIGITS":    12,
	"MODE_SPREAD":    13,
	"MODE_STOPLEVEL": 14,
	"MODE_LOTSIZE":   15,
	"MODE_MINLOT":    23,
	"MODE_LOTSTEP":   24,
	"MODE_MAXLOT":    25,
	"MODE_ASCEND":    ModeAscend,
	"MODE_DESCEND":   ModeDescend,

	"SYMBOL_BID":          1,
	"SYMBOL_ASK":          4,
	"SYMBOL_POINT":        16,
	"SYMBOL_DIGITS":       17,
	"SYMBOL_SPREAD":       18,
	"SYMBOL_VOLUME_MIN":   34,
	"SYMBOL_VOLUME_MAX":   35,
	"SYMBOL_VOLUME_STEP":  36,
	"ACCOUNT_BALANCE":     37,
	"ACCOUNT_CREDIT":      38,
	"ACCOUNT_PROFIT":      39,
	"ACCOUNT_EQUITY":      40,
	"ACCOUNT_MARGIN":      41,
	"ACCOUNT_MARGIN_FREE": 42,
	"ACCOUNT_CURRENCY":    36,
	"ACCOUNT_NAME":        1,
	"ACCOUNT_SERVER":      3,
	"ACCOUNT_COMPANY":     2,

	"EMPTY":          -1,
	"WHOLE_ARRAY":    WholeArray,
	"INVALID_HANDLE": -1,

	"CHARTEVENT_KEYDOWN":      0,
	"CHARTEVENT_MOUSE_MOVE":   10,
	"CHARTEVENT_OBJECT_CLICK": 1,
	"CHARTEVENT_CLICK":        4,
	"CHARTEVENT_CUSTOM":       1000,
	"CHARTEVENT_CUSTOM_LAST":  66534,

	"FILE_READ":        1,
	"FILE_WRITE":       2,
	"FILE_BIN":         4,
	"FILE_CSV":         8,
	"FILE_TXT":         16,
	"FILE_ANSI":        32,
	"FILE_UNICODE":     64,
	"FILE_SHARE_READ":  128,
	"FILE_SHARE_WRITE": 256,
	"FILE_COMMON":      4096,

	"TIME_DATE":    TimeDate,
	"TIME_MINUTES": TimeMinutes,
	"TIME_SECONDS": TimeSeconds,

	"REASON_PROGRAM":     0,
	"REASON_REMOVE":      1,
	"REASON_RECOMPILE":   2,
	"REASON_CHARTCHANGE": 3,
	"REASON_CHARTCLOSE":  4,
	"REASON_PARAMETERS":  5,
	"REASON_ACCOUNT":     6,
	"REASON_TEMPLATE":    7,
	"REASON_INITFAILED":  8,
	"REASON_CLOSE":       9,

	"TRADE_EVENT_OPEN":   TradeOpen,
	"TRADE_EVENT_CLOSE":  TradeClose,
	"TRADE_EVENT_MODIFY": TradeModify,
	"TRADE_EVENT_DELETE": TradeDelete,

	"POINTER_INVALID":   pointerInvalid,
	"POINTER_DYNAMIC":   pointerDynamic,
	"POINTER_AUTOMATIC": 2,

	"CHAR_MIN":   math.MinInt8,
	"CHAR_MAX":   math.MaxInt8,
	"SHORT_MIN":  math.MinInt16,
	"SHORT_MAX":  math.MaxInt16,
	"INT_MIN":    math.MinInt32,
	"INT_MAX":    math.MaxInt32,
	"UCHAR_MAX":  math.MaxUint8,
	"USHORT_MAX": math.MaxUint16,

	"ERR_NO_ERROR":                 0,
	"ERR_INVALID_TICKET":           4108,
	"ERR_INVALID_PARAMETER":        4003,
	"ERR_GLOBALVARIABLE_NOT_FOUND": 4501,
}

// Trade event actions reported through TradeEventType.
const (
	TradeOpen   = 0
	TradeClose  = 1
	TradeModify = 2
	TradeDelete = 3
)

var colorConstants = map[string]uint64{
	"clrNONE":   math.MaxUint32,
	"CLR_NONE":  math.MaxUint32,
	"clrBlack":  0x000000,
	"clrWhite":  0xFFFFFF,
	"clrRed":    0x0000FF,
	"clrGreen":  0x008000,
	"clrBlue":   0xFF0000,
	"clrYellow": 0x00FFFF,
	"clrGray":   0x808080,
	"clrOrange": 0x00A5FF,
	"Red":       0x0000FF,
	"Green":     0x008000,
	"Blue":      0xFF0000,
}

// predefinedConstants returns a fresh table of platform constants. Every run
// gets its own copy.
func predefinedConstants() map[string]*value.Var {
	out := make(map[string]*value.Var, len(intConstants)+len(colorConstants)+16)
	add := func(name string, v value.Value) {
		out[name] = &value.Var{Type: value.Primitive(v.Kind()), Value: v, Const: true}
	}
	for name, n := range intConstants {
		add(name, value.NewInt(n))
	}
	for name, c := range colorConstants {
		add(name, value.NewColor(c))
	}
	add("UINT_MAX", value.NewUInt(math.MaxUint32))
	add("LONG_MIN", value.NewLong(math.MinInt64))
	add("LONG_MAX", value.NewLong(math.MaxInt64))
	add("ULONG_MAX", value.NewULong(math.MaxUint64))
	add("EMPTY_VALUE", value.NewInt(math.MaxInt32))
	add("DBL_MAX", value.NewDouble(math.MaxFloat64))
	add("DBL_MIN", value.NewDouble(2.2250738585072014e-308))
	add("DBL_EPSILON", value.NewDouble(2.220446049250313e-16))
	add("FLT_MAX", value.NewFloat(math.MaxFloat32))
	add("M_PI", value.NewDouble(math.Pi))
	add("M_E", value.NewDouble(math.E))
	add("M_SQRT2", value.NewDouble(math.Sqrt2))
	add("M_LN2", value.NewDouble(math.Ln2))
	return out
}
