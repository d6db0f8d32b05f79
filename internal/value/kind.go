// Package value implements the runtime values of the script language:
// fixed-width integers with exact wraparound, float and double arithmetic,
// strings, object and array references, and the casting rules between them.
package value

// Kind is the primitive category of a value.
type Kind uint8

const (
	Invalid Kind = iota // unset
	Void
	Bool
	Char
	UChar
	Short
	UShort
	Int
	UInt
	Long
	ULong
	Color
	Datetime
	Float
	Double
	String
	Object
	Array
)

var kindNames = [...]string{
	Invalid:  "unset",
	Void:     "void",
	Bool:     "bool",
	Char:     "char",
	UChar:    "uchar",
	Short:    "short",
	UShort:   "ushort",
	Int:      "int",
	UInt:     "uint",
	Long:     "long",
	ULong:    "ulong",
	Color:    "color",
	Datetime: "datetime",
	Float:    "float",
	Double:   "double",
	String:   "string",
	Object:   "object",
	Array:    "array",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

var kindsByName = map[string]Kind{
	"void": Void, "bool": Bool, "char": Char, "uchar": UChar, "short": Short,
	"ushort": UShort, "int": Int, "uint": UInt, "long": Long, "ulong": ULong,
	"color": Color, "datetime": Datetime, "float": Float, "double": Double,
	"string": String,
}

// KindOf maps a primitive type name to its kind.
func KindOf(name string) (Kind, bool) {
	k, ok := kindsByName[name]
	return k, ok
}

// IsInteger reports whether k is carried as integer bits, bool included.
func (k Kind) IsInteger() bool {
	return k >= Bool && k <= Datetime
}

// IsFloat reports whether k is float or double.
func (k Kind) IsFloat() bool {
	return k == Float || k == Double
}

// IsNumeric reports whether k takes part in arithmetic.
func (k Kind) IsNumeric() bool {
	return k == Invalid || k.IsInteger() || k.IsFloat()
}

// Bits returns the storage width of an integer kind.
func (k Kind) Bits() int {
	switch k {
	case Bool, Char, UChar:
		return 8
	case Short, UShort:
		return 16
	case Int, UInt, Color:
		return 32
	case Long, ULong, Datetime:
		return 64
	}
	return 0
}

// Signed reports whether an integer kind uses two's-complement sign.
func (k Kind) Signed() bool {
	switch k {
	case Char, Short, Int, Long, Datetime:
		return true
	}
	return false
}

// normalize truncates x to the width of k and sign- or zero-extends it back
// to 64 bits, giving the canonical representation of an integer value.
func normalize(k Kind, x uint64) uint64 {
	switch k {
	case Bool:
		if x != 0 {
			return 1
		}
		return 0
	case Char:
		return uint64(int64(int8(x)))
	case UChar:
		return uint64(uint8(x))
	case Short:
		return uint64(int64(int16(x)))
	case UShort:
		return uint64(uint16(x))
	case Int:
		return uint64(int64(int32(x)))
	case UInt, Color:
		return uint64(uint32(x))
	}
	return x
}

// promote applies integer promotion: every kind narrower than int, and
// bool, computes as int; color computes as uint.
func promote(k Kind) Kind {
	switch k {
	case Invalid, Void, Bool, Char, UChar, Short, UShort, Object, Array:
		return Int
	case Color:
		return UInt
	}
	return k
}

// arithKind returns the kind binary arithmetic on a and b computes in.
func arithKind(a, b Kind) Kind {
	if a == Double || b == Double {
		return Double
	}
	if a == Float || b == Float {
		return Float
	}
	pa, pb := promote(a), promote(b)
	if pa == Datetime || pb == Datetime {
		if pa == ULong || pb == ULong {
			return ULong
		}
		return Datetime
	}
	wa, wb := pa.Bits(), pb.Bits()
	switch {
	case wa > wb:
		return pa
	case wb > wa:
		return pb
	case !pa.Signed():
		return pa
	default:
		return pb
	}
}
