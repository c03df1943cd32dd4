package typecode

import "fmt"

// Kind is the structural kind of a Type.
type Kind int

// Supported kinds. KindUnion and KindLongDouble can be described by the
// transport but are rejected by reflection and the codec.
const (
	KindInvalid Kind = iota
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindBool
	KindOctet
	KindChar
	KindWChar
	KindString
	KindWString
	KindEnum
	KindStruct
	KindArray
	KindSequence
	KindAlias
	KindUnion
	KindLongDouble
)

var kindNames = map[Kind]string{
	KindInvalid:    "invalid",
	KindInt16:      "int16",
	KindUint16:     "uint16",
	KindInt32:      "int32",
	KindUint32:     "uint32",
	KindInt64:      "int64",
	KindUint64:     "uint64",
	KindFloat32:    "float32",
	KindFloat64:    "float64",
	KindBool:       "bool",
	KindOctet:      "octet",
	KindChar:       "char",
	KindWChar:      "wchar",
	KindString:     "string",
	KindWString:    "wstring",
	KindEnum:       "enum",
	KindStruct:     "struct",
	KindArray:      "array",
	KindSequence:   "sequence",
	KindAlias:      "alias",
	KindUnion:      "union",
	KindLongDouble: "longdouble",
}

// aliases accepted by ParseKind in addition to the canonical names
var kindAliases = map[string]Kind{
	"short":              KindInt16,
	"unsigned short":     KindUint16,
	"ushort":             KindUint16,
	"long":               KindInt32,
	"unsigned long":      KindUint32,
	"ulong":              KindUint32,
	"long long":          KindInt64,
	"longlong":           KindInt64,
	"unsigned long long": KindUint64,
	"ulonglong":          KindUint64,
	"float":              KindFloat32,
	"double":             KindFloat64,
	"boolean":            KindBool,
	"byte":               KindOctet,
}

// String returns the canonical kind name
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a kind name (canonical or IDL spelling) to a Kind.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s && k != KindInvalid {
			return k, true
		}
	}
	k, ok := kindAliases[s]
	return k, ok
}

// Supported reports whether reflection and the codec handle the kind.
func (k Kind) Supported() bool {
	return k > KindInvalid && k <= KindAlias
}

// IsPrimitive reports whether values of the kind are scalars with no
// further structure (strings and enums included).
func (k Kind) IsPrimitive() bool {
	switch k {
	case KindInt16, KindUint16, KindInt32, KindUint32, KindInt64, KindUint64,
		KindFloat32, KindFloat64, KindBool, KindOctet, KindChar, KindWChar:
		return true
	}
	return false
}

// IsComplex reports whether members of this kind are accessed through a
// bound sub-buffer.
func (k Kind) IsComplex() bool {
	return k == KindStruct || k == KindArray || k == KindSequence
}
