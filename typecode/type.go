package typecode

import (
	"fmt"

	"github.com/c360/dynbus/errors"
)

// MemberID identifies a member by position. Struct members and collection
// elements are numbered from 1; MemberIDUnspecified selects by name.
type MemberID int32

// MemberIDUnspecified means "no id given".
const MemberIDUnspecified MemberID = 0

// Member is one named child of a struct type.
type Member struct {
	Name string
	ID   MemberID
	Type *Type
	Key  bool
}

// Enumerator is one label of an enum type.
type Enumerator struct {
	Name    string
	Ordinal uint32
}

// Type describes the shape of a data type. Types are immutable once built
// and may be shared between topics and sessions.
type Type struct {
	kind        Kind
	name        string
	members     []Member
	enumerators []Enumerator
	element     *Type
	length      int
	base        *Type
}

var primitives = map[Kind]*Type{}

func init() {
	for k := KindInt16; k <= KindWChar; k++ {
		primitives[k] = &Type{kind: k, name: k.String()}
	}
	primitives[KindString] = &Type{kind: KindString, name: KindString.String()}
	primitives[KindWString] = &Type{kind: KindWString, name: KindWString.String()}
	primitives[KindLongDouble] = &Type{kind: KindLongDouble, name: KindLongDouble.String()}
}

// Primitive returns the shared descriptor for a scalar kind or an
// unbounded string kind. It panics for kinds that need more description.
func Primitive(k Kind) *Type {
	t, ok := primitives[k]
	if !ok {
		panic(fmt.Sprintf("typecode: %s is not a primitive kind", k))
	}
	return t
}

// NewString returns a string type with the given maximum length (0 = unbounded).
func NewString(bound int) *Type {
	if bound <= 0 {
		return primitives[KindString]
	}
	return &Type{kind: KindString, name: fmt.Sprintf("string<%d>", bound), length: bound}
}

// NewWString returns a wide string type with the given maximum length (0 = unbounded).
func NewWString(bound int) *Type {
	if bound <= 0 {
		return primitives[KindWString]
	}
	return &Type{kind: KindWString, name: fmt.Sprintf("wstring<%d>", bound), length: bound}
}

// Field is shorthand for a non-key struct member.
func Field(name string, t *Type) Member {
	return Member{Name: name, Type: t}
}

// KeyField is shorthand for a key struct member.
func KeyField(name string, t *Type) Member {
	return Member{Name: name, Type: t, Key: true}
}

// NewStruct builds a struct type. Members without an id are numbered by
// position starting at 1.
func NewStruct(name string, members ...Member) *Type {
	ms := make([]Member, len(members))
	for i, m := range members {
		if m.ID == MemberIDUnspecified {
			m.ID = MemberID(i + 1)
		}
		ms[i] = m
	}
	return &Type{kind: KindStruct, name: name, members: ms}
}

// NewEnum builds an enum whose ordinals follow declaration order.
func NewEnum(name string, labels ...string) *Type {
	es := make([]Enumerator, len(labels))
	for i, l := range labels {
		es[i] = Enumerator{Name: l, Ordinal: uint32(i)}
	}
	return NewEnumWithValues(name, es...)
}

// NewEnumWithValues builds an enum with explicit ordinals.
func NewEnumWithValues(name string, enumerators ...Enumerator) *Type {
	es := make([]Enumerator, len(enumerators))
	copy(es, enumerators)
	return &Type{kind: KindEnum, name: name, enumerators: es}
}

// NewSequence builds a sequence of elem with an optional bound (0 = unbounded).
func NewSequence(elem *Type, bound int) *Type {
	name := fmt.Sprintf("sequence<%s>", elem.Name())
	if bound > 0 {
		name = fmt.Sprintf("sequence<%s,%d>", elem.Name(), bound)
	}
	return &Type{kind: KindSequence, name: name, element: elem, length: bound}
}

// NewArray builds a fixed-length array of elem.
func NewArray(elem *Type, length int) *Type {
	return &Type{
		kind:    KindArray,
		name:    fmt.Sprintf("%s[%d]", elem.Name(), length),
		element: elem,
		length:  length,
	}
}

// NewAlias builds a named alias of base.
func NewAlias(name string, base *Type) *Type {
	return &Type{kind: KindAlias, name: name, base: base}
}

// NewUnsupported describes a kind the transport knows about but dynbus
// cannot reflect over (unions, long doubles).
func NewUnsupported(name string, k Kind) *Type {
	return &Type{kind: k, name: name}
}

// Kind returns the structural kind
func (t *Type) Kind() Kind { return t.kind }

// Name returns the type name
func (t *Type) Name() string { return t.name }

// Element returns the element type of an array or sequence
func (t *Type) Element() *Type { return t.element }

// Length returns the array length, or the sequence/string bound (0 = unbounded)
func (t *Type) Length() int { return t.length }

// Base returns the aliased type
func (t *Type) Base() *Type { return t.base }

// Resolve follows aliases to the underlying type.
func (t *Type) Resolve() *Type {
	for t != nil && t.kind == KindAlias {
		t = t.base
	}
	return t
}

// MemberCount returns the number of struct members or enumerators.
func (t *Type) MemberCount() int {
	switch t.kind {
	case KindStruct:
		return len(t.members)
	case KindEnum:
		return len(t.enumerators)
	case KindAlias:
		return t.Resolve().MemberCount()
	}
	return 0
}

// MemberAt returns the i-th struct member in declaration order.
func (t *Type) MemberAt(i int) Member {
	return t.Resolve().members[i]
}

// Members returns a copy of the struct members in declaration order.
func (t *Type) Members() []Member {
	r := t.Resolve()
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out
}

// KeyMembers returns the members flagged as instance keys.
func (t *Type) KeyMembers() []Member {
	var keys []Member
	for _, m := range t.Resolve().members {
		if m.Key {
			keys = append(keys, m)
		}
	}
	return keys
}

// Enumerators returns a copy of the enum labels.
func (t *Type) Enumerators() []Enumerator {
	r := t.Resolve()
	out := make([]Enumerator, len(r.enumerators))
	copy(out, r.enumerators)
	return out
}

// LookupMember finds a member without checking whether its kind is
// supported. Exactly one of name or id must be given. Collection elements
// are reported as a Member with the element type and the requested id.
func (t *Type) LookupMember(name string, id MemberID) (Member, error) {
	if (name == "") == (id == MemberIDUnspecified) {
		return Member{}, &errors.TypeError{Type: t.name, Member: selector(name, id),
			Reason: "exactly one of member name or id must be given"}
	}

	r := t.Resolve()
	switch r.kind {
	case KindStruct:
		for _, m := range r.members {
			if (name != "" && m.Name == name) || (name == "" && m.ID == id) {
				return m, nil
			}
		}
		return Member{}, &errors.TypeError{Type: t.name, Member: selector(name, id), Reason: "no such member"}

	case KindArray, KindSequence:
		if name != "" {
			return Member{}, &errors.TypeError{Type: t.name, Member: name,
				Reason: "collection elements are selected by id"}
		}
		if id < 1 || (r.length > 0 && int(id) > r.length) {
			return Member{}, &errors.TypeError{Type: t.name, Member: selector(name, id),
				Reason: fmt.Sprintf("element id outside [1, %d]", r.length)}
		}
		return Member{ID: id, Type: r.element}, nil
	}

	return Member{}, &errors.TypeError{Type: t.name, Member: selector(name, id),
		Reason: fmt.Sprintf("kind %s has no members", r.kind)}
}

// Member returns the type and structural kind of the selected member.
// Aliases are resolved; unsupported member kinds are a TypeError.
func (t *Type) Member(name string, id MemberID) (*Type, Kind, error) {
	m, err := t.LookupMember(name, id)
	if err != nil {
		return nil, KindInvalid, err
	}
	mt := m.Type.Resolve()
	if !mt.kind.Supported() {
		return nil, KindInvalid, &errors.TypeError{Type: t.name, Member: selector(name, id),
			Reason: fmt.Sprintf("unsupported kind %s", mt.kind)}
	}
	return m.Type, mt.kind, nil
}

// EnumOrdinal maps an enum label to its ordinal.
func (t *Type) EnumOrdinal(label string) (uint32, error) {
	r := t.Resolve()
	if r.kind != KindEnum {
		return 0, &errors.TypeError{Type: t.name, Reason: "not an enum"}
	}
	for _, e := range r.enumerators {
		if e.Name == label {
			return e.Ordinal, nil
		}
	}
	return 0, &errors.TypeError{Type: t.name, Member: label, Reason: "unknown enumerator"}
}

// EnumLabel maps an enum ordinal to its label.
func (t *Type) EnumLabel(ordinal uint32) (string, error) {
	r := t.Resolve()
	if r.kind != KindEnum {
		return "", &errors.TypeError{Type: t.name, Reason: "not an enum"}
	}
	for _, e := range r.enumerators {
		if e.Ordinal == ordinal {
			return e.Name, nil
		}
	}
	return "", &errors.TypeError{Type: t.name, Member: fmt.Sprint(ordinal), Reason: "unknown enumerator ordinal"}
}

// Equal reports structural identity of two types.
func (t *Type) Equal(o *Type) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil {
		return false
	}
	if t.kind != o.kind || t.name != o.name || t.length != o.length {
		return false
	}
	if len(t.members) != len(o.members) || len(t.enumerators) != len(o.enumerators) {
		return false
	}
	for i := range t.members {
		a, b := t.members[i], o.members[i]
		if a.Name != b.Name || a.ID != b.ID || a.Key != b.Key || !a.Type.Equal(b.Type) {
			return false
		}
	}
	for i := range t.enumerators {
		if t.enumerators[i] != o.enumerators[i] {
			return false
		}
	}
	if (t.element != nil || o.element != nil) && !t.element.Equal(o.element) {
		return false
	}
	if (t.base != nil || o.base != nil) && !t.base.Equal(o.base) {
		return false
	}
	return true
}

// String returns the type name
func (t *Type) String() string { return t.name }

func selector(name string, id MemberID) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("#%d", id)
}
