// Package dynamic is an in-process implementation of transport.DynamicData:
// a typed value tree with member access by name or id, sub-buffer binding
// and export to a plain value tree for wire encoding.
package dynamic

import (
	"fmt"
	"unicode/utf8"

	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/transport"
	"github.com/c360/dynbus/typecode"
)

type node struct {
	t     *typecode.Type
	value any
	items []*node
}

func newNode(t *typecode.Type) *node {
	r := t.Resolve()
	n := &node{t: r}
	switch r.Kind() {
	case typecode.KindStruct:
		members := r.Members()
		n.items = make([]*node, len(members))
		for i, m := range members {
			n.items[i] = newNode(m.Type)
		}
	case typecode.KindArray:
		n.items = make([]*node, r.Length())
		for i := range n.items {
			n.items[i] = newNode(r.Element())
		}
	case typecode.KindSequence:
		n.items = []*node{}
	case typecode.KindEnum:
		if es := r.Enumerators(); len(es) > 0 {
			n.value = es[0].Ordinal
		} else {
			n.value = uint32(0)
		}
	default:
		n.value = zeroValue(r.Kind())
	}
	return n
}

func zeroValue(k typecode.Kind) any {
	switch k {
	case typecode.KindInt16:
		return int16(0)
	case typecode.KindUint16:
		return uint16(0)
	case typecode.KindInt32:
		return int32(0)
	case typecode.KindUint32:
		return uint32(0)
	case typecode.KindInt64:
		return int64(0)
	case typecode.KindUint64:
		return uint64(0)
	case typecode.KindFloat32:
		return float32(0)
	case typecode.KindFloat64:
		return float64(0)
	case typecode.KindBool:
		return false
	case typecode.KindOctet, typecode.KindChar:
		return byte(0)
	case typecode.KindWChar:
		return rune(0)
	case typecode.KindString, typecode.KindWString:
		return ""
	}
	return nil
}

func (n *node) clone() *node {
	c := &node{t: n.t, value: n.value}
	if n.items != nil {
		c.items = make([]*node, len(n.items))
		for i, it := range n.items {
			c.items[i] = it.clone()
		}
	}
	return c
}

// Data is a dynamic data buffer. A Data created with a nil type is unbound
// and only becomes usable through BindComplexMember.
type Data struct {
	t       *typecode.Type
	n       *node
	parent  *Data
	bound   int
	deleted bool
}

var _ transport.DynamicData = (*Data)(nil)

// New returns a default-valued buffer of type t, or an unbound buffer when t is nil.
func New(t *typecode.Type) *Data {
	if t == nil {
		return &Data{}
	}
	return &Data{t: t, n: newNode(t)}
}

// Clone returns an independent, unbound-from-any-parent copy of d.
func (d *Data) Clone() *Data {
	if d.n == nil {
		return &Data{}
	}
	return &Data{t: d.t, n: d.n.clone()}
}

// Type returns the buffer's type, or nil while unbound.
func (d *Data) Type() *typecode.Type { return d.t }

// MemberCount returns the number of struct members or collection elements.
func (d *Data) MemberCount() int {
	if d.n == nil {
		return 0
	}
	return len(d.n.items)
}

// MemberType reports the declared type and structural kind of a member.
// Aliases are resolved for the kind; unsupported kinds are reported as they
// are and left to the caller.
func (d *Data) MemberType(name string, id typecode.MemberID) (*typecode.Type, typecode.Kind, error) {
	if d.n == nil {
		return nil, typecode.KindInvalid, errors.Transport(errors.RetcodePreconditionNotMet, "MemberType", "buffer is unbound")
	}
	m, err := d.t.LookupMember(name, id)
	if err != nil {
		return nil, typecode.KindInvalid, err
	}
	return m.Type, m.Type.Resolve().Kind(), nil
}

func (d *Data) usable(op string) error {
	switch {
	case d.deleted:
		return errors.Transport(errors.RetcodeAlreadyDeleted, op, "buffer was deleted")
	case d.n == nil:
		return errors.Transport(errors.RetcodePreconditionNotMet, op, "buffer is unbound")
	case d.bound > 0:
		return errors.Transport(errors.RetcodePreconditionNotMet, op, "buffer has a bound member")
	}
	return nil
}

// member locates the node for a selector. grow extends sequences so that
// writes at id len+1 and beyond append default elements; the type lookup
// has already enforced the sequence bound.
func (d *Data) member(op, name string, id typecode.MemberID, grow bool) (*node, error) {
	if err := d.usable(op); err != nil {
		return nil, err
	}

	m, err := d.t.LookupMember(name, id)
	if err != nil {
		return nil, errors.Transport(errors.RetcodeBadParameter, op, "%v", err)
	}

	switch d.n.t.Kind() {
	case typecode.KindStruct:
		for i, sm := range d.n.t.Members() {
			if sm.ID == m.ID {
				if d.n.items[i].t.Kind() == typecode.KindUnion || d.n.items[i].t.Kind() == typecode.KindLongDouble {
					return nil, errors.Transport(errors.RetcodeUnsupported, op, "member %s has kind %s", sm.Name, d.n.items[i].t.Kind())
				}
				return d.n.items[i], nil
			}
		}
	case typecode.KindArray, typecode.KindSequence:
		idx := int(m.ID) - 1
		if idx < len(d.n.items) {
			return d.n.items[idx], nil
		}
		if !grow || d.n.t.Kind() == typecode.KindArray {
			return nil, errors.Transport(errors.RetcodeBadParameter, op, "element %d not present (length %d)", m.ID, len(d.n.items))
		}
		for len(d.n.items) <= idx {
			d.n.items = append(d.n.items, newNode(d.n.t.Element()))
		}
		return d.n.items[idx], nil
	}
	return nil, errors.Transport(errors.RetcodeBadParameter, op, "member %s#%d not found", name, id)
}

func get[T any](d *Data, op, name string, id typecode.MemberID, kinds ...typecode.Kind) (T, error) {
	var zero T
	n, err := d.member(op, name, id, false)
	if err != nil {
		return zero, err
	}
	if err := checkKind(op, n, kinds); err != nil {
		return zero, err
	}
	return n.value.(T), nil
}

func set[T any](d *Data, op, name string, id typecode.MemberID, v T, kinds ...typecode.Kind) error {
	n, err := d.member(op, name, id, true)
	if err != nil {
		return err
	}
	if err := checkKind(op, n, kinds); err != nil {
		return err
	}
	n.value = v
	return nil
}

func checkKind(op string, n *node, kinds []typecode.Kind) error {
	for _, k := range kinds {
		if n.t.Kind() == k {
			return nil
		}
	}
	return errors.Transport(errors.RetcodeBadParameter, op, "member has kind %s", n.t.Kind())
}

// GetInt16 reads a short member
func (d *Data) GetInt16(name string, id typecode.MemberID) (int16, error) {
	return get[int16](d, "GetInt16", name, id, typecode.KindInt16)
}

// SetInt16 writes a short member
func (d *Data) SetInt16(name string, id typecode.MemberID, v int16) error {
	return set(d, "SetInt16", name, id, v, typecode.KindInt16)
}

// GetUint16 reads an unsigned short member
func (d *Data) GetUint16(name string, id typecode.MemberID) (uint16, error) {
	return get[uint16](d, "GetUint16", name, id, typecode.KindUint16)
}

// SetUint16 writes an unsigned short member
func (d *Data) SetUint16(name string, id typecode.MemberID, v uint16) error {
	return set(d, "SetUint16", name, id, v, typecode.KindUint16)
}

// GetInt32 reads a long member
func (d *Data) GetInt32(name string, id typecode.MemberID) (int32, error) {
	return get[int32](d, "GetInt32", name, id, typecode.KindInt32)
}

// SetInt32 writes a long member
func (d *Data) SetInt32(name string, id typecode.MemberID, v int32) error {
	return set(d, "SetInt32", name, id, v, typecode.KindInt32)
}

// GetUint32 reads an unsigned long member. Enum members are read as their ordinal.
func (d *Data) GetUint32(name string, id typecode.MemberID) (uint32, error) {
	return get[uint32](d, "GetUint32", name, id, typecode.KindUint32, typecode.KindEnum)
}

// SetUint32 writes an unsigned long member. Enum members only accept
// declared ordinals.
func (d *Data) SetUint32(name string, id typecode.MemberID, v uint32) error {
	n, err := d.member("SetUint32", name, id, true)
	if err != nil {
		return err
	}
	if err := checkKind("SetUint32", n, []typecode.Kind{typecode.KindUint32, typecode.KindEnum}); err != nil {
		return err
	}
	if n.t.Kind() == typecode.KindEnum {
		if _, err := n.t.EnumLabel(v); err != nil {
			return errors.Transport(errors.RetcodeBadParameter, "SetUint32", "%v", err)
		}
	}
	n.value = v
	return nil
}

// GetInt64 reads a long long member
func (d *Data) GetInt64(name string, id typecode.MemberID) (int64, error) {
	return get[int64](d, "GetInt64", name, id, typecode.KindInt64)
}

// SetInt64 writes a long long member
func (d *Data) SetInt64(name string, id typecode.MemberID, v int64) error {
	return set(d, "SetInt64", name, id, v, typecode.KindInt64)
}

// GetUint64 reads an unsigned long long member
func (d *Data) GetUint64(name string, id typecode.MemberID) (uint64, error) {
	return get[uint64](d, "GetUint64", name, id, typecode.KindUint64)
}

// SetUint64 writes an unsigned long long member
func (d *Data) SetUint64(name string, id typecode.MemberID, v uint64) error {
	return set(d, "SetUint64", name, id, v, typecode.KindUint64)
}

// GetFloat32 reads a float member
func (d *Data) GetFloat32(name string, id typecode.MemberID) (float32, error) {
	return get[float32](d, "GetFloat32", name, id, typecode.KindFloat32)
}

// SetFloat32 writes a float member
func (d *Data) SetFloat32(name string, id typecode.MemberID, v float32) error {
	return set(d, "SetFloat32", name, id, v, typecode.KindFloat32)
}

// GetFloat64 reads a double member
func (d *Data) GetFloat64(name string, id typecode.MemberID) (float64, error) {
	return get[float64](d, "GetFloat64", name, id, typecode.KindFloat64)
}

// SetFloat64 writes a double member
func (d *Data) SetFloat64(name string, id typecode.MemberID, v float64) error {
	return set(d, "SetFloat64", name, id, v, typecode.KindFloat64)
}

// GetBool reads a boolean member
func (d *Data) GetBool(name string, id typecode.MemberID) (bool, error) {
	return get[bool](d, "GetBool", name, id, typecode.KindBool)
}

// SetBool writes a boolean member
func (d *Data) SetBool(name string, id typecode.MemberID, v bool) error {
	return set(d, "SetBool", name, id, v, typecode.KindBool)
}

// GetOctet reads an octet member
func (d *Data) GetOctet(name string, id typecode.MemberID) (byte, error) {
	return get[byte](d, "GetOctet", name, id, typecode.KindOctet)
}

// SetOctet writes an octet member
func (d *Data) SetOctet(name string, id typecode.MemberID, v byte) error {
	return set(d, "SetOctet", name, id, v, typecode.KindOctet)
}

// GetChar reads a char member
func (d *Data) GetChar(name string, id typecode.MemberID) (byte, error) {
	return get[byte](d, "GetChar", name, id, typecode.KindChar)
}

// SetChar writes a char member
func (d *Data) SetChar(name string, id typecode.MemberID, v byte) error {
	return set(d, "SetChar", name, id, v, typecode.KindChar)
}

// GetWChar reads a wide char member
func (d *Data) GetWChar(name string, id typecode.MemberID) (rune, error) {
	return get[rune](d, "GetWChar", name, id, typecode.KindWChar)
}

// SetWChar writes a wide char member
func (d *Data) SetWChar(name string, id typecode.MemberID, v rune) error {
	return set(d, "SetWChar", name, id, v, typecode.KindWChar)
}

// GetString reads a string member
func (d *Data) GetString(name string, id typecode.MemberID) (string, error) {
	return get[string](d, "GetString", name, id, typecode.KindString)
}

// SetString writes a string member, enforcing the declared bound.
func (d *Data) SetString(name string, id typecode.MemberID, v string) error {
	return d.setString("SetString", name, id, v, typecode.KindString, len(v))
}

// GetWString reads a wide string member
func (d *Data) GetWString(name string, id typecode.MemberID) (string, error) {
	return get[string](d, "GetWString", name, id, typecode.KindWString)
}

// SetWString writes a wide string member, enforcing the declared bound in characters.
func (d *Data) SetWString(name string, id typecode.MemberID, v string) error {
	return d.setString("SetWString", name, id, v, typecode.KindWString, utf8.RuneCountInString(v))
}

func (d *Data) setString(op, name string, id typecode.MemberID, v string, k typecode.Kind, length int) error {
	n, err := d.member(op, name, id, true)
	if err != nil {
		return err
	}
	if err := checkKind(op, n, []typecode.Kind{k}); err != nil {
		return err
	}
	if bound := n.t.Length(); bound > 0 && length > bound {
		return errors.Transport(errors.RetcodeBadParameter, op, "length %d exceeds bound %d", length, bound)
	}
	n.value = v
	return nil
}

// BindComplexMember binds an unbound child buffer to a struct, array or
// sequence member of d.
func (d *Data) BindComplexMember(child transport.DynamicData, name string, id typecode.MemberID) error {
	const op = "BindComplexMember"
	c, ok := child.(*Data)
	if !ok {
		return errors.Transport(errors.RetcodeBadParameter, op, "foreign buffer %T", child)
	}
	if c.n != nil || c.deleted {
		return errors.Transport(errors.RetcodePreconditionNotMet, op, "child buffer is not unbound")
	}
	if err := d.usable(op); err != nil {
		return err
	}

	mt, kind, err := d.t.Member(name, id)
	if err != nil {
		return errors.Transport(errors.RetcodeBadParameter, op, "%v", err)
	}
	if !kind.IsComplex() {
		return errors.Transport(errors.RetcodeBadParameter, op, "member has kind %s", kind)
	}

	n, err := d.member(op, name, id, true)
	if err != nil {
		return err
	}

	c.t, c.n, c.parent = mt, n, d
	d.bound++
	return nil
}

// UnbindComplexMember releases a child previously bound to d.
func (d *Data) UnbindComplexMember(child transport.DynamicData) error {
	const op = "UnbindComplexMember"
	c, ok := child.(*Data)
	if !ok || c.parent != d {
		return errors.Transport(errors.RetcodePreconditionNotMet, op, "buffer is not bound to this parent")
	}
	if c.bound > 0 {
		return errors.Transport(errors.RetcodePreconditionNotMet, op, "child still has a bound member")
	}
	c.t, c.n, c.parent = nil, nil, nil
	d.bound--
	return nil
}

// release marks d deleted. Bound buffers cannot be deleted.
func (d *Data) release() error {
	switch {
	case d.deleted:
		return errors.Transport(errors.RetcodeAlreadyDeleted, "DeleteData", "buffer was deleted")
	case d.parent != nil:
		return errors.Transport(errors.RetcodePreconditionNotMet, "DeleteData", "buffer is still bound")
	case d.bound > 0:
		return errors.Transport(errors.RetcodePreconditionNotMet, "DeleteData", "buffer has a bound member")
	}
	d.deleted = true
	d.n = nil
	return nil
}

func (d *Data) String() string {
	if d.n == nil {
		return "<unbound>"
	}
	v, _ := exportNode(d.n)
	return fmt.Sprintf("%s%v", d.t.Name(), v)
}
