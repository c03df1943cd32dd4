package codec

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/transport"
	"github.com/c360/dynbus/typecode"
)

// Codec encodes and decodes value trees using scratch buffers from an allocator.
type Codec struct {
	alloc transport.Allocator
}

// New creates a Codec. The allocator supplies the unbound sub-buffers used
// for complex members, normally the topic's TypeSupport.
func New(alloc transport.Allocator) *Codec {
	return &Codec{alloc: alloc}
}

// Encode writes value into data according to data's type.
func (c *Codec) Encode(value any, data transport.DynamicData) error {
	return c.encodeComplex(data, data.Type(), value, "")
}

// Decode reads data into a fresh value tree.
func (c *Codec) Decode(data transport.DynamicData) (any, error) {
	return c.decodeComplex(data, data.Type(), "")
}

// DefaultInstance decodes a freshly allocated buffer of the registered type.
func DefaultInstance(ts transport.TypeSupport) (map[string]any, error) {
	data, err := ts.NewData(ts.Type())
	if err != nil {
		return nil, errors.Wrap(err, "codec", "DefaultInstance", "allocate "+ts.TypeName())
	}
	v, err := New(ts).Decode(data)
	if derr := ts.DeleteData(data); derr != nil && err == nil {
		err = derr
	}
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &errors.SchemaMismatchError{Reason: fmt.Sprintf("type %s is not a struct", ts.TypeName())}
	}
	return m, nil
}

// withMember binds a scratch buffer to a complex member of parent for the
// duration of fn. The scratch buffer is unbound and deleted on every path.
func (c *Codec) withMember(parent transport.DynamicData, name string, id typecode.MemberID, fn func(child transport.DynamicData) error) (err error) {
	child, err := c.alloc.NewData(nil)
	if err != nil {
		return err
	}
	defer func() {
		if derr := c.alloc.DeleteData(child); derr != nil && err == nil {
			err = derr
		}
	}()

	if err := parent.BindComplexMember(child, name, id); err != nil {
		return err
	}
	defer func() {
		if uerr := parent.UnbindComplexMember(child); uerr != nil && err == nil {
			err = uerr
		}
	}()

	return fn(child)
}

func (c *Codec) encodeComplex(data transport.DynamicData, t *typecode.Type, value any, path string) error {
	r := t.Resolve()
	switch r.Kind() {
	case typecode.KindStruct:
		obj, ok := value.(map[string]any)
		if !ok {
			return &errors.SchemaMismatchError{Path: path, Reason: fmt.Sprintf("expected mapping for struct %s, got %T", t.Name(), value)}
		}
		members := r.Members()
		if extra := undeclared(obj, members); len(extra) > 0 {
			return &errors.SchemaMismatchError{Path: path, Reason: fmt.Sprintf("keys %v not declared by %s", extra, t.Name())}
		}
		for _, m := range members {
			mv, ok := obj[m.Name]
			if !ok {
				return &errors.SchemaMismatchError{Path: join(path, m.Name), Reason: "required member missing"}
			}
			if err := c.encodeMember(data, m.Name, typecode.MemberIDUnspecified, mv, join(path, m.Name)); err != nil {
				return err
			}
		}
		return nil

	case typecode.KindArray, typecode.KindSequence:
		items, ok := asSlice(value)
		if !ok {
			return &errors.SchemaMismatchError{Path: path, Reason: fmt.Sprintf("expected sequence for %s, got %T", t.Name(), value)}
		}
		if limit := r.Length(); limit > 0 && len(items) > limit {
			return &errors.SchemaMismatchError{Path: path, Reason: fmt.Sprintf("%d elements exceed %s length %d", len(items), r.Kind(), limit)}
		}
		for i, item := range items {
			if err := c.encodeMember(data, "", typecode.MemberID(i+1), item, index(path, i)); err != nil {
				return err
			}
		}
		return nil
	}
	return &errors.UnsupportedKindError{Path: path, Kind: r.Kind().String()}
}

func (c *Codec) encodeMember(data transport.DynamicData, name string, id typecode.MemberID, value any, path string) error {
	declared, kind, err := data.MemberType(name, id)
	if err != nil {
		return err
	}
	mt := declared.Resolve()

	if kind.IsComplex() {
		return c.withMember(data, name, id, func(child transport.DynamicData) error {
			return c.encodeComplex(child, declared, value, path)
		})
	}

	if in, ok := integers[kind]; ok {
		b, ok := toBigInt(value)
		if !ok {
			return &errors.SchemaMismatchError{Path: path, Reason: fmt.Sprintf("expected integer for %s, got %T", kind, value)}
		}
		if b.Cmp(in.lo) < 0 || b.Cmp(in.hi) >= 0 {
			return &errors.RangeError{Path: path, Value: value, Min: in.lo, Max: in.hi}
		}
		return at(path, in.set(data, name, id, b))
	}

	switch kind {
	case typecode.KindFloat32, typecode.KindFloat64:
		f, ok := toFloat(value)
		if !ok {
			return &errors.SchemaMismatchError{Path: path, Reason: fmt.Sprintf("expected number for %s, got %T", kind, value)}
		}
		if kind == typecode.KindFloat32 {
			return at(path, data.SetFloat32(name, id, float32(f)))
		}
		return at(path, data.SetFloat64(name, id, f))

	case typecode.KindBool:
		b, ok := value.(bool)
		if !ok {
			return &errors.SchemaMismatchError{Path: path, Reason: fmt.Sprintf("expected bool, got %T", value)}
		}
		return at(path, data.SetBool(name, id, b))

	case typecode.KindChar, typecode.KindWChar:
		r, err := oneRune(value, path)
		if err != nil {
			return err
		}
		if kind == typecode.KindChar {
			if r > 0xff {
				return &errors.RangeError{Path: path, Value: value, Min: 0, Max: 256}
			}
			return at(path, data.SetChar(name, id, byte(r)))
		}
		return at(path, data.SetWChar(name, id, r))

	case typecode.KindString, typecode.KindWString:
		s, ok := value.(string)
		if !ok {
			return &errors.SchemaMismatchError{Path: path, Reason: fmt.Sprintf("expected string, got %T", value)}
		}
		if strings.IndexByte(s, 0) >= 0 {
			return &errors.EncodingError{Path: path, Reason: "string contains an embedded null"}
		}
		if kind == typecode.KindWString {
			if !utf8.ValidString(s) {
				return &errors.EncodingError{Path: path, Reason: "wide string is not valid UTF-8"}
			}
			return at(path, data.SetWString(name, id, s))
		}
		return at(path, data.SetString(name, id, s))

	case typecode.KindEnum:
		label, ok := value.(string)
		if !ok {
			return &errors.SchemaMismatchError{Path: path, Reason: fmt.Sprintf("expected enum label for %s, got %T", mt.Name(), value)}
		}
		ord, err := mt.EnumOrdinal(label)
		if err != nil {
			return err
		}
		return at(path, data.SetUint32(name, id, ord))
	}

	return &errors.UnsupportedKindError{Path: path, Kind: kind.String()}
}

func (c *Codec) decodeComplex(data transport.DynamicData, t *typecode.Type, path string) (any, error) {
	r := t.Resolve()
	switch r.Kind() {
	case typecode.KindStruct:
		members := r.Members()
		out := make(map[string]any, len(members))
		for _, m := range members {
			v, err := c.decodeMember(data, m.Name, typecode.MemberIDUnspecified, join(path, m.Name))
			if err != nil {
				return nil, err
			}
			out[m.Name] = v
		}
		return out, nil

	case typecode.KindArray, typecode.KindSequence:
		n := data.MemberCount()
		out := make([]any, n)
		for i := 0; i < n; i++ {
			v, err := c.decodeMember(data, "", typecode.MemberID(i+1), index(path, i))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return nil, &errors.UnsupportedKindError{Path: path, Kind: r.Kind().String()}
}

func (c *Codec) decodeMember(data transport.DynamicData, name string, id typecode.MemberID, path string) (any, error) {
	declared, kind, err := data.MemberType(name, id)
	if err != nil {
		return nil, err
	}
	mt := declared.Resolve()

	if kind.IsComplex() {
		var out any
		err := c.withMember(data, name, id, func(child transport.DynamicData) error {
			v, err := c.decodeComplex(child, declared, path)
			out = v
			return err
		})
		return out, err
	}

	if in, ok := integers[kind]; ok {
		v, err := in.get(data, name, id)
		return v, at(path, err)
	}

	var v any
	switch kind {
	case typecode.KindFloat32:
		v, err = data.GetFloat32(name, id)
	case typecode.KindFloat64:
		v, err = data.GetFloat64(name, id)
	case typecode.KindBool:
		v, err = data.GetBool(name, id)
	case typecode.KindChar:
		var b byte
		b, err = data.GetChar(name, id)
		v = string(rune(b))
	case typecode.KindWChar:
		var r rune
		r, err = data.GetWChar(name, id)
		v = string(r)
	case typecode.KindString:
		v, err = data.GetString(name, id)
	case typecode.KindWString:
		v, err = data.GetWString(name, id)
	case typecode.KindEnum:
		var ord uint32
		if ord, err = data.GetUint32(name, id); err == nil {
			v, err = mt.EnumLabel(ord)
		}
	default:
		return nil, &errors.UnsupportedKindError{Path: path, Kind: kind.String()}
	}
	if err != nil {
		return nil, at(path, err)
	}
	return v, nil
}

func oneRune(value any, path string) (rune, error) {
	switch x := value.(type) {
	case string:
		if utf8.RuneCountInString(x) == 1 {
			r, _ := utf8.DecodeRuneInString(x)
			if r != utf8.RuneError {
				return r, nil
			}
		}
		return 0, &errors.EncodingError{Path: path, Reason: fmt.Sprintf("%q is not a single character", x)}
	case rune:
		return x, nil
	case byte:
		return rune(x), nil
	}
	return 0, &errors.SchemaMismatchError{Path: path, Reason: fmt.Sprintf("expected character, got %T", value)}
}

// asSlice accepts []any and any other slice or array type.
func asSlice(value any) ([]any, bool) {
	if s, ok := value.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func undeclared(obj map[string]any, members []typecode.Member) []string {
	declared := make(map[string]bool, len(members))
	for _, m := range members {
		declared[m.Name] = true
	}
	var extra []string
	for k := range obj {
		if !declared[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return extra
}

func at(path string, err error) error {
	if err == nil {
		return nil
	}
	if path == "" {
		return err
	}
	return fmt.Errorf("%s: %w", path, err)
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func index(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}
