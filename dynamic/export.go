package dynamic

import (
	stderrors "errors"
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/transport"
	"github.com/c360/dynbus/typecode"
)

// Export renders a buffer as a plain value tree: map[string]any for
// structs, []any for collections, labels for enums and Go scalars
// otherwise. The result shares nothing with the buffer.
func Export(d transport.DynamicData) (any, error) {
	data, ok := d.(*Data)
	if !ok {
		return nil, errors.Transport(errors.RetcodeBadParameter, "Export", "foreign buffer %T", d)
	}
	if err := data.usable("Export"); err != nil {
		return nil, err
	}
	return exportNode(data.n)
}

func exportNode(n *node) (any, error) {
	switch n.t.Kind() {
	case typecode.KindStruct:
		out := make(map[string]any, len(n.items))
		for i, m := range n.t.Members() {
			if n.items[i].value == nil && n.items[i].items == nil {
				continue
			}
			v, err := exportNode(n.items[i])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m.Name, err)
			}
			out[m.Name] = v
		}
		return out, nil
	case typecode.KindArray, typecode.KindSequence:
		out := make([]any, len(n.items))
		for i, it := range n.items {
			v, err := exportNode(it)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	case typecode.KindEnum:
		return n.t.EnumLabel(n.value.(uint32))
	case typecode.KindChar:
		return string(rune(n.value.(byte))), nil
	case typecode.KindWChar:
		return string(n.value.(rune)), nil
	}
	return n.value, nil
}

// Import builds a buffer of type t from a value tree as produced by Export
// or by decoding its JSON form. Numbers may be any Go numeric type or
// json.Number; enums may be labels or ordinals. Members absent from the
// tree keep their defaults.
func Import(t *typecode.Type, v any) (*Data, error) {
	d := New(t)
	if err := importNode(d.n, v, ""); err != nil {
		return nil, errors.WrapInvalid(err, "dynamic", "Import", "import "+t.Name())
	}
	return d, nil
}

func importNode(n *node, v any, path string) error {
	switch n.t.Kind() {
	case typecode.KindStruct:
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected object, got %T", path, v)
		}
		for i, mem := range n.t.Members() {
			mv, present := m[mem.Name]
			if !present {
				continue
			}
			if err := importNode(n.items[i], mv, path+"."+mem.Name); err != nil {
				return err
			}
		}
		return nil

	case typecode.KindArray, typecode.KindSequence:
		s, ok := v.([]any)
		if !ok {
			return fmt.Errorf("%s: expected array, got %T", path, v)
		}
		if n.t.Kind() == typecode.KindArray && len(s) > len(n.items) {
			return fmt.Errorf("%s: %d elements exceed array length %d", path, len(s), len(n.items))
		}
		if n.t.Kind() == typecode.KindSequence {
			if bound := n.t.Length(); bound > 0 && len(s) > bound {
				return fmt.Errorf("%s: %d elements exceed sequence bound %d", path, len(s), bound)
			}
			n.items = make([]*node, len(s))
			for i := range s {
				n.items[i] = newNode(n.t.Element())
			}
		}
		for i, ev := range s {
			if err := importNode(n.items[i], ev, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil

	case typecode.KindEnum:
		if label, ok := v.(string); ok {
			ord, err := n.t.EnumOrdinal(label)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			n.value = ord
			return nil
		}
		u, err := toUint(v, math.MaxUint32)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if _, err := n.t.EnumLabel(uint32(u)); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		n.value = uint32(u)
		return nil
	}

	sv, err := importScalar(n.t.Kind(), v)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	n.value = sv
	return nil
}

func importScalar(k typecode.Kind, v any) (any, error) {
	switch k {
	case typecode.KindInt16:
		i, err := toInt(v, math.MinInt16, math.MaxInt16)
		return int16(i), err
	case typecode.KindUint16:
		u, err := toUint(v, math.MaxUint16)
		return uint16(u), err
	case typecode.KindInt32:
		i, err := toInt(v, math.MinInt32, math.MaxInt32)
		return int32(i), err
	case typecode.KindUint32:
		u, err := toUint(v, math.MaxUint32)
		return uint32(u), err
	case typecode.KindInt64:
		return toInt(v, math.MinInt64, math.MaxInt64)
	case typecode.KindUint64:
		return toUint(v, math.MaxUint64)
	case typecode.KindOctet:
		u, err := toUint(v, math.MaxUint8)
		return byte(u), err
	case typecode.KindFloat32:
		f, err := toFloat(v)
		return float32(f), err
	case typecode.KindFloat64:
		return toFloat(v)
	case typecode.KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	case typecode.KindChar, typecode.KindWChar:
		s, ok := v.(string)
		r := []rune(s)
		if !ok || len(r) != 1 {
			return nil, fmt.Errorf("expected single character, got %v", v)
		}
		if k == typecode.KindChar {
			if r[0] > math.MaxUint8 {
				return nil, fmt.Errorf("character %q does not fit a char", r[0])
			}
			return byte(r[0]), nil
		}
		return r[0], nil
	case typecode.KindString, typecode.KindWString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported kind %s", k)
}

var errNotNumber = stderrors.New("not a number")

func toInt(v any, lo, hi int64) (int64, error) {
	var i int64
	switch x := v.(type) {
	case json.Number:
		n, err := strconv.ParseInt(string(x), 10, 64)
		if err != nil {
			return 0, err
		}
		i = n
	case float64:
		if x != math.Trunc(x) || x < math.MinInt64 || x >= math.MaxInt64 {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		i = int64(x)
	case int:
		i = int64(x)
	case int8:
		i = int64(x)
	case int16:
		i = int64(x)
	case int32:
		i = int64(x)
	case int64:
		i = x
	case uint8:
		i = int64(x)
	case uint16:
		i = int64(x)
	case uint32:
		i = int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", x)
		}
		i = int64(x)
	default:
		return 0, fmt.Errorf("%T: %w", v, errNotNumber)
	}
	if i < lo || i > hi {
		return 0, fmt.Errorf("%d outside [%d, %d]", i, lo, hi)
	}
	return i, nil
}

func toUint(v any, hi uint64) (uint64, error) {
	var u uint64
	switch x := v.(type) {
	case json.Number:
		n, err := strconv.ParseUint(string(x), 10, 64)
		if err != nil {
			return 0, err
		}
		u = n
	case uint64:
		u = x
	case uint32:
		u = uint64(x)
	case uint16:
		u = uint64(x)
	case uint8:
		u = uint64(x)
	case uint:
		u = uint64(x)
	default:
		i, err := toInt(v, 0, math.MaxInt64)
		if err != nil {
			return 0, err
		}
		u = uint64(i)
	}
	if u > hi {
		return 0, fmt.Errorf("%d exceeds %d", u, hi)
	}
	return u, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Float64()
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	}
	i, err := toInt(v, math.MinInt64, math.MaxInt64)
	return float64(i), err
}

// InstanceKey renders the key members of a buffer as a stable string.
// Keyless types map every sample to the single instance "".
func InstanceKey(d transport.DynamicData) (string, error) {
	data, ok := d.(*Data)
	if !ok {
		return "", errors.Transport(errors.RetcodeBadParameter, "InstanceKey", "foreign buffer %T", d)
	}
	if err := data.usable("InstanceKey"); err != nil {
		return "", err
	}
	keys := data.t.KeyMembers()
	if len(keys) == 0 {
		return "", nil
	}

	members := data.n.t.Members()
	vals := make([]any, 0, len(keys))
	for _, k := range keys {
		for i, m := range members {
			if m.ID == k.ID {
				v, err := exportNode(data.n.items[i])
				if err != nil {
					return "", err
				}
				vals = append(vals, v)
			}
		}
	}

	b, err := json.Marshal(vals)
	if err != nil {
		return "", errors.Wrap(err, "dynamic", "InstanceKey", "marshal key")
	}
	return string(b), nil
}
