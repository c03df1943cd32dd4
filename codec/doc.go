// Package codec converts between transport data buffers and generic value
// trees.
//
// A value tree is built from map[string]any (structs), []any (arrays and
// sequences) and Go scalars. Encode accepts any Go integer or float type
// and json.Number for numeric members, range-checking against the declared
// width; enums are written from their label. Decode always produces fresh
// values: integers in their declared Go width, float32/float64, bool, byte
// for octets and string for chars, strings and enum labels.
//
// Complex members are reached through scratch sub-buffers that are bound,
// used, unbound and deleted on every path:
//
//	c := codec.New(typeSupport)
//	base, _ := codec.DefaultInstance(typeSupport)
//	merged := codec.Merge(base, map[string]any{"depth": 42})
//	err := c.Encode(merged, data)
package codec
