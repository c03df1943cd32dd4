package typecode

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/dynbus/errors"
)

// librarySchema constrains type-library documents before types are built.
const librarySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["library", "types"],
  "additionalProperties": false,
  "properties": {
    "library": {"type": "string", "minLength": 1},
    "types": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "kind"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "kind": {"enum": ["struct", "enum", "alias", "sequence", "array"]},
          "base": {"type": "string"},
          "element": {"type": "string"},
          "length": {"type": "integer", "minimum": 0},
          "enumerators": {
            "type": "array",
            "items": {
              "oneOf": [
                {"type": "string"},
                {
                  "type": "object",
                  "required": ["name"],
                  "additionalProperties": false,
                  "properties": {
                    "name": {"type": "string"},
                    "value": {"type": "integer", "minimum": 0}
                  }
                }
              ]
            }
          },
          "members": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["name", "type"],
              "additionalProperties": false,
              "properties": {
                "name": {"type": "string", "minLength": 1},
                "type": {"type": "string", "minLength": 1},
                "id": {"type": "integer", "minimum": 1},
                "key": {"type": "boolean"},
                "bound": {"type": "integer", "minimum": 0},
                "collection": {"enum": ["sequence", "array"]},
                "length": {"type": "integer", "minimum": 0}
              }
            }
          }
        }
      }
    }
  }
}`

var librarySchemaLoader = gojsonschema.NewStringLoader(librarySchema)

type libraryDoc struct {
	Library string    `yaml:"library"`
	Types   []typeDoc `yaml:"types"`
}

type typeDoc struct {
	Name        string          `yaml:"name"`
	Kind        string          `yaml:"kind"`
	Base        string          `yaml:"base"`
	Element     string          `yaml:"element"`
	Length      int             `yaml:"length"`
	Enumerators []enumeratorDoc `yaml:"enumerators"`
	Members     []memberDoc     `yaml:"members"`
}

type memberDoc struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	ID         int32  `yaml:"id"`
	Key        bool   `yaml:"key"`
	Bound      int    `yaml:"bound"`
	Collection string `yaml:"collection"`
	Length     int    `yaml:"length"`
}

type enumeratorDoc struct {
	Name  string  `yaml:"name"`
	Value *uint32 `yaml:"value"`
}

// UnmarshalYAML accepts either a bare label or a {name, value} mapping.
func (e *enumeratorDoc) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Name = node.Value
		return nil
	}
	type plain enumeratorDoc
	return node.Decode((*plain)(e))
}

// Library is a named set of type definitions loaded from one document.
type Library struct {
	name  string
	types map[string]*Type
}

// Name returns the library name
func (l *Library) Name() string { return l.name }

// Lookup returns the named type, if the library defines it.
func (l *Library) Lookup(name string) (*Type, bool) {
	t, ok := l.types[name]
	return t, ok
}

// TypeNames returns the defined type names in sorted order.
func (l *Library) TypeNames() []string {
	names := make([]string, 0, len(l.types))
	for n := range l.types {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseLibrary validates and builds a library from a YAML (or JSON) document.
func ParseLibrary(data []byte) (*Library, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapInvalid(err, "typecode", "ParseLibrary", "decode document")
	}

	result, err := gojsonschema.Validate(librarySchemaLoader, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, errors.WrapInvalid(err, "typecode", "ParseLibrary", "validate document")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return nil, &errors.TypeError{Reason: "invalid type library: " + strings.Join(msgs, "; ")}
	}

	var doc libraryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "typecode", "ParseLibrary", "decode types")
	}

	b := &libraryBuilder{
		docs:     make(map[string]*typeDoc, len(doc.Types)),
		built:    make(map[string]*Type, len(doc.Types)),
		building: make(map[string]bool),
	}
	for i := range doc.Types {
		td := &doc.Types[i]
		if _, dup := b.docs[td.Name]; dup {
			return nil, &errors.TypeError{Type: td.Name, Reason: "defined twice in library " + doc.Library}
		}
		b.docs[td.Name] = td
	}
	for _, td := range doc.Types {
		if _, err := b.build(td.Name); err != nil {
			return nil, err
		}
	}

	return &Library{name: doc.Library, types: b.built}, nil
}

// LoadLibrary reads and parses a library file.
func LoadLibrary(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "typecode", "LoadLibrary", "read "+path)
	}
	lib, err := ParseLibrary(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lib, nil
}

type libraryBuilder struct {
	docs     map[string]*typeDoc
	built    map[string]*Type
	building map[string]bool
}

// ref resolves a type reference: a kind name or a type defined in the library.
func (b *libraryBuilder) ref(name string) (*Type, error) {
	if k, ok := ParseKind(name); ok {
		switch {
		case k.IsPrimitive(), k == KindString, k == KindWString:
			return Primitive(k), nil
		case k == KindUnion, k == KindLongDouble:
			return NewUnsupported(name, k), nil
		}
	}
	return b.build(name)
}

func (b *libraryBuilder) build(name string) (*Type, error) {
	if t, ok := b.built[name]; ok {
		return t, nil
	}
	td, ok := b.docs[name]
	if !ok {
		return nil, &errors.TypeError{Type: name, Reason: "undefined type reference"}
	}
	if b.building[name] {
		return nil, &errors.TypeError{Type: name, Reason: "recursive type definition"}
	}
	b.building[name] = true
	defer delete(b.building, name)

	var t *Type
	switch td.Kind {
	case "struct":
		members := make([]Member, 0, len(td.Members))
		for _, md := range td.Members {
			mt, err := b.member(md)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", name, md.Name, err)
			}
			members = append(members, Member{Name: md.Name, ID: MemberID(md.ID), Type: mt, Key: md.Key})
		}
		t = NewStruct(name, members...)

	case "enum":
		es := make([]Enumerator, len(td.Enumerators))
		next := uint32(0)
		for i, ed := range td.Enumerators {
			if ed.Value != nil {
				next = *ed.Value
			}
			es[i] = Enumerator{Name: ed.Name, Ordinal: next}
			next++
		}
		t = NewEnumWithValues(name, es...)

	case "alias":
		base, err := b.ref(td.Base)
		if err != nil {
			return nil, err
		}
		t = NewAlias(name, base)

	case "sequence", "array":
		elem, err := b.ref(td.Element)
		if err != nil {
			return nil, err
		}
		if td.Kind == "array" {
			t = NewArray(elem, td.Length)
		} else {
			t = NewSequence(elem, td.Length)
		}
		t.name = name

	default:
		return nil, &errors.TypeError{Type: name, Reason: "unknown kind " + td.Kind}
	}

	b.built[name] = t
	return t, nil
}

func (b *libraryBuilder) member(md memberDoc) (*Type, error) {
	var mt *Type
	if k, ok := ParseKind(md.Type); ok && (k == KindString || k == KindWString) && md.Bound > 0 {
		if k == KindString {
			mt = NewString(md.Bound)
		} else {
			mt = NewWString(md.Bound)
		}
	} else {
		var err error
		if mt, err = b.ref(md.Type); err != nil {
			return nil, err
		}
	}

	switch md.Collection {
	case "sequence":
		return NewSequence(mt, md.Length), nil
	case "array":
		if md.Length <= 0 {
			return nil, &errors.TypeError{Member: md.Name, Reason: "array member needs a positive length"}
		}
		return NewArray(mt, md.Length), nil
	}
	return mt, nil
}

// Set is an ordered collection of libraries. Lookups return the first
// library's definition in declaration order.
type Set struct {
	libraries []*Library
}

// NewSet builds a Set from already loaded libraries.
func NewSet(libraries ...*Library) *Set {
	return &Set{libraries: libraries}
}

// LoadSet finds each named library as <name>.yaml, <name>.yml or
// <name>.json in the search paths, in order.
func LoadSet(searchPaths []string, names []string) (*Set, error) {
	if len(searchPaths) == 0 {
		searchPaths = []string{"."}
	}
	set := &Set{}
	for _, name := range names {
		path, err := findLibrary(searchPaths, name)
		if err != nil {
			return nil, err
		}
		lib, err := LoadLibrary(path)
		if err != nil {
			return nil, err
		}
		set.libraries = append(set.libraries, lib)
	}
	return set, nil
}

func findLibrary(searchPaths []string, name string) (string, error) {
	for _, dir := range searchPaths {
		for _, ext := range []string{".yaml", ".yml", ".json"} {
			p := filepath.Join(dir, name+ext)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}
	return "", errors.WrapInvalid(errors.ErrMissingConfig, "typecode", "LoadSet",
		fmt.Sprintf("find library %q in %v", name, searchPaths))
}

// Libraries returns the libraries in declaration order.
func (s *Set) Libraries() []*Library {
	return append([]*Library(nil), s.libraries...)
}

// Lookup resolves a type name against the libraries in order.
func (s *Set) Lookup(name string) (*Type, error) {
	for _, lib := range s.libraries {
		if t, ok := lib.Lookup(name); ok {
			return t, nil
		}
	}
	return nil, &errors.TypeError{Type: name, Reason: "not defined by any type library"}
}
