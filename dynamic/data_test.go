package dynamic

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/typecode"
)

func trackType() *typecode.Type {
	pos := typecode.NewStruct("Position",
		typecode.Field("lat", typecode.Primitive(typecode.KindFloat64)),
		typecode.Field("lon", typecode.Primitive(typecode.KindFloat64)),
	)
	return typecode.NewStruct("Track",
		typecode.KeyField("id", typecode.Primitive(typecode.KindUint32)),
		typecode.Field("label", typecode.NewString(8)),
		typecode.Field("kind", typecode.NewEnum("Kind", "AIR", "SURFACE")),
		typecode.Field("pos", pos),
		typecode.Field("history", typecode.NewSequence(pos, 2)),
		typecode.Field("flags", typecode.NewArray(typecode.Primitive(typecode.KindBool), 2)),
		typecode.Field("grade", typecode.Primitive(typecode.KindChar)),
	)
}

func TestDefaults(t *testing.T) {
	d := New(trackType())

	v, err := Export(d)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"id":      uint32(0),
		"label":   "",
		"kind":    "AIR",
		"pos":     map[string]any{"lat": 0.0, "lon": 0.0},
		"history": []any{},
		"flags":   []any{false, false},
		"grade":   "\x00",
	}, v)
}

func TestScalarAccess(t *testing.T) {
	d := New(trackType())

	require.NoError(t, d.SetUint32("id", typecode.MemberIDUnspecified, 7))
	got, err := d.GetUint32("", 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), got)

	err = d.SetInt32("id", typecode.MemberIDUnspecified, 7)
	assert.ErrorIs(t, err, errors.ErrBadParameter, "kind mismatch")

	err = d.SetString("label", typecode.MemberIDUnspecified, "much too long")
	assert.ErrorIs(t, err, errors.ErrBadParameter, "bound exceeded")

	err = d.SetUint32("kind", typecode.MemberIDUnspecified, 9)
	assert.ErrorIs(t, err, errors.ErrBadParameter, "undeclared enum ordinal")
	require.NoError(t, d.SetUint32("kind", typecode.MemberIDUnspecified, 1))

	_, err = d.GetBool("missing", typecode.MemberIDUnspecified)
	assert.ErrorIs(t, err, errors.ErrBadParameter)
}

func TestBindDiscipline(t *testing.T) {
	alloc := &Allocator{}
	root, err := alloc.NewData(trackType())
	require.NoError(t, err)
	child, err := alloc.NewData(nil)
	require.NoError(t, err)

	require.NoError(t, root.BindComplexMember(child, "history", typecode.MemberIDUnspecified))

	// parent is unusable while a member is bound
	_, err = root.GetUint32("id", typecode.MemberIDUnspecified)
	assert.ErrorIs(t, err, errors.ErrPreconditionNotMet)

	// bound buffers cannot be deleted
	assert.ErrorIs(t, alloc.DeleteData(child), errors.ErrPreconditionNotMet)
	assert.ErrorIs(t, alloc.DeleteData(root), errors.ErrPreconditionNotMet)

	grand, err := alloc.NewData(nil)
	require.NoError(t, err)
	require.NoError(t, child.BindComplexMember(grand, "", 2))
	require.NoError(t, grand.SetFloat64("lat", typecode.MemberIDUnspecified, 1.5))
	assert.Equal(t, 2, child.MemberCount())
	require.NoError(t, child.UnbindComplexMember(grand))

	err = child.BindComplexMember(grand, "", 3)
	assert.ErrorIs(t, err, errors.ErrBadParameter, "sequence bound is 2")

	require.NoError(t, root.UnbindComplexMember(child))
	require.NoError(t, alloc.DeleteData(grand))
	require.NoError(t, alloc.DeleteData(child))
	require.NoError(t, alloc.DeleteData(root))
	assert.Equal(t, int64(0), alloc.Live())

	assert.ErrorIs(t, alloc.DeleteData(root), errors.ErrAlreadyDeleted)
}

func TestMemberType(t *testing.T) {
	d := New(trackType())

	mt, kind, err := d.MemberType("kind", typecode.MemberIDUnspecified)
	require.NoError(t, err)
	assert.Equal(t, "Kind", mt.Name())
	assert.Equal(t, typecode.KindEnum, kind)

	_, kind, err = d.MemberType("", 5)
	require.NoError(t, err)
	assert.Equal(t, typecode.KindSequence, kind)

	_, _, err = d.MemberType("missing", typecode.MemberIDUnspecified)
	var te *errors.TypeError
	assert.ErrorAs(t, err, &te)

	odd := New(typecode.NewStruct("Odd",
		typecode.Field("meters", typecode.NewAlias("Meters", typecode.Primitive(typecode.KindFloat64))),
		typecode.Field("u", typecode.NewUnsupported("Choice", typecode.KindUnion)),
	))
	mt, kind, err = odd.MemberType("meters", typecode.MemberIDUnspecified)
	require.NoError(t, err)
	assert.Equal(t, "Meters", mt.Name())
	assert.Equal(t, typecode.KindFloat64, kind, "aliases resolve to their base kind")
	_, kind, err = odd.MemberType("u", typecode.MemberIDUnspecified)
	require.NoError(t, err)
	assert.Equal(t, typecode.KindUnion, kind)

	_, _, err = New(nil).MemberType("id", typecode.MemberIDUnspecified)
	assert.ErrorIs(t, err, errors.ErrPreconditionNotMet)
}

func TestBindRejectsScalar(t *testing.T) {
	root := New(trackType())
	err := root.BindComplexMember(New(nil), "id", typecode.MemberIDUnspecified)
	assert.ErrorIs(t, err, errors.ErrBadParameter)
}

func TestImportExportJSON(t *testing.T) {
	in := `{"id": 42, "label": "alpha", "kind": "SURFACE", "pos": {"lat": 1.25},
		"history": [{"lat": 2, "lon": 3}], "flags": [true], "grade": "B"}`

	var tree any
	dec := json.NewDecoder(strings.NewReader(in))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&tree))

	d, err := Import(trackType(), tree)
	require.NoError(t, err)

	out, err := Export(d)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"id":      uint32(42),
		"label":   "alpha",
		"kind":    "SURFACE",
		"pos":     map[string]any{"lat": 1.25, "lon": 0.0},
		"history": []any{map[string]any{"lat": 2.0, "lon": 3.0}},
		"flags":   []any{true, false},
		"grade":   "B",
	}, out)

	clone := d.Clone()
	require.NoError(t, d.SetUint32("id", typecode.MemberIDUnspecified, 1))
	id, err := clone.GetUint32("id", typecode.MemberIDUnspecified)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), id, "clone is independent")
}

func TestImportRejects(t *testing.T) {
	for name, tree := range map[string]any{
		"not an object":  []any{1},
		"bad enum":       map[string]any{"kind": "SUBSURFACE"},
		"negative id":    map[string]any{"id": -1},
		"sequence bound": map[string]any{"history": []any{map[string]any{}, map[string]any{}, map[string]any{}}},
		"grade too long": map[string]any{"grade": "AB"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Import(trackType(), tree)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestInstanceKey(t *testing.T) {
	a := New(trackType())
	b := New(trackType())
	require.NoError(t, a.SetUint32("id", typecode.MemberIDUnspecified, 3))
	require.NoError(t, b.SetUint32("id", typecode.MemberIDUnspecified, 3))
	require.NoError(t, b.SetString("label", typecode.MemberIDUnspecified, "other"))

	ka, err := InstanceKey(a)
	require.NoError(t, err)
	kb, err := InstanceKey(b)
	require.NoError(t, err)
	assert.Equal(t, ka, kb, "non-key members do not change identity")
	assert.Equal(t, "[3]", ka)

	keyless := New(typecode.NewStruct("Plain", typecode.Field("x", typecode.Primitive(typecode.KindInt16))))
	k, err := InstanceKey(keyless)
	require.NoError(t, err)
	assert.Empty(t, k)
}
