package codec

import (
	stderrors "errors"
	"math"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dynbus/dynamic"
	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/transport"
	"github.com/c360/dynbus/typecode"
)

type testSupport struct {
	*dynamic.Allocator
	t *typecode.Type
}

func (s testSupport) Type() *typecode.Type { return s.t }
func (s testSupport) TypeName() string     { return s.t.Name() }

var _ transport.TypeSupport = testSupport{}

func newSupport(t *typecode.Type) testSupport {
	return testSupport{Allocator: &dynamic.Allocator{}, t: t}
}

func reportType() *typecode.Type {
	p := typecode.Primitive
	position := typecode.NewStruct("Position",
		typecode.Field("lat", p(typecode.KindFloat64)),
		typecode.Field("lon", p(typecode.KindFloat64)),
	)
	return typecode.NewStruct("Report",
		typecode.KeyField("sourceId", p(typecode.KindString)),
		typecode.Field("depth", p(typecode.KindInt32)),
		typecode.Field("count", p(typecode.KindUint32)),
		typecode.Field("small", p(typecode.KindInt16)),
		typecode.Field("port", p(typecode.KindUint16)),
		typecode.Field("big", p(typecode.KindInt64)),
		typecode.Field("huge", p(typecode.KindUint64)),
		typecode.Field("raw", p(typecode.KindOctet)),
		typecode.Field("ratio", p(typecode.KindFloat32)),
		typecode.Field("ok", p(typecode.KindBool)),
		typecode.Field("grade", p(typecode.KindChar)),
		typecode.Field("glyph", p(typecode.KindWChar)),
		typecode.Field("note", p(typecode.KindWString)),
		typecode.Field("mode", typecode.NewEnum("Mode", "IDLE", "ACTIVE")),
		typecode.Field("meters", typecode.NewAlias("Meters", p(typecode.KindFloat64))),
		typecode.Field("position", position),
		typecode.Field("track", typecode.NewSequence(position, 0)),
		typecode.Field("window", typecode.NewArray(p(typecode.KindInt32), 3)),
	)
}

func TestDefaultInstance(t *testing.T) {
	ts := newSupport(reportType())

	def, err := DefaultInstance(ts)
	require.NoError(t, err)

	assert.Equal(t, "", def["sourceId"])
	assert.Equal(t, int32(0), def["depth"])
	assert.Equal(t, "IDLE", def["mode"])
	assert.Equal(t, map[string]any{"lat": 0.0, "lon": 0.0}, def["position"])
	assert.Equal(t, []any{}, def["track"])
	assert.Equal(t, []any{int32(0), int32(0), int32(0)}, def["window"])
	assert.Equal(t, int64(0), ts.Live(), "scratch and root buffers are released")
}

func TestRoundTrip(t *testing.T) {
	ts := newSupport(reportType())
	c := New(ts)

	def, err := DefaultInstance(ts)
	require.NoError(t, err)

	sparse := map[string]any{
		"sourceId": "19",
		"depth":    int32(42),
		"count":    uint32(math.MaxUint32),
		"small":    int16(-7),
		"port":     uint16(8080),
		"big":      int64(math.MinInt64),
		"huge":     uint64(math.MaxUint64),
		"raw":      byte(255),
		"ratio":    float32(0.5),
		"ok":       true,
		"grade":    "A",
		"glyph":    "λ",
		"note":     "über",
		"mode":     "ACTIVE",
		"meters":   12.5,
		"position": map[string]any{"lat": 1.5},
		"track": []any{
			map[string]any{"lat": 1.0, "lon": 2.0},
			map[string]any{"lat": 3.0, "lon": 4.0},
		},
		"window": []any{int32(1), int32(2), int32(3)},
	}
	want := Merge(def, sparse)

	data, err := ts.NewData(ts.Type())
	require.NoError(t, err)
	require.NoError(t, c.Encode(want, data))

	got, err := c.Decode(data)
	require.NoError(t, err)
	require.NoError(t, ts.DeleteData(data))

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, map[string]any{"lat": 1.5, "lon": 0.0}, got.(map[string]any)["position"])
	assert.Equal(t, int64(0), ts.Live())
}

func TestEncodeAcceptsLooseNumbers(t *testing.T) {
	ts := newSupport(reportType())
	c := New(ts)
	def, err := DefaultInstance(ts)
	require.NoError(t, err)

	v := Merge(def, map[string]any{
		"depth":  json.Number("42"),
		"count":  7,
		"big":    float64(1 << 40),
		"ratio":  2,
		"window": []int{4, 5, 6},
	})

	data := dynamic.New(ts.Type())
	require.NoError(t, c.Encode(v, data))

	got, err := c.Decode(data)
	require.NoError(t, err)
	m := got.(map[string]any)
	assert.Equal(t, int32(42), m["depth"])
	assert.Equal(t, uint32(7), m["count"])
	assert.Equal(t, int64(1<<40), m["big"])
	assert.Equal(t, float32(2), m["ratio"])
	assert.Equal(t, []any{int32(4), int32(5), int32(6)}, m["window"])
}

func TestRangeEnforcement(t *testing.T) {
	ts := newSupport(reportType())
	c := New(ts)
	def, err := DefaultInstance(ts)
	require.NoError(t, err)

	tests := []struct {
		member string
		value  any
		ok     bool
	}{
		{"count", -1, false},
		{"count", uint64(1) << 32, false},
		{"count", 0, true},
		{"count", uint64(1)<<32 - 1, true},
		{"depth", int64(math.MinInt32), true},
		{"depth", int64(math.MaxInt32) + 1, false},
		{"small", 1 << 15, false},
		{"port", 1 << 16, false},
		{"raw", 256, false},
		{"raw", -1, false},
		{"huge", -1, false},
		{"huge", json.Number("18446744073709551616"), false},
		{"big", json.Number("-9223372036854775808"), true},
	}

	for _, tt := range tests {
		data := dynamic.New(ts.Type())
		err := c.Encode(Merge(def, map[string]any{tt.member: tt.value}), data)
		if tt.ok {
			assert.NoError(t, err, "%s=%v", tt.member, tt.value)
			continue
		}
		var re *errors.RangeError
		require.True(t, stderrors.As(err, &re), "%s=%v: want RangeError, got %v", tt.member, tt.value, err)
		assert.Equal(t, tt.member, re.Path)
		assert.True(t, errors.IsInvalid(err))
	}

	err = c.Encode(Merge(def, map[string]any{"count": -1}), dynamic.New(ts.Type()))
	assert.EqualError(t, err, "count: -1 not in range [0, 4294967296)")
}

func TestEncodeRejects(t *testing.T) {
	ts := newSupport(reportType())
	c := New(ts)
	def, err := DefaultInstance(ts)
	require.NoError(t, err)

	withDefaults := func(sparse map[string]any) map[string]any { return Merge(def, sparse) }
	missing := withDefaults(nil)
	delete(missing, "depth")

	tests := []struct {
		name  string
		value any
		want  any
	}{
		{"embedded null", withDefaults(map[string]any{"sourceId": "a\x00b"}), &errors.EncodingError{}},
		{"wstring null", withDefaults(map[string]any{"note": "\x00"}), &errors.EncodingError{}},
		{"unknown enum label", withDefaults(map[string]any{"mode": "SLEEPING"}), &errors.TypeError{}},
		{"enum ordinal", withDefaults(map[string]any{"mode": 1}), &errors.SchemaMismatchError{}},
		{"missing member", missing, &errors.SchemaMismatchError{}},
		{"undeclared key", withDefaults(map[string]any{"colour": "red"}), &errors.SchemaMismatchError{}},
		{"not a mapping", []any{1, 2}, &errors.SchemaMismatchError{}},
		{"nested wrong shape", withDefaults(map[string]any{"position": 3}), &errors.SchemaMismatchError{}},
		{"array too long", withDefaults(map[string]any{"window": []any{1, 2, 3, 4}}), &errors.SchemaMismatchError{}},
		{"fractional integer", withDefaults(map[string]any{"depth": 1.5}), &errors.SchemaMismatchError{}},
		{"bool from string", withDefaults(map[string]any{"ok": "yes"}), &errors.SchemaMismatchError{}},
		{"char too wide", withDefaults(map[string]any{"grade": "λ"}), &errors.RangeError{}},
		{"char too long", withDefaults(map[string]any{"grade": "AB"}), &errors.EncodingError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Encode(tt.value, dynamic.New(ts.Type()))
			require.Error(t, err)
			assert.IsType(t, tt.want, unwrapAll(err))
			assert.True(t, errors.IsInvalid(err))
			assert.Equal(t, int64(0), ts.Live(), "scratch buffers released")
		})
	}
}

func TestNestedErrorPath(t *testing.T) {
	ts := newSupport(reportType())
	c := New(ts)
	def, err := DefaultInstance(ts)
	require.NoError(t, err)

	v := Merge(def, map[string]any{"track": []any{
		map[string]any{"lat": 1.0, "lon": 1.0},
		map[string]any{"lat": "north", "lon": 1.0},
	}})
	err = c.Encode(v, dynamic.New(ts.Type()))

	var sm *errors.SchemaMismatchError
	require.ErrorAs(t, err, &sm)
	assert.Equal(t, "track[1].lat", sm.Path)
	assert.Equal(t, int64(0), ts.Live())
}

// introspected records the members whose type the codec asks the buffer for
type introspected struct {
	*dynamic.Data
	asked []string
}

func (d *introspected) MemberType(name string, id typecode.MemberID) (*typecode.Type, typecode.Kind, error) {
	d.asked = append(d.asked, name)
	return d.Data.MemberType(name, id)
}

func TestMemberKindsComeFromTheBuffer(t *testing.T) {
	typ := typecode.NewStruct("Fix",
		typecode.KeyField("id", typecode.Primitive(typecode.KindUint32)),
		typecode.Field("mode", typecode.NewEnum("Mode", "IDLE", "ACTIVE")),
		typecode.Field("at", typecode.NewStruct("Position",
			typecode.Field("lat", typecode.Primitive(typecode.KindFloat64)),
		)),
	)
	ts := newSupport(typ)
	c := New(ts)

	data := &introspected{Data: dynamic.New(typ)}
	require.NoError(t, c.Encode(map[string]any{"id": 4, "mode": "ACTIVE", "at": map[string]any{"lat": 1.5}}, data))
	assert.Equal(t, []string{"id", "mode", "at"}, data.asked)

	data.asked = nil
	got, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "mode", "at"}, data.asked)
	assert.Equal(t, map[string]any{"id": uint32(4), "mode": "ACTIVE", "at": map[string]any{"lat": 1.5}}, got)
	assert.Equal(t, int64(0), ts.Live())
}

func TestUnsupportedKindReleasesScratch(t *testing.T) {
	inner := typecode.NewStruct("Inner",
		typecode.Field("u", typecode.NewUnsupported("Choice", typecode.KindUnion)),
	)
	outer := typecode.NewStruct("Outer", typecode.Field("inner", inner))
	ts := newSupport(outer)
	c := New(ts)

	_, err := c.Decode(dynamic.New(outer))
	var uk *errors.UnsupportedKindError
	require.ErrorAs(t, err, &uk)
	assert.Equal(t, "inner.u", uk.Path)
	assert.Equal(t, int64(0), ts.Live())

	err = c.Encode(map[string]any{"inner": map[string]any{"u": 1}}, dynamic.New(outer))
	require.ErrorAs(t, err, &uk)
	assert.Equal(t, int64(0), ts.Live())

	_, err = DefaultInstance(ts)
	assert.Error(t, err)
	assert.Equal(t, int64(0), ts.Live())
}

func unwrapAll(err error) error {
	for {
		next := stderrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
