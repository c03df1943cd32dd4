package codec

import (
	"math"
	"math/big"

	"github.com/goccy/go-json"

	"github.com/c360/dynbus/transport"
	"github.com/c360/dynbus/typecode"
)

// integer describes one integer kind: its bounds [lo, hi) and accessors.
type integer struct {
	lo, hi *big.Int
	get    func(d transport.DynamicData, name string, id typecode.MemberID) (any, error)
	set    func(d transport.DynamicData, name string, id typecode.MemberID, v *big.Int) error
}

func pow2(n uint) *big.Int { return new(big.Int).Lsh(big.NewInt(1), n) }

func neg(b *big.Int) *big.Int { return new(big.Int).Neg(b) }

var integers = map[typecode.Kind]integer{
	typecode.KindInt16: {
		lo: neg(pow2(15)), hi: pow2(15),
		get: func(d transport.DynamicData, name string, id typecode.MemberID) (any, error) {
			return d.GetInt16(name, id)
		},
		set: func(d transport.DynamicData, name string, id typecode.MemberID, v *big.Int) error {
			return d.SetInt16(name, id, int16(v.Int64()))
		},
	},
	typecode.KindUint16: {
		lo: big.NewInt(0), hi: pow2(16),
		get: func(d transport.DynamicData, name string, id typecode.MemberID) (any, error) {
			return d.GetUint16(name, id)
		},
		set: func(d transport.DynamicData, name string, id typecode.MemberID, v *big.Int) error {
			return d.SetUint16(name, id, uint16(v.Uint64()))
		},
	},
	typecode.KindInt32: {
		lo: neg(pow2(31)), hi: pow2(31),
		get: func(d transport.DynamicData, name string, id typecode.MemberID) (any, error) {
			return d.GetInt32(name, id)
		},
		set: func(d transport.DynamicData, name string, id typecode.MemberID, v *big.Int) error {
			return d.SetInt32(name, id, int32(v.Int64()))
		},
	},
	typecode.KindUint32: {
		lo: big.NewInt(0), hi: pow2(32),
		get: func(d transport.DynamicData, name string, id typecode.MemberID) (any, error) {
			return d.GetUint32(name, id)
		},
		set: func(d transport.DynamicData, name string, id typecode.MemberID, v *big.Int) error {
			return d.SetUint32(name, id, uint32(v.Uint64()))
		},
	},
	typecode.KindInt64: {
		lo: neg(pow2(63)), hi: pow2(63),
		get: func(d transport.DynamicData, name string, id typecode.MemberID) (any, error) {
			return d.GetInt64(name, id)
		},
		set: func(d transport.DynamicData, name string, id typecode.MemberID, v *big.Int) error {
			return d.SetInt64(name, id, v.Int64())
		},
	},
	typecode.KindUint64: {
		lo: big.NewInt(0), hi: pow2(64),
		get: func(d transport.DynamicData, name string, id typecode.MemberID) (any, error) {
			return d.GetUint64(name, id)
		},
		set: func(d transport.DynamicData, name string, id typecode.MemberID, v *big.Int) error {
			return d.SetUint64(name, id, v.Uint64())
		},
	},
	typecode.KindOctet: {
		lo: big.NewInt(0), hi: pow2(8),
		get: func(d transport.DynamicData, name string, id typecode.MemberID) (any, error) {
			return d.GetOctet(name, id)
		},
		set: func(d transport.DynamicData, name string, id typecode.MemberID, v *big.Int) error {
			return d.SetOctet(name, id, byte(v.Uint64()))
		},
	},
}

// toBigInt converts an integral Go number or json.Number.
func toBigInt(v any) (*big.Int, bool) {
	switch x := v.(type) {
	case int:
		return big.NewInt(int64(x)), true
	case int8:
		return big.NewInt(int64(x)), true
	case int16:
		return big.NewInt(int64(x)), true
	case int32:
		return big.NewInt(int64(x)), true
	case int64:
		return big.NewInt(x), true
	case uint:
		return new(big.Int).SetUint64(uint64(x)), true
	case uint8:
		return big.NewInt(int64(x)), true
	case uint16:
		return big.NewInt(int64(x)), true
	case uint32:
		return big.NewInt(int64(x)), true
	case uint64:
		return new(big.Int).SetUint64(x), true
	case float32:
		return floatToBigInt(float64(x))
	case float64:
		return floatToBigInt(x)
	case json.Number:
		b, ok := new(big.Int).SetString(string(x), 10)
		if ok {
			return b, true
		}
		f, err := x.Float64()
		if err != nil {
			return nil, false
		}
		return floatToBigInt(f)
	}
	return nil, false
}

func floatToBigInt(f float64) (*big.Int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, false
	}
	b, _ := big.NewFloat(f).Int(nil)
	return b, true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	if b, ok := toBigInt(v); ok {
		f, _ := new(big.Float).SetInt(b).Float64()
		return f, true
	}
	return 0, false
}
