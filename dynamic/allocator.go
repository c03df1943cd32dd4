package dynamic

import (
	"sync/atomic"

	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/transport"
	"github.com/c360/dynbus/typecode"
)

// Allocator hands out Data buffers and counts the ones not yet deleted.
type Allocator struct {
	live atomic.Int64
}

var _ transport.Allocator = (*Allocator)(nil)

// NewData returns a default-valued buffer of type t, or an unbound one for nil.
func (a *Allocator) NewData(t *typecode.Type) (transport.DynamicData, error) {
	a.live.Add(1)
	return New(t), nil
}

// DeleteData releases a buffer created by NewData.
func (a *Allocator) DeleteData(d transport.DynamicData) error {
	data, ok := d.(*Data)
	if !ok {
		return errors.Transport(errors.RetcodeBadParameter, "DeleteData", "foreign buffer %T", d)
	}
	if err := data.release(); err != nil {
		return err
	}
	a.live.Add(-1)
	return nil
}

// Live returns the number of buffers created and not yet deleted.
func (a *Allocator) Live() int64 {
	return a.live.Load()
}

// Clone returns a counted, independent copy of d. The copy must be
// released with DeleteData like any other buffer from a.
func (a *Allocator) Clone(d *Data) *Data {
	a.live.Add(1)
	return d.Clone()
}
