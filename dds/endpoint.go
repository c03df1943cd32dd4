package dds

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/c360/dynbus/codec"
	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/transport"
)

var errAlreadySubscribed = stderrors.New("already subscribed")

// endpoint is a reader with its registered callbacks. Topic and
// FilteredTopic both deliver through one.
type endpoint struct {
	session  *Session
	name     string
	typeName string
	reader   transport.DataReader
	codec    *codec.Codec

	mu  sync.Mutex
	sub *subscription

	// held while a data-available handler runs
	running sync.Mutex
}

func (e *endpoint) subscribe(sub *subscription) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sub != nil {
		return errAlreadySubscribed
	}
	if err := e.reader.SetListener(e); err != nil {
		return errors.Wrap(err, "Topic", "Subscribe", "activate listener on "+e.name)
	}
	e.sub = sub
	return nil
}

func (e *endpoint) subscribed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sub != nil
}

// unsubscribe clears the callbacks. A handler already running finishes its
// current batch with the callbacks it started with.
func (e *endpoint) unsubscribe() error {
	e.mu.Lock()
	if e.sub == nil {
		e.mu.Unlock()
		return nil
	}
	e.sub = nil
	err := e.reader.SetListener(nil)
	e.mu.Unlock()

	if err != nil {
		return errors.Wrap(err, "Topic", "Unsubscribe", "deactivate listener on "+e.name)
	}
	return nil
}

// quiesce waits for an in-flight handler, so the reader holds no loan
func (e *endpoint) quiesce() {
	e.running.Lock()
	defer e.running.Unlock()
}

// OnDataAvailable drains the reader. It runs on a transport goroutine.
func (e *endpoint) OnDataAvailable(r transport.DataReader) {
	e.running.Lock()
	defer e.running.Unlock()

	if err := e.drain(r); err != nil {
		e.session.logger.Error("data-available handler failed", "topic", e.name, "type", e.typeName, "error", err)
	}
}

// drain takes every available sample and hands each to its callback. The
// loan is returned on every path; callback errors are collected and
// returned after it.
func (e *endpoint) drain(r transport.DataReader) (err error) {
	e.mu.Lock()
	sub := e.sub
	e.mu.Unlock()
	if sub == nil {
		return nil
	}

	loan, err := r.Take()
	if errors.IsNoData(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "Topic", "OnDataAvailable", "take samples")
	}
	defer func() {
		if rerr := r.ReturnLoan(loan); rerr != nil {
			err = stderrors.Join(err, errors.Wrap(rerr, "Topic", "OnDataAvailable", "return loan"))
		}
	}()

	var errs []error
	for _, s := range loan.Samples() {
		if derr := e.deliver(sub, s); derr != nil {
			errs = append(errs, derr)
		}
	}
	return stderrors.Join(errs...)
}

func (e *endpoint) deliver(sub *subscription, s transport.Sample) error {
	var cb Callback
	switch {
	case s.Info.InstanceState == transport.InstanceDisposed:
		cb = sub.onRevoked
	case s.Info.InstanceState == transport.InstanceNoWriters:
		cb = sub.onLost
	case s.Info.InstanceState == transport.InstanceAlive && s.Info.ValidData:
		cb = sub.onData
	}
	if cb == nil {
		return nil
	}

	v, err := e.codec.Decode(s.Data)
	if err != nil {
		e.session.metrics.codecFailure(e.name, "decode")
		return fmt.Errorf("decode %s sample: %w", e.typeName, err)
	}
	value, _ := v.(map[string]any)
	if sub.envelope {
		value = map[string]any{"name": e.typeName, "data": value}
	}

	state := s.Info.InstanceState.String()
	e.session.metrics.delivered(e.name, state)
	if err := invoke(cb, value); err != nil {
		e.session.metrics.callbackFailure(e.name)
		return fmt.Errorf("%s callback: %w", state, err)
	}
	return nil
}

func invoke(cb Callback, value map[string]any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("callback panicked: %v", rec)
		}
	}()
	return cb(value)
}
