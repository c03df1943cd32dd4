package memory

import (
	"context"
	"sync"
	"time"

	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/transport"
)

// statusCondition triggers while its probe reports true and wakes the
// wait-sets it is attached to when signalled.
type statusCondition struct {
	probe func() bool

	mu       sync.Mutex
	waitSets map[*waitSet]struct{}
}

func newStatusCondition(probe func() bool) *statusCondition {
	return &statusCondition{probe: probe, waitSets: make(map[*waitSet]struct{})}
}

func (c *statusCondition) Triggered() bool { return c.probe() }

func (c *statusCondition) signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ws := range c.waitSets {
		ws.wake()
	}
}

type publicationLoan struct {
	pubs []transport.PublicationData
}

func (l *publicationLoan) Publications() []transport.PublicationData { return l.pubs }

type publicationReader struct {
	cond *statusCondition

	mu     sync.Mutex
	queue  []transport.PublicationData
	loans  map[*publicationLoan]struct{}
	closed bool
}

var _ transport.PublicationReader = (*publicationReader)(nil)

func newPublicationReader() *publicationReader {
	r := &publicationReader{loans: make(map[*publicationLoan]struct{})}
	r.cond = newStatusCondition(func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.queue) > 0
	})
	return r
}

func (r *publicationReader) push(pub transport.PublicationData) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, pub)
	r.mu.Unlock()
	r.cond.signal()
}

func (r *publicationReader) close() {
	r.mu.Lock()
	r.closed = true
	r.queue = nil
	r.mu.Unlock()
	r.cond.signal()
}

func (r *publicationReader) Take() (transport.PublicationLoan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.Transport(errors.RetcodeAlreadyDeleted, "Take", "publication reader was deleted")
	}
	if len(r.queue) == 0 {
		return nil, errors.Transport(errors.RetcodeNoData, "Take", "no publications available")
	}
	l := &publicationLoan{pubs: r.queue}
	r.queue = nil
	r.loans[l] = struct{}{}
	return l, nil
}

func (r *publicationReader) ReturnLoan(tl transport.PublicationLoan) error {
	l, ok := tl.(*publicationLoan)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !ok {
		return errors.Transport(errors.RetcodePreconditionNotMet, "ReturnLoan", "loan %T was not issued by this reader", tl)
	}
	if _, out := r.loans[l]; !out {
		return errors.Transport(errors.RetcodePreconditionNotMet, "ReturnLoan", "loan is not outstanding")
	}
	delete(r.loans, l)
	return nil
}

func (r *publicationReader) StatusCondition() transport.Condition { return r.cond }

type waitSet struct {
	signal chan struct{}

	mu         sync.Mutex
	conditions map[*statusCondition]struct{}
	closed     bool
}

var _ transport.WaitSet = (*waitSet)(nil)

func newWaitSet() *waitSet {
	return &waitSet{
		signal:     make(chan struct{}, 1),
		conditions: make(map[*statusCondition]struct{}),
	}
}

func (ws *waitSet) wake() {
	select {
	case ws.signal <- struct{}{}:
	default:
	}
}

func (ws *waitSet) Attach(tc transport.Condition) error {
	c, ok := tc.(*statusCondition)
	if !ok {
		return errors.Transport(errors.RetcodeBadParameter, "Attach", "foreign condition %T", tc)
	}

	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return errors.Transport(errors.RetcodeAlreadyDeleted, "Attach", "wait-set was closed")
	}
	ws.conditions[c] = struct{}{}
	ws.mu.Unlock()

	c.mu.Lock()
	c.waitSets[ws] = struct{}{}
	c.mu.Unlock()
	ws.wake()
	return nil
}

func (ws *waitSet) Detach(tc transport.Condition) error {
	c, ok := tc.(*statusCondition)
	if !ok {
		return errors.Transport(errors.RetcodeBadParameter, "Detach", "foreign condition %T", tc)
	}

	ws.mu.Lock()
	if _, attached := ws.conditions[c]; !attached {
		ws.mu.Unlock()
		return errors.Transport(errors.RetcodePreconditionNotMet, "Detach", "condition is not attached")
	}
	delete(ws.conditions, c)
	ws.mu.Unlock()

	c.mu.Lock()
	delete(c.waitSets, ws)
	c.mu.Unlock()
	return nil
}

func (ws *waitSet) triggered() ([]transport.Condition, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return nil, errors.Transport(errors.RetcodeAlreadyDeleted, "Wait", "wait-set was closed")
	}
	var out []transport.Condition
	for c := range ws.conditions {
		if c.Triggered() {
			out = append(out, c)
		}
	}
	return out, nil
}

// Wait blocks until an attached condition triggers, the timeout expires or
// ctx is done. It returns ctx.Err() when ctx ends the wait.
func (ws *waitSet) Wait(ctx context.Context, timeout time.Duration) ([]transport.Condition, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		active, err := ws.triggered()
		if err != nil || len(active) > 0 {
			return active, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-expired:
			return nil, errors.Transport(errors.RetcodeTimeout, "Wait", "no condition triggered within %s", timeout)
		case <-ws.signal:
		}
	}
}

func (ws *waitSet) Close() error {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return nil
	}
	ws.closed = true
	conds := ws.conditions
	ws.conditions = nil
	ws.mu.Unlock()

	for c := range conds {
		c.mu.Lock()
		delete(c.waitSets, ws)
		c.mu.Unlock()
	}
	ws.wake()
	return nil
}
