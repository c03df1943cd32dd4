package dds

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/transport"
)

// Discovery outcomes recorded in the types-discovered metric
const (
	discoverySubscribed = "subscribed"
	discoverySkipped    = "skipped"
	discoveryUnknown    = "unknown"
	discoveryFailed     = "failed"
)

// discoveryWatcher subscribes to the topic of every discovered publication.
// A type moves from unseen to pending while the session is still being
// built, and to active once it is subscribed.
type discoveryWatcher struct {
	session *Session
	logger  *slog.Logger
	reader  transport.PublicationReader
	waitSet transport.WaitSet
	onData  Callback
	subOpts []SubscribeOption

	mu          sync.Mutex
	initialized bool
	active      map[string]bool
	pending     []string

	cancel context.CancelFunc
	done   chan struct{}
}

func startWatcher(s *Session, onData Callback, o options) (*discoveryWatcher, error) {
	r, err := s.participant.PublicationReader()
	if err != nil {
		return nil, errors.Wrap(err, "Session", "Open", "get publication reader")
	}
	ws, err := s.participant.CreateWaitSet()
	if err != nil {
		return nil, errors.Wrap(err, "Session", "Open", "create wait-set")
	}
	if err := ws.Attach(r.StatusCondition()); err != nil {
		return nil, stderrors.Join(
			errors.Wrap(err, "Session", "Open", "attach publication condition"),
			ws.Close())
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &discoveryWatcher{
		session: s,
		logger:  s.logger.With("component", "discovery"),
		reader:  r,
		waitSet: ws,
		onData:  onData,
		subOpts: []SubscribeOption{
			OnInstanceRevoked(o.onRevoked),
			OnLivelinessLost(o.onLost),
			WithEnvelope(),
		},
		active: make(map[string]bool),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

func (w *discoveryWatcher) run(ctx context.Context) {
	defer close(w.done)
	for {
		if _, err := w.waitSet.Wait(ctx, 0); err != nil {
			if ctx.Err() != nil || stderrors.Is(err, errors.ErrAlreadyDeleted) {
				return
			}
			w.logger.Warn("wait for publications failed", "error", err)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if err := w.poll(); err != nil {
			w.logger.Error("read publications failed", "error", err)
		}
	}
}

// poll takes every pending publication record and returns the loan
func (w *discoveryWatcher) poll() (err error) {
	loan, err := w.reader.Take()
	if errors.IsNoData(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if rerr := w.reader.ReturnLoan(loan); rerr != nil {
			err = stderrors.Join(err, rerr)
		}
	}()

	for _, pub := range loan.Publications() {
		w.observe(pub.TypeName)
	}
	return nil
}

func (w *discoveryWatcher) observe(typeName string) {
	w.mu.Lock()
	if _, seen := w.active[typeName]; seen {
		w.mu.Unlock()
		return
	}
	if !w.initialized {
		w.active[typeName] = false
		w.pending = append(w.pending, typeName)
		w.mu.Unlock()
		w.logger.Debug("type pending", "type", typeName)
		return
	}
	w.active[typeName] = true
	w.mu.Unlock()
	w.activate(typeName)
}

// initialize activates the types seen while the session was being built
func (w *discoveryWatcher) initialize() {
	w.mu.Lock()
	w.initialized = true
	pending := w.pending
	w.pending = nil
	for _, name := range pending {
		w.active[name] = true
	}
	w.mu.Unlock()

	for _, name := range pending {
		w.activate(name)
	}
}

func (w *discoveryWatcher) activate(typeName string) {
	t, err := w.session.GetTopic(typeName)
	if err != nil {
		outcome := discoveryFailed
		var te *errors.TypeError
		if stderrors.As(err, &te) {
			outcome = discoveryUnknown
		}
		w.session.metrics.discovered(outcome)
		w.logger.Warn("cannot open discovered type", "type", typeName, "error", err)
		return
	}
	if t.Subscribed() {
		w.session.metrics.discovered(discoverySkipped)
		w.logger.Debug("discovered topic already subscribed", "topic", t.Name(), "type", typeName)
		return
	}
	if _, err := t.Subscribe(w.onData, w.subOpts...); err != nil {
		w.session.metrics.discovered(discoveryFailed)
		w.logger.Error("subscribe discovered topic failed", "topic", t.Name(), "type", typeName, "error", err)
		return
	}
	w.session.metrics.discovered(discoverySubscribed)
	w.logger.Info("subscribed discovered topic", "topic", t.Name(), "type", typeName)
}

// stop cancels the loop, waits for it to exit and closes the wait-set
func (w *discoveryWatcher) stop() error {
	w.cancel()
	<-w.done
	if err := w.waitSet.Close(); err != nil && !stderrors.Is(err, errors.ErrAlreadyDeleted) {
		return errors.Wrap(err, "Session", "Close", "close wait-set")
	}
	return nil
}
