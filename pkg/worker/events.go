package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// EventKind names a worker event.
type EventKind string

const (
	EventInstall      EventKind = "install"
	EventActivate     EventKind = "activate"
	EventFetch        EventKind = "fetch"
	EventPush         EventKind = "push"
	EventSync         EventKind = "sync"
	EventPeriodicSync EventKind = "periodicsync"
)

// Event is dispatched to the handler registered for its kind.
type Event struct {
	// ID is assigned on dispatch when empty
	ID   string
	Kind EventKind

	// Request is the intercepted request of a fetch event
	Request *http.Request

	// Tag identifies sync and periodic-sync registrations, e.g. "daily-meditation"
	Tag string

	// Data is the payload of a push event
	Data []byte

	// Time is set on dispatch
	Time time.Time
}

// Handler handles one event. Fetch handlers return the response; all other
// handlers return a nil response.
type Handler func(ctx context.Context, ev *Event) (*http.Response, error)

// Pending is the outcome of a dispatched event.
// It settles once the handler returns.
type Pending struct {
	event *Event
	done  chan struct{}
	resp  *http.Response
	err   error
}

func settled(ev *Event, resp *http.Response, err error) *Pending {
	p := &Pending{event: ev, done: make(chan struct{}), resp: resp, err: err}
	close(p.done)
	return p
}

// Event returns the dispatched event.
func (p *Pending) Event() *Event {
	return p.event
}

// Done is closed when the event has settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the event settles and returns the handler's result.
func (p *Pending) Wait() (*http.Response, error) {
	<-p.done
	return p.resp, p.err
}

// On registers the handler for an extension event (push, sync, periodicsync).
// Install, activate and fetch are handled by the worker itself.
func (w *Worker) On(kind EventKind, handler Handler) error {
	switch kind {
	case EventInstall, EventActivate, EventFetch:
		return fmt.Errorf("%w: %s", ErrReservedEvent, kind)
	case EventPush, EventSync, EventPeriodicSync:
	default:
		return fmt.Errorf("unknown event kind %q", kind)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if handler == nil {
		delete(w.handlers, kind)
	} else {
		w.handlers[kind] = handler
	}
	return nil
}

func (w *Worker) handlerFor(kind EventKind) (Handler, error) {
	switch kind {
	case EventInstall:
		return w.handleInstall, nil
	case EventActivate:
		return w.handleActivate, nil
	case EventFetch:
		return w.handleFetch, nil
	case EventPush, EventSync, EventPeriodicSync:
		return w.handlers[kind], nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}

// Dispatch runs the handler for ev in its own goroutine.
// The returned Pending settles when the handler returns; an extension event
// without a handler settles immediately with no effect.
func (w *Worker) Dispatch(ctx context.Context, ev *Event) *Pending {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Kind == EventFetch && ev.Request == nil {
		return settled(ev, nil, fmt.Errorf("fetch event without request"))
	}
	if ev.Kind == EventFetch && ev.Request.URL == nil {
		return settled(ev, nil, fmt.Errorf("fetch event without request URL"))
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		eventsTotal.WithLabelValues(string(ev.Kind), "rejected").Inc()
		return settled(ev, nil, ErrClosed)
	}
	handler, err := w.handlerFor(ev.Kind)
	if err != nil || handler == nil {
		w.mu.Unlock()
		eventsTotal.WithLabelValues(string(ev.Kind), "noop").Inc()
		return settled(ev, nil, err)
	}
	w.inflight.Add(1)
	w.mu.Unlock()

	eventsInFlight.Inc()
	w.pending.Add(1)

	p := &Pending{event: ev, done: make(chan struct{})}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.resp, p.err = nil, fmt.Errorf("%s handler panicked: %v", ev.Kind, r)
				w.logger.Error().
					Str("event", string(ev.Kind)).
					Str("event_id", ev.ID).
					Interface("panic", r).
					Msg("Event handler panicked")
			}
			result := "ok"
			if p.err != nil {
				result = "error"
			}
			eventsTotal.WithLabelValues(string(ev.Kind), result).Inc()
			eventsInFlight.Dec()
			w.pending.Add(-1)
			close(p.done)
			w.inflight.Done()
		}()
		p.resp, p.err = handler(ctx, ev)
	}()
	return p
}

// InFlight returns the number of events that have not settled.
func (w *Worker) InFlight() int {
	return int(w.pending.Load())
}

// Shutdown stops accepting events and waits for in-flight events to settle
// or ctx to expire.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info().Msg("Worker shut down")
		return nil
	case <-ctx.Done():
		w.logger.Warn().
			Int("in_flight", w.InFlight()).
			Msg("Worker shutdown timed out with events in flight")
		return fmt.Errorf("wait for in-flight events: %w", ctx.Err())
	}
}
