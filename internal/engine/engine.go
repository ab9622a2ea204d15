// Package engine applies actor-initiated actions to service requests. It is
// stateless over the request store it is given: authorize, check the state
// machine edge, then hand the store a compare-and-swap transition. Losing
// the version race is retried a bounded number of times so each legitimate
// concurrent actor gets a fair chance without head-of-line blocking.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/nurse-dispatch/internal/models"
	"github.com/example/nurse-dispatch/internal/observability"
	"github.com/example/nurse-dispatch/internal/request"
)

var (
	ErrForbidden         = errors.New("actor not permitted")
	ErrInvalidTransition = errors.New("invalid state transition")
)

const defaultMaxAttempts = 3

// Event describes one accepted transition. NurseID is the nurse the event
// concerns: the current assignee, or for a cancellation the nurse who was
// assigned before the cancel.
type Event struct {
	RequestID string              `json:"request_id"`
	From      models.RequestState `json:"from"`
	To        models.RequestState `json:"to"`
	ActorID   string              `json:"actor_id"`
	NurseID   string              `json:"nurse_id,omitempty"`
	At        time.Time           `json:"at"`
}

// Notifier receives events fire-and-forget; implementations must not block
// and must never fail the transition.
type Notifier interface {
	Notify(ev Event)
}

// Payments is the visit payment hook: funds are held when a nurse is
// assigned, captured on completion, and released on cancellation. Calls are
// best-effort; errors are logged and swallowed.
type Payments interface {
	Hold(ctx context.Context, requestID string) error
	Capture(ctx context.Context, requestID string) error
	Release(ctx context.Context, requestID string) error
}

type Engine struct {
	Store       request.Store
	Notifier    Notifier
	Payments    Payments
	Logger      *slog.Logger
	MaxAttempts int
}

// Apply runs one action against a request on behalf of an actor. Errors:
// request.ErrNotFound, ErrForbidden, ErrInvalidTransition, and
// request.ErrConcurrentModification once retries are exhausted.
func (e *Engine) Apply(ctx context.Context, requestID string, actor models.Actor, act Action) (models.ServiceRequest, error) {
	attempts := e.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		cur, err := e.Store.Get(ctx, requestID)
		if err != nil {
			return models.ServiceRequest{}, err
		}
		if !authorize(actor, cur, act) {
			return models.ServiceRequest{}, fmt.Errorf("%w: %s may not %s request %s", ErrForbidden, actor.UserID, act.Kind(), requestID)
		}
		ed, ok := transitions[edgeKey{cur.State, act.Kind()}]
		if !ok {
			return models.ServiceRequest{}, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, act.Kind(), cur.State)
		}

		updated, err := e.Store.Transition(ctx, requestID, cur.Version, func(r models.ServiceRequest) (models.ServiceRequest, error) {
			if ed.apply != nil {
				r = ed.apply(r, actor, act)
			}
			r.State = ed.to
			return r, nil
		})
		if errors.Is(err, request.ErrConcurrentModification) {
			observability.TransitionConflicts.Inc()
			lastErr = err
			continue
		}
		if err != nil {
			return models.ServiceRequest{}, err
		}

		observability.TransitionsTotal.WithLabelValues(string(act.Kind())).Inc()
		e.emit(Event{
			RequestID: updated.ID,
			From:      cur.State,
			To:        updated.State,
			ActorID:   actor.UserID,
			NurseID:   eventNurse(cur, updated),
			At:        updated.UpdatedAt,
		})
		e.settle(ctx, act, updated)
		return updated, nil
	}
	return models.ServiceRequest{}, lastErr
}

func (e *Engine) emit(ev Event) {
	if e.Notifier == nil {
		return
	}
	e.Notifier.Notify(ev)
}

// settle drives the payment lifecycle after a committed transition. A
// payment failure never rolls the transition back.
func (e *Engine) settle(ctx context.Context, act Action, req models.ServiceRequest) {
	if e.Payments == nil {
		return
	}
	var err error
	switch act.Kind() {
	case KindAssign, KindAccept:
		err = e.Payments.Hold(ctx, req.ID)
	case KindComplete:
		err = e.Payments.Capture(ctx, req.ID)
	case KindCancel:
		err = e.Payments.Release(ctx, req.ID)
	}
	if err != nil && e.Logger != nil {
		e.Logger.Warn("payment hook failed", "request_id", req.ID, "action", string(act.Kind()), "error", err)
	}
}

func eventNurse(before, after models.ServiceRequest) string {
	if after.AssignedNurseID != "" {
		return after.AssignedNurseID
	}
	return before.AssignedNurseID
}
