// Package notify delivers request lifecycle events to interested parties.
// Delivery is strictly fire-and-forget: the engine hands an event to the
// Dispatcher, which queues it on a buffered channel and returns immediately.
// A full buffer drops the event; a failing sink is logged and skipped.
// Nothing here can fail a transition.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/nurse-dispatch/internal/engine"
	"github.com/example/nurse-dispatch/internal/observability"
)

// Sink consumes lifecycle events. Implementations get a short per-event
// deadline and should treat delivery as best-effort.
type Sink interface {
	Deliver(ctx context.Context, ev engine.Event) error
}

const deliverTimeout = 2 * time.Second

// Dispatcher fans events out to its sinks from a single background
// goroutine. It implements engine.Notifier.
type Dispatcher struct {
	ch     chan engine.Event
	sinks  []Sink
	logger *slog.Logger
	done   chan struct{}
}

func NewDispatcher(logger *slog.Logger, buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	d := &Dispatcher{
		ch:     make(chan engine.Event, buffer),
		sinks:  sinks,
		logger: logger,
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify never blocks; when the buffer is full the event is dropped and
// counted.
func (d *Dispatcher) Notify(ev engine.Event) {
	select {
	case d.ch <- ev:
	default:
		observability.NotificationsDropped.Inc()
		d.logger.Warn("notification dropped", "request_id", ev.RequestID, "to", string(ev.To))
	}
}

// Close drains queued events and stops the dispatcher.
func (d *Dispatcher) Close() {
	close(d.ch)
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.ch {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
			if err := s.Deliver(ctx, ev); err != nil {
				d.logger.Warn("notification sink failed",
					"request_id", ev.RequestID, "to", string(ev.To), "error", err)
			}
			cancel()
		}
	}
}

// LogSink records events in the service log. Doubles as the default sink
// when no external delivery is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Deliver(_ context.Context, ev engine.Event) error {
	s.Logger.Info("request transition",
		"request_id", ev.RequestID,
		"from", string(ev.From),
		"to", string(ev.To),
		"actor_id", ev.ActorID,
		"nurse_id", ev.NurseID,
	)
	return nil
}
