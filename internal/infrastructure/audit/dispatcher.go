package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
	"github.com/kirillkom/clinical-qa/internal/core/ports"
)

var ErrDispatcherClosed = errors.New("audit dispatcher closed")

// DeliveryError is reported on the Errors channel when the sink rejects an
// event.
type DeliveryError struct {
	EventID string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver audit event %s: %v", e.EventID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

type DispatcherOptions struct {
	Buffer  int
	Timeout time.Duration
	Logger  *slog.Logger
	// OnFailure is called with "dropped" or "delivery" for every lost event.
	OnFailure func(reason string)
}

// Dispatcher decouples audit delivery from the request path. Record never
// blocks: events that do not fit in the buffer are dropped and logged.
type Dispatcher struct {
	sink      ports.AuditSink
	timeout   time.Duration
	logger    *slog.Logger
	onFailure func(string)

	events chan domain.AuditEvent
	errs   chan error
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sink ports.AuditSink, opts DispatcherOptions) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sink:      sink,
		timeout:   opts.Timeout,
		logger:    logger,
		onFailure: opts.OnFailure,
		events:    make(chan domain.AuditEvent, opts.Buffer),
		errs:      make(chan error, opts.Buffer),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Record(event domain.AuditEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.fail("dropped", event, ErrDispatcherClosed)
		return
	}
	select {
	case d.events <- event:
	default:
		d.fail("dropped", event, fmt.Errorf("audit buffer full (%d)", cap(d.events)))
	}
}

// Errors reports delivery failures. It is buffered; failures that do not fit
// are only logged. The channel is closed once Close has drained the queue.
func (d *Dispatcher) Errors() <-chan error {
	return d.errs
}

// Close stops accepting events and waits for the queued ones to be delivered
// or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain audit queue: %w", ctx.Err())
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	defer close(d.errs)
	for event := range d.events {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event domain.AuditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Log(ctx, event); err != nil {
		d.fail("delivery", event, err)
		select {
		case d.errs <- &DeliveryError{EventID: event.ID, Err: err}:
		default:
		}
	}
}

func (d *Dispatcher) fail(reason string, event domain.AuditEvent, err error) {
	msg := "audit_dropped"
	if reason == "delivery" {
		msg = "audit_delivery_failed"
	}
	d.logger.Warn(msg,
		"event_id", event.ID,
		"action", string(event.Action),
		"resource_type", event.ResourceType,
		"error", err,
	)
	if d.onFailure != nil {
		d.onFailure(reason)
	}
}

// NopRecorder discards events.
type NopRecorder struct{}

func (NopRecorder) Record(domain.AuditEvent) {}
