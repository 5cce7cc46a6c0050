// Package broker routes channel publications to subscribed sockets.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/luciancaetano/meshnet"
)

// Subscriber receives publications. Sockets implement it.
type Subscriber interface {
	ID() string
	// Deliver hands one publication to the subscriber. It must not block on
	// a slow peer.
	Deliver(ctx context.Context, channel string, data any) error
}

// Broker manages channel subscriptions and publication fan-out.
//
// Implementations backed by a remote system signal readiness through Ready
// and report asynchronous failures on Errors; connection code depends on
// nothing else.
type Broker interface {
	// Subscribe adds sub to channel. Subscribing twice succeeds and reports
	// alreadySubscribed.
	Subscribe(ctx context.Context, sub Subscriber, channel string) (alreadySubscribed bool, err error)

	// Unsubscribe removes sub from channel. Removing a missing subscription
	// succeeds with wasSubscribed=false.
	Unsubscribe(ctx context.Context, sub Subscriber, channel string) (wasSubscribed bool, err error)

	// UnsubscribeAll removes sub from every channel and returns them.
	UnsubscribeAll(ctx context.Context, sub Subscriber) ([]string, error)

	// Publish delivers data to the subscribers of channel at the time of the
	// call. Per-subscriber failures go to Errors, not to the caller.
	Publish(ctx context.Context, channel string, data any) error

	// Exchange returns the subscription registry.
	Exchange() *Exchange

	// IsReady reports whether Ready is closed.
	IsReady() bool

	// Ready is closed once the broker can serve requests.
	Ready() <-chan struct{}

	// Errors streams asynchronous failures. It is closed by Close.
	Errors() <-chan error

	// Close releases the broker and closes Errors.
	Close() error
}

// DeliveryError reports a publication that did not reach one subscriber.
type DeliveryError struct {
	Channel      string
	SubscriberID string
	Err          error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s on channel %q: %v", e.SubscriberID, e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

const defaultErrorBuffer = 256

// SimpleBroker is the in-process Broker. It is ready as soon as it is
// created.
type SimpleBroker struct {
	exchange *Exchange
	logger   *slog.Logger

	ready chan struct{}

	errMu  sync.RWMutex
	errs   chan error
	closed bool
}

// Option configures a SimpleBroker.
type Option func(*SimpleBroker)

// WithLogger sets the logger used for dropped errors.
func WithLogger(logger *slog.Logger) Option {
	return func(b *SimpleBroker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithErrorBuffer sets the capacity of the error stream. Errors raised while
// the buffer is full are logged and dropped.
func WithErrorBuffer(size int) Option {
	return func(b *SimpleBroker) {
		if size > 0 {
			b.errs = make(chan error, size)
		}
	}
}

// NewSimpleBroker returns a ready in-process broker.
func NewSimpleBroker(opts ...Option) *SimpleBroker {
	b := &SimpleBroker{
		exchange: NewExchange(),
		logger:   slog.Default(),
		ready:    make(chan struct{}),
		errs:     make(chan error, defaultErrorBuffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	close(b.ready)
	return b
}

func (b *SimpleBroker) Subscribe(ctx context.Context, sub Subscriber, channel string) (bool, error) {
	if channel == "" {
		return false, meshnet.Errorf(meshnet.ErrInvalidArgument, meshnet.ErrMsgInvalidChannel)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return b.exchange.add(sub, channel), nil
}

func (b *SimpleBroker) Unsubscribe(ctx context.Context, sub Subscriber, channel string) (bool, error) {
	if channel == "" {
		return false, meshnet.Errorf(meshnet.ErrInvalidArgument, meshnet.ErrMsgInvalidChannel)
	}
	return b.exchange.remove(sub.ID(), channel), nil
}

func (b *SimpleBroker) UnsubscribeAll(ctx context.Context, sub Subscriber) ([]string, error) {
	return b.exchange.removeAll(sub.ID()), nil
}

func (b *SimpleBroker) Publish(ctx context.Context, channel string, data any) error {
	if channel == "" {
		return meshnet.Errorf(meshnet.ErrInvalidArgument, meshnet.ErrMsgInvalidChannel)
	}

	for _, sub := range b.exchange.Subscribers(channel) {
		if err := sub.Deliver(ctx, channel, data); err != nil {
			b.report(&DeliveryError{Channel: channel, SubscriberID: sub.ID(), Err: err})
		}
	}
	return nil
}

func (b *SimpleBroker) report(err error) {
	b.errMu.RLock()
	defer b.errMu.RUnlock()

	if b.closed {
		return
	}
	select {
	case b.errs <- err:
	default:
		b.logger.Warn("broker error stream full, dropping error", "error", err)
	}
}

func (b *SimpleBroker) Exchange() *Exchange { return b.exchange }

func (b *SimpleBroker) IsReady() bool {
	select {
	case <-b.ready:
		return true
	default:
		return false
	}
}

func (b *SimpleBroker) Ready() <-chan struct{} { return b.ready }

func (b *SimpleBroker) Errors() <-chan error { return b.errs }

func (b *SimpleBroker) Close() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.errs)
	}
	return nil
}
