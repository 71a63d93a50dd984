package rabbit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	errPoolClosed = errors.New("channel pool closed")
	errConnClosed = errors.New("amqp connection closed")
)

// ChannelPool keeps a bounded number of publish channels alive.
// Invariant: len(permits) == total channels (idle + borrowed) <= capacity.
type ChannelPool struct {
	conn    *amqp.Connection
	idle    chan *amqp.Channel
	permits chan struct{}
	retry   time.Duration
	closed  atomic.Bool
	openMu  sync.Mutex
}

func NewChannelPool(conn *amqp.Connection, capacity int, retry time.Duration) *ChannelPool {
	if capacity <= 0 {
		capacity = 16
	}
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	return &ChannelPool{
		conn:    conn,
		idle:    make(chan *amqp.Channel, capacity),
		permits: make(chan struct{}, capacity),
		retry:   retry,
	}
}

// With borrows a channel for fn and returns it afterwards.
func (cp *ChannelPool) With(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	ch, err := cp.Borrow(ctx)
	if err != nil {
		return err
	}
	defer cp.Return(ch)
	return fn(ch)
}

func (cp *ChannelPool) Borrow(ctx context.Context) (*amqp.Channel, error) {
	for {
		if cp.closed.Load() {
			return nil, errPoolClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case ch, ok := <-cp.idle:
			if !ok {
				return nil, errPoolClosed
			}
			if !ch.IsClosed() {
				return ch, nil
			}
			// stale; replace it under the permit it already holds
			_ = SafeClose(ch)
			if nch, err := cp.open(); err == nil {
				return nch, nil
			}
			cp.release()
			if err := cp.wait(ctx); err != nil {
				return nil, err
			}

		default:
			if cp.conn.IsClosed() {
				return nil, errConnClosed
			}
			select {
			case cp.permits <- struct{}{}:
				nch, err := cp.open()
				if err == nil {
					return nch, nil
				}
				cp.release()
				if err := cp.wait(ctx); err != nil {
					return nil, err
				}
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cp.retry):
			}
		}
	}
}

func (cp *ChannelPool) Return(ch *amqp.Channel) {
	if ch == nil {
		return
	}
	if cp.closed.Load() || cp.conn.IsClosed() || ch.IsClosed() {
		_ = SafeClose(ch)
		cp.release()
		return
	}
	select {
	case cp.idle <- ch:
	default:
		_ = SafeClose(ch)
		cp.release()
	}
}

func (cp *ChannelPool) Close() {
	if cp.closed.Swap(true) {
		return
	}
	close(cp.idle)
	for ch := range cp.idle {
		_ = SafeClose(ch)
		cp.release()
	}
}

func (cp *ChannelPool) release() {
	select {
	case <-cp.permits:
	default:
	}
}

func (cp *ChannelPool) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(cp.retry):
		return nil
	}
}

func (cp *ChannelPool) open() (*amqp.Channel, error) {
	cp.openMu.Lock()
	defer cp.openMu.Unlock()
	if cp.conn.IsClosed() {
		return nil, errConnClosed
	}
	return cp.conn.Channel()
}
