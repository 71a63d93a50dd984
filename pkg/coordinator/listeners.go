package coordinator

import (
	"log/slog"

	"golang.org/x/time/rate"

	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

type ListenerID uint64

type Listener func(msg magicdrag.Message)

type ListenerOption func(*listener)

// WithChannel restricts a listener to messages travelling on the named
// channel.
func WithChannel(name string) ListenerOption {
	return func(l *listener) { l.channel = name }
}

type listener struct {
	id      ListenerID
	fn      Listener
	channel string
}

// AddEventListener registers fn for one message type. Listeners run in
// registration order.
func (c *Coordinator) AddEventListener(typ magicdrag.MessageType, fn Listener, opts ...ListenerOption) ListenerID {
	if fn == nil {
		return 0
	}
	l := listener{fn: fn}
	for _, o := range opts {
		o(&l)
	}
	c.do(func(*turn) {
		c.nextListener++
		l.id = c.nextListener
		c.listeners[typ] = append(c.listeners[typ], l)
	})
	return l.id
}

func (c *Coordinator) RemoveEventListener(typ magicdrag.MessageType, id ListenerID) {
	c.do(func(*turn) {
		ls := c.listeners[typ]
		for i, l := range ls {
			if l.id != id {
				continue
			}
			ls = append(ls[:i:i], ls[i+1:]...)
			break
		}
		if len(ls) == 0 {
			delete(c.listeners, typ)
			return
		}
		c.listeners[typ] = ls
	})
}

// dispatch queues every listener matching msg. Each listener gets its own
// copy of the payload.
func (c *Coordinator) dispatch(t *turn, msg magicdrag.Message) {
	channel := c.channelFor(msg)
	ls := c.listeners[msg.Type]
	if len(ls) == 0 {
		c.noListener(msg, channel)
		return
	}
	for _, l := range ls {
		if l.channel != "" && l.channel != channel {
			continue
		}
		fn, m := l.fn, msg.Clone()
		t.after(func() { fn(m) })
	}
}

func (c *Coordinator) noListener(msg magicdrag.Message, channel string) {
	s, ok := c.quiet[msg.Type]
	if !ok {
		s = &rate.Sometimes{Interval: c.opts.NoListenerLogInterval}
		c.quiet[msg.Type] = s
	}
	s.Do(func() {
		c.log.Warn("no listener for message type",
			slog.String("type", string(msg.Type)),
			slog.String("class", msg.ClassName()),
			slog.String("channel", channel),
			slog.String("source", msg.SourceTabID),
		)
	})
}
