// Package dispatcher multiplexes global messages over channel codes.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"weak"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/opendrakan/statesync/internal/binio"
	"github.com/opendrakan/statesync/pkg/core"
)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MessageSink transmits an outgoing global message. data is only valid
// during the call.
type MessageSink interface {
	GlobalMessage(channel core.MessageChannelCode, data []byte)
}

// GlobalMessageListener is a subscription to one channel. The dispatcher
// only holds it weakly: a listener stays subscribed as long as its owner
// keeps a reference to it.
type GlobalMessageListener struct {
	channel core.MessageChannelCode
	fn      func(data []byte)
}

// Channel returns the subscribed channel.
func (l *GlobalMessageListener) Channel() core.MessageChannelCode { return l.channel }

// Dispatcher delivers received messages to listeners and sends outgoing
// messages through its sink.
type Dispatcher struct {
	sink   MessageSink
	logger Logger

	// OTEL metrics
	listenerCount metric.Int64ObservableGauge
	sent          metric.Int64Counter
	received      metric.Int64Counter
	pruned        metric.Int64Counter

	mu        sync.Mutex
	listeners map[core.MessageChannelCode][]weak.Pointer[GlobalMessageListener]
	scratch   map[core.MessageChannelCode]*binio.Writer
	delivery  []*GlobalMessageListener
}

// New creates a dispatcher sending through sink, which may be nil for a
// receive-only dispatcher.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(sink MessageSink, logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		sink:      sink,
		logger:    logger,
		listeners: make(map[core.MessageChannelCode][]weak.Pointer[GlobalMessageListener]),
		scratch:   make(map[core.MessageChannelCode]*binio.Writer),
	}

	m := meter()

	var err error

	d.listenerCount, err = m.Int64ObservableGauge(
		"dispatcher.listeners",
		metric.WithDescription("Current number of subscribed listeners"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating listener gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.Lock()
			defer d.mu.Unlock()
			for ch, ls := range d.listeners {
				o.ObserveInt64(d.listenerCount, int64(len(ls)),
					metric.WithAttributes(attribute.Int("channel", int(ch))))
			}
			return nil
		},
		d.listenerCount,
	)
	if err != nil {
		return nil, fmt.Errorf("registering listener callback: %w", err)
	}

	d.sent, err = m.Int64Counter(
		"dispatcher.messages.sent",
		metric.WithDescription("Total global messages sent"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sent counter: %w", err)
	}

	d.received, err = m.Int64Counter(
		"dispatcher.messages.received",
		metric.WithDescription("Total global messages received"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating received counter: %w", err)
	}

	d.pruned, err = m.Int64Counter(
		"dispatcher.listeners.pruned",
		metric.WithDescription("Total listeners dropped after their owner released them"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating pruned counter: %w", err)
	}

	return d, nil
}

// Listen subscribes fn to channel. The subscription ends once the returned
// listener is no longer referenced.
func (d *Dispatcher) Listen(channel core.MessageChannelCode, fn func(data []byte)) *GlobalMessageListener {
	l := &GlobalMessageListener{channel: channel, fn: fn}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[channel] = append(d.listeners[channel], weak.Make(l))
	return l
}

// ListenerCount returns the number of tracked listeners on channel,
// including ones collected since the last delivery.
func (d *Dispatcher) ListenerCount(channel core.MessageChannelCode) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners[channel])
}

// ReceiveGlobalMessage delivers data to every live listener on channel and
// returns how many were called. Listeners run without the lock held and
// may subscribe further listeners.
func (d *Dispatcher) ReceiveGlobalMessage(channel core.MessageChannelCode, data []byte) int {
	d.mu.Lock()
	ls := d.listeners[channel]
	live := d.delivery[:0]
	kept := ls[:0]
	for _, wp := range ls {
		if l := wp.Value(); l != nil {
			live = append(live, l)
			kept = append(kept, wp)
		}
	}
	prunedCount := len(ls) - len(kept)
	clear(ls[len(kept):])
	if len(kept) == 0 {
		delete(d.listeners, channel)
	} else {
		d.listeners[channel] = kept
	}
	d.delivery = nil
	d.mu.Unlock()

	chAttr := metric.WithAttributes(attribute.Int("channel", int(channel)))
	d.received.Add(context.Background(), 1, chAttr)
	if prunedCount > 0 {
		d.pruned.Add(context.Background(), int64(prunedCount), chAttr)
		d.logger.Debug("pruned global message listeners", "channel", channel, "count", prunedCount)
	}

	for _, l := range live {
		l.fn(data)
	}
	n := len(live)

	clear(live)
	d.mu.Lock()
	d.delivery = live[:0]
	d.mu.Unlock()
	return n
}

// GlobalMessageBuilder serializes one outgoing message. It is only valid
// until Send is called and must not be kept.
type GlobalMessageBuilder struct {
	d       *Dispatcher
	channel core.MessageChannelCode
	w       *binio.Writer
}

// SendGlobalMessage starts a message on channel, written into the
// channel's scratch buffer. Messages on the same channel must not be built
// concurrently.
func (d *Dispatcher) SendGlobalMessage(channel core.MessageChannelCode) *GlobalMessageBuilder {
	d.mu.Lock()
	w, ok := d.scratch[channel]
	if !ok {
		w = binio.NewWriter(64)
		d.scratch[channel] = w
	}
	d.mu.Unlock()

	w.Reset()
	return &GlobalMessageBuilder{d: d, channel: channel, w: w}
}

// Writer returns the message body writer.
func (b *GlobalMessageBuilder) Writer() *binio.Writer { return b.w }

// Send hands the message to the sink. Further calls do nothing.
func (b *GlobalMessageBuilder) Send() {
	if b.d == nil {
		return
	}
	d := b.d
	b.d = nil

	if d.sink == nil {
		d.logger.Error("global message dropped, dispatcher has no sink", "channel", b.channel)
		return
	}
	d.sink.GlobalMessage(b.channel, b.w.Bytes())
	d.sent.Add(context.Background(), 1, metric.WithAttributes(attribute.Int("channel", int(b.channel))))
}

// Send builds a message with build and sends it.
func (d *Dispatcher) Send(channel core.MessageChannelCode, build func(w *binio.Writer)) {
	b := d.SendGlobalMessage(channel)
	build(b.Writer())
	b.Send()
}
