package dispatcher

import (
	"fmt"
	"runtime"
	"sync"
	"testing"

	"github.com/opendrakan/statesync/internal/binio"
	"github.com/opendrakan/statesync/pkg/core"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

type sentMessage struct {
	channel core.MessageChannelCode
	data    string
}

// testSink records outgoing messages
type testSink struct {
	sent []sentMessage
}

func (s *testSink) GlobalMessage(channel core.MessageChannelCode, data []byte) {
	s.sent = append(s.sent, sentMessage{channel, string(data)})
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testSink, *testLogger) {
	logger := &testLogger{}
	sink := &testSink{}

	d, err := New(sink, logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	return d, sink, logger
}

func TestDispatcher_ReceiveDeliversToChannelListeners(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	var got []string
	a := d.Listen(1, func(data []byte) { got = append(got, "a:"+string(data)) })
	b := d.Listen(1, func(data []byte) { got = append(got, "b:"+string(data)) })
	c := d.Listen(2, func(data []byte) { got = append(got, "c:"+string(data)) })

	n := d.ReceiveGlobalMessage(1, []byte("x"))

	if n != 2 {
		t.Errorf("expected 2 listeners called, got %d", n)
	}
	if len(got) != 2 || got[0] != "a:x" || got[1] != "b:x" {
		t.Errorf("unexpected deliveries: %v", got)
	}
	if d.ReceiveGlobalMessage(3, []byte("y")) != 0 {
		t.Error("expected no listener on channel 3")
	}
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
	runtime.KeepAlive(c)
}

func TestDispatcher_CollectedListenersArePruned(t *testing.T) {
	d, _, logger := newTestDispatcher(t)

	calls := 0
	keep := d.Listen(5, func([]byte) { calls++ })
	func() {
		d.Listen(5, func([]byte) { calls += 100 })
	}()

	runtime.GC()
	runtime.GC()

	n := d.ReceiveGlobalMessage(5, nil)

	if n != 1 || calls != 1 {
		t.Errorf("expected only the kept listener to run, got n=%d calls=%d", n, calls)
	}
	if d.ListenerCount(5) != 1 {
		t.Errorf("expected 1 tracked listener after pruning, got %d", d.ListenerCount(5))
	}
	if len(logger.messages) == 0 {
		t.Error("expected pruning to be logged")
	}
	runtime.KeepAlive(keep)
}

func TestDispatcher_ListenDuringDelivery(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	var late *GlobalMessageListener
	first := d.Listen(1, func([]byte) {
		if late == nil {
			late = d.Listen(1, func([]byte) {})
		}
	})

	if n := d.ReceiveGlobalMessage(1, nil); n != 1 {
		t.Errorf("expected 1, got %d", n)
	}
	if n := d.ReceiveGlobalMessage(1, nil); n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
	runtime.KeepAlive(first)
	runtime.KeepAlive(late)
}

func TestDispatcher_SendGlobalMessage(t *testing.T) {
	d, sink, _ := newTestDispatcher(t)

	b := d.SendGlobalMessage(3)
	b.Writer().WriteUint16(0x4241)
	b.Send()
	b.Send()

	d.Send(4, func(w *binio.Writer) { w.WriteBytes([]byte("hello")) })

	if len(sink.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(sink.sent))
	}
	if sink.sent[0] != (sentMessage{3, "AB"}) {
		t.Errorf("unexpected first message: %+v", sink.sent[0])
	}
	if sink.sent[1] != (sentMessage{4, "hello"}) {
		t.Errorf("unexpected second message: %+v", sink.sent[1])
	}
}

func TestDispatcher_ScratchBufferIsReset(t *testing.T) {
	d, sink, _ := newTestDispatcher(t)

	d.Send(1, func(w *binio.Writer) { w.WriteBytes([]byte("long message")) })
	d.Send(1, func(w *binio.Writer) { w.WriteBytes([]byte("short")) })

	if sink.sent[1].data != "short" {
		t.Errorf("expected scratch reset, got %q", sink.sent[1].data)
	}
}

func TestDispatcher_NoSink(t *testing.T) {
	logger := &testLogger{}
	d, err := New(nil, logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	d.Send(1, func(w *binio.Writer) { w.WriteUint8(1) })

	if len(logger.messages) != 1 {
		t.Errorf("expected dropped message to be logged, got %v", logger.messages)
	}
}
