package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestEngineEmitsAuditEvents(t *testing.T) {
	sink := NewChannelSink(32)
	h := newTestEngine(t, testConfig(t), func(b *Builder) {
		b.WithAuditSink(sink)
	})
	ctx := WithClientIP(context.Background(), "203.0.113.9")
	h.register(t, "alice@example.com", "Str0ngPassw0rd")

	if _, err := h.engine.Login(ctx, "alice@example.com", "Str0ngPassw0rd", ""); err != nil {
		t.Fatalf("Login: %v", err)
	}
	h.engine.Login(ctx, "alice@example.com", "WrongPassw0rd", "")

	seen := map[string]AuditEvent{}
	deadline := time.After(5 * time.Second)
	for len(seen) < 4 {
		select {
		case ev := <-sink.Events():
			seen[ev.EventType] = ev
		case <-deadline:
			t.Fatalf("timed out waiting for events, have %v", keysOf(seen))
		}
	}

	for _, typ := range []string{EventRegister, EventEmailVerified, EventLogin, EventLoginFailed} {
		ev, ok := seen[typ]
		if !ok {
			t.Fatalf("missing %s event", typ)
		}
		if ev.ID == "" || ev.Timestamp.IsZero() {
			t.Fatalf("%s event lacks id or timestamp: %+v", typ, ev)
		}
	}
	if seen[EventLogin].IP != "203.0.113.9" {
		t.Fatalf("login event lost client ip: %+v", seen[EventLogin])
	}
	if !seen[EventLogin].Success || seen[EventLoginFailed].Success {
		t.Fatal("success flags wrong")
	}
}

func keysOf(m map[string]AuditEvent) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Emit(_ context.Context, _ AuditEvent) {
	<-s.release
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := newAuditDispatcher(sink, 1)

	// One event occupies the worker, one fills the buffer, the rest drop.
	for i := 0; i < 10; i++ {
		d.Emit(AuditEvent{EventType: EventLogin})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a full buffer")
	}
	close(sink.release)
	d.Close()
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := newAuditDispatcher(sink, 16)

	for i := 0; i < 5; i++ {
		d.Emit(AuditEvent{EventType: EventLogout})
	}
	d.Close()

	delivered := 0
	for {
		select {
		case <-sink.Events():
			delivered++
		default:
			if delivered != 5 {
				t.Fatalf("want 5 delivered after close, got %d", delivered)
			}
			return
		}
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		ID:        "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		EventType: EventLogin,
		Success:   true,
	})

	var decoded AuditEvent
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if decoded.EventType != EventLogin || !decoded.Success {
		t.Fatalf("round trip mangled event: %+v", decoded)
	}
}
