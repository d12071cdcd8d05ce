package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestEventEmission(t *testing.T) {
	rec := &recorder{}
	logger := New(10, WithHandler(rec.handle))

	logger.Log(Event{
		Action:   ActionLogin,
		Result:   ResultSuccess,
		Subject:  "alice",
		Provider: "local",
	})
	logger.Close() // flushes

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Subject != "alice" {
		t.Errorf("expected alice, got %s", events[0].Subject)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestMultipleHandlers(t *testing.T) {
	rec1, rec2 := &recorder{}, &recorder{}
	logger := New(10, WithHandler(rec1.handle), WithHandler(rec2.handle))

	logger.Log(Event{Action: ActionRefresh, Result: ResultSuccess})
	logger.Close()

	if n := len(rec1.all()); n != 1 {
		t.Errorf("handler1: expected 1 event, got %d", n)
	}
	if n := len(rec2.all()); n != 1 {
		t.Errorf("handler2: expected 1 event, got %d", n)
	}
}

func TestContextStorage(t *testing.T) {
	logger := New(10)
	defer logger.Close()

	ctx := context.Background()
	ctx = WithContext(ctx, logger)
	ctx = WithRequestID(ctx, "req-12345")

	if FromContext(ctx) != logger {
		t.Fatal("logger not found in context")
	}
	if id := RequestID(ctx); id != "req-12345" {
		t.Errorf("expected req-12345, got %s", id)
	}
	if FromContext(context.Background()) != nil {
		t.Error("FromContext on empty context should be nil")
	}
}

func TestLogContext(t *testing.T) {
	rec := &recorder{}
	logger := New(10, WithHandler(rec.handle))

	ctx := WithRequestID(context.Background(), "req-1")
	logger.LogContext(ctx, Event{Action: ActionLogin, Result: ResultFailure})
	logger.LogContext(ctx, Event{Action: ActionLogin, Result: ResultFailure, RequestID: "explicit"})
	logger.Close()

	events := rec.all()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].RequestID != "req-1" {
		t.Errorf("RequestID = %q, want req-1", events[0].RequestID)
	}
	if events[1].RequestID != "explicit" {
		t.Errorf("RequestID = %q, want explicit", events[1].RequestID)
	}
}

func TestQueueBuffer(t *testing.T) {
	var mu sync.Mutex
	var count int

	logger := New(5, WithHandler(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		count++
		time.Sleep(10 * time.Millisecond) // Simulate slow handler
	}))

	for range 5 {
		logger.Log(Event{Action: ActionRateLimited, Result: ResultDenied})
	}
	logger.Close()

	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Errorf("expected 5 events processed, got %d", count)
	}
}

func TestWriterHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(10, WithWriterHandler(&buf))

	logger.Log(Event{
		Action:    ActionLogin,
		Result:    ResultFailure,
		ClientKey: "192.168.1.1",
		Error:     "invalid credentials",
	})
	logger.Close()

	var got Event
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("output is not one JSON event: %v (%q)", err, buf.String())
	}
	if got.ClientKey != "192.168.1.1" || got.Result != ResultFailure {
		t.Errorf("decoded event = %+v", got)
	}
	if strings.Contains(buf.String(), "subject") {
		t.Errorf("empty subject was emitted: %s", buf.String())
	}
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	sl := slog.New(slog.NewJSONHandler(&buf, nil))
	logger := New(10, WithSlogHandler(sl))

	logger.Log(Event{Action: ActionLogin, Result: ResultSuccess, Subject: "alice"})
	logger.Close()

	out := buf.String()
	for _, want := range []string{`"msg":"audit"`, `"action":"login"`, `"subject":"alice"`} {
		if !strings.Contains(out, want) {
			t.Errorf("slog output missing %s: %s", want, out)
		}
	}
}

func TestNilLoggerAndDoubleClose(t *testing.T) {
	var nilLogger *Logger
	nilLogger.Log(Event{Action: ActionLogin}) // Should not panic
	if err := nilLogger.Close(); err != nil {
		t.Errorf("nil Close error = %v", err)
	}

	logger := New(1)
	logger.Close()
	if err := logger.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}
	logger.Log(Event{Action: ActionLogin}) // dropped after close, must not block
}
