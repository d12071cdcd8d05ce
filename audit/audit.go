// Package audit provides structured audit logging for authentication
// events.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Actions recorded by the toolkit.
const (
	ActionLogin       = "login"
	ActionRefresh     = "refresh"
	ActionRateLimited = "rate_limited"
	ActionAccess      = "access"
)

// Results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
)

// Event represents an authentication audit event. It never carries
// passwords or token strings.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	TokenID   string    `json:"token_id,omitempty"`
	Action    string    `json:"action"` // login, refresh, rate_limited, access
	Resource  string    `json:"resource,omitempty"`
	Result    string    `json:"result"` // success, failure, denied
	ClientKey string    `json:"client_key,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Handler processes audit events. Implementations should not block.
type Handler func(event Event)

// Logger emits audit events to configured handlers.
type Logger struct {
	handlers []Handler
	queue    chan Event
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// Option configures Logger behavior.
type Option func(*Logger)

// WithStdoutHandler adds a handler that writes JSON events to stdout.
func WithStdoutHandler() Option {
	return WithWriterHandler(os.Stdout)
}

// WithWriterHandler adds a handler that writes one JSON event per line to w.
func WithWriterHandler(w io.Writer) Option {
	return func(l *Logger) {
		l.AddHandler(func(e Event) {
			data, _ := json.Marshal(e)
			fmt.Fprintf(w, "%s\n", data)
		})
	}
}

// WithSlogHandler adds a handler that logs each event at info level.
func WithSlogHandler(logger *slog.Logger) Option {
	return func(l *Logger) {
		l.AddHandler(func(e Event) {
			logger.LogAttrs(context.Background(), slog.LevelInfo, "audit",
				slog.Time("timestamp", e.Timestamp),
				slog.String("action", e.Action),
				slog.String("result", e.Result),
				slog.String("subject", e.Subject),
				slog.String("provider", e.Provider),
				slog.String("client_key", e.ClientKey),
				slog.String("request_id", e.RequestID),
				slog.String("error", e.Error),
			)
		})
	}
}

// WithHandler adds a custom event handler.
func WithHandler(h Handler) Option {
	return func(l *Logger) {
		l.AddHandler(h)
	}
}

// New creates a new audit logger with buffered async emission.
// bufferSize: event queue buffer size (default: 1000).
func New(bufferSize int, opts ...Option) *Logger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	logger := &Logger{
		handlers: make([]Handler, 0),
		queue:    make(chan Event, bufferSize),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(logger)
	}

	// Start async event processor
	logger.wg.Add(1)
	go logger.process()

	return logger
}

// AddHandler adds a handler to receive audit events. Call it before
// logging starts.
func (l *Logger) AddHandler(h Handler) {
	l.handlers = append(l.handlers, h)
}

// Log emits an audit event asynchronously. Logging to a nil Logger is a
// no-op.
func (l *Logger) Log(event Event) {
	if l == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-l.done:
		// Logger is shutting down, event is dropped
	case l.queue <- event:
	}
}

// LogContext is Log with the request ID taken from ctx.
func (l *Logger) LogContext(ctx context.Context, event Event) {
	if event.RequestID == "" {
		event.RequestID = RequestID(ctx)
	}
	l.Log(event)
}

func (l *Logger) dispatch(event Event) {
	for _, h := range l.handlers {
		h(event)
	}
}

// process handles events from the queue.
func (l *Logger) process() {
	defer l.wg.Done()

	for {
		select {
		case event := <-l.queue:
			l.dispatch(event)
		case <-l.done:
			// Drain remaining events
			for {
				select {
				case event := <-l.queue:
					l.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

// Close flushes pending events and stops the logger. It is safe to call
// more than once.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
	return nil
}

// FromContext retrieves the audit logger from context.
func FromContext(ctx context.Context) *Logger {
	logger, ok := ctx.Value(contextKeyLogger).(*Logger)
	if !ok {
		return nil
	}
	return logger
}

// WithContext stores the audit logger in context.
func WithContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, contextKeyLogger, logger)
}

// RequestID retrieves the request ID from context.
func RequestID(ctx context.Context) string {
	id, ok := ctx.Value(contextKeyRequestID).(string)
	if !ok {
		return ""
	}
	return id
}

// WithRequestID stores the request ID in context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

type contextKey string

const (
	contextKeyLogger    contextKey = "audit.logger"
	contextKeyRequestID contextKey = "audit.request_id"
)
