package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Davelummy/taxagent/internal/obs"
)

const (
	defaultQueueSize = 256
	defaultAttempts  = 3
	defaultBackoff   = 100 * time.Millisecond
	writeTimeout     = 5 * time.Second
)

// Writer delivers events to a Sink from a single background goroutine. A
// full queue drops the event; a sink failure is retried a bounded number of
// times and then dropped. Both are logged at warn level.
type Writer struct {
	sink     Sink
	queue    chan Event
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Option customises a Writer.
type Option func(*Writer)

// WithQueueSize bounds the number of pending events.
func WithQueueSize(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.queue = make(chan Event, n)
		}
	}
}

// WithRetry sets the attempt count and the base backoff between attempts.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(w *Writer) {
		if attempts > 0 {
			w.attempts = attempts
		}
		if backoff >= 0 {
			w.backoff = backoff
		}
	}
}

// WithLogger overrides the logger used for drop warnings.
func WithLogger(l *zap.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWriter starts the delivery goroutine. Call Close to drain it.
func NewWriter(sink Sink, opts ...Option) *Writer {
	w := &Writer{
		sink:     sink,
		queue:    make(chan Event, defaultQueueSize),
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		logger:   zap.L(),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w
}

// Record enqueues ev without blocking.
func (w *Writer) Record(ctx context.Context, ev Event) {
	ev = stamp(ctx, ev, w.now())

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.drop(ev, "writer closed")
		return
	}
	select {
	case w.queue <- ev:
	default:
		w.drop(ev, "queue full")
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to
// expire.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for ev := range w.queue {
		w.deliver(ev)
	}
}

func (w *Writer) deliver(ev Event) {
	var err error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err = w.sink.WriteAudit(ctx, ev)
		cancel()
		if err == nil {
			obs.ObserveAudit("written")
			return
		}
		if attempt < w.attempts {
			obs.ObserveAudit("retried")
			time.Sleep(w.backoff * time.Duration(attempt))
		}
	}
	w.logger.Warn("audit write failed", zap.Error(err), zap.String("action", string(ev.Action)), zap.String("audit_id", ev.ID))
	w.drop(ev, "sink error")
}

func (w *Writer) drop(ev Event, reason string) {
	obs.ObserveAudit("dropped")
	w.logger.Warn("audit event dropped",
		zap.String("reason", reason),
		zap.String("action", string(ev.Action)),
		zap.String("audit_id", ev.ID),
	)
}
