package errs

import (
	"sync"
	"time"
)

// Context captures one decorated operation outcome for the ring buffer.
type Context struct {
	Component string        `json:"component"`
	Op        string        `json:"op"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	Category  Category      `json:"category,omitempty"`
	Severity  Severity      `json:"-"`
	Error     string        `json:"error,omitempty"`
	At        time.Time     `json:"at"`
}

// AlertHandler is notified for high and critical severity failures.
type AlertHandler func(Context)

const ringCapacity = 1000

// Recorder retains the most recent operation contexts in a bounded ring
// and fans out alerts. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	ring     []Context
	next     int
	full     bool
	handlers []AlertHandler
}

// NewRecorder creates an empty recorder with the default ring capacity.
func NewRecorder() *Recorder {
	return &Recorder{ring: make([]Context, ringCapacity)}
}

// OnAlert registers a handler for high/critical failures.
func (r *Recorder) OnAlert(h AlertHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// Record stores a success outcome.
func (r *Recorder) Record(component, op string, duration time.Duration) {
	r.add(Context{Component: component, Op: op, Success: true, Duration: duration, At: time.Now()})
}

// RecordError stores a failure outcome and triggers alerts when the
// severity warrants it.
func (r *Recorder) RecordError(component, op string, duration time.Duration, err error) {
	ctx := Context{
		Component: component,
		Op:        op,
		Duration:  duration,
		Category:  CategoryOf(err),
		At:        time.Now(),
	}
	if err != nil {
		ctx.Error = err.Error()
	}
	if e, ok := err.(*Error); ok {
		ctx.Severity = e.Severity
	} else {
		ctx.Severity = defaults[ctx.Category].severity
	}
	r.add(ctx)
}

func (r *Recorder) add(ctx Context) {
	r.mu.Lock()
	r.ring[r.next] = ctx
	r.next = (r.next + 1) % ringCapacity
	if r.next == 0 {
		r.full = true
	}
	handlers := r.handlers
	r.mu.Unlock()

	if !ctx.Success && ctx.Severity >= SeverityHigh {
		for _, h := range handlers {
			h(ctx)
		}
	}
}

// Recent returns up to n contexts, newest first.
func (r *Recorder) Recent(n int) []Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = ringCapacity
	}
	if n > size {
		n = size
	}
	out := make([]Context, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + ringCapacity) % ringCapacity
		out = append(out, r.ring[idx])
	}
	return out
}
