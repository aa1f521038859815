package workflow

import (
	"log/slog"
	"sync"
	"time"
)

// TraceStatus is the terminal state a StepTrace was recorded with.
type TraceStatus string

const (
	TraceCompleted TraceStatus = "completed"
	TraceFailed    TraceStatus = "failed"
	TraceCancelled TraceStatus = "cancelled"
	TraceSuspended TraceStatus = "suspended"
)

// StepTrace is a per-step execution record: one entry per StepNode
// evaluation, covering all of its retry attempts (counted in
// RetryAttempts). Only StepNode evaluation
// contributes trace entries; pure control nodes (Sequence, Parallel,
// Conditional, Delay) do not.
type StepTrace struct {
	StepName      string
	StepTypeID    string
	ContextTypeID string
	StartTime     time.Time
	EndTime       time.Time
	Duration      time.Duration
	Status        TraceStatus
	RetryAttempts int
	CorrelationID string
	ErrorMessage  string
}

// TraceBuffer is a fixed-capacity, single-writer ring buffer of StepTrace.
// On overflow the oldest entry is silently overwritten and Dropped is
// incremented; a single warning is logged the first time this happens.
type TraceBuffer struct {
	mu       sync.Mutex
	entries  []StepTrace
	capacity int
	start    int // index of the oldest entry
	count    int // number of valid entries, <= capacity

	Dropped uint64

	warnedOnce bool
	logger     *slog.Logger

	stream     chan StepTrace
	streamOnce sync.Once
	streamDone bool
}

// DefaultTraceCapacity is the ring buffer size used when none is configured.
const DefaultTraceCapacity = 10_000

// NewTraceBuffer creates a ring buffer with the given capacity (falling
// back to DefaultTraceCapacity if capacity <= 0).
func NewTraceBuffer(capacity int, logger *slog.Logger) *TraceBuffer {
	if capacity <= 0 {
		capacity = DefaultTraceCapacity
	}
	return &TraceBuffer{
		entries:  make([]StepTrace, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// EnableStream opens the live trace channel with capacity equal to the
// buffer's own capacity. Must be called before any Append for the stream to
// see every entry; safe to call at most once per buffer.
func (b *TraceBuffer) EnableStream() <-chan StepTrace {
	b.streamOnce.Do(func() {
		b.stream = make(chan StepTrace, b.capacity)
	})
	return b.stream
}

// Append records a trace entry, overwriting the oldest entry on overflow and
// publishing to the live stream (if enabled) without blocking the engine: a
// full stream channel displaces its own oldest entry, matching the ring
// buffer's policy.
func (b *TraceBuffer) Append(t StepTrace) {
	b.mu.Lock()
	idx := (b.start + b.count) % b.capacity
	overflow := b.count == b.capacity
	if overflow {
		idx = b.start
		b.start = (b.start + 1) % b.capacity
		b.Dropped++
		if !b.warnedOnce {
			b.warnedOnce = true
			if b.logger != nil {
				b.logger.Warn("trace buffer overflow, oldest entries are being dropped",
					slog.Int("capacity", b.capacity))
			}
		}
	} else {
		b.count++
	}
	b.entries[idx] = t
	b.mu.Unlock()

	if b.stream != nil && !b.streamDone {
		select {
		case b.stream <- t:
		default:
			// Lagging consumer: displace the oldest queued entry rather
			// than block the engine.
			select {
			case <-b.stream:
			default:
			}
			select {
			case b.stream <- t:
			default:
			}
		}
	}
}

// CloseStream closes the live trace channel; subsequent Append calls will
// not attempt to publish. Idempotent.
func (b *TraceBuffer) CloseStream() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stream != nil && !b.streamDone {
		b.streamDone = true
		close(b.stream)
	}
}

// Snapshot returns a copy of the buffer's entries in insertion order.
func (b *TraceBuffer) Snapshot() []StepTrace {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]StepTrace, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.entries[(b.start+i)%b.capacity]
	}
	return out
}

// Len returns the number of valid entries currently held.
func (b *TraceBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
