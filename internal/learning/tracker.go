package learning

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// signalQueueSize is the buffer size for the signal queue.
	// If full, signals are dropped (non-blocking).
	signalQueueSize = 1000

	// recordTimeout bounds a single RecordLearning call, which may embed the query.
	recordTimeout = 30 * time.Second
)

// Recorder applies a learning signal. It is implemented by the retrieval engine.
type Recorder interface {
	RecordLearning(ctx context.Context, query, capability string, signal float64) error
}

// Tracker applies learning signals in the background with non-blocking submits.
type Tracker struct {
	recorder    Recorder
	logger      *zap.Logger
	signalQueue chan Signal
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	enabled     bool
	mu          sync.RWMutex

	submitted atomic.Int64
	recorded  atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithQueueSize overrides the queue capacity.
func WithQueueSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.signalQueue = make(chan Signal, n)
		}
	}
}

// NewTracker creates a tracker and starts its worker.
func NewTracker(r Recorder, opts ...Option) *Tracker {
	t := &Tracker{
		recorder:    r,
		logger:      zap.NewNop(),
		signalQueue: make(chan Signal, signalQueueSize),
		stopChan:    make(chan struct{}),
		enabled:     true,
	}
	for _, opt := range opts {
		opt(t)
	}

	t.wg.Add(1)
	go t.processSignals()

	return t
}

// Track queues a signal without blocking and reports whether it was accepted.
// If the tracker is disabled or the queue is full, the signal is dropped.
func (t *Tracker) Track(sig Signal) bool {
	if !t.IsEnabled() {
		return false
	}

	select {
	case <-t.stopChan:
		return false
	default:
	}

	select {
	case t.signalQueue <- sig:
		t.submitted.Add(1)
		return true
	default:
		t.dropped.Add(1)
		t.logger.Warn("learning queue full, dropping signal", zap.String("tool", sig.Capability))
		return false
	}
}

// Stop shuts down the tracker after applying every queued signal.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopChan)
		t.wg.Wait()
	})
}

// Disable makes Track ignore new signals.
func (t *Tracker) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
}

// Enable resumes accepting signals.
func (t *Tracker) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = true
}

// IsEnabled returns whether signals are accepted.
func (t *Tracker) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled && t.recorder != nil
}

// Stats returns outcome counters and the current queue length.
func (t *Tracker) Stats() Stats {
	return Stats{
		Submitted: t.submitted.Load(),
		Recorded:  t.recorded.Load(),
		Failed:    t.failed.Load(),
		Dropped:   t.dropped.Load(),
		Pending:   len(t.signalQueue),
	}
}

// processSignals runs in the background and applies signals in arrival order.
func (t *Tracker) processSignals() {
	defer t.wg.Done()

	for {
		select {
		case sig := <-t.signalQueue:
			t.apply(sig)

		case <-t.stopChan:
			// Drain what is already queued, then exit
			for {
				select {
				case sig := <-t.signalQueue:
					t.apply(sig)
				default:
					return
				}
			}
		}
	}
}

// apply hands one signal to the recorder.
func (t *Tracker) apply(sig Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := t.recorder.RecordLearning(ctx, sig.Query, sig.Capability, sig.Strength); err != nil {
		t.failed.Add(1)
		t.logger.Warn("failed to record learning signal",
			zap.String("tool", sig.Capability),
			zap.Float64("signal", sig.Strength),
			zap.Error(err))
		return
	}
	t.recorded.Add(1)
	t.logger.Debug("recorded learning signal",
		zap.String("tool", sig.Capability),
		zap.Float64("signal", sig.Strength))
}
