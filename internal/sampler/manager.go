package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Appender is the durable destination for samples. Implementations must only
// ever append; a failed append leaves the destination unchanged.
type Appender interface {
	Append(ctx context.Context, sample Sample) error
}

// Stats is a point-in-time snapshot of sampling counters.
type Stats struct {
	Ticks               uint64
	TickErrors          uint64
	Appends             uint64
	AppendErrors        uint64
	ConsecutiveFailures uint64
}

// Manager runs the sampling loop: one fetch and one durable append per tick,
// caching the latest sample, keeping a bounded history, and fanning out
// successful samples to subscribers.
type Manager struct {
	interval   time.Duration
	reader     *Reader
	appender   Appender
	maxHistory int
	logger     *slog.Logger

	mu          sync.RWMutex
	latest      Sample
	hasLatest   bool
	history     []Sample
	subscribers map[*subscriber]struct{}

	ticks        atomic.Uint64
	tickErrors   atomic.Uint64
	appends      atomic.Uint64
	appendErrors atomic.Uint64
	failStreak   atomic.Uint64
}

// NewManager builds a Manager. The appender may be nil when persistence is
// disabled; samples then only feed the live caches.
func NewManager(interval time.Duration, reader *Reader, appender Appender, maxHistory int, logger *slog.Logger) (*Manager, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	if reader == nil {
		return nil, fmt.Errorf("reader must not be nil")
	}
	if maxHistory < 0 {
		maxHistory = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		interval:    interval,
		reader:      reader,
		appender:    appender,
		maxHistory:  maxHistory,
		logger:      logger.With("component", "sampler_manager"),
		subscribers: make(map[*subscriber]struct{}),
	}, nil
}

// Run executes ticks until the context is canceled. The first tick fires
// immediately to prime the caches.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("sampler started", "interval", m.interval)

	m.tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sampler stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	if _, err := m.RunOnce(ctx); err != nil {
		m.logger.Warn("tick failed", "err", err)
	}
}

// RunOnce performs a single tick: fetch, append, publish. Each invocation is
// independent; a failure leaves all state untouched apart from counters.
func (m *Manager) RunOnce(ctx context.Context) (Sample, error) {
	m.ticks.Add(1)

	sample, err := m.reader.Fetch(ctx)
	if err != nil {
		m.tickErrors.Add(1)
		m.failStreak.Add(1)
		return Sample{}, err
	}

	if m.appender != nil {
		if err := m.appender.Append(ctx, sample); err != nil {
			m.appendErrors.Add(1)
			m.failStreak.Add(1)
			return Sample{}, fmt.Errorf("append sample: %w", err)
		}
		m.appends.Add(1)
	}

	m.failStreak.Store(0)
	m.publish(sample)
	return sample, nil
}

// Latest returns the most recent successful sample.
func (m *Manager) Latest() (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.hasLatest
}

// History returns the retained samples, oldest first.
func (m *Manager) History() []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Sample, len(m.history))
	copy(out, m.history)
	return out
}

// Ready reports whether at least one sample succeeded since start.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasLatest
}

// Stats returns a snapshot of the sampling counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Ticks:               m.ticks.Load(),
		TickErrors:          m.tickErrors.Load(),
		Appends:             m.appends.Load(),
		AppendErrors:        m.appendErrors.Load(),
		ConsecutiveFailures: m.failStreak.Load(),
	}
}

// Subscribe registers a listener for new samples. The latest sample, when
// present, is delivered immediately.
func (m *Manager) Subscribe() (<-chan Sample, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := newSubscriber()
	m.subscribers[sub] = struct{}{}

	if m.hasLatest {
		sub.send(m.latest)
	}

	unsubscribe := func() {
		m.removeSubscriber(sub)
	}
	return sub.channel(), unsubscribe
}

func (m *Manager) publish(sample Sample) {
	m.mu.Lock()
	m.latest = sample
	m.hasLatest = true

	if m.maxHistory > 0 {
		m.history = append(m.history, sample)
		if len(m.history) > m.maxHistory {
			m.history = m.history[len(m.history)-m.maxHistory:]
		}
	}

	targetSubs := make([]*subscriber, 0, len(m.subscribers))
	for sub := range m.subscribers {
		targetSubs = append(targetSubs, sub)
	}
	m.mu.Unlock()

	for _, sub := range targetSubs {
		sub.send(sample)
	}
}

func (m *Manager) removeSubscriber(sub *subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, sub)
	sub.close()
}

type subscriber struct {
	ch     chan Sample
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch: make(chan Sample, 1),
	}
}

func (s *subscriber) channel() <-chan Sample {
	return s.ch
}

func (s *subscriber) send(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- sample:
		return
	default:
	}
	// Drop oldest to make room for new sample.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- sample:
	default:
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
