package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"qaboard/internal/board"
	"qaboard/internal/clock"
	"qaboard/internal/logging"
	"qaboard/internal/metrics"
)

type QuestionLister interface {
	ListQuestions(ctx context.Context) ([]board.Question, error)
}

type Replacer interface {
	ReplaceQuestions([]board.Question)
}

// Poller refetches the question list on an interval while the push channel
// is down. It fetches once immediately on Start.
type Poller struct {
	source   QuestionLister
	store    Replacer
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	running bool
	gen     uint64
	timer   clock.Timer
	wg      sync.WaitGroup
}

type PollerOption func(*Poller)

func WithPollClock(c clock.Clock) PollerOption {
	return func(p *Poller) { p.clock = clock.OrReal(c) }
}

func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithPollTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithPollLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = logging.OrDiscard(l) }
}

func WithPollMetrics(m *metrics.Metrics) PollerOption {
	return func(p *Poller) { p.metrics = m }
}

func NewPoller(source QuestionLister, store Replacer, opts ...PollerOption) *Poller {
	p := &Poller{
		source:   source,
		store:    store,
		clock:    clock.Real{},
		interval: 5 * time.Second,
		timeout:  10 * time.Second,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.gen++
	gen := p.gen
	p.logger.Info("polling fallback started", "interval", p.interval)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.poll(gen)
	}()
}

func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.logger.Info("polling fallback stopped")
}

// Wait blocks until in-flight polls return.
func (p *Poller) Wait() { p.wg.Wait() }

func (p *Poller) poll(gen uint64) {
	if !p.current(gen) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	qs, err := p.source.ListQuestions(ctx)
	cancel()
	p.metrics.Poll(err)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || gen != p.gen {
		return
	}
	if err != nil {
		p.logger.Warn("poll failed", "err", err)
	} else {
		p.store.ReplaceQuestions(qs)
	}
	p.timer = p.clock.AfterFunc(p.interval, func() { p.poll(gen) })
}

func (p *Poller) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && gen == p.gen
}
