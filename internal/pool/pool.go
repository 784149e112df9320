package pool

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"steamharvest/internal/domain"
	"steamharvest/internal/governor"
	"steamharvest/internal/infrastructure/ops"
)

// Handler processes one admitted work item. A non-nil error aborts the run.
type Handler func(ctx context.Context, item domain.WorkItem) error

// Pool drains work items through a fixed worker set while the governor
// decides how many may fetch at once and how fast. Workers are sized at
// the concurrency ceiling; the gate, not the goroutine count, enforces the
// adaptive limit.
type Pool struct {
	gov     *governor.Governor
	metrics *ops.Metrics
	handler Handler
	logger  *slog.Logger
	gate    *gate
	workers int

	minDelay time.Duration
	maxDelay time.Duration

	mu            sync.Mutex
	lastHibernate time.Time
}

// New builds a pool bound to the governor's limits.
func New(gov *governor.Governor, metrics *ops.Metrics, handler Handler, logger *slog.Logger) *Pool {
	limits := gov.Limits()
	return &Pool{
		gov:      gov,
		metrics:  metrics,
		handler:  handler,
		logger:   logger,
		gate:     newGate(limits.MaxConcurrency),
		workers:  limits.MaxConcurrency,
		minDelay: limits.MinDelay,
		maxDelay: limits.MaxDelay,
	}
}

// Run feeds every item through the admission path and blocks until the
// list is drained, a handler fails, or ctx is canceled.
func (p *Pool) Run(ctx context.Context, items []domain.WorkItem) error {
	if len(items) == 0 {
		return nil
	}

	jobs := make(chan domain.WorkItem)
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			for item := range jobs {
				if err := p.process(ctx, item); err != nil {
					return err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for _, item := range items {
			select {
			case jobs <- item:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	return g.Wait()
}

func (p *Pool) process(ctx context.Context, item domain.WorkItem) error {
	if err := p.admit(ctx); err != nil {
		return err
	}
	defer p.gate.release()

	return p.handler(ctx, item)
}

// admit waits out hibernation, squeezes through the gate and paces the
// request with a jittered delay. On success the caller holds one slot; on
// error nothing is held.
func (p *Pool) admit(ctx context.Context) error {
	for {
		dec := p.syncGovernor()

		if dec.Mode == governor.ModeHibernating {
			p.noteHibernation(dec.HibernateUntil)
			if err := p.pause(ctx, time.Until(dec.HibernateUntil)); err != nil {
				return err
			}
			continue
		}

		if err := p.gate.acquire(ctx); err != nil {
			return err
		}

		// The wait inside acquire can span a governor regime change; a slot
		// is only acted on under a decision taken while holding it.
		dec = p.syncGovernor()
		if dec.Mode == governor.ModeHibernating {
			p.gate.release()
			continue
		}

		if err := p.pause(ctx, p.jitter(dec.Delay)); err != nil {
			p.gate.release()
			return err
		}
		return nil
	}
}

// syncGovernor takes a fresh decision and applies it to the gate window
// before anyone acts on it. Reading and applying under one lock keeps a
// slow worker from writing an outdated window over a newer one.
func (p *Pool) syncGovernor() governor.Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	dec := p.gov.Admit()
	if dec.Mode != governor.ModeHibernating {
		p.gate.setWindow(dec.Concurrency)
	}
	p.metrics.SetGovernor(dec.Concurrency, dec.Delay, string(dec.Mode))
	return dec
}

// noteHibernation logs and counts each distinct hibernation deadline once,
// however many workers end up waiting on it.
func (p *Pool) noteHibernation(until time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if until.Equal(p.lastHibernate) {
		return
	}
	p.lastHibernate = until
	p.metrics.CountHibernation()
	p.logger.Warn("sustained throttling at the concurrency floor, hibernating", "until", until)
}

// jitter spreads the pacing delay ±25% so workers do not fire in lockstep.
func (p *Pool) jitter(delay time.Duration) time.Duration {
	factor := 0.75 + rand.Float64()*0.5
	jittered := time.Duration(float64(delay) * factor)
	if jittered < p.minDelay {
		jittered = p.minDelay
	}
	if jittered > p.maxDelay {
		jittered = p.maxDelay
	}
	return jittered
}

func (p *Pool) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
