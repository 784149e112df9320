package governor

import (
	"sync"
	"time"

	"steamharvest/internal/domain"
)

// Mode reflects how aggressively the engine is allowed to fetch.
type Mode string

const (
	ModeNormal      Mode = "normal"
	ModeThrottled   Mode = "throttled"
	ModeHibernating Mode = "hibernating"
)

// Limits carries the validated tuning bounds for the controller.
type Limits struct {
	MinConcurrency int
	MaxConcurrency int
	MinDelay       time.Duration
	MaxDelay       time.Duration
	WindowSize     int
	ThrottlePct    float64
	Hibernation    time.Duration
}

// Decision is the admission snapshot handed to workers. Concurrency is the
// current in-flight ceiling; zero means no admission until HibernateUntil.
type Decision struct {
	Concurrency    int
	Delay          time.Duration
	Mode           Mode
	HibernateUntil time.Time
}

// Governor owns the adaptive concurrency and pacing state. Outcomes are
// accumulated into a tumbling window; every full window is evaluated once:
// a healthy window raises concurrency by one and lowers the delay a step,
// a throttled window halves concurrency and doubles the delay. A throttled
// window that finds concurrency already pinned at the floor escalates to
// hibernation.
type Governor struct {
	mu          sync.Mutex
	limits      Limits
	delayStep   time.Duration
	concurrency int
	delay       time.Duration
	mode        Mode
	hibernateAt time.Time
	seen        int
	rateLimited int

	now func() time.Time
}

// New builds a governor starting at the concurrency floor.
func New(limits Limits) *Governor {
	if limits.MinConcurrency < 1 {
		limits.MinConcurrency = 1
	}
	if limits.MaxConcurrency < limits.MinConcurrency {
		limits.MaxConcurrency = limits.MinConcurrency
	}
	if limits.MinDelay < 0 {
		limits.MinDelay = 0
	}
	if limits.MaxDelay < limits.MinDelay {
		limits.MaxDelay = limits.MinDelay
	}
	if limits.WindowSize < 1 {
		limits.WindowSize = 1
	}

	return &Governor{
		limits:      limits,
		delayStep:   (limits.MaxDelay - limits.MinDelay) / 8,
		concurrency: limits.MinConcurrency,
		delay:       limits.MinDelay,
		mode:        ModeNormal,
		now:         time.Now,
	}
}

// Record feeds one fetch outcome into the current window. Only rate_limited
// outcomes count toward the throttle ratio; every outcome fills a slot.
func (g *Governor) Record(out domain.FetchOutcome) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seen++
	if out.Status == domain.StatusRateLimited {
		g.rateLimited++
	}

	// Requests still in flight when hibernation starts may land here;
	// their window is discarded on wake-up.
	if g.mode == ModeHibernating {
		return
	}

	if g.seen < g.limits.WindowSize {
		return
	}
	g.evaluateLocked()
}

// Limits returns the validated tuning bounds the governor runs with.
func (g *Governor) Limits() Limits {
	return g.limits
}

// Admit returns the current admission snapshot. A hibernation deadline that
// has passed is resolved here: the governor resumes normal mode at the
// concurrency floor with a fresh window.
func (g *Governor) Admit() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.mode == ModeHibernating {
		if g.now().Before(g.hibernateAt) {
			return Decision{Delay: g.delay, Mode: ModeHibernating, HibernateUntil: g.hibernateAt}
		}
		g.mode = ModeNormal
		g.concurrency = g.limits.MinConcurrency
		g.seen = 0
		g.rateLimited = 0
		g.hibernateAt = time.Time{}
	}

	return Decision{Concurrency: g.concurrency, Delay: g.delay, Mode: g.mode}
}

func (g *Governor) evaluateLocked() {
	pct := 100 * float64(g.rateLimited) / float64(g.seen)
	g.seen = 0
	g.rateLimited = 0

	if pct >= g.limits.ThrottlePct {
		pinned := g.mode == ModeThrottled && g.concurrency == g.limits.MinConcurrency

		g.concurrency /= 2
		if g.concurrency < g.limits.MinConcurrency {
			g.concurrency = g.limits.MinConcurrency
		}
		g.delay *= 2
		if g.delay > g.limits.MaxDelay {
			g.delay = g.limits.MaxDelay
		}

		if pinned {
			g.mode = ModeHibernating
			g.hibernateAt = g.now().Add(g.limits.Hibernation)
		} else {
			g.mode = ModeThrottled
		}
		return
	}

	g.concurrency++
	if g.concurrency > g.limits.MaxConcurrency {
		g.concurrency = g.limits.MaxConcurrency
	}
	g.delay -= g.delayStep
	if g.delay < g.limits.MinDelay {
		g.delay = g.limits.MinDelay
	}
	g.mode = ModeNormal
}
