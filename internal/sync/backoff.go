package sync

import (
	"time"

	"github.com/nhle/heritage-client/internal/model"
)

// BackoffPolicy describes how the poll interval reacts to failures:
// multiplicative increase once failures reach Threshold, slow recovery
// once they have fully cleared.
type BackoffPolicy struct {
	Base      time.Duration
	Max       time.Duration
	Threshold int
	Factor    float64
}

// Backoff is the mutable backoff state owned by the poller.
type Backoff struct {
	Failures int
	Interval time.Duration
}

// DefaultBackoffPolicy polls every 30s, backing off by 1.5x up to 5m.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:      30 * time.Second,
		Max:       5 * time.Minute,
		Threshold: 2,
		Factor:    1.5,
	}
}

// PolicyFromConfig builds a policy from the notifications config section.
func PolicyFromConfig(cfg model.NotificationConfig) BackoffPolicy {
	p := BackoffPolicy{
		Base:      time.Duration(cfg.PollIntervalSec) * time.Second,
		Max:       time.Duration(cfg.MaxPollIntervalSec) * time.Second,
		Threshold: cfg.BackoffThreshold,
		Factor:    cfg.BackoffFactor,
	}
	return p.withDefaults()
}

func (p BackoffPolicy) withDefaults() BackoffPolicy {
	def := DefaultBackoffPolicy()
	if p.Base <= 0 {
		p.Base = def.Base
	}
	if p.Max < p.Base {
		p.Max = max(def.Max, p.Base)
	}
	if p.Threshold <= 0 {
		p.Threshold = def.Threshold
	}
	if p.Factor <= 1 {
		p.Factor = def.Factor
	}
	return p
}

// Initial returns the state for a freshly started poller.
func (p BackoffPolicy) Initial() Backoff {
	return Backoff{Interval: p.Base}
}

// OnFailure records a failed count fetch.
func (p BackoffPolicy) OnFailure(b Backoff) Backoff {
	b.Failures++
	if b.Failures >= p.Threshold {
		next := time.Duration(float64(b.Interval) * p.Factor)
		b.Interval = min(next, p.Max)
	}
	return b
}

// OnSuccess records a successful count fetch. Failures decay by one per
// success; only when none remain does the interval ease back, halving the
// distance to Base each time.
func (p BackoffPolicy) OnSuccess(b Backoff) Backoff {
	if b.Failures > 0 {
		b.Failures--
		return b
	}
	if b.Interval <= p.Base {
		b.Interval = p.Base
		return b
	}
	b.Interval = p.Base + (b.Interval-p.Base)/2
	if b.Interval-p.Base < time.Second {
		b.Interval = p.Base
	}
	return b
}
