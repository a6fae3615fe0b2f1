package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/heritage-client/internal/model"
)

func TestBackoff_ThreeFailuresAtLeastDouble(t *testing.T) {
	p := DefaultBackoffPolicy()
	b := p.Initial()

	b = p.OnFailure(b)
	assert.Equal(t, 30*time.Second, b.Interval, "a single blip does not back off")
	b = p.OnFailure(b)
	b = p.OnFailure(b)

	assert.Equal(t, 3, b.Failures)
	assert.GreaterOrEqual(t, b.Interval, 2*p.Base)
	assert.LessOrEqual(t, b.Interval, p.Max)
}

func TestBackoff_CappedAtMax(t *testing.T) {
	p := DefaultBackoffPolicy()
	b := p.Initial()

	for range 50 {
		b = p.OnFailure(b)
		assert.LessOrEqual(t, b.Interval, 5*time.Minute)
	}
	assert.Equal(t, 5*time.Minute, b.Interval)
}

func TestBackoff_EasesDown(t *testing.T) {
	p := DefaultBackoffPolicy()
	b := p.Initial()
	for range 10 {
		b = p.OnFailure(b)
	}
	peak := b.Interval

	b = p.OnSuccess(b)
	assert.Equal(t, 9, b.Failures, "failures decay one at a time")
	assert.Equal(t, peak, b.Interval)

	for b.Failures > 0 {
		b = p.OnSuccess(b)
	}
	assert.Equal(t, peak, b.Interval, "interval holds until failures clear")

	b = p.OnSuccess(b)
	assert.Less(t, b.Interval, peak)
	assert.Greater(t, b.Interval, p.Base, "one success never snaps back to the base interval")

	prev := b.Interval
	for range 20 {
		b = p.OnSuccess(b)
		assert.LessOrEqual(t, b.Interval, prev)
		prev = b.Interval
	}
	assert.Equal(t, p.Base, b.Interval)
}

func TestBackoff_SuccessAtBaseIsStable(t *testing.T) {
	p := DefaultBackoffPolicy()
	b := p.OnSuccess(p.Initial())
	assert.Equal(t, Backoff{Interval: p.Base}, b)
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(model.NotificationConfig{
		PollIntervalSec:    10,
		MaxPollIntervalSec: 60,
		BackoffThreshold:   3,
		BackoffFactor:      2,
	})
	assert.Equal(t, BackoffPolicy{Base: 10 * time.Second, Max: time.Minute, Threshold: 3, Factor: 2}, p)

	assert.Equal(t, DefaultBackoffPolicy(), PolicyFromConfig(model.NotificationConfig{}))
}
