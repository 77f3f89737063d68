package checkpoint

import "time"

// FirePolicy decides when the scheduler should trigger a periodic
// checkpoint save: every N pages or every T seconds. It has no forced
// trigger, and the scheduler saves no checkpoint on shutdown, pause or
// cancel.
type FirePolicy struct {
	PageInterval int           // 0 disables the page-count trigger
	TimeInterval time.Duration // 0 disables the time trigger

	pagesSinceLastFire int
	lastFire           time.Time
}

// NewFirePolicy returns a policy with the given triggers. A 0 interval
// disables that trigger, except that when both are 0 the page trigger
// defaults to every 500 pages; a negative pageInterval disables the page
// trigger with no fallback.
func NewFirePolicy(pageInterval int, timeInterval time.Duration) *FirePolicy {
	if pageInterval == 0 && timeInterval == 0 {
		pageInterval = 500
	}
	return &FirePolicy{PageInterval: pageInterval, TimeInterval: timeInterval, lastFire: time.Now()}
}

// OnPageWritten records one more admitted page and reports whether a
// checkpoint should fire now.
func (p *FirePolicy) OnPageWritten(now time.Time) bool {
	p.pagesSinceLastFire++
	if p.PageInterval > 0 && p.pagesSinceLastFire >= p.PageInterval {
		return true
	}
	if p.TimeInterval > 0 && now.Sub(p.lastFire) >= p.TimeInterval {
		return true
	}
	return false
}

// Reset clears the counters after a checkpoint has actually been saved.
func (p *FirePolicy) Reset(now time.Time) {
	p.pagesSinceLastFire = 0
	p.lastFire = now
}
