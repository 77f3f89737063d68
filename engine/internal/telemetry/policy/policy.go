// Package policy centralizes runtime-tunable telemetry knobs so they can be
// swapped atomically (callers hold an immutable snapshot pointer) without
// locks on hot paths.
package policy

import "time"

// TelemetryPolicy bundles the health rollup thresholds, the tracing sample
// rate and the event-bus buffer limit. Normalize fills non-positive health
// and event-bus values from Default() and clamps the tracing sample rate.
type TelemetryPolicy struct {
	Health  HealthPolicy
	Tracing TracingPolicy
	Events  EventBusPolicy
}

// HealthPolicy tunes the three probes the engine façade's health.Evaluator
// runs: crawl error ratio, RSS headroom, and frontier backlog.
type HealthPolicy struct {
	ProbeTTL time.Duration

	SchedulerMinSamples     int // items processed before the error-ratio probe trusts its ratio
	SchedulerDegradedRatio  float64
	SchedulerUnhealthyRatio float64

	RSSDegradedPercent  float64 // fraction of memory.maxRssMB
	RSSUnhealthyPercent float64

	FrontierDegradedBacklog  int // pending frontier items
	FrontierUnhealthyBacklog int
}

type TracingPolicy struct {
	SamplePercent           float64
	ErrorBoostPercent       float64
	LatencyBoostThresholdMs int64
	LatencyBoostPercent     float64
}

type EventBusPolicy struct {
	MaxSubscriberBuffer int
}

// Default returns the out-of-the-box policy.
func Default() TelemetryPolicy {
	return TelemetryPolicy{
		Health: HealthPolicy{
			ProbeTTL:                 2 * time.Second,
			SchedulerMinSamples:      10,
			SchedulerDegradedRatio:   0.20,
			SchedulerUnhealthyRatio:  0.50,
			RSSDegradedPercent:       0.70,
			RSSUnhealthyPercent:      0.90,
			FrontierDegradedBacklog:  5000,
			FrontierUnhealthyBacklog: 20000,
		},
		Tracing: TracingPolicy{SamplePercent: 20},
		Events:  EventBusPolicy{MaxSubscriberBuffer: 1024},
	}
}

// Normalize returns a cleaned copy without mutating the receiver: every
// non-positive health threshold and MaxSubscriberBuffer is reset to its
// Default() value, Tracing.SamplePercent is clamped into [0, 100], and the
// other tracing fields are copied unchanged.
func (p TelemetryPolicy) Normalize() TelemetryPolicy {
	d := Default()
	c := p
	if c.Health.ProbeTTL <= 0 {
		c.Health.ProbeTTL = d.Health.ProbeTTL
	}
	if c.Health.SchedulerMinSamples <= 0 {
		c.Health.SchedulerMinSamples = d.Health.SchedulerMinSamples
	}
	if c.Health.SchedulerDegradedRatio <= 0 {
		c.Health.SchedulerDegradedRatio = d.Health.SchedulerDegradedRatio
	}
	if c.Health.SchedulerUnhealthyRatio <= 0 {
		c.Health.SchedulerUnhealthyRatio = d.Health.SchedulerUnhealthyRatio
	}
	if c.Health.RSSDegradedPercent <= 0 {
		c.Health.RSSDegradedPercent = d.Health.RSSDegradedPercent
	}
	if c.Health.RSSUnhealthyPercent <= 0 {
		c.Health.RSSUnhealthyPercent = d.Health.RSSUnhealthyPercent
	}
	if c.Health.FrontierDegradedBacklog <= 0 {
		c.Health.FrontierDegradedBacklog = d.Health.FrontierDegradedBacklog
	}
	if c.Health.FrontierUnhealthyBacklog <= 0 {
		c.Health.FrontierUnhealthyBacklog = d.Health.FrontierUnhealthyBacklog
	}
	if c.Tracing.SamplePercent < 0 {
		c.Tracing.SamplePercent = 0
	}
	if c.Tracing.SamplePercent > 100 {
		c.Tracing.SamplePercent = 100
	}
	if c.Events.MaxSubscriberBuffer <= 0 {
		c.Events.MaxSubscriberBuffer = d.Events.MaxSubscriberBuffer
	}
	return c
}
