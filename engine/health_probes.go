package engine

import (
	"context"
	"fmt"

	"cartographer/engine/internal/scheduler"
	"cartographer/engine/internal/telemetry/health"
	"cartographer/engine/internal/telemetry/policy"
)

// schedulerErrorProbe reports degraded/unhealthy once the crawl's error
// ratio crosses the configured thresholds, but only after SchedulerMinSamples
// items have been processed — a handful of early failures (a slow first
// host, say) shouldn't trip the probe before there's a meaningful sample.
func schedulerErrorProbe(sched *scheduler.Scheduler, p policy.HealthPolicy) health.ProbeFunc {
	return func(ctx context.Context) health.ProbeResult {
		st := sched.Status()
		total := st.PagesWritten + st.ErrorsWritten
		if total < int64(p.SchedulerMinSamples) {
			return health.Unknown("scheduler_errors", "warming up")
		}
		ratio := float64(st.ErrorsWritten) / float64(total)
		switch {
		case ratio >= p.SchedulerUnhealthyRatio:
			return health.Unhealthy("scheduler_errors", fmt.Sprintf("error ratio %.2f", ratio))
		case ratio >= p.SchedulerDegradedRatio:
			return health.Degraded("scheduler_errors", fmt.Sprintf("error ratio %.2f", ratio))
		default:
			return health.Healthy("scheduler_errors")
		}
	}
}

// rssHeadroomProbe reports degraded/unhealthy as resident memory approaches
// the configured cap. sample returns 0 when no cap is configured, in which
// case the probe always reports healthy.
func rssHeadroomProbe(sample func() float64, p policy.HealthPolicy) health.ProbeFunc {
	return func(ctx context.Context) health.ProbeResult {
		pct := sample()
		switch {
		case pct >= p.RSSUnhealthyPercent:
			return health.Unhealthy("rss_headroom", fmt.Sprintf("%.0f%% of cap", pct*100))
		case pct >= p.RSSDegradedPercent:
			return health.Degraded("rss_headroom", fmt.Sprintf("%.0f%% of cap", pct*100))
		default:
			return health.Healthy("rss_headroom")
		}
	}
}

// frontierBacklogProbe reports degraded/unhealthy once the BFS frontier's
// pending count grows past the configured thresholds — a sign the crawl is
// discovering links faster than workers can drain them.
func frontierBacklogProbe(sched *scheduler.Scheduler, p policy.HealthPolicy) health.ProbeFunc {
	return func(ctx context.Context) health.ProbeResult {
		pending := sched.Status().FrontierPending
		switch {
		case pending >= p.FrontierUnhealthyBacklog:
			return health.Unhealthy("frontier_backlog", fmt.Sprintf("%d pending", pending))
		case pending >= p.FrontierDegradedBacklog:
			return health.Degraded("frontier_backlog", fmt.Sprintf("%d pending", pending))
		default:
			return health.Healthy("frontier_backlog")
		}
	}
}
