package scheduler

// Event type names the scheduler emits through Dependencies.Events. C10's
// bus subscribes by these exact strings.
const (
	EventCrawlStarted      = "crawl.started"
	EventPageFetched       = "page.fetched"
	EventPageParsed        = "page.parsed"
	EventErrorOccurred     = "error.occurred"
	EventCheckpointSaved   = "checkpoint.saved"
	EventCrawlHeartbeat    = "crawl.heartbeat"
	EventCrawlBackpressure = "crawl.backpressure"
	EventCrawlShutdown     = "crawl.shutdown"
	EventCrawlFinished     = "crawl.finished"
)

func (s *Scheduler) emit(eventType string, payload map[string]any) {
	if s.deps.Events == nil {
		return
	}
	s.deps.Events.Emit(eventType, payload)
}
