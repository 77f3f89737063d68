package scheduler

import (
	"net/url"
	"sync"

	"cartographer/engine/internal/urlnorm"
	"cartographer/engine/models"
)

// frontier is the BFS work queue: one FIFO per host, round-robin polled so
// no single host can starve the others out of the worker pool. Hosts are
// tracked in first-seen order so iteration is deterministic run to run.
type frontier struct {
	mu       sync.Mutex
	queues   map[string][]models.FrontierItem
	order    []string
	cursor   int
	enqueued map[string]bool // urlKey -> true, once admitted to the frontier or visited
}

func newFrontier() *frontier {
	return &frontier{
		queues:   make(map[string][]models.FrontierItem),
		enqueued: make(map[string]bool),
	}
}

// markEnqueued marks keys as already enqueued without adding them to any host
// queue, for resume: visited URLs must never be re-admitted.
func (f *frontier) markEnqueued(keys map[string]bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range keys {
		f.enqueued[k] = true
	}
}

// push admits item if its key is new, returning false if it was already
// enqueued or visited.
func (f *frontier) push(item models.FrontierItem, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueued[key] {
		return false
	}
	f.enqueued[key] = true
	f.pushLocked(item)
	return true
}

func (f *frontier) pushLocked(item models.FrontierItem) {
	host := hostOf(item.URL)
	if _, ok := f.queues[host]; !ok {
		f.order = append(f.order, host)
	}
	f.queues[host] = append(f.queues[host], item)
}

// restore re-admits a checkpointed frontier verbatim (already-known keys,
// already-assigned depths) without re-running the param-policy/dedup path
// a fresh discovery goes through.
func (f *frontier) restore(items []models.FrontierItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range items {
		f.enqueued[urlnorm.KeyOf(item.URL)] = true
		f.pushLocked(item)
	}
}

// nextHostWithWork advances the round-robin cursor and returns the next
// host with a non-empty queue, or ("", false) if every queue is empty.
func (f *frontier) nextHostWithWork() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.order)
	for i := 0; i < n; i++ {
		host := f.order[f.cursor]
		f.cursor = (f.cursor + 1) % n
		if len(f.queues[host]) > 0 {
			return host, true
		}
	}
	return "", false
}

// pop removes and returns the head item for host. Caller must already know
// (from nextHostWithWork or TryConsume) that the queue is non-empty.
func (f *frontier) pop(host string) (models.FrontierItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queues[host]
	if len(q) == 0 {
		return models.FrontierItem{}, false
	}
	item := q[0]
	f.queues[host] = q[1:]
	return item, true
}

// isEmpty reports whether every host queue is drained.
func (f *frontier) isEmpty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.queues {
		if len(q) > 0 {
			return false
		}
	}
	return true
}

// snapshot returns every pending item across all host queues, for
// checkpointing.
func (f *frontier) snapshot() []models.FrontierItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.FrontierItem
	for _, host := range f.order {
		out = append(out, f.queues[host]...)
	}
	return out
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
