// Package robots implements the per-origin robots.txt cache (C2): fetch,
// parse, cache-with-TTL, and match against a configured user agent.
package robots

import (
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	robotstxt "github.com/temoto/robotstxt"
)

// Result is the outcome of a shouldFetch check.
type Result struct {
	Allow       bool
	MatchedRule string
}

type cacheEntry struct {
	group     *robotstxt.Group
	fetchedAt time.Time
	malformed bool
}

// Cache fetches and caches robots.txt per origin, matching the configured
// user agent exactly first and falling back to "*".
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]*cacheEntry
	ttl       time.Duration
	userAgent string
	client    *http.Client
	override  bool

	overrideUsedMu sync.Mutex
	overrideUsed   bool
}

// NewCache constructs a robots.txt cache. override, if true, makes
// ShouldFetch always allow without consulting the cache; the fact of the
// override is recorded for the manifest via OverrideUsed().
func NewCache(userAgent string, ttl time.Duration, override bool) *Cache {
	if ttl <= 0 {
		ttl = 1 * time.Hour
	}
	return &Cache{
		entries:   make(map[string]*cacheEntry),
		ttl:       ttl,
		userAgent: userAgent,
		client:    &http.Client{Timeout: 10 * time.Second},
		override:  override,
	}
}

// ShouldFetch reports whether rawURL may be fetched per the cached
// robots.txt rules for its origin.
func (c *Cache) ShouldFetch(rawURL string) Result {
	if c.override {
		c.overrideUsedMu.Lock()
		c.overrideUsed = true
		c.overrideUsedMu.Unlock()
		return Result{Allow: true, MatchedRule: "override"}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{Allow: true, MatchedRule: "malformed-url"}
	}
	origin := u.Scheme + "://" + u.Host
	entry := c.lookup(origin)
	if entry.malformed || entry.group == nil {
		return Result{Allow: true, MatchedRule: "no-rules"}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if entry.group.Test(path) {
		return Result{Allow: true, MatchedRule: "allow"}
	}
	return Result{Allow: false, MatchedRule: "disallow"}
}

// OverrideUsed reports whether the override path was ever exercised, for
// the manifest's robots-override warning note.
func (c *Cache) OverrideUsed() bool {
	c.overrideUsedMu.Lock()
	defer c.overrideUsedMu.Unlock()
	return c.overrideUsed
}

func (c *Cache) lookup(origin string) *cacheEntry {
	c.mu.RLock()
	entry, ok := c.entries[origin]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry
	}

	fresh := c.fetch(origin)

	c.mu.Lock()
	c.entries[origin] = fresh
	c.mu.Unlock()
	return fresh
}

// fetch retrieves and parses origin's robots.txt. Network failures and
// malformed bodies both default to allow-all, cached as a negative result
// so repeated misses don't refetch every call within the TTL.
func (c *Cache) fetch(origin string) *cacheEntry {
	now := time.Now()
	req, err := http.NewRequest(http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return &cacheEntry{fetchedAt: now, malformed: true}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return &cacheEntry{fetchedAt: now, malformed: true}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return &cacheEntry{fetchedAt: now, malformed: true}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &cacheEntry{fetchedAt: now, malformed: true}
	}

	parsed, err := robotstxt.FromBytes(body)
	if err != nil {
		return &cacheEntry{fetchedAt: now, malformed: true}
	}

	agent := c.userAgent
	if agent == "" {
		agent = "*"
	}
	group := parsed.FindGroup(agent)
	return &cacheEntry{group: group, fetchedAt: now}
}
