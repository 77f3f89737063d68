// Package urlnorm implements URL canonicalization, key hashing, and the
// query-parameter retention policy (C1). Every function here is pure: no
// I/O, no shared state beyond the caller-supplied seen-params map.
package urlnorm

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"cartographer/engine/models"
)

// Normalize canonicalizes raw into a normalizedUrl string: fragment
// removed, host lowercased, default port dropped, retained query pairs
// sorted alphabetically by key. Path case is preserved exactly — this is
// the one place Cartographer's normalization intentionally diverges from a
// fully-lowercased canonical form; see KeyOf for the dedup-key variant.
//
// Malformed input returns ("", false); callers must skip, never crash.
func Normalize(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = lowerHost(u.Host)
	if p := u.Port(); (u.Scheme == "http" && p == "80") || (u.Scheme == "https" && p == "443") {
		u.Host = strings.TrimSuffix(u.Host, ":"+p)
	}
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
	}
	if u.Path == "" {
		u.Path = "/"
	}
	u.RawQuery = sortQuery(u.RawQuery)
	return u.String(), true
}

func lowerHost(host string) string {
	hostname, port, ok := strings.Cut(host, ":")
	hostname = strings.ToLower(hostname)
	if !ok {
		return stripDefaultPort(hostname, "")
	}
	return stripDefaultPort(hostname, port)
}

func stripDefaultPort(hostname, port string) string {
	if port == "" {
		return hostname
	}
	return hostname + ":" + port
}

func sortQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil || len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for j, v := range vs {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// KeyOf computes the 160-bit (SHA-1) dedup key of a normalized URL. The key
// lowercases the entire string first, so pages differing only in path case
// share a dedup key even though their stored normalizedUrl values remain
// distinct — the legacy contract spec.md §9 calls out explicitly.
func KeyOf(normalizedURL string) string {
	sum := sha1.Sum([]byte(strings.ToLower(normalizedURL)))
	return hex.EncodeToString(sum[:])
}

// ContentHash returns the SHA-256 hex digest of data, used for raw-bytes
// and rendered-DOM hashing per spec.md's hashing.algorithm="sha256".
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SeenParams is the per-crawl shared state consulted by the "sample" param
// policy: at most one occurrence per (path, parameter name) is retained
// across the whole crawl. It must never be a process global (§9).
type SeenParams struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewSeenParams constructs an empty per-crawl seen-params tracker.
func NewSeenParams() *SeenParams {
	return &SeenParams{seen: make(map[string]struct{})}
}

func (s *SeenParams) observe(pathKey, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pathKey + "\x00" + name
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// ApplyParamPolicy rewrites rawURL's query string according to policy.
// Wildcarded entries in blockList are applied first and unconditionally,
// regardless of policy. sample requires a non-nil seen state; keep/strip
// ignore it.
func ApplyParamPolicy(rawURL string, policy models.ParamPolicy, blockList []string, seen *SeenParams) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if u.RawQuery == "" {
		return rawURL, true
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return "", false
	}
	for name := range values {
		if matchesBlockList(name, blockList) {
			delete(values, name)
		}
	}
	switch policy {
	case models.ParamPolicyStrip:
		values = url.Values{}
	case models.ParamPolicySample:
		if seen != nil {
			for name := range values {
				if !seen.observe(u.Path, name) {
					delete(values, name)
				}
			}
		}
	case models.ParamPolicyKeep, "":
		// no-op
	}
	u.RawQuery = values.Encode()
	return u.String(), true
}

func matchesBlockList(name string, blockList []string) bool {
	for _, pattern := range blockList {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// SectionOf returns the leading path segment of a URL, e.g. "/blog" for
// "/blog/post-1". Root paths return "/".
func SectionOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "/"
	}
	trimmed := strings.TrimPrefix(u.Path, "/")
	if trimmed == "" {
		return "/"
	}
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return "/" + trimmed[:idx]
	}
	return "/" + trimmed
}

// IsSameOrigin reports whether a and b share scheme+host+port.
func IsSameOrigin(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return strings.EqualFold(ua.Scheme, ub.Scheme) && strings.EqualFold(ua.Host, ub.Host)
}

// SafeJoin resolves relative against base, returning ("", false) if either
// fails to parse. Callers must never crash on malformed input.
func SafeJoin(base, relative string) (string, bool) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	relURL, err := url.Parse(relative)
	if err != nil {
		return "", false
	}
	return baseURL.ResolveReference(relURL).String(), true
}
