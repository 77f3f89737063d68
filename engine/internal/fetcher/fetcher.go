// Package fetcher implements the HTTP fetch stage (C4): following
// redirects up to a configured cap, capturing the full chain, hashing the
// raw body, and classifying failures into connection-kind codes.
//
// Grounded on the teacher's colly_fetcher.go for the colly.Collector
// construction (colly.Debugger, SetRequestTimeout, UserAgent) and on 5u5urrus-PathFinder's render_headless.go for the
// idea of observing the full redirect chain rather than only the final
// URL. SHA-256 body hashing reuses the hashutil pattern from
// rohmanhakim-docs-crawler.
package fetcher

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/debug"
)

// ConnectionKind classifies a fetch-phase failure for ErrorRecord.code.
type ConnectionKind string

const (
	ConnDNS       ConnectionKind = "dns"
	ConnTLS       ConnectionKind = "tls"
	ConnTimeout   ConnectionKind = "timeout"
	ConnAborted   ConnectionKind = "aborted"
	ConnProtocol  ConnectionKind = "protocol"
	ConnUnknown   ConnectionKind = "unknown"
)

// FetchError carries the fetch-phase failure classification required by
// spec.md §4.4 ("status/connection-kind codes").
type FetchError struct {
	URL  string
	Kind ConnectionKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func classify(err error) ConnectionKind {
	if err == nil {
		return ConnUnknown
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ConnDNS
	}
	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) {
		return ConnTLS
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ConnTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ConnTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ConnAborted
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"):
		return ConnTLS
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "dns"):
		return ConnDNS
	case strings.Contains(msg, "timeout"):
		return ConnTimeout
	case strings.Contains(msg, "reset"), strings.Contains(msg, "refused"), strings.Contains(msg, "eof"):
		return ConnAborted
	}
	return ConnUnknown
}

// Config bounds a single fetch.
type Config struct {
	Timeout       time.Duration
	UserAgent     string
	MaxRedirects  int
	MaxBytes      int64
}

// DefaultConfig returns spec-consistent defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		UserAgent:    "CartographerBot/1.0",
		MaxRedirects: 10,
		MaxBytes:     50 << 20,
	}
}

// Result is fetchUrl's return value per spec.md §4.4.
type Result struct {
	FinalURL      string
	StatusCode    int
	ContentType   string
	Headers       map[string]string
	Body          []byte
	RedirectChain []string
	RawHTMLHash   string
	RobotsHeader  string
}

// Fetcher performs single-page HTTP fetches. It is built on colly for
// parity with the rest of the corpus's fetch tooling (debug logging, user
// agent, request timeout) but drives a single Visit per call rather than
// owning the crawl loop — discovery and scheduling live in the scheduler.
type Fetcher struct {
	cfg       Config
	collector *colly.Collector
}

// New constructs a Fetcher from cfg. The collector is handed its own
// http.Client (via SetClient) so a CheckRedirect hook can observe every
// hop of the redirect chain, the way PathFinder's render_headless.go
// observes navigation chains at the browser layer.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(
		colly.Debugger(&debug.LogDebugger{}),
	)
	if cfg.Timeout > 0 {
		c.SetRequestTimeout(cfg.Timeout)
	}
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Fetcher{cfg: cfg, collector: c}
}

// Fetch retrieves rawURL, following redirects up to cfg.MaxRedirects and
// recording the full chain. It does not enforce robots or rate limiting —
// those are applied upstream by the scheduler before Fetch is called.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, &FetchError{URL: rawURL, Kind: ConnUnknown, Err: err}
	}

	// Build a fresh collector per fetch so each call gets its own handler
	// set, http.Client and visited store: Collector.Clone shares the HTTP
	// backend with the original, so SetClient on a clone would swap the
	// redirect hook out from under concurrent fetches.
	clone := colly.NewCollector(
		colly.Debugger(&debug.LogDebugger{}),
		colly.AllowURLRevisit(),
	)
	clone.UserAgent = f.collector.UserAgent

	var chain []string
	clone.SetClient(&http.Client{
		Timeout: f.cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			chain = append(chain, req.URL.String())
			if f.cfg.MaxRedirects > 0 && len(via) >= f.cfg.MaxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	})

	var result *Result
	var fetchErr error

	clone.OnResponse(func(r *colly.Response) {
		var bodyReader io.Reader = strings.NewReader(string(r.Body))
		if f.cfg.MaxBytes > 0 {
			bodyReader = io.LimitReader(bodyReader, f.cfg.MaxBytes)
		}
		body, err := io.ReadAll(bodyReader)
		if err != nil {
			fetchErr = &FetchError{URL: rawURL, Kind: classify(err), Err: err}
			return
		}

		headers := map[string]string{}
		if r.Headers != nil {
			for key, values := range *r.Headers {
				if len(values) > 0 {
					headers[strings.ToLower(key)] = values[0]
				}
			}
		}

		sum := sha256.Sum256(body)

		result = &Result{
			FinalURL:      r.Request.URL.String(),
			StatusCode:    r.StatusCode,
			ContentType:   headers["content-type"],
			Headers:       headers,
			Body:          body,
			RedirectChain: append([]string(nil), chain...),
			RawHTMLHash:   hex.EncodeToString(sum[:]),
			RobotsHeader:  headers["x-robots-tag"],
		}
	})

	clone.OnError(func(r *colly.Response, err error) {
		fetchErr = &FetchError{URL: rawURL, Kind: classify(err), Err: err}
	})

	if err := clone.Visit(rawURL); err != nil {
		return nil, &FetchError{URL: rawURL, Kind: classify(err), Err: err}
	}

	if fetchErr != nil {
		return nil, fetchErr
	}
	if result == nil {
		return nil, &FetchError{URL: rawURL, Kind: ConnUnknown, Err: errors.New("no response received")}
	}
	return result, nil
}
