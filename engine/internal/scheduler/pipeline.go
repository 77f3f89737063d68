package scheduler

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"

	"cartographer/engine/internal/extract"
	"cartographer/engine/internal/fetcher"
	"cartographer/engine/internal/renderer"
	"cartographer/engine/internal/urlnorm"
	"cartographer/engine/models"
)

const (
	errCodeRobotsBlocked   = "ROBOTS_BLOCKED"
	errCodeChallengeFailed = "CHALLENGE_DETECTED"
	errCodeExtractFailed   = "PARSE_FAILED"
	errCodeWriteFailed     = "WRITE_FAILED"
)

// processItem runs the full single-page pipeline in the strict order
// spec.md §5.1 requires: robots check, fetch, render, extract, then write
// page/edges/assets/accessibility/full-mode records, and finally enqueue
// newly discovered links — all within one task, so no later task can
// observe a partially-written page. Full-mode screenshots and the origin's
// favicon are written just before the page record, whose media paths the
// screenshots fill in.
func (s *Scheduler) processItem(ctx context.Context, item models.FrontierItem) {
	atomic.AddInt64(&s.itemsTotal, 1)

	origin := originOf(item.URL)
	host := hostOf(item.URL)

	result := s.deps.Robots.ShouldFetch(item.URL)
	if !result.Allow {
		s.recordError(item.URL, origin, host, models.PhaseRobots, errCodeRobotsBlocked, "disallowed by robots.txt ("+result.MatchedRule+")")
		return
	}

	fetched, err := s.deps.Fetcher.Fetch(ctx, item.URL)
	if err != nil {
		code := "UNKNOWN"
		if fe, ok := err.(*fetcher.FetchError); ok {
			code = strings.ToUpper(string(fe.Kind))
		}
		s.recordError(item.URL, origin, host, models.PhaseFetch, code, err.Error())
		return
	}
	s.emit(EventPageFetched, map[string]any{"url": item.URL, "status": fetched.StatusCode})

	rendered, err := s.deps.Renderer.RenderPage(ctx, fetched.FinalURL, renderer.RawFetch{Body: fetched.Body, ContentType: fetched.ContentType})
	if err != nil {
		s.recordError(item.URL, origin, host, models.PhaseRender, "RENDER_FAILED", err.Error())
		return
	}
	if rendered.ChallengeDetected {
		s.recordError(item.URL, origin, host, models.PhaseRender, errCodeChallengeFailed, "challenge page did not resolve")
		return
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rendered.DOM))
	if err != nil {
		s.recordError(item.URL, origin, host, models.PhaseExtract, errCodeExtractFailed, err.Error())
		return
	}

	normalizedURL, ok := urlnorm.Normalize(fetched.FinalURL)
	if !ok {
		s.recordError(item.URL, origin, host, models.PhaseExtract, errCodeExtractFailed, "final URL failed to normalize")
		return
	}
	urlKey := urlnorm.KeyOf(normalizedURL)

	staticMode := rendered.ModeUsed == models.RenderModeRaw
	facts := extract.ExtractPageFacts(doc, fetched.FinalURL, fetched.RobotsHeader)
	textSample := extract.ExtractTextSample(doc)
	edges := extract.ExtractLinks(doc, item.URL, fetched.FinalURL, staticMode)
	assets, assetsTruncated := extract.ExtractAssets(doc, fetched.FinalURL, fetched.FinalURL)
	structuredData := extract.ExtractStructuredData(doc)
	techStack := extract.ExtractTechStack(doc, fetched.Headers)

	now := time.Now()
	page := models.PageRecord{
		URLKey:               urlKey,
		URL:                  item.URL,
		FinalURL:             fetched.FinalURL,
		StatusCode:           fetched.StatusCode,
		ContentType:          fetched.ContentType,
		FetchedAt:            now,
		RenderedAt:           now,
		RenderMode:           rendered.ModeUsed,
		NavEndReason:         rendered.NavEndReason,
		RawHTMLHash:          fetched.RawHTMLHash,
		DOMHash:              rendered.DOMHash,
		Title:                facts.Title,
		MetaDescription:      facts.MetaDescription,
		FirstH1:              facts.FirstH1,
		Headings:             facts.Headings,
		CanonicalRaw:         facts.CanonicalRaw,
		CanonicalResolved:    facts.CanonicalResolved,
		MetaRobots:           facts.MetaRobots,
		XRobotsTag:           fetched.RobotsHeader,
		NoindexSurface:       facts.NoindexSurface,
		Hreflang:             facts.Hreflang,
		TextSample:           textSample,
		FaviconURL:           facts.FaviconURL,
		LinksInternalCount:   facts.LinksInternal,
		LinksExternalCount:   facts.LinksExternal,
		MediaCount:           facts.MediaCount,
		MissingAltCount:      facts.MissingAltCount,
		MediaAssetsCount:     len(assets),
		MediaAssetsTruncated: assetsTruncated,
		DiscoveryParent:      item.DiscoveredFrom,
		Depth:                item.Depth,
		Section:              urlnorm.SectionOf(fetched.FinalURL),
		ChallengeCaptured:    rendered.ChallengeDetected,
		SecurityHeaders:      securityHeadersOf(fetched.Headers),
		Performance:          rendered.Performance,
		StructuredData:       structuredData,
		TechStack:            techStack,
	}

	if rendered.ModeUsed == models.RenderModeFull {
		media := &models.MediaPaths{}
		if len(rendered.ScreenshotDesktop) > 0 {
			if path, err := s.deps.Writer.WriteScreenshot(urlKey, "desktop", rendered.ScreenshotDesktop); err == nil {
				media.ScreenshotDesktop = path
			}
		}
		if len(rendered.ScreenshotMobile) > 0 {
			if path, err := s.deps.Writer.WriteScreenshot(urlKey, "mobile", rendered.ScreenshotMobile); err == nil {
				media.ScreenshotMobile = path
			}
		}
		if media.ScreenshotDesktop != "" || media.ScreenshotMobile != "" {
			page.Media = media
		}
	}

	if facts.FaviconURL != "" {
		originKey := urlnorm.KeyOf(origin)
		_, _ = s.deps.Writer.WriteFavicon(ctx, originKey, facts.FaviconURL)
	}

	if err := s.deps.Writer.WritePage(page); err != nil {
		s.recordError(item.URL, origin, host, models.PhaseWrite, errCodeWriteFailed, err.Error())
		return
	}
	for _, edge := range edges {
		_ = s.deps.Writer.WriteEdge(edge)
	}
	for _, asset := range assets {
		_ = s.deps.Writer.WriteAsset(asset)
	}

	if s.cfg.Accessibility {
		a11y := extract.ExtractAccessibilityBase(doc, fetched.FinalURL, facts.Headings)
		if !staticMode {
			a11y.FormLabelIssues = extract.ExtractFormLabelIssues(doc)
			a11y.FocusOrder = extract.ExtractFocusOrder(doc)
			a11y.ContrastViolations = extract.ExtractContrastViolations(rendered.ComputedText)
		}
		_ = s.deps.Writer.WriteAccessibility(a11y)
	}

	if rendered.ModeUsed == models.RenderModeFull {
		for _, c := range rendered.Console {
			_ = s.deps.Writer.WriteConsole(c)
		}
		for _, c := range rendered.ComputedText {
			_ = s.deps.Writer.WriteStyles(c)
		}
	}

	s.emit(EventPageParsed, map[string]any{"url": item.URL, "urlKey": urlKey, "depth": item.Depth})

	s.markVisited(urlKey)
	atomic.AddInt64(&s.pagesWritten, 1)

	for _, edge := range edges {
		if edge.External && !s.cfg.FollowExternal {
			continue
		}
		s.admit(edge.TargetURL, item.Depth+1, item.URL)
	}

	s.maybeCheckpoint()
}

func (s *Scheduler) recordError(url, origin, host string, phase models.Phase, code, message string) {
	_ = s.deps.Writer.WriteError(models.ErrorRecord{
		URL:        url,
		Origin:     origin,
		Host:       host,
		OccurredAt: time.Now(),
		Phase:      phase,
		Code:       code,
		Message:    message,
	})
	atomic.AddInt64(&s.errorsTotal, 1)
	s.emit(EventErrorOccurred, map[string]any{"url": url, "phase": string(phase), "code": code})
	s.checkErrorBudget()
}

// checkErrorBudget aborts the crawl once the error rate crosses the
// configured budget, waiting for a small warm-up sample so a handful of
// early failures don't trip it prematurely.
func (s *Scheduler) checkErrorBudget() {
	if s.cfg.ErrorBudget <= 0 {
		return
	}
	total := atomic.LoadInt64(&s.itemsTotal)
	if total < 10 {
		return
	}
	errs := atomic.LoadInt64(&s.errorsTotal)
	if float64(errs)/float64(total) >= s.cfg.ErrorBudget {
		s.setCompletionReason(models.CompletionErrorBudget)
		_ = s.state.transition(StateCanceling)
	}
}

// securityHeadersOf lifts the handful of security-relevant response
// headers fetcher.Result.Headers already lowercased. Returns nil when none
// of them are present, matching PageRecord.SecurityHeaders' omitempty.
func securityHeadersOf(headers map[string]string) *models.SecurityHeaders {
	if headers == nil {
		return nil
	}
	h := models.SecurityHeaders{
		StrictTransportSecurity: headers["strict-transport-security"],
		ContentSecurityPolicy:   headers["content-security-policy"],
		XFrameOptions:           headers["x-frame-options"],
		XContentTypeOptions:     headers["x-content-type-options"],
		ReferrerPolicy:          headers["referrer-policy"],
	}
	if h == (models.SecurityHeaders{}) {
		return nil
	}
	return &h
}

func originOf(rawURL string) string {
	idx := strings.Index(rawURL, "://")
	if idx < 0 {
		return rawURL
	}
	rest := rawURL[idx+3:]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		rest = rest[:slash]
	}
	return rawURL[:idx+3] + rest
}
