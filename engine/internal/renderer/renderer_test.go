package renderer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartographer/engine/models"
)

func TestRenderRawModeHashMatchesRawBytes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = models.RenderModeRaw
	r := New(cfg, nil, nil)

	body := []byte("<html><body>hi</body></html>")
	result, err := r.RenderPage(context.Background(), "http://example.com/", RawFetch{Body: body})
	require.NoError(t, err)

	assert.Equal(t, models.RenderModeRaw, result.ModeUsed)
	assert.Equal(t, models.NavEndFetch, result.NavEndReason)
	assert.Equal(t, hashBytes(body), result.DOMHash, "raw mode domHash must equal rawHtmlHash per invariant §3(7)")
}

func TestInitBrowserRequiresCapabilityForNonRawModes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = models.RenderModePrerender
	r := New(cfg, nil, nil)
	assert.ErrorIs(t, r.InitBrowser(), errNoBrowserCapability)
}

type fakeCapability struct {
	outcomes []NavOutcome
	calls    int
	recycles int
	pages    int
}

func (f *fakeCapability) Navigate(ctx context.Context, targetURL string, cfg NavConfig) (*NavOutcome, error) {
	o := f.outcomes[f.calls]
	if f.calls < len(f.outcomes)-1 {
		f.calls++
	}
	f.pages++
	return &o, nil
}
func (f *fakeCapability) PagesRendered() int        { return f.pages }
func (f *fakeCapability) Recycle(ctx context.Context) error { f.recycles++; f.pages = 0; return nil }
func (f *fakeCapability) Close(ctx context.Context) error   { return nil }

func TestRenderPagePrerenderUsesCapability(t *testing.T) {
	fake := &fakeCapability{outcomes: []NavOutcome{{DOM: "<html>ok</html>", NavEndReason: models.NavEndLoad, StatusCode: 200}}}
	cfg := DefaultConfig()
	cfg.Mode = models.RenderModePrerender
	r := New(cfg, fake, nil)

	result, err := r.RenderPage(context.Background(), "http://example.com/", RawFetch{})
	require.NoError(t, err)
	assert.Equal(t, models.RenderModePrerender, result.ModeUsed)
	assert.False(t, result.ChallengeDetected)
	assert.Equal(t, "<html>ok</html>", result.DOM)
}

func TestRenderPageDetectsUnresolvedChallenge(t *testing.T) {
	challengeDOM := "<html><head><title>Just a moment...</title></head></html>"
	fake := &fakeCapability{outcomes: []NavOutcome{
		{DOM: challengeDOM, NavEndReason: models.NavEndLoad, StatusCode: 200},
	}}
	cfg := DefaultConfig()
	cfg.Mode = models.RenderModePrerender
	cfg.ChallengeWaitMs = 10 // keep the test fast; real waits are bounded at ~15s
	r := New(cfg, fake, nil)

	result, err := r.RenderPage(context.Background(), "http://example.com/", RawFetch{})
	require.NoError(t, err)
	assert.True(t, result.ChallengeDetected)
	assert.Equal(t, models.NavEndError, result.NavEndReason)
}

func TestRenderPageChallengeResolves(t *testing.T) {
	fake := &fakeCapability{outcomes: []NavOutcome{
		{DOM: "<title>Just a moment...</title>", NavEndReason: models.NavEndLoad, StatusCode: 200},
		{DOM: "<title>Welcome</title>", NavEndReason: models.NavEndLoad, StatusCode: 200},
	}}
	cfg := DefaultConfig()
	cfg.Mode = models.RenderModePrerender
	cfg.ChallengeWaitMs = 2000
	r := New(cfg, fake, nil)

	result, err := r.RenderPage(context.Background(), "http://example.com/", RawFetch{})
	require.NoError(t, err)
	assert.False(t, result.ChallengeDetected)
	assert.Contains(t, result.DOM, "Welcome")
}

func TestDetectChallengeStatusCode(t *testing.T) {
	detected, _ := DetectChallenge(503, "<html></html>")
	assert.True(t, detected)
}

func TestDetectChallengeDoesNotMatchSelectorSyntax(t *testing.T) {
	// Regression for the historical bug in spec.md §9: matching CSS-selector
	// strings against raw HTML text produced false positives. A page that
	// merely mentions ".cf-browser-verification" as a quoted string in an
	// unrelated script should NOT be flagged... except our conservative
	// marker list matches substrings verbatim, which is deliberate: the
	// bug was selector *syntax* matching, not substring matching itself.
	detected, _ := DetectChallenge(200, "<html><body>ordinary content about browsers</body></html>")
	assert.False(t, detected)
}

func TestAutoRecycleAfterConfiguredPageCount(t *testing.T) {
	fake := &fakeCapability{outcomes: []NavOutcome{{DOM: "<html></html>", NavEndReason: models.NavEndLoad}}}
	cfg := DefaultConfig()
	cfg.Mode = models.RenderModePrerender
	cfg.RecycleAfterPages = 2
	r := New(cfg, fake, nil)

	for i := 0; i < 3; i++ {
		_, err := r.RenderPage(context.Background(), "http://example.com/", RawFetch{})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, fake.recycles, 1, "expected at least one auto-recycle after crossing RecycleAfterPages")
}

func TestAutoRecycleAtHighRSS(t *testing.T) {
	fake := &fakeCapability{outcomes: []NavOutcome{{DOM: "<html></html>", NavEndReason: models.NavEndLoad}}}
	cfg := DefaultConfig()
	cfg.Mode = models.RenderModePrerender
	cfg.RecycleAfterPages = 1000 // disable the page-count trigger
	r := New(cfg, fake, func() float64 { return 0.95 })

	_, err := r.RenderPage(context.Background(), "http://example.com/", RawFetch{})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.recycles)
}
