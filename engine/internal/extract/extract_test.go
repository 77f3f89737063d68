package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartographer/engine/models"
)

func parse(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestExtractPageFactsBasics(t *testing.T) {
	doc := parse(t, `<html><head>
		<title> Example Page </title>
		<meta name="description" content="a test page">
		<link rel="canonical" href="/canonical">
		<meta name="robots" content="noindex, nofollow">
		<link rel="alternate" hreflang="es" href="/es/">
	</head><body>
		<h1>Welcome</h1>
		<h2>Sub</h2>
		<img src="/a.jpg">
		<a href="/internal">internal</a>
		<a href="https://external.example/x">external</a>
	</body></html>`)

	facts := ExtractPageFacts(doc, "https://example.com/page", "")
	assert.Equal(t, "Example Page", facts.Title)
	assert.Equal(t, "a test page", facts.MetaDescription)
	assert.Equal(t, "Welcome", facts.FirstH1)
	require.Len(t, facts.Headings, 2)
	assert.Equal(t, "https://example.com/canonical", facts.CanonicalResolved)
	assert.Equal(t, models.NoindexMeta, facts.NoindexSurface)
	require.Len(t, facts.Hreflang, 1)
	assert.Equal(t, 1, facts.LinksInternal)
	assert.Equal(t, 1, facts.LinksExternal)
	assert.Equal(t, 1, facts.MissingAltCount)
}

func TestDeriveNoindexSurfaceBoth(t *testing.T) {
	assert.Equal(t, models.NoindexBoth, deriveNoindexSurface("noindex", "noindex"))
	assert.Equal(t, models.NoindexNone, deriveNoindexSurface("", ""))
	assert.Equal(t, models.NoindexHeader, deriveNoindexSurface("", "noindex"))
}

func TestExtractTextSampleCollapsesWhitespaceAndTruncates(t *testing.T) {
	doc := parse(t, `<html><body>  hello    <script>var x=1</script>   world  </body></html>`)
	sample := ExtractTextSample(doc)
	assert.Equal(t, "hello world", sample)

	long := parse(t, `<html><body>`+strings.Repeat("word ", 400)+`</body></html>`)
	assert.Len(t, ExtractTextSample(long), 1500)
}

func TestExtractLinksDedupesAndDetectsLocation(t *testing.T) {
	doc := parse(t, `<html><body>
		<nav><a href="/a" id="navlink">A</a></nav>
		<a href="/a" id="navlink">A dup</a>
		<a href="https://external.example/b" rel="nofollow sponsored">B</a>
	</body></html>`)

	edges := ExtractLinks(doc, "https://example.com/", "https://example.com/", false)
	require.Len(t, edges, 2)
	assert.Equal(t, "nav", edges[0].Location)
	assert.True(t, edges[1].Nofollow)
	assert.True(t, edges[1].Sponsored)
	assert.True(t, edges[1].External)
}

func TestExtractLinksStaticModeReportsUnknownLocation(t *testing.T) {
	doc := parse(t, `<nav><a href="/a">A</a></nav>`)
	edges := ExtractLinks(doc, "https://example.com/", "https://example.com/", true)
	require.Len(t, edges, 1)
	assert.Equal(t, "unknown", edges[0].Location)
}

func TestExtractAssetsCapsAtLimit(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for i := 0; i < 1005; i++ {
		sb.WriteString(`<img src="/img` + string(rune('0'+i%10)) + `.jpg">`)
	}
	sb.WriteString("</body></html>")
	doc := parse(t, sb.String())

	records, truncated := ExtractAssets(doc, "https://example.com/", "https://example.com/")
	assert.True(t, truncated)
	assert.Len(t, records, 1000)
}

func TestExtractAssetsStaticModeDefaults(t *testing.T) {
	doc := parse(t, `<img src="/a.jpg" alt="x">`)
	records, truncated := ExtractAssets(doc, "https://example.com/", "https://example.com/")
	assert.False(t, truncated)
	require.Len(t, records, 1)
	assert.True(t, records[0].Visible)
	assert.False(t, records[0].InViewport)
	assert.True(t, records[0].AltPresent)
}

func TestExtractAccessibilityBaseLandmarksAndRoles(t *testing.T) {
	doc := parse(t, `<html lang="en"><body>
		<nav></nav><header></header><footer></footer><main></main>
		<div role="alert"></div><div role="alert"></div>
		<img src="/x.jpg">
	</body></html>`)

	rec := ExtractAccessibilityBase(doc, "https://example.com/", nil)
	assert.Equal(t, "en", rec.Lang)
	assert.True(t, rec.LandmarkNav)
	assert.True(t, rec.LandmarkHeader)
	assert.True(t, rec.LandmarkFooter)
	assert.True(t, rec.LandmarkMain)
	assert.Equal(t, 1, rec.MissingAltCount)
	assert.Equal(t, 2, rec.RoleHistogram["alert"])
}

func TestExtractFormLabelIssuesFindsUnlabeled(t *testing.T) {
	doc := parse(t, `<form>
		<label for="named">Name</label><input id="named">
		<input id="unlabeled">
		<input aria-label="search">
	</form>`)
	issues := ExtractFormLabelIssues(doc)
	require.Len(t, issues, 1)
}

func TestExtractFocusOrderSkipsNegativeTabindex(t *testing.T) {
	doc := parse(t, `<a href="/a">A</a><button tabindex="-1">skip</button><input>`)
	entries := ExtractFocusOrder(doc)
	assert.Len(t, entries, 2)
}

func TestExtractContrastViolationsFlagsLowRatio(t *testing.T) {
	nodes := []models.ComputedTextNodeRecord{
		{Selector: "p:nth-of-type(1)", Foreground: "rgb(200, 200, 200)", Background: "rgb(255, 255, 255)", FontSize: 14},
		{Selector: "p:nth-of-type(2)", Foreground: "rgb(0, 0, 0)", Background: "rgb(255, 255, 255)", FontSize: 14},
	}
	violations := ExtractContrastViolations(nodes)
	require.Len(t, violations, 1)
	assert.Equal(t, "p:nth-of-type(1)", violations[0].Selector)
}

func TestExtractStructuredDataParsesJSONLDAndOpenGraph(t *testing.T) {
	doc := parse(t, `<html><head>
		<script type="application/ld+json">{"@type":"Article","name":"x"}</script>
		<meta property="og:title" content="Example">
		<meta name="twitter:card" content="summary">
	</head><body><div itemtype="http://schema.org/Product"></div></body></html>`)

	items := ExtractStructuredData(doc)
	kinds := map[string]bool{}
	for _, it := range items {
		kinds[it.Kind] = true
	}
	assert.True(t, kinds["json-ld"])
	assert.True(t, kinds["opengraph"])
	assert.True(t, kinds["twittercard"])
	assert.True(t, kinds["microdata"])
}

func TestExtractTechStackDetectsKnownSignatures(t *testing.T) {
	doc := parse(t, `<html><body id="__next"><script src="/jquery.min.js"></script></body></html>`)
	stack := ExtractTechStack(doc, map[string]string{"Server": "nginx/1.25"})
	assert.Contains(t, stack, "Next.js")
	assert.Contains(t, stack, "jQuery")
	assert.Contains(t, stack, "nginx")
}
