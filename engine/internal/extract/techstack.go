package extract

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"cartographer/engine/models"
)

type fingerprint struct {
	name    string
	matches func(doc *goquery.Document, headers map[string]string) bool
}

var fingerprints = []fingerprint{
	{"WordPress", func(doc *goquery.Document, _ map[string]string) bool {
		return htmlContains(doc, "wp-content") || doc.Find(`meta[name='generator'][content*='WordPress']`).Length() > 0
	}},
	{"Shopify", func(doc *goquery.Document, h map[string]string) bool {
		return h["x-shopify-stage"] != "" || htmlContains(doc, "cdn.shopify.com")
	}},
	{"React", func(doc *goquery.Document, _ map[string]string) bool {
		return doc.Find("[data-reactroot],#root,#__next").Length() > 0 || htmlContains(doc, "react-dom")
	}},
	{"Next.js", func(doc *goquery.Document, _ map[string]string) bool {
		return doc.Find("#__next").Length() > 0 || htmlContains(doc, "/_next/static")
	}},
	{"Vue.js", func(doc *goquery.Document, _ map[string]string) bool {
		return doc.Find("[data-v-app],#app[data-v-]").Length() > 0 || htmlContains(doc, "vue.runtime")
	}},
	{"Angular", func(doc *goquery.Document, _ map[string]string) bool {
		return doc.Find("[ng-version]").Length() > 0
	}},
	{"jQuery", func(doc *goquery.Document, _ map[string]string) bool {
		return htmlContains(doc, "jquery")
	}},
	{"Bootstrap", func(doc *goquery.Document, _ map[string]string) bool {
		return htmlContains(doc, "bootstrap.min.css") || htmlContains(doc, "bootstrap.min.js")
	}},
	{"Tailwind CSS", func(doc *goquery.Document, _ map[string]string) bool {
		return htmlContains(doc, "tailwindcss") || doc.Find("[class*='tw-']").Length() > 0
	}},
	{"Cloudflare", func(_ *goquery.Document, h map[string]string) bool {
		_, ok := h["cf-ray"]
		return ok
	}},
	{"nginx", func(_ *goquery.Document, h map[string]string) bool {
		return strings.Contains(strings.ToLower(h["server"]), "nginx")
	}},
	{"Apache", func(_ *goquery.Document, h map[string]string) bool {
		return strings.Contains(strings.ToLower(h["server"]), "apache")
	}},
	{"Google Analytics", func(doc *goquery.Document, _ map[string]string) bool {
		return htmlContains(doc, "googletagmanager.com/gtag") || htmlContains(doc, "google-analytics.com")
	}},
}

// ExtractTechStack pattern-matches the rendered HTML, script sources, meta
// tags, and response headers against a fingerprint table, returning a
// sorted de-duplicated technology list.
func ExtractTechStack(doc *goquery.Document, headers map[string]string) models.TechStack {
	lowerHeaders := make(map[string]string, len(headers))
	for k, v := range headers {
		lowerHeaders[strings.ToLower(k)] = v
	}

	found := map[string]bool{}
	for _, fp := range fingerprints {
		if fp.matches(doc, lowerHeaders) {
			found[fp.name] = true
		}
	}

	out := make([]string, 0, len(found))
	for name := range found {
		out = append(out, name)
	}
	sort.Strings(out)
	return models.TechStack(out)
}

func htmlContains(doc *goquery.Document, needle string) bool {
	html, err := doc.Html()
	if err != nil {
		return false
	}
	return strings.Contains(html, needle)
}
