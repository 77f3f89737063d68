// Package extract implements the pure, I/O-free HTML extractors (C6): page
// facts, text sample, links, assets, accessibility, structured data, and
// tech-stack fingerprinting. Every function here is a pure function of the
// rendered (or raw) HTML plus the base URL, never performs I/O, and never
// panics on malformed input — it returns an empty-but-well-typed result and
// lets the scheduler decide how severe the gap is.
//
// Assets extraction is grounded on the teacher's
// engine/internal/assets/discovery.go selector set, generalized to the
// AssetRecord shape and extended with <video>/<source>.
package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"cartographer/engine/models"
)

// PageFacts is the page-facts extractor's output, folded directly into the
// caller's PageRecord fields.
type PageFacts struct {
	Title             string
	MetaDescription   string
	FirstH1           string
	Headings          []models.Heading
	CanonicalRaw      string
	CanonicalResolved string
	MetaRobots        string
	NoindexSurface    models.NoindexSurface
	Hreflang          []models.HreflangPair
	LinksInternal     int
	LinksExternal     int
	MediaCount        int
	MissingAltCount   int
	FaviconURL        string
}

// ExtractPageFacts reads title/meta/heading/canonical/hreflang/favicon
// facts from doc. xRobotsTag is the response header value (possibly
// empty); it is folded into NoindexSurface alongside any meta robots tag.
func ExtractPageFacts(doc *goquery.Document, baseURL string, xRobotsTag string) PageFacts {
	base, _ := url.Parse(baseURL)
	facts := PageFacts{}

	facts.Title = strings.TrimSpace(doc.Find("title").First().Text())
	facts.MetaDescription = metaContent(doc, "description")
	facts.FirstH1 = strings.TrimSpace(doc.Find("h1").First().Text())

	doc.Find("h1,h2,h3,h4,h5,h6").Each(func(_ int, s *goquery.Selection) {
		level := int(s.Nodes[0].Data[1] - '0')
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		facts.Headings = append(facts.Headings, models.Heading{Level: level, Text: text})
	})

	if href, ok := doc.Find("link[rel='canonical']").First().Attr("href"); ok {
		facts.CanonicalRaw = href
		facts.CanonicalResolved = resolve(base, href)
	}

	facts.MetaRobots = metaContent(doc, "robots")
	facts.NoindexSurface = deriveNoindexSurface(facts.MetaRobots, xRobotsTag)

	doc.Find("link[rel='alternate'][hreflang]").Each(func(_ int, s *goquery.Selection) {
		lang, _ := s.Attr("hreflang")
		href, _ := s.Attr("href")
		if lang == "" || href == "" {
			return
		}
		facts.Hreflang = append(facts.Hreflang, models.HreflangPair{Lang: lang, Href: resolve(base, href)})
	})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !isNavigableHref(href) {
			return
		}
		resolved := resolve(base, href)
		if resolved == "" {
			return
		}
		if sameOrigin(base, resolved) {
			facts.LinksInternal++
		} else {
			facts.LinksExternal++
		}
	})

	doc.Find("img,video,audio").Each(func(_ int, s *goquery.Selection) {
		facts.MediaCount++
		if s.Nodes[0].Data == "img" {
			if alt, exists := s.Attr("alt"); !exists || strings.TrimSpace(alt) == "" {
				facts.MissingAltCount++
			}
		}
	})

	facts.FaviconURL = findFavicon(doc, base)

	return facts
}

func deriveNoindexSurface(metaRobots, xRobotsTag string) models.NoindexSurface {
	metaSaysNoindex := strings.Contains(strings.ToLower(metaRobots), "noindex")
	headerSaysNoindex := strings.Contains(strings.ToLower(xRobotsTag), "noindex")
	switch {
	case metaSaysNoindex && headerSaysNoindex:
		return models.NoindexBoth
	case metaSaysNoindex:
		return models.NoindexMeta
	case headerSaysNoindex:
		return models.NoindexHeader
	default:
		return models.NoindexNone
	}
}

func findFavicon(doc *goquery.Document, base *url.URL) string {
	for _, sel := range []string{"link[rel='icon']", "link[rel='shortcut icon']", "link[rel='apple-touch-icon']"} {
		if href, ok := doc.Find(sel).First().Attr("href"); ok && href != "" {
			return resolve(base, href)
		}
	}
	if base == nil {
		return ""
	}
	fallback := *base
	fallback.Path = "/favicon.ico"
	fallback.RawQuery = ""
	fallback.Fragment = ""
	return fallback.String()
}

// ExtractTextSample collapses whitespace in the document's visible body
// text and returns the first 1500 bytes.
func ExtractTextSample(doc *goquery.Document) string {
	doc.Find("script,style,noscript").Remove()
	text := doc.Find("body").Text()
	collapsed := whitespaceRE.ReplaceAllString(strings.TrimSpace(text), " ")
	if len(collapsed) > 1500 {
		return collapsed[:1500]
	}
	return collapsed
}

var whitespaceRE = regexp.MustCompile(`\s+`)

func metaContent(doc *goquery.Document, name string) string {
	val, _ := doc.Find("meta[name='" + name + "']").First().Attr("content")
	return strings.TrimSpace(val)
}

func resolve(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}

func sameOrigin(base *url.URL, resolved string) bool {
	target, err := url.Parse(resolved)
	if err != nil || base == nil {
		return false
	}
	return strings.EqualFold(base.Scheme, target.Scheme) && strings.EqualFold(base.Host, target.Host)
}

func isNavigableHref(href string) bool {
	if href == "" {
		return false
	}
	for _, prefix := range []string{"mailto:", "tel:", "javascript:", "#"} {
		if strings.HasPrefix(href, prefix) {
			return false
		}
	}
	return true
}
