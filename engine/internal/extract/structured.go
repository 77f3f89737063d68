package extract

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"cartographer/engine/models"
)

const maxJSONLDBytes = 50 * 1024

// ExtractStructuredData parses JSON-LD blocks (capped ~50KB each),
// detects microdata itemtypes, and aggregates Open Graph / Twitter Card
// meta tags.
func ExtractStructuredData(doc *goquery.Document) []models.StructuredDataItem {
	var items []models.StructuredDataItem

	doc.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		raw := s.Text()
		if len(raw) > maxJSONLDBytes {
			raw = raw[:maxJSONLDBytes]
		}
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return
		}
		items = append(items, models.StructuredDataItem{Kind: "json-ld", Data: parsed})
	})

	itemTypes := map[string]bool{}
	doc.Find("[itemtype]").Each(func(_ int, s *goquery.Selection) {
		if t, ok := s.Attr("itemtype"); ok && t != "" {
			itemTypes[t] = true
		}
	})
	if len(itemTypes) > 0 {
		types := make([]string, 0, len(itemTypes))
		for t := range itemTypes {
			types = append(types, t)
		}
		items = append(items, models.StructuredDataItem{Kind: "microdata", Data: map[string]any{"itemTypes": types}})
	}

	og := metaPropertyMap(doc, "og:")
	if len(og) > 0 {
		items = append(items, models.StructuredDataItem{Kind: "opengraph", Data: og})
	}

	tc := metaNamePrefixMap(doc, "twitter:")
	if len(tc) > 0 {
		items = append(items, models.StructuredDataItem{Kind: "twittercard", Data: tc})
	}

	return items
}

func metaPropertyMap(doc *goquery.Document, prefix string) map[string]string {
	out := map[string]string{}
	doc.Find("meta[property]").Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		if !strings.HasPrefix(prop, prefix) {
			return
		}
		content, _ := s.Attr("content")
		out[prop] = content
	})
	return out
}

func metaNamePrefixMap(doc *goquery.Document, prefix string) map[string]string {
	out := map[string]string{}
	doc.Find("meta[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		if !strings.HasPrefix(name, prefix) {
			return
		}
		content, _ := s.Attr("content")
		out[name] = content
	})
	return out
}
