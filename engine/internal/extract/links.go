package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"cartographer/engine/models"
)

var semanticAncestors = map[string]bool{
	"nav": true, "header": true, "footer": true, "aside": true, "main": true,
}

// ExtractLinks resolves every anchor to an absolute URL and deduplicates by
// (source, target, selector-hint). staticMode is true when the DOM wasn't
// laid out by a browser (raw fetch mode), in which case semantic location
// can't be determined and is reported "unknown" per spec.md §4.6.
func ExtractLinks(doc *goquery.Document, sourceURL, baseURL string, staticMode bool) []models.EdgeRecord {
	base, _ := url.Parse(baseURL)
	seen := make(map[string]bool)
	var edges []models.EdgeRecord

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !isNavigableHref(href) {
			return
		}
		target := resolve(base, href)
		if target == "" {
			return
		}

		hint := selectorHint(s, i)
		key := sourceURL + "\x00" + target + "\x00" + hint
		if seen[key] {
			return
		}
		seen[key] = true

		rel := strings.ToLower(s.AttrOr("rel", ""))
		location := "unknown"
		if !staticMode {
			location = nearestLandmark(s)
		}

		edges = append(edges, models.EdgeRecord{
			SourceURL:    sourceURL,
			TargetURL:    target,
			SelectorHint: hint,
			Nofollow:     relToken(rel, "nofollow"),
			Sponsored:    relToken(rel, "sponsored"),
			UGC:          relToken(rel, "ugc"),
			External:     !sameOrigin(base, target),
			Location:     location,
		})
	})

	return edges
}

func relToken(rel, token string) bool {
	for _, t := range strings.Fields(rel) {
		if t == token {
			return true
		}
	}
	return false
}

func selectorHint(s *goquery.Selection, index int) string {
	if id, ok := s.Attr("id"); ok && id != "" {
		return "#" + id
	}
	return fmt.Sprintf("a:nth-of-type(%d)", index+1)
}

// nearestLandmark walks ancestors looking for the first semantic
// container. goquery exposes ancestor traversal via ParentsFiltered; we
// walk manually so we can stop at the first match in document order from
// the node outward.
func nearestLandmark(s *goquery.Selection) string {
	node := s.Nodes[0].Parent
	for node != nil {
		if node.Type == html.ElementNode && semanticAncestors[node.Data] {
			return node.Data
		}
		node = node.Parent
	}
	return "unknown"
}
