package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"cartographer/engine/models"
)

// ExtractAccessibilityBase produces the all-modes accessibility audit:
// lang attribute, missing-alt sources (first 50), heading sequence,
// landmark presence, and a role histogram.
func ExtractAccessibilityBase(doc *goquery.Document, pageURL string, headings []models.Heading) models.AccessibilityRecord {
	rec := models.AccessibilityRecord{
		PageURL:         pageURL,
		Lang:            doc.Find("html").First().AttrOr("lang", ""),
		HeadingSequence: headings,
		RoleHistogram:   map[string]int{},
	}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if alt, exists := s.Attr("alt"); exists && strings.TrimSpace(alt) != "" {
			return
		}
		rec.MissingAltCount++
		if len(rec.MissingAltSources) < 50 {
			if src, ok := s.Attr("src"); ok {
				rec.MissingAltSources = append(rec.MissingAltSources, src)
			}
		}
	})

	rec.LandmarkNav = doc.Find("nav").Length() > 0 || doc.Find("[role='navigation']").Length() > 0
	rec.LandmarkHeader = doc.Find("header").Length() > 0 || doc.Find("[role='banner']").Length() > 0
	rec.LandmarkFooter = doc.Find("footer").Length() > 0 || doc.Find("[role='contentinfo']").Length() > 0
	rec.LandmarkMain = doc.Find("main").Length() > 0 || doc.Find("[role='main']").Length() > 0

	doc.Find("[role]").Each(func(_ int, s *goquery.Selection) {
		role := s.AttrOr("role", "")
		if role == "" {
			return
		}
		rec.RoleHistogram[role]++
	})
	if len(rec.RoleHistogram) == 0 {
		rec.RoleHistogram = nil
	}

	return rec
}

// ExtractFormLabelIssues audits form controls for an associated label,
// aria-label, aria-labelledby, or wrapping label — prerender+ only, since
// it relies on the fully laid-out DOM.
func ExtractFormLabelIssues(doc *goquery.Document) []models.FormLabelIssue {
	var issues []models.FormLabelIssue
	doc.Find("input,select,textarea").Each(func(i int, s *goquery.Selection) {
		if s.AttrOr("type", "") == "hidden" {
			return
		}
		if hasLabel(doc, s) {
			return
		}
		issues = append(issues, models.FormLabelIssue{
			Selector: selectorHint(s, i),
			Reason:   "no associated label, aria-label, or aria-labelledby",
		})
	})
	return issues
}

func hasLabel(doc *goquery.Document, s *goquery.Selection) bool {
	if s.AttrOr("aria-label", "") != "" || s.AttrOr("aria-labelledby", "") != "" {
		return true
	}
	if s.Closest("label").Length() > 0 {
		return true
	}
	if id, ok := s.Attr("id"); ok && id != "" {
		if doc.Find("label[for='" + id + "']").Length() > 0 {
			return true
		}
	}
	return false
}

// ExtractFocusOrder lists focusable elements in document order with their
// tabindex — prerender+ only.
func ExtractFocusOrder(doc *goquery.Document) []models.FocusOrderEntry {
	var entries []models.FocusOrderEntry
	doc.Find("a[href],button,input,select,textarea,[tabindex]").Each(func(i int, s *goquery.Selection) {
		tabindex := 0
		if raw, ok := s.Attr("tabindex"); ok {
			tabindex = parseIntOrZero(raw)
			if tabindex < 0 {
				return // negative tabindex removes the element from tab order
			}
		}
		entries = append(entries, models.FocusOrderEntry{
			Selector: selectorHint(s, i),
			TabIndex: tabindex,
		})
	})
	return entries
}

func parseIntOrZero(s string) int {
	n := 0
	neg := false
	for i, r := range s {
		if i == 0 && r == '-' {
			neg = true
			continue
		}
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	if neg {
		return -n
	}
	return n
}
