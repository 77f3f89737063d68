package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"cartographer/engine/models"
)

const maxAssetsPerPage = 1000

// ExtractAssets walks <img>, <video>, and <source> elements, producing
// AssetRecords capped at 1000 per page with a truncation flag. Generalized
// from the teacher's assets/discovery.go selector set (img, source[srcset],
// video[src]/audio[src]) onto the AssetRecord shape; natural/displayed
// dimensions and viewport flags are only ever populated in browser-backed
// modes (static mode always reports visible=true, inViewport=false per
// spec.md §4.6).
func ExtractAssets(doc *goquery.Document, pageURL, baseURL string) (records []models.AssetRecord, truncated bool) {
	base, _ := url.Parse(baseURL)

	add := func(assetURL string, kind models.AssetKind, altPresent bool, loading string) {
		if len(records) >= maxAssetsPerPage {
			truncated = true
			return
		}
		resolved := resolve(base, assetURL)
		if resolved == "" {
			return
		}
		records = append(records, models.AssetRecord{
			PageURL:    pageURL,
			AssetURL:   resolved,
			Type:       kind,
			AltPresent: altPresent,
			Loading:    loading,
			Visible:    true,
			InViewport: false,
		})
	}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, exists := s.Attr("src")
		if !exists || src == "" {
			return
		}
		_, hasAlt := s.Attr("alt")
		add(src, models.AssetImage, hasAlt, s.AttrOr("loading", ""))
	})

	doc.Find("source[srcset]").Each(func(_ int, s *goquery.Selection) {
		srcset, exists := s.Attr("srcset")
		if !exists || srcset == "" {
			return
		}
		for _, entry := range strings.Split(srcset, ",") {
			fields := strings.Fields(strings.TrimSpace(entry))
			if len(fields) == 0 {
				continue
			}
			kind := models.AssetImage
			if parentIsVideo(s) {
				kind = models.AssetVideo
			}
			add(fields[0], kind, false, "")
		}
	})

	doc.Find("video[src],video source[src]").Each(func(_ int, s *goquery.Selection) {
		src, exists := s.Attr("src")
		if !exists || src == "" {
			return
		}
		add(src, models.AssetVideo, false, "")
	})

	return records, truncated
}

func parentIsVideo(s *goquery.Selection) bool {
	return s.Closest("video").Length() > 0
}
