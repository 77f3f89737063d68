package renderer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var errNoBrowserCapability = errors.New("renderer: mode requires a browser capability but none was provided")

// challengeTitlePhrases and challengeMarkers are intentionally small and
// conservative (spec.md §9): growing them is a tuning decision, not a
// correctness one. They are matched against actual title text and actual
// attribute/class substrings — never against the raw HTML as if it were a
// CSS selector, which is the historical false-positive bug spec.md §9
// documents.
var challengeTitlePhrases = []string{
	"just a moment",
	"attention required",
	"checking your browser",
	"verifying you are",
	"security check",
}

var challengeMarkers = []string{
	"cf-browser-verification",
	"cf-challenge-running",
	"cf_chl_opt",
	"challenge-platform",
}

// DetectChallenge inspects a navigation outcome for bot-mitigation
// interstitial signatures: the status code, the page title, and DOM
// attribute/class substrings. It returns (detected, dom) where dom is
// passed through unchanged — callers decide whether to re-serialize after
// a wait.
func DetectChallenge(statusCode int, dom string) (bool, string) {
	if statusCode == 503 || statusCode == 429 {
		return true, dom
	}
	lower := strings.ToLower(dom)
	title := extractTitle(lower)
	for _, phrase := range challengeTitlePhrases {
		if strings.Contains(title, phrase) {
			return true, dom
		}
	}
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true, dom
		}
	}
	return false, dom
}

func extractTitle(lowerHTML string) string {
	start := strings.Index(lowerHTML, "<title")
	if start < 0 {
		return ""
	}
	openEnd := strings.IndexByte(lowerHTML[start:], '>')
	if openEnd < 0 {
		return ""
	}
	contentStart := start + openEnd + 1
	end := strings.Index(lowerHTML[contentStart:], "</title>")
	if end < 0 {
		return ""
	}
	return lowerHTML[contentStart : contentStart+end]
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
