package extract

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"cartographer/engine/models"
)

const wcagAANormalTextRatio = 4.5

// ExtractContrastViolations runs a WCAG AA contrast audit over full-mode
// computed-style captures. Pure post-processing of the renderer's
// ComputedTextNodeRecord values — no DOM access, since this only runs
// full-mode where the browser already resolved colors.
func ExtractContrastViolations(nodes []models.ComputedTextNodeRecord) []models.ContrastViolation {
	var violations []models.ContrastViolation
	for _, n := range nodes {
		fg, fgOK := parseRGB(n.Foreground)
		bg, bgOK := parseRGB(n.Background)
		if !fgOK || !bgOK {
			continue
		}
		ratio := contrastRatio(fg, bg)
		required := wcagAANormalTextRatio
		if n.FontSize >= 18 || (n.FontSize >= 14 && isBold(n.FontWeight)) {
			required = 3.0
		}
		if ratio < required {
			violations = append(violations, models.ContrastViolation{
				Selector:   n.Selector,
				Foreground: n.Foreground,
				Background: n.Background,
				Ratio:      math.Round(ratio*100) / 100,
				Required:   required,
			})
		}
	}
	return violations
}

func isBold(weight string) bool {
	w := strings.TrimSpace(weight)
	if w == "bold" || w == "bolder" {
		return true
	}
	if n, err := strconv.Atoi(w); err == nil {
		return n >= 700
	}
	return false
}

type rgbColor struct{ r, g, b float64 }

// parseRGB accepts CSS "rgb(r, g, b)" / "rgba(r, g, b, a)" strings, the
// form getComputedStyle returns.
func parseRGB(s string) (rgbColor, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "rgb") {
		return rgbColor{}, false
	}
	open := strings.Index(s, "(")
	closeIdx := strings.LastIndex(s, ")")
	if open < 0 || closeIdx < 0 || closeIdx <= open {
		return rgbColor{}, false
	}
	parts := strings.Split(s[open+1:closeIdx], ",")
	if len(parts) < 3 {
		return rgbColor{}, false
	}
	r, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	g, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	b, err3 := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return rgbColor{}, false
	}
	return rgbColor{r: r, g: g, b: b}, true
}

func contrastRatio(a, b rgbColor) float64 {
	la := relativeLuminance(a)
	lb := relativeLuminance(b)
	lighter, darker := la, lb
	if lb > la {
		lighter, darker = lb, la
	}
	return (lighter + 0.05) / (darker + 0.05)
}

func relativeLuminance(c rgbColor) float64 {
	lin := func(channel float64) float64 {
		v := channel / 255
		if v <= 0.03928 {
			return v / 12.92
		}
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return 0.2126*lin(c.r) + 0.7152*lin(c.g) + 0.0722*lin(c.b)
}

// WCAGDataBlob builds the §6-referenced criteria coverage blob stored
// alongside the contrast violations.
func WCAGDataBlob(violationCount, nodesChecked int) map[string]any {
	return map[string]any{
		"criteria": []string{"1.4.3 Contrast (Minimum)"},
		"summary":  fmt.Sprintf("%d of %d sampled text nodes failed AA contrast", violationCount, nodesChecked),
	}
}
