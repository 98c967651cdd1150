package ocr

import "strings"

// Assess выставляет needs_rescan, если распознанное не годится для сверки.
func Assess(pr *ParseResult) {
	pr.NeedsRescan = false
	pr.RescanReason = ""

	if len(pr.Positions) == 0 {
		pr.NeedsRescan = true
		pr.RescanReason = "no_positions"
		return
	}

	// больше половины строк без названия или количества, скорее всего плохое фото
	broken := 0
	for _, p := range pr.Positions {
		if strings.TrimSpace(p.Name) == "" || !p.Quantity.Decimal().Valid {
			broken++
		}
	}
	if broken*2 > len(pr.Positions) {
		pr.NeedsRescan = true
		pr.RescanReason = "low_quality"
	}
}
