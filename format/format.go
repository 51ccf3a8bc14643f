package format

import (
	"fmt"
	"math"
)

const (
	Thousand = 1000
	Million  = Thousand * 1000
	Billion  = Million * 1000
	Trillion = Billion * 1000
)

// HumanNumber abbreviates large counts, e.g. 1.25M.
func HumanNumber(b uint64) string {
	switch {
	case b >= Trillion:
		number := float64(b) / Trillion
		return fmt.Sprintf("%sT", decimalPlace(number))
	case b >= Billion:
		number := float64(b) / Billion
		return fmt.Sprintf("%sB", decimalPlace(number))
	case b >= Million:
		number := float64(b) / Million
		return fmt.Sprintf("%sM", decimalPlace(number))
	case b >= Thousand:
		number := float64(b) / Thousand
		return fmt.Sprintf("%sK", decimalPlace(number))
	default:
		return fmt.Sprintf("%d", b)
	}
}

func decimalPlace(number float64) string {
	switch {
	case number >= 100:
		return fmt.Sprintf("%.0f", number)
	case number >= 10:
		return fmt.Sprintf("%.1f", number)
	default:
		return fmt.Sprintf("%.2f", number)
	}
}

// LogProb formats a log10 probability with four decimals.
func LogProb(p float32) string {
	if math.IsInf(float64(p), -1) {
		return "-inf"
	}

	return fmt.Sprintf("%.4f", p)
}

// Perplexity formats a perplexity, which is NaN when nothing was scored.
func Perplexity(p float64) string {
	switch {
	case math.IsNaN(p):
		return "n/a"
	case p >= 1e6:
		return fmt.Sprintf("%.3e", p)
	default:
		return fmt.Sprintf("%.2f", p)
	}
}
