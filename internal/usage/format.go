package usage

import (
	"fmt"
	"math"
)

// FormatUSD renders a dollar amount for notifications and reports. Amounts
// below a cent keep four decimals so small requests stay visible.
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "$0.00"
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}

// FormatTokenCount renders a token count compactly.
func FormatTokenCount(count int) string {
	switch {
	case count <= 0:
		return "0"
	case count >= 1_000_000:
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	case count >= 10_000:
		return fmt.Sprintf("%dk", count/1_000)
	case count >= 1_000:
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	default:
		return fmt.Sprintf("%d", count)
	}
}
