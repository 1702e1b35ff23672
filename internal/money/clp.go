// Package money formats Chilean peso amounts for display.
package money

import (
	"strconv"
	"strings"
)

const Currency = "CLP"

// FormatCLP renders a whole-peso amount with a "$" prefix, dot thousands
// separators and no decimals, e.g. 2500 -> "$2.500".
func FormatCLP(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	b.Grow(len(digits) + len(digits)/3 + 2)
	b.WriteString(sign)
	b.WriteByte('$')

	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte('.')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
