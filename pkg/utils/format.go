// Package utils provides shared utility functions.
package utils

import (
	"strconv"
	"strings"
)

// FormatPremium renders a net premium with two decimals and lakh/crore digit
// grouping, e.g. 1234567.5 as "12,34,567.50". Negative values keep a leading "-".
func FormatPremium(amount float64) string {
	s := strconv.FormatFloat(amount, 'f', 2, 64)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	return sign + groupIndian(whole) + "." + frac
}

// groupIndian inserts a comma before the last three digits and then every two.
func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]

	var b strings.Builder
	b.Grow(len(digits) + len(digits)/2)
	first := len(head) % 2
	if first == 0 {
		first = 2
	}
	b.WriteString(head[:first])
	for i := first; i < len(head); i += 2 {
		b.WriteByte(',')
		b.WriteString(head[i : i+2])
	}
	b.WriteByte(',')
	b.WriteString(tail)
	return b.String()
}
