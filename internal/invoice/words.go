package invoice

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	unitWords = [...]string{
		"Zero", "One", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight", "Nine",
		"Ten", "Eleven", "Twelve", "Thirteen", "Fourteen", "Fifteen", "Sixteen", "Seventeen", "Eighteen", "Nineteen",
	}
	tensWords = [...]string{"", "", "Twenty", "Thirty", "Forty", "Fifty", "Sixty", "Seventy", "Eighty", "Ninety"}

	hundredDec = decimal.NewFromInt(100)
	wordsLimit = decimal.NewFromInt(math.MaxInt64)
)

// AmountInWords spells amount in the Indian numbering system, e.g.
// "Rupees One Lakh Twenty Three Thousand Four Hundred Fifty Six Only".
// Fractions are rounded to paise.
func AmountInWords(amount decimal.Decimal) string {
	negative := amount.IsNegative()
	amount = amount.Abs().Round(2)
	if amount.GreaterThanOrEqual(wordsLimit) {
		// Past int64 the groups would wrap; print the figure instead.
		sign := ""
		if negative {
			sign = "Minus "
		}
		return "Rupees " + sign + amount.StringFixed(2) + " Only"
	}
	rupees := amount.IntPart()
	paise := amount.Sub(decimal.NewFromInt(rupees)).Mul(hundredDec).IntPart()

	var b strings.Builder
	b.WriteString("Rupees ")
	if negative && (rupees > 0 || paise > 0) {
		b.WriteString("Minus ")
	}
	if rupees == 0 {
		b.WriteString(unitWords[0])
	} else {
		b.WriteString(indianWords(rupees))
	}
	if paise > 0 {
		b.WriteString(" and ")
		b.WriteString(belowHundred(paise))
		b.WriteString(" Paise")
	}
	b.WriteString(" Only")
	return b.String()
}

// indianWords spells n > 0 using crore, lakh, thousand and hundred groups.
func indianWords(n int64) string {
	var parts []string
	if crore := n / 10_000_000; crore > 0 {
		parts = append(parts, indianWords(crore), "Crore")
		n %= 10_000_000
	}
	if lakh := n / 100_000; lakh > 0 {
		parts = append(parts, belowHundred(lakh), "Lakh")
		n %= 100_000
	}
	if thousand := n / 1000; thousand > 0 {
		parts = append(parts, belowHundred(thousand), "Thousand")
		n %= 1000
	}
	if hundred := n / 100; hundred > 0 {
		parts = append(parts, unitWords[hundred], "Hundred")
		n %= 100
	}
	if n > 0 {
		parts = append(parts, belowHundred(n))
	}
	return strings.Join(parts, " ")
}

func belowHundred(n int64) string {
	if n < 20 {
		return unitWords[n]
	}
	word := tensWords[n/10]
	if rest := n % 10; rest > 0 {
		word += " " + unitWords[rest]
	}
	return word
}
