// Package receipt renders plain-text receipts for 58mm thermal printers
// (32 characters per line).
package receipt

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const lineWidth = 32

// Line is one item row on the receipt.
type Line struct {
	Name     string
	Quantity int32
	Subtotal decimal.Decimal
}

// PaymentLine is one payment row on the receipt.
type PaymentLine struct {
	Method string
	Amount decimal.Decimal
}

// Receipt holds everything needed to render one receipt.
type Receipt struct {
	StoreName   string
	StoreLine   string
	OrderNumber string
	OrderType   string
	TableNumber string
	CashierName string
	IssuedAt    time.Time

	Items          []Line
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal

	Payments     []PaymentLine
	ChangeAmount decimal.Decimal

	FooterText string
}

// Render produces the full receipt text, one line per printer row.
func (r Receipt) Render() string {
	var b strings.Builder

	writeCentered(&b, r.StoreName)
	if r.StoreLine != "" {
		writeCentered(&b, r.StoreLine)
	}
	writeDivider(&b)

	writeKV(&b, "No", r.OrderNumber)
	writeKV(&b, "Tipe", r.OrderType)
	if r.TableNumber != "" {
		writeKV(&b, "Meja", r.TableNumber)
	}
	if r.CashierName != "" {
		writeKV(&b, "Kasir", r.CashierName)
	}
	writeKV(&b, "Waktu", r.IssuedAt.Format("02/01/2006 15:04"))
	writeDivider(&b)

	for _, item := range r.Items {
		b.WriteString(truncate(item.Name, lineWidth))
		b.WriteByte('\n')
		qty := fmt.Sprintf("  %dx", item.Quantity)
		writeAmountLine(&b, qty, item.Subtotal)
	}
	writeDivider(&b)

	writeAmountLine(&b, "Subtotal", r.Subtotal)
	if r.DiscountAmount.IsPositive() {
		writeAmountLine(&b, "Diskon", r.DiscountAmount.Neg())
	}
	writeAmountLine(&b, "TOTAL", r.Total)
	writeDivider(&b)

	for _, p := range r.Payments {
		writeAmountLine(&b, p.Method, p.Amount)
	}
	if r.ChangeAmount.IsPositive() {
		writeAmountLine(&b, "Kembalian", r.ChangeAmount)
	}

	if r.FooterText != "" {
		writeDivider(&b)
		writeCentered(&b, r.FooterText)
	}

	return b.String()
}

// formatAmount renders an amount in Indonesian style with dot thousand
// separators and no decimals (prices are whole rupiah).
func formatAmount(d decimal.Decimal) string {
	neg := d.IsNegative()
	s := d.Abs().Round(0).String()
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ".")
	if neg {
		return "-" + out
	}
	return out
}

func writeAmountLine(b *strings.Builder, label string, amount decimal.Decimal) {
	amt := formatAmount(amount)
	space := lineWidth - len(label) - len(amt)
	if space < 1 {
		label = truncate(label, lineWidth-len(amt)-1)
		space = 1
	}
	b.WriteString(label)
	b.WriteString(strings.Repeat(" ", space))
	b.WriteString(amt)
	b.WriteByte('\n')
}

func writeKV(b *strings.Builder, key, value string) {
	b.WriteString(truncate(key+": "+value, lineWidth))
	b.WriteByte('\n')
}

func writeCentered(b *strings.Builder, s string) {
	s = truncate(s, lineWidth)
	pad := (lineWidth - len(s)) / 2
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	b.WriteString(s)
	b.WriteByte('\n')
}

func writeDivider(b *strings.Builder) {
	b.WriteString(strings.Repeat("-", lineWidth))
	b.WriteByte('\n')
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
