package shop

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type Line struct {
	ProductID      string `json:"product_id"`
	VariantID      string `json:"variant_id"`
	StrengthMg     int    `json:"strength_mg"`
	Quantity       int    `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

func (l Line) TotalMinor() int64 {
	return l.UnitPriceMinor * int64(l.Quantity)
}

type CartLine struct {
	Line
	LineTotalMinor int64 `json:"line_total_minor"`
}

// Cart is always returned fully recomputed from its lines.
type Cart struct {
	Items         []CartLine `json:"items"`
	TotalQuantity int        `json:"total_quantity"`
	SubtotalMinor int64      `json:"subtotal_minor"`
	Subtotal      string     `json:"subtotal"`
}

func NewCart(lines []Line) Cart {
	c := Cart{Items: make([]CartLine, 0, len(lines))}
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		total := l.TotalMinor()
		c.Items = append(c.Items, CartLine{Line: l, LineTotalMinor: total})
		c.TotalQuantity += l.Quantity
		c.SubtotalMinor += total
	}
	c.Subtotal = FormatMinor(c.SubtotalMinor)
	return c
}

func (c Cart) Lines() []Line {
	out := make([]Line, len(c.Items))
	for i, it := range c.Items {
		out[i] = it.Line
	}
	return out
}

func (c Cart) QuantityOf(variantID string) int {
	for _, it := range c.Items {
		if it.VariantID == variantID {
			return it.Quantity
		}
	}
	return 0
}

func (c Cart) Empty() bool { return len(c.Items) == 0 }

// FormatMinor renders minor units as a two-decimal major amount.
func FormatMinor(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

// setQuantity returns lines with variant set to qty, appending it when
// absent. qty <= 0 drops the line.
func setQuantity(lines []Line, add Line, qty int) []Line {
	out := make([]Line, 0, len(lines)+1)
	found := false
	for _, l := range lines {
		if l.VariantID == add.VariantID {
			found = true
			if qty > 0 {
				l.Quantity = qty
				out = append(out, l)
			}
			continue
		}
		out = append(out, l)
	}
	if !found && qty > 0 {
		add.Quantity = qty
		out = append(out, add)
	}
	return out
}

type snapshot struct {
	Items []Line `json:"items"`
}

// encodeCart produces the canonical stored form.
func encodeCart(lines []Line) ([]byte, error) {
	if lines == nil {
		lines = []Line{}
	}
	return json.Marshal(snapshot{Items: lines})
}
