package shop

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// Diagnostic records one repair made while reading a stored cart.
type Diagnostic struct {
	VariantID string
	Field     string
	Fallback  string
	Detail    string
}

// Price sources, in the order they are tried.
const (
	PriceFromMinor     = "unit_price_minor"
	PriceFromCents     = "price_cents"
	PriceFromMajor     = "price"
	PriceFromLineTotal = "line_total_minor"
	PriceFromNothing   = "zero"
)

const (
	quantityKey   = "quantity"
	quantityAlias = "qty"
	strengthKey   = "strength_mg"
	strengthAlias = "strength"
	variantKey    = "variant_id"
	variantAlias  = "variant"
	productKey    = "product_id"
)

func present(raw map[string]interface{}, key string) (interface{}, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil, false
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return v, true
}

// canonicalInt reports whether v is already a JSON integer.
func canonicalInt(v interface{}) bool {
	n, ok := v.(json.Number)
	if !ok {
		return false
	}
	_, err := strconv.ParseInt(n.String(), 10, 64)
	return err == nil
}

func toInt64(v interface{}) (int64, error) {
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	if n, ok := v.(json.Number); ok {
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return i, nil
		}
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return 0, err
		}
		return d.Round(0).IntPart(), nil
	}
	return cast.ToInt64E(v)
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	if n, ok := v.(json.Number); ok {
		return decimal.NewFromString(n.String())
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return decimal.Zero, err
	}
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	return decimal.NewFromString(s)
}

// NormalizeLine parses one untrusted stored cart line. It never fails on
// bad data: unusable lines (no variant, no positive quantity) come back with
// ok=false, and every repair is reported as a Diagnostic. repaired is true
// when the canonical encoding differs from what was stored.
//
// Unit price resolution order: unit_price_minor, price_cents, price (major
// units, x100), line_total_minor / quantity, else zero.
func NormalizeLine(raw map[string]interface{}) (line Line, diags []Diagnostic, repaired, ok bool) {
	diag := func(field, fallback, format string, args ...interface{}) {
		diags = append(diags, Diagnostic{VariantID: line.VariantID, Field: field, Fallback: fallback, Detail: fmt.Sprintf(format, args...)})
	}

	if v, has := present(raw, variantKey); has {
		line.VariantID = strings.TrimSpace(cast.ToString(v))
	} else if v, has := present(raw, variantAlias); has {
		line.VariantID = strings.TrimSpace(cast.ToString(v))
		repaired = true
	}
	if line.VariantID == "" {
		diag(variantKey, "drop", "line has no variant id")
		return line, diags, true, false
	}
	known, inCatalog := LookupVariant(line.VariantID)

	line.ProductID = strings.TrimSpace(cast.ToString(raw[productKey]))
	if line.ProductID == "" && inCatalog {
		line.ProductID = known.ProductID
		repaired = true
	}

	qv, has := present(raw, quantityKey)
	if !has {
		if qv, has = present(raw, quantityAlias); has {
			repaired = true
		}
	}
	if has {
		q, err := toInt64(qv)
		if err != nil {
			diag(quantityKey, "drop", "unparseable quantity %v", qv)
			return line, diags, true, false
		}
		if !canonicalInt(qv) {
			repaired = true
		}
		line.Quantity = int(q)
	}
	if line.Quantity <= 0 {
		diag(quantityKey, "drop", "non-positive quantity %d", line.Quantity)
		return line, diags, true, false
	}

	sv, has := present(raw, strengthKey)
	if !has {
		if sv, has = present(raw, strengthAlias); has {
			repaired = true
		}
	}
	if has {
		if s, isStr := sv.(string); isStr {
			sv = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "mg")
		}
		mg, err := toInt64(sv)
		if err == nil && mg > 0 {
			line.StrengthMg = int(mg)
			if !canonicalInt(sv) {
				repaired = true
			}
		} else {
			has = false
		}
	}
	if !has {
		repaired = true
		if inCatalog {
			line.StrengthMg = known.StrengthMg
			diag(strengthKey, "catalog", "strength missing, using catalog value %d", known.StrengthMg)
		} else {
			diag(strengthKey, "zero", "strength missing and variant not in catalog")
		}
	}

	source := resolvePrice(raw, &line)
	if source != PriceFromMinor {
		repaired = true
		switch source {
		case PriceFromNothing:
			diag(PriceFromMinor, source, "no usable price field")
		default:
			diag(PriceFromMinor, source, "unit price derived from %s", source)
		}
	} else if !canonicalInt(raw[PriceFromMinor]) {
		repaired = true
	}

	return line, diags, repaired, true
}

func resolvePrice(raw map[string]interface{}, line *Line) string {
	for _, key := range []string{PriceFromMinor, PriceFromCents} {
		if v, has := present(raw, key); has {
			if minor, err := toInt64(v); err == nil && minor >= 0 {
				line.UnitPriceMinor = minor
				return key
			}
		}
	}
	if v, has := present(raw, PriceFromMajor); has {
		if d, err := toDecimal(v); err == nil && !d.IsNegative() {
			line.UnitPriceMinor = d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
			return PriceFromMajor
		}
	}
	if v, has := present(raw, PriceFromLineTotal); has && line.Quantity > 0 {
		if d, err := toDecimal(v); err == nil && !d.IsNegative() {
			line.UnitPriceMinor = d.Div(decimal.NewFromInt(int64(line.Quantity))).Round(0).IntPart()
			return PriceFromLineTotal
		}
	}
	line.UnitPriceMinor = 0
	return PriceFromNothing
}

// ParseCart reads a stored cart snapshot. Accepted shapes are the canonical
// {"items": [...]} object and the legacy bare array. Lines for the same
// variant are merged. Nothing here returns an error: a snapshot that cannot
// be read at all becomes an empty cart with a diagnostic.
func ParseCart(data []byte) (lines []Line, diags []Diagnostic, repaired bool) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, []Diagnostic{{Field: "cart", Fallback: "empty", Detail: err.Error()}}, true
	}

	var rawItems []interface{}
	switch v := doc.(type) {
	case map[string]interface{}:
		if items, isList := v["items"].([]interface{}); isList {
			rawItems = items
		} else if v["items"] != nil {
			diags = append(diags, Diagnostic{Field: "items", Fallback: "empty", Detail: "items is not a list"})
			repaired = true
		}
	case []interface{}:
		rawItems = v
		repaired = true
	default:
		return nil, []Diagnostic{{Field: "cart", Fallback: "empty", Detail: fmt.Sprintf("unexpected snapshot type %T", doc)}}, true
	}

	index := make(map[string]int)
	for _, item := range rawItems {
		raw, isObj := item.(map[string]interface{})
		if !isObj {
			diags = append(diags, Diagnostic{Field: "items", Fallback: "drop", Detail: fmt.Sprintf("line is %T, not an object", item)})
			repaired = true
			continue
		}
		line, lineDiags, lineRepaired, ok := NormalizeLine(raw)
		diags = append(diags, lineDiags...)
		repaired = repaired || lineRepaired
		if !ok {
			continue
		}
		if i, dup := index[line.VariantID]; dup {
			lines[i].Quantity += line.Quantity
			diags = append(diags, Diagnostic{VariantID: line.VariantID, Field: "items", Fallback: "merge", Detail: "duplicate variant lines merged"})
			repaired = true
			continue
		}
		index[line.VariantID] = len(lines)
		lines = append(lines, line)
	}
	return lines, diags, repaired
}
