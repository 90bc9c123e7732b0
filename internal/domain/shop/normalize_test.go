package shop

import (
	"bytes"
	"encoding/json"
	"testing"
)

func rawLine(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		t.Fatalf("decode %s: %v", s, err)
	}
	return m
}

func TestNormalizeLine_Canonical(t *testing.T) {
	line, diags, repaired, ok := NormalizeLine(rawLine(t,
		`{"product_id":"citrus","variant_id":"citrus-6","strength_mg":6,"quantity":2,"unit_price_minor":649}`))
	if !ok || repaired {
		t.Fatalf("expected clean line, ok=%v repaired=%v", ok, repaired)
	}
	if len(diags) != 0 {
		t.Errorf("expected no diagnostics, got %v", diags)
	}
	if line.Quantity != 2 || line.StrengthMg != 6 || line.UnitPriceMinor != 649 {
		t.Errorf("unexpected line %+v", line)
	}
}

func TestNormalizeLine_PriceFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   int64
		source string
	}{
		{"cents alias", `{"variant_id":"citrus-6","quantity":1,"strength_mg":6,"price_cents":649}`, 649, PriceFromCents},
		{"major string", `{"variant_id":"citrus-6","quantity":1,"strength_mg":6,"price":"12.99"}`, 1299, PriceFromMajor},
		{"major number", `{"variant_id":"citrus-6","quantity":1,"strength_mg":6,"price":5.99}`, 599, PriceFromMajor},
		{"currency symbol", `{"variant_id":"citrus-6","quantity":1,"strength_mg":6,"price":"$6.49"}`, 649, PriceFromMajor},
		{"line total", `{"variant_id":"citrus-6","quantity":3,"strength_mg":6,"line_total_minor":1800}`, 600, PriceFromLineTotal},
		{"minor wins over others", `{"variant_id":"citrus-6","quantity":1,"strength_mg":6,"unit_price_minor":"700","price":"1.00"}`, 700, ""},
		{"bad minor falls through", `{"variant_id":"citrus-6","quantity":1,"strength_mg":6,"unit_price_minor":"abc","price_cents":650}`, 650, PriceFromCents},
		{"nothing", `{"variant_id":"citrus-6","quantity":1,"strength_mg":6}`, 0, PriceFromNothing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, diags, repaired, ok := NormalizeLine(rawLine(t, tt.raw))
			if !ok {
				t.Fatal("expected line to be kept")
			}
			if line.UnitPriceMinor != tt.want {
				t.Errorf("expected unit price %d, got %d", tt.want, line.UnitPriceMinor)
			}
			if !repaired {
				t.Error("expected repaired")
			}
			if tt.source == "" {
				return
			}
			found := false
			for _, d := range diags {
				if d.Field == PriceFromMinor && d.Fallback == tt.source {
					found = true
				}
			}
			if !found {
				t.Errorf("expected price diagnostic with fallback %s, got %+v", tt.source, diags)
			}
		})
	}
}

func TestNormalizeLine_Aliases(t *testing.T) {
	line, _, repaired, ok := NormalizeLine(rawLine(t,
		`{"variant":"cool-mint-9","qty":"4","strength":"9mg","unit_price_minor":699}`))
	if !ok || !repaired {
		t.Fatalf("expected repaired line, ok=%v repaired=%v", ok, repaired)
	}
	if line.VariantID != "cool-mint-9" || line.Quantity != 4 || line.StrengthMg != 9 {
		t.Errorf("unexpected line %+v", line)
	}
	if line.ProductID != "cool-mint" {
		t.Errorf("expected product id from catalog, got %q", line.ProductID)
	}
}

func TestNormalizeLine_StrengthFromCatalog(t *testing.T) {
	line, diags, _, ok := NormalizeLine(rawLine(t, `{"variant_id":"citrus-3","quantity":1,"unit_price_minor":599}`))
	if !ok {
		t.Fatal("expected line to be kept")
	}
	if line.StrengthMg != 3 {
		t.Errorf("expected catalog strength 3, got %d", line.StrengthMg)
	}
	if len(diags) != 1 || diags[0].Fallback != "catalog" {
		t.Errorf("expected one catalog diagnostic, got %+v", diags)
	}
}

func TestNormalizeLine_Dropped(t *testing.T) {
	for _, raw := range []string{
		`{"quantity":1,"unit_price_minor":599}`,
		`{"variant_id":"citrus-3","quantity":0}`,
		`{"variant_id":"citrus-3","quantity":-2}`,
		`{"variant_id":"citrus-3","quantity":"lots"}`,
		`{"variant_id":"citrus-3"}`,
	} {
		_, diags, repaired, ok := NormalizeLine(rawLine(t, raw))
		if ok {
			t.Errorf("%s: expected line to be dropped", raw)
		}
		if !repaired || len(diags) == 0 {
			t.Errorf("%s: expected a diagnostic", raw)
		}
	}
}

func TestParseCart_Empty(t *testing.T) {
	lines, diags, repaired := ParseCart(nil)
	if lines != nil || diags != nil || repaired {
		t.Errorf("expected nothing for absent snapshot")
	}
}

func TestParseCart_Garbage(t *testing.T) {
	lines, diags, repaired := ParseCart([]byte(`{not json`))
	if len(lines) != 0 || !repaired || len(diags) != 1 {
		t.Errorf("expected empty repaired cart with one diagnostic, got %v %v %v", lines, diags, repaired)
	}
}

func TestParseCart_LegacyArray(t *testing.T) {
	lines, _, repaired := ParseCart([]byte(`[{"variant_id":"citrus-6","quantity":2,"strength_mg":6,"unit_price_minor":649}]`))
	if !repaired {
		t.Error("bare array should be rewritten in canonical form")
	}
	if len(lines) != 1 || lines[0].Quantity != 2 {
		t.Errorf("unexpected lines %+v", lines)
	}
}

func TestParseCart_MergesDuplicates(t *testing.T) {
	lines, _, repaired := ParseCart([]byte(`{"items":[
		{"variant_id":"citrus-6","quantity":2,"strength_mg":6,"unit_price_minor":649},
		"junk",
		{"variant_id":"citrus-6","quantity":3,"strength_mg":6,"unit_price_minor":649}
	]}`))
	if !repaired {
		t.Error("expected repaired")
	}
	if len(lines) != 1 || lines[0].Quantity != 5 {
		t.Errorf("expected one merged line of 5, got %+v", lines)
	}
}

func TestParseCart_CanonicalIsStable(t *testing.T) {
	data, err := encodeCart([]Line{
		{ProductID: "citrus", VariantID: "citrus-6", StrengthMg: 6, Quantity: 2, UnitPriceMinor: 649},
		{ProductID: "cool-mint", VariantID: "cool-mint-3", StrengthMg: 3, Quantity: 1, UnitPriceMinor: 599},
	})
	if err != nil {
		t.Fatal(err)
	}
	lines, diags, repaired := ParseCart(data)
	if repaired || len(diags) != 0 {
		t.Errorf("canonical snapshot should not need repair: %+v", diags)
	}
	if len(lines) != 2 {
		t.Errorf("expected 2 lines, got %d", len(lines))
	}
}
