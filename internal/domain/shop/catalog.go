package shop

// Variant is one purchasable can: a flavour at a strength.
type Variant struct {
	ProductID      string `json:"product_id"`
	VariantID      string `json:"variant_id"`
	Name           string `json:"name"`
	StrengthMg     int    `json:"strength_mg"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	UnitPrice      string `json:"unit_price"`
}

func variant(product, id, name string, mg int, price int64) Variant {
	return Variant{
		ProductID:      product,
		VariantID:      id,
		Name:           name,
		StrengthMg:     mg,
		UnitPriceMinor: price,
		UnitPrice:      FormatMinor(price),
	}
}

var catalog = []Variant{
	variant("cool-mint", "cool-mint-3", "Cool Mint 3 mg", 3, 599),
	variant("cool-mint", "cool-mint-6", "Cool Mint 6 mg", 6, 649),
	variant("cool-mint", "cool-mint-9", "Cool Mint 9 mg", 9, 699),
	variant("citrus", "citrus-3", "Citrus 3 mg", 3, 599),
	variant("citrus", "citrus-6", "Citrus 6 mg", 6, 649),
	variant("citrus", "citrus-9", "Citrus 9 mg", 9, 699),
	variant("unflavoured", "unflavoured-3", "Unflavoured 3 mg", 3, 549),
	variant("unflavoured", "unflavoured-6", "Unflavoured 6 mg", 6, 599),
}

var catalogIndex = func() map[string]Variant {
	m := make(map[string]Variant, len(catalog))
	for _, v := range catalog {
		m[v.VariantID] = v
	}
	return m
}()

// Catalog returns every variant on sale.
func Catalog() []Variant {
	out := make([]Variant, len(catalog))
	copy(out, catalog)
	return out
}

func LookupVariant(id string) (Variant, bool) {
	v, ok := catalogIndex[id]
	return v, ok
}
