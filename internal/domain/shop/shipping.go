package shop

import (
	"strings"

	"github.com/rs/zerolog"
)

type ShippingMethod string

const (
	MethodStandard  ShippingMethod = "standard"
	MethodExpedited ShippingMethod = "expedited"
)

type ShippingOption struct {
	Method    ShippingMethod `json:"method"`
	CostMinor int64          `json:"cost_minor"`
	Cost      string         `json:"cost"`
	Free      bool           `json:"free"`
}

// ShippingPolicy prices the two shipping methods. Expedited is free only when
// the order quantity equals ExpeditedFreeAt exactly.
type ShippingPolicy struct {
	StandardMinor   int64
	ExpeditedMinor  int64
	ExpeditedFreeAt int
}

func DefaultShippingPolicy() ShippingPolicy {
	return ShippingPolicy{StandardMinor: 995, ExpeditedMinor: 1495, ExpeditedFreeAt: 60}
}

func (p ShippingPolicy) Cost(method ShippingMethod, totalQty int) int64 {
	if method == MethodExpedited {
		if p.ExpeditedFreeAt > 0 && totalQty == p.ExpeditedFreeAt {
			return 0
		}
		return p.ExpeditedMinor
	}
	return p.StandardMinor
}

func (p ShippingPolicy) Quote(totalQty int) []ShippingOption {
	out := make([]ShippingOption, 0, 2)
	for _, m := range []ShippingMethod{MethodStandard, MethodExpedited} {
		cost := p.Cost(m, totalQty)
		out = append(out, ShippingOption{Method: m, CostMinor: cost, Cost: FormatMinor(cost), Free: cost == 0})
	}
	return out
}

// NormalizeMethod maps user input onto a known method. Anything unrecognised
// becomes standard and is logged.
func NormalizeMethod(raw string, logger zerolog.Logger) ShippingMethod {
	switch ShippingMethod(strings.ToLower(strings.TrimSpace(raw))) {
	case MethodExpedited, "express":
		return MethodExpedited
	case MethodStandard:
		return MethodStandard
	case "":
		return MethodStandard
	}
	logger.Warn().Str("method", raw).Str("fallback", string(MethodStandard)).Msg("unknown shipping method")
	return MethodStandard
}
