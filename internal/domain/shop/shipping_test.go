package shop

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestQuote_ExpeditedFreeOnlyAtThreshold(t *testing.T) {
	p := DefaultShippingPolicy()
	tests := []struct {
		qty           int
		wantExpedited int64
	}{
		{1, 1495},
		{59, 1495},
		{60, 0},
		{61, 1495},
	}
	for _, tt := range tests {
		opts := p.Quote(tt.qty)
		if len(opts) != 2 {
			t.Fatalf("expected two options, got %d", len(opts))
		}
		if opts[0].Method != MethodStandard || opts[0].CostMinor != 995 || opts[0].Free {
			t.Errorf("qty %d: unexpected standard option %+v", tt.qty, opts[0])
		}
		exp := opts[1]
		if exp.Method != MethodExpedited || exp.CostMinor != tt.wantExpedited {
			t.Errorf("qty %d: expected expedited %d, got %+v", tt.qty, tt.wantExpedited, exp)
		}
		if exp.Free != (tt.wantExpedited == 0) {
			t.Errorf("qty %d: free flag %v", tt.qty, exp.Free)
		}
	}
}

func TestQuote_ZeroThresholdNeverFree(t *testing.T) {
	p := ShippingPolicy{StandardMinor: 500, ExpeditedMinor: 900}
	if got := p.Cost(MethodExpedited, 0); got != 900 {
		t.Errorf("expected 900, got %d", got)
	}
}

func TestNormalizeMethod(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	if m := NormalizeMethod("Expedited ", logger); m != MethodExpedited {
		t.Errorf("expected expedited, got %s", m)
	}
	if m := NormalizeMethod("", logger); m != MethodStandard {
		t.Errorf("expected standard, got %s", m)
	}
	if buf.Len() != 0 {
		t.Errorf("known methods should not log, got %s", buf.String())
	}

	if m := NormalizeMethod("teleport", logger); m != MethodStandard {
		t.Errorf("expected standard fallback, got %s", m)
	}
	if !strings.Contains(buf.String(), "unknown shipping method") || !strings.Contains(buf.String(), "teleport") {
		t.Errorf("expected diagnostic, got %s", buf.String())
	}
}
