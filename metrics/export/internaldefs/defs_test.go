package internaldefs

import (
	"testing"

	storeauth "github.com/yanlnery/glowing-docs-portal-sub000"
)

func TestBoundsMatchCoreHistogram(t *testing.T) {
	if len(HistogramBounds) != len(storeauth.HistogramBounds)+1 {
		t.Fatalf("expected %d labels, got %d", len(storeauth.HistogramBounds)+1, len(HistogramBounds))
	}
	if len(HistogramBoundSuffix) != len(HistogramBounds) {
		t.Fatal("suffix and label lists differ in length")
	}
}

func TestCounterNamesUnique(t *testing.T) {
	seen := make(map[string]bool)
	ids := make(map[storeauth.MetricID]bool)
	for _, def := range CounterDefs {
		if seen[def.Name] || ids[def.ID] {
			t.Fatalf("duplicate counter %s", def.Name)
		}
		seen[def.Name] = true
		ids[def.ID] = true
	}
	if ids[storeauth.MetricProviderLatency] {
		t.Fatal("latency histogram must not be exported as a counter")
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}
