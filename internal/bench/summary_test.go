package bench

import (
	"math"
	"testing"
)

func TestSummarize(t *testing.T) {
	st := Summarize([]float64{4, 1, 3, 2, 5})
	if st.Count != 5 || st.Mean != 3 || st.Min != 1 || st.Max != 5 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if math.Abs(st.Std-math.Sqrt(2)) > 1e-9 {
		t.Fatalf("std = %f", st.Std)
	}
	if math.Abs(st.P5-1.2) > 1e-9 || math.Abs(st.P95-4.8) > 1e-9 {
		t.Fatalf("percentiles = %f %f", st.P5, st.P95)
	}
}

func TestSummarizeEdgeCases(t *testing.T) {
	if st := Summarize(nil); st.Count != 0 {
		t.Fatalf("expected empty stats")
	}
	st := Summarize([]float64{7})
	if st.P5 != 7 || st.P95 != 7 || st.Std != 0 {
		t.Fatalf("unexpected single-value stats %+v", st)
	}
}
