package model

import (
	"bytes"
	"testing"
)

type sampleBundle struct {
	BaseEstimator
	Weights []float64
	Labels  map[string]int
}

func TestBundleRoundTrip(t *testing.T) {
	in := &sampleBundle{
		Weights: []float64{1.5, -2, 0.25},
		Labels:  map[string]int{"a": 0, "b": 1},
	}
	in.SetFitted()

	var buf bytes.Buffer
	if err := EncodeBundle(in, &buf); err != nil {
		t.Fatalf("EncodeBundle failed: %v", err)
	}

	var out sampleBundle
	if err := DecodeBundle(&out, &buf); err != nil {
		t.Fatalf("DecodeBundle failed: %v", err)
	}

	if !out.IsFitted() {
		t.Error("fitted state lost in round trip")
	}
	if len(out.Weights) != 3 || out.Weights[1] != -2 {
		t.Errorf("Weights = %v", out.Weights)
	}
	if out.Labels["b"] != 1 {
		t.Errorf("Labels = %v", out.Labels)
	}
}

func TestDecodeBundleCorrupt(t *testing.T) {
	var out sampleBundle
	if err := DecodeBundle(&out, bytes.NewReader([]byte("not a gob stream"))); err == nil {
		t.Fatal("expected error on corrupt stream")
	}
}
