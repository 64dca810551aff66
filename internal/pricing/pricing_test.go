package pricing

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultRates(t *testing.T) {
	tests := []struct {
		model      string
		wantInput  float64
		wantOutput float64
	}{
		{ModelClaude35Sonnet, 0.003, 0.015},
		{ModelClaude3Haiku, 0.00025, 0.00125},
		{ModelGPT4, 0.03, 0.06},
		{ModelGPT35Turbo, 0.0015, 0.002},
		{ModelGeminiPro, 0.000125, 0.000375},
		{ModelGemini15Flash, 0.000075, 0.0003},
	}

	reg := Default()
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			rate, err := reg.Lookup(tt.model)
			if err != nil {
				t.Fatalf("Lookup(%q) failed: %v", tt.model, err)
			}
			if rate.InputPer1K != tt.wantInput {
				t.Errorf("InputPer1K = %v, want %v", rate.InputPer1K, tt.wantInput)
			}
			if rate.OutputPer1K != tt.wantOutput {
				t.Errorf("OutputPer1K = %v, want %v", rate.OutputPer1K, tt.wantOutput)
			}
		})
	}
}

func TestLookupUnknownModel(t *testing.T) {
	_, err := Default().Lookup("mystery-model")
	if !errors.Is(err, ErrUnknownPricingModel) {
		t.Fatalf("expected ErrUnknownPricingModel, got %v", err)
	}

	if _, err := Default().Cost("mystery-model", 10, 10); !errors.Is(err, ErrUnknownPricingModel) {
		t.Errorf("Cost should surface ErrUnknownPricingModel, got %v", err)
	}
}

func TestCost(t *testing.T) {
	reg := Default()

	got, err := reg.Cost(ModelClaude35Sonnet, 2000, 1000)
	if err != nil {
		t.Fatal(err)
	}
	// 2 * 0.003 + 1 * 0.015
	if want := 0.021; math.Abs(got-want) > 1e-12 {
		t.Errorf("Cost = %v, want %v", got, want)
	}
}

func TestRegister(t *testing.T) {
	reg := NewRegistry(nil)

	if err := reg.Register("", Rate{}); err == nil {
		t.Error("expected error for empty model")
	}
	if err := reg.Register("neg", Rate{InputPer1K: -1}); err == nil {
		t.Error("expected error for negative rate")
	}
	if err := reg.Register("custom", Rate{InputPer1K: 0.01, OutputPer1K: 0.02}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !reg.Has("custom") {
		t.Error("registered model not found")
	}
	if models := reg.Models(); len(models) != 1 || models[0] != "custom" {
		t.Errorf("Models() = %v", models)
	}
}

func TestParsePricingFile(t *testing.T) {
	data := []byte(`version: v1.2.0
currency: EUR
include_defaults: true
models:
  claude-sonnet-4-5:
    input_per_1k: 0.003
    output_per_1k: 0.015
`)

	reg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if reg.Currency() != "EUR" {
		t.Errorf("Currency() = %q, want EUR", reg.Currency())
	}
	if !reg.Has("claude-sonnet-4-5") || !reg.Has(ModelGPT4) {
		t.Errorf("expected custom and default models, got %v", reg.Models())
	}
}

func TestParseRejectsBadVersion(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing version", "models: {}\n"},
		{"not semver", "version: latest\n"},
		{"future major", "version: v2.0.0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	if err := os.WriteFile(path, []byte("version: v1.0.0\nmodels:\n  local:\n    input_per_1k: 0\n    output_per_1k: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	reg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if !reg.Has("local") || reg.Has(ModelGPT4) {
		t.Errorf("unexpected models: %v", reg.Models())
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
