package pricing

import (
	"fmt"
	"os"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// SupportedFileMajor is the pricing file format major version this build reads
const SupportedFileMajor = "v1"

// File is the on-disk pricing override format:
//
//	version: v1.0.0
//	currency: USD
//	include_defaults: true
//	models:
//	  claude-sonnet-4-5:
//	    input_per_1k: 0.003
//	    output_per_1k: 0.015
type File struct {
	Version         string          `yaml:"version"`
	Currency        string          `yaml:"currency"`
	IncludeDefaults bool            `yaml:"include_defaults"`
	Models          map[string]Rate `yaml:"models"`
}

// Parse decodes and validates a pricing file
func Parse(data []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse pricing file: %w", err)
	}

	if !semver.IsValid(f.Version) {
		return nil, fmt.Errorf("pricing file version %q is not a valid semantic version", f.Version)
	}
	if major := semver.Major(f.Version); major != SupportedFileMajor {
		return nil, fmt.Errorf("pricing file version %s not supported (want %s.x.y)", f.Version, SupportedFileMajor)
	}

	var reg *Registry
	if f.IncludeDefaults {
		reg = Default()
	} else {
		reg = NewRegistry(nil)
	}
	if f.Currency != "" {
		reg.currency = f.Currency
	}

	for model, rate := range f.Models {
		if err := reg.Register(model, rate); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadFile reads a pricing file from disk
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}
	return Parse(data)
}
