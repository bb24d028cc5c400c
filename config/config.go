// Package config loads the engine-facing vase-* options (§6 of the
// specification) from a YAML file, handing them to the distiller and
// injection-wrapper constructors in their native Options/Config shapes.
package config

import (
	"fmt"
	"os"

	"github.com/roxaw/EVP-KLEE/distill"
	"github.com/roxaw/EVP-KLEE/inject"
	"gopkg.in/yaml.v2"
)

// File is the on-disk shape of a vase configuration document:
//
//	distill:
//	  min-occurrence: 3
//	  max-values: 5
//	inject:
//	  map: vase_map.json
//	  max-arrays: 4
//	  max-bytes: 4
//	  max-values: 4
//	  try-pairs: true
//	  verbose: true
type File struct {
	Distill struct {
		MinOccurrence int `yaml:"min-occurrence"`
		MaxValues     int `yaml:"max-values"`
	} `yaml:"distill"`

	Inject struct {
		Map       string `yaml:"map"`
		MaxArrays int    `yaml:"max-arrays"`
		MaxBytes  int    `yaml:"max-bytes"`
		MaxValues int    `yaml:"max-values"`
		TryPairs  *bool  `yaml:"try-pairs"`
		Verbose   *bool  `yaml:"verbose"`
	} `yaml:"inject"`
}

// Load reads and parses the YAML document at path.
func Load(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return f, nil
}

// DistillOptions returns f's distiller parameters, falling back to
// distill.DefaultOptions for any field left at its zero value.
func (f File) DistillOptions() distill.Options {
	opts := distill.DefaultOptions()
	if f.Distill.MinOccurrence > 0 {
		opts.MinOccurrence = f.Distill.MinOccurrence
	}
	if f.Distill.MaxValues > 0 {
		opts.MaxValues = f.Distill.MaxValues
	}
	return opts
}

// InjectConfig returns f's wrapper configuration, falling back to
// inject.DefaultConfig for any field left at its zero value. MapPath has
// no default: an empty string means the wrapper degrades to pass-through,
// per §4.5.
func (f File) InjectConfig() inject.Config {
	cfg := inject.DefaultConfig()
	cfg.MapPath = f.Inject.Map
	if f.Inject.MaxArrays > 0 {
		cfg.MaxArrays = f.Inject.MaxArrays
	}
	if f.Inject.MaxBytes > 0 {
		cfg.MaxBytes = f.Inject.MaxBytes
	}
	if f.Inject.MaxValues > 0 {
		cfg.MaxValues = f.Inject.MaxValues
	}
	if f.Inject.TryPairs != nil {
		cfg.TryPairs = *f.Inject.TryPairs
	}
	if f.Inject.Verbose != nil {
		cfg.Verbose = *f.Inject.Verbose
	}
	return cfg
}
