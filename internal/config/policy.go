package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"example.com/geosurvey/internal/engine"
)

// LoadPolicy returns the default policy overlaid with the YAML file at path. An empty path yields
// the defaults.
func LoadPolicy(path string) (engine.Policy, error) {
	p := engine.DefaultPolicy()
	if path == "" {
		return p, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return engine.Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return DecodePolicy(bytes.NewReader(b))
}

// DecodePolicy overlays YAML onto the default policy. Unknown keys are rejected.
func DecodePolicy(r io.Reader) (engine.Policy, error) {
	p := engine.DefaultPolicy()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return engine.Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return engine.Policy{}, err
	}
	return p, nil
}
