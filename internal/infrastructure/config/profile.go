package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/booster/internal/jobs/poll"
)

// LoadProfile reads a poll profile. The format is chosen by extension:
// .yaml/.yml for YAML, .toml for TOML. Unknown keys are rejected.
func LoadProfile(path string) (poll.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return poll.Settings{}, fmt.Errorf("failed to read profile: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return ParseYAMLProfile(data)
	case ".toml":
		return ParseTOMLProfile(data)
	default:
		return poll.Settings{}, fmt.Errorf("unsupported profile format %q", ext)
	}
}

// ParseYAMLProfile decodes a YAML poll profile
func ParseYAMLProfile(data []byte) (poll.Settings, error) {
	var s poll.Settings
	if err := yaml.UnmarshalWithOptions(data, &s, yaml.Strict()); err != nil {
		return poll.Settings{}, fmt.Errorf("YAML profile parse error: %w", err)
	}
	return s, nil
}

// ParseTOMLProfile decodes a TOML poll profile
func ParseTOMLProfile(data []byte) (poll.Settings, error) {
	var s poll.Settings
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return poll.Settings{}, fmt.Errorf("TOML profile parse error: %w", err)
	}
	return s, nil
}

// Apply fills timeout and frequency left unset in s from the environment
// defaults.
func (p PollConfig) Apply(s poll.Settings) poll.Settings {
	if s.Timeout <= 0 {
		s.Timeout = p.TimeoutMs
	}
	if s.Frequency <= 0 {
		s.Frequency = p.FrequencyMs
	}
	return s
}
