package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/council-ai/council/pkg/models"
	"github.com/council-ai/council/pkg/persona"
)

// personaOverrideFile is the YAML shape for persona overrides.
type personaOverrideFile struct {
	Personas []personaOverride `yaml:"personas"`
}

// personaOverride carries the overridable fields; absent fields keep their
// seeded values.
type personaOverride struct {
	Role         string   `yaml:"role"`
	Model        string   `yaml:"model"`
	SystemPrompt string   `yaml:"system_prompt"`
	Temperature  *float32 `yaml:"temperature"`
	MaxTokens    *int     `yaml:"max_tokens"`
	Enabled      *bool    `yaml:"enabled"`
}

// LoadPersonaOverrides applies YAML overrides from path on top of the
// default persona configs. An empty path returns the defaults unchanged.
func LoadPersonaOverrides(path string) ([]*models.PersonaConfig, error) {
	configs := persona.DefaultConfigs()
	if path == "" {
		return configs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona config: %w", err)
	}
	var file personaOverrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse persona config: %w", err)
	}

	byRole := make(map[models.PersonaRole]*models.PersonaConfig, len(configs))
	for _, cfg := range configs {
		byRole[cfg.Role] = cfg
	}

	for _, ov := range file.Personas {
		role, ok := persona.Resolve(ov.Role)
		if !ok {
			return nil, fmt.Errorf("unknown persona role %q in %s", ov.Role, path)
		}
		cfg := byRole[role]
		if ov.Model != "" {
			cfg.Model = ov.Model
		}
		if ov.SystemPrompt != "" {
			cfg.SystemPrompt = ov.SystemPrompt
		}
		if ov.Temperature != nil {
			if *ov.Temperature < 0 || *ov.Temperature > 1 {
				return nil, fmt.Errorf("temperature %g for %s outside [0, 1]", *ov.Temperature, ov.Role)
			}
			cfg.Temperature = *ov.Temperature
		}
		if ov.MaxTokens != nil {
			cfg.MaxTokens = *ov.MaxTokens
		}
		if ov.Enabled != nil {
			cfg.Enabled = *ov.Enabled
		}
	}
	return configs, nil
}
