package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/council-ai/council/pkg/models"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "personas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadPersonaOverridesEmptyPathReturnsDefaults(t *testing.T) {
	configs, err := LoadPersonaOverrides("")
	require.NoError(t, err)
	assert.Len(t, configs, 10)
}

func TestLoadPersonaOverridesAppliesFields(t *testing.T) {
	path := writeTempYAML(t, `
personas:
  - role: coordinator
    model: gpt-4o-mini
    temperature: 0.1
  - role: junior_developer
    enabled: false
    max_tokens: 1024
`)
	configs, err := LoadPersonaOverrides(path)
	require.NoError(t, err)

	byRole := make(map[models.PersonaRole]*models.PersonaConfig)
	for _, cfg := range configs {
		byRole[cfg.Role] = cfg
	}

	assert.Equal(t, "gpt-4o-mini", byRole[models.RoleCoordinator].Model)
	assert.Equal(t, float32(0.1), byRole[models.RoleCoordinator].Temperature)
	assert.NotEmpty(t, byRole[models.RoleCoordinator].SystemPrompt, "unset fields keep defaults")

	assert.False(t, byRole[models.RoleJuniorDeveloper].Enabled)
	assert.Equal(t, 1024, byRole[models.RoleJuniorDeveloper].MaxTokens)

	assert.True(t, byRole[models.RoleSeniorQA].Enabled, "untouched personas keep defaults")
}

func TestLoadPersonaOverridesResolvesNameVariants(t *testing.T) {
	path := writeTempYAML(t, `
personas:
  - role: "Senior QA"
    model: special-model
`)
	configs, err := LoadPersonaOverrides(path)
	require.NoError(t, err)

	for _, cfg := range configs {
		if cfg.Role == models.RoleSeniorQA {
			assert.Equal(t, "special-model", cfg.Model)
		}
	}
}

func TestLoadPersonaOverridesRejectsUnknownRole(t *testing.T) {
	path := writeTempYAML(t, `
personas:
  - role: scrum_master
    model: whatever
`)
	_, err := LoadPersonaOverrides(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scrum_master")
}

func TestLoadPersonaOverridesRejectsBadTemperature(t *testing.T) {
	path := writeTempYAML(t, `
personas:
  - role: coordinator
    temperature: 1.5
`)
	_, err := LoadPersonaOverrides(path)
	require.Error(t, err)
}
