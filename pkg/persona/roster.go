// Package persona defines the fixed ten-role roster, display-name
// canonicalization for [DELEGATE:…] targets, and the default persona
// configurations seeded at startup.
package persona

import (
	"strings"

	"github.com/council-ai/council/pkg/models"
)

// Coordinator is the entry persona for every session.
const Coordinator = models.RoleCoordinator

// displayNames maps each role to its canonical display name, in roster order.
var displayNames = map[models.PersonaRole]string{
	models.RoleCoordinator:        "Coordinator",
	models.RoleBusinessAnalyst:    "BusinessAnalyst",
	models.RoleTechnicalArchitect: "TechnicalArchitect",
	models.RoleSeniorDeveloper:    "SeniorDeveloper",
	models.RoleJuniorDeveloper:    "JuniorDeveloper",
	models.RoleSeniorQA:           "SeniorQA",
	models.RoleJuniorQA:           "JuniorQA",
	models.RoleUXEngineer:         "UXEngineer",
	models.RoleUIEngineer:         "UIEngineer",
	models.RoleDocumentWriter:     "DocumentWriter",
}

// rosterOrder is the stable ordering used for seeding and prompts.
var rosterOrder = []models.PersonaRole{
	models.RoleCoordinator,
	models.RoleBusinessAnalyst,
	models.RoleTechnicalArchitect,
	models.RoleSeniorDeveloper,
	models.RoleJuniorDeveloper,
	models.RoleSeniorQA,
	models.RoleJuniorQA,
	models.RoleUXEngineer,
	models.RoleUIEngineer,
	models.RoleDocumentWriter,
}

// byNormalizedName is built once from displayNames.
var byNormalizedName = func() map[string]models.PersonaRole {
	m := make(map[string]models.PersonaRole, len(displayNames))
	for role, name := range displayNames {
		m[normalize(name)] = role
		m[normalize(string(role))] = role
	}
	return m
}()

// normalize lowercases and strips whitespace, underscores and hyphens so
// "Business Analyst", "businessanalyst" and "business_analyst" all match.
// LLMs spell persona names inconsistently.
func normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch r {
		case ' ', '\t', '_', '-':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Resolve maps a free-form persona name to its role. The match is
// case-insensitive and ignores whitespace, underscores and hyphens.
func Resolve(name string) (models.PersonaRole, bool) {
	role, ok := byNormalizedName[normalize(name)]
	return role, ok
}

// DisplayName returns the canonical display name for a role, or the raw role
// string for unknown roles (including the user).
func DisplayName(role models.PersonaRole) string {
	if name, ok := displayNames[role]; ok {
		return name
	}
	if role == models.RoleUser {
		return "User"
	}
	return string(role)
}

// Roster returns the ten roles in stable order.
func Roster() []models.PersonaRole {
	out := make([]models.PersonaRole, len(rosterOrder))
	copy(out, rosterOrder)
	return out
}
