package extract

import (
	"regexp"
	"strings"

	"github.com/linecook-ai/linecook/pkg/domain"
)

// Deterministic rewrite rules applied to every extracted entity before
// deduplication. Canonical names drive node identity in the graph, so the
// rules here decide what merges.

var (
	whitespaceRun = regexp.MustCompile(`\s+`)

	// Known equipment model families. Variants like "taylor  c-602" or
	// "TAYLOR C602 machine" collapse to one canonical label.
	equipmentModels = []struct {
		pattern   *regexp.Regexp
		canonical string
	}{
		{regexp.MustCompile(`(?i)\btaylor\s*c[\s\-]?602\b`), "Taylor C602"},
		{regexp.MustCompile(`(?i)\btaylor\s*c[\s\-]?708\b`), "Taylor C708"},
		{regexp.MustCompile(`(?i)\btaylor\s*c[\s\-]?713\b`), "Taylor C713"},
		{regexp.MustCompile(`(?i)\bfrymaster\s*(mj[\s\-]?45)\b`), "Frymaster MJ45"},
		{regexp.MustCompile(`(?i)\bhenny\s*penny\s*(5[08]0)\b`), "Henny Penny $1"},
		{regexp.MustCompile(`(?i)\bhobart\s*(am[\s\-]?15)\b`), "Hobart AM15"},
	}

	temperaturePattern = regexp.MustCompile(`(?i)(-?\d+)\s*(?:°\s*|deg(?:rees)?\s*)?f(?:ahrenheit)?\b`)
)

// CollapseWhitespace folds runs of whitespace into single spaces.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// CanonicalEquipment rewrites a known equipment model variant to its
// canonical label; unknown names are whitespace-collapsed and left as-is.
func CanonicalEquipment(name string) string {
	collapsed := CollapseWhitespace(name)
	for _, m := range equipmentModels {
		if m.pattern.MatchString(collapsed) {
			return m.pattern.ReplaceAllString(collapsed, m.canonical)
		}
	}
	return collapsed
}

// NormalizeTemperature rewrites any Fahrenheit expression to "<int>°F".
func NormalizeTemperature(s string) string {
	return temperaturePattern.ReplaceAllString(CollapseWhitespace(s), "$1°F")
}

// TitleCase uppercases the first letter of each word, the convention for
// procedure names.
func TitleCase(s string) string {
	words := strings.Fields(strings.ToLower(CollapseWhitespace(s)))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// NormalizeEntity applies the per-type canonicalization rules in place and
// returns the entity.
func NormalizeEntity(e domain.Entity) domain.Entity {
	if e.SurfaceForm == "" {
		e.SurfaceForm = e.CanonicalName
	}
	switch e.Type {
	case domain.EntityEquipment:
		e.CanonicalName = CanonicalEquipment(e.CanonicalName)
	case domain.EntityProcedure, domain.EntityStep:
		e.CanonicalName = TitleCase(e.CanonicalName)
	case domain.EntityTemperature:
		e.CanonicalName = NormalizeTemperature(e.CanonicalName)
	default:
		e.CanonicalName = CollapseWhitespace(e.CanonicalName)
	}
	e.QSRContext = CollapseWhitespace(e.QSRContext)
	if e.ParentEntity != "" {
		e.ParentEntity = CanonicalEquipment(e.ParentEntity)
	}
	if e.HierarchyLevel < 1 {
		e.HierarchyLevel = defaultLevel(e.Type)
	}
	if e.HierarchyLevel > 6 {
		e.HierarchyLevel = 6
	}
	if e.Confidence <= 0 || e.Confidence > 1 {
		e.Confidence = 0.5
	}
	return e
}

// defaultLevel maps the Manual → Equipment_Type → Equipment_Model →
// Procedure → Step → Detail hierarchy onto entity types.
func defaultLevel(t domain.EntityType) int {
	switch t {
	case domain.EntityDocument:
		return 1
	case domain.EntityEquipment:
		return 2
	case domain.EntityComponent:
		return 3
	case domain.EntityProcedure:
		return 4
	case domain.EntityStep:
		return 5
	default:
		return 6
	}
}
