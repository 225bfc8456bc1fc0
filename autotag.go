package guide

import (
	"regexp"
	"strings"
)

// DefaultTagColor is assigned to tags created without an explicit color.
const DefaultTagColor = "#616161"

// tagRule maps a keyword pattern to a category tag. Patterns are
// matched against the lowercased title and description together.
type tagRule struct {
	pattern *regexp.Regexp
	name    string
	color   string
}

var tagRules = []tagRule{
	{
		pattern: regexp.MustCompile(`restaura|sushi|menjar|shabu|kitchen|café|cafè|caf\s`),
		name:    "restaurants",
		color:   "#D32F2F",
	},
	{
		pattern: regexp.MustCompile(`parc|joc|infantil|zoo|museu del joguet|teamlab|kids|disney|amusement|atraccions`),
		name:    "activitats infantils",
		color:   "#1976D2",
	},
}

// DeriveTags returns the category tags a place should carry based on
// its title and description. Tagging is additive: callers link the
// returned tags and never remove existing ones.
func DeriveTags(title, description string) []TagSuggestion {
	haystack := strings.ToLower(title + " " + description)

	var suggestions []TagSuggestion
	for _, rule := range tagRules {
		if rule.pattern.MatchString(haystack) {
			suggestions = append(suggestions, TagSuggestion{Name: rule.name, Color: rule.color})
		}
	}
	return suggestions
}

// TagSuggestion is a derived category with its display color.
type TagSuggestion struct {
	Name  string
	Color string
}

// ColorForTag returns the canonical color for a known tag name, or the
// default color for anything else.
func ColorForTag(name string) string {
	for _, rule := range tagRules {
		if rule.name == name {
			return rule.color
		}
	}
	return DefaultTagColor
}
