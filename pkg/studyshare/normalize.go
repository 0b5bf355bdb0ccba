package studyshare

import (
	"sort"
	"strings"
)

// NormalizeCategory trims fields, lowercases kind and units, sorts and
// dedupes units and substitutes DefaultUnit for an empty unit set.
func NormalizeCategory(key CategoryKey) CategoryKey {
	out := CategoryKey{
		Course:  strings.TrimSpace(key.Course),
		Term:    strings.TrimSpace(key.Term),
		Subject: strings.TrimSpace(key.Subject),
		Kind:    Kind(strings.ToLower(strings.TrimSpace(string(key.Kind)))),
		Year:    strings.TrimSpace(key.Year),
	}
	out.Units = NormalizeUnits(key.Units)
	return out
}

// NormalizeUnits returns the sorted, deduplicated, lowercased unit set.
func NormalizeUnits(units []string) []string {
	seen := make(map[string]struct{}, len(units))
	out := make([]string, 0, len(units))
	for _, u := range units {
		u = strings.ToLower(strings.TrimSpace(u))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	if len(out) == 0 {
		return []string{DefaultUnit}
	}
	sort.Strings(out)
	return out
}

// ValidateCategory checks a normalized category key.
func ValidateCategory(key CategoryKey) error {
	switch {
	case key.Course == "":
		return NewValidationError("course", "is required")
	case key.Term == "":
		return NewValidationError("term", "is required")
	case key.Subject == "":
		return NewValidationError("subject", "is required")
	case key.Kind == "":
		return NewValidationError("kind", "is required")
	}
	if PolicyFor(key.Kind).YearSlot && key.Year == "" {
		return NewValidationError("year", "is required for "+string(key.Kind))
	}
	return nil
}
