package studyshare

// KindPolicy is the admission strategy for one kind.
type KindPolicy struct {
	// UnitMatch decides which approved items count toward a submission.
	UnitMatch UnitMatch
	// YearSlot makes (course, term, subject, kind, year) a unique slot.
	// Year-slot kinds skip capacity counting.
	YearSlot bool
}

var kindPolicies = map[Kind]KindPolicy{
	KindNotes:         {UnitMatch: UnitMatchOverlap},
	KindPastQuestions: {UnitMatch: UnitMatchExact, YearSlot: true},
	KindBooks:         {UnitMatch: UnitMatchExact},
}

var defaultKindPolicy = KindPolicy{UnitMatch: UnitMatchExact}

// PolicyFor returns the admission policy for a normalized kind.
func PolicyFor(kind Kind) KindPolicy {
	if p, ok := kindPolicies[kind]; ok {
		return p
	}
	return defaultKindPolicy
}

// UnitsOverlap reports whether two unit sets share at least one unit.
func UnitsOverlap(a, b []string) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	set := make(map[string]struct{}, len(a))
	for _, u := range a {
		set[u] = struct{}{}
	}
	for _, u := range b {
		if _, ok := set[u]; ok {
			return true
		}
	}
	return false
}

// UnitsEqual reports whether two normalized unit sets are identical.
func UnitsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MatchUnits applies the match mode to two normalized unit sets.
func MatchUnits(match UnitMatch, a, b []string) bool {
	if match == UnitMatchOverlap {
		return UnitsOverlap(a, b)
	}
	return UnitsEqual(a, b)
}
