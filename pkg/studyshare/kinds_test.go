package studyshare_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/tendant/studyshare/pkg/studyshare"
)

func TestNormalizeCategory(t *testing.T) {
	got := studyshare.NormalizeCategory(studyshare.CategoryKey{
		Course:  "  CS ",
		Term:    "2024-1",
		Subject: " CS201",
		Kind:    " Past-Questions ",
		Units:   []string{"Unit 2", "unit 1", " UNIT 2 ", ""},
		Year:    " 2023 ",
	})

	assert.Equal(t, "CS", got.Course)
	assert.Equal(t, "CS201", got.Subject)
	assert.Equal(t, studyshare.KindPastQuestions, got.Kind)
	assert.Equal(t, []string{"unit 1", "unit 2"}, got.Units)
	assert.Equal(t, "2023", got.Year)
	assert.Equal(t, "CS|2024-1|CS201|past-questions", got.LockKey())
}

func TestNormalizeUnits_Default(t *testing.T) {
	assert.Equal(t, []string{studyshare.DefaultUnit}, studyshare.NormalizeUnits(nil))
	assert.Equal(t, []string{studyshare.DefaultUnit}, studyshare.NormalizeUnits([]string{" ", ""}))
}

func TestPolicyFor(t *testing.T) {
	tests := []struct {
		kind     studyshare.Kind
		match    studyshare.UnitMatch
		yearSlot bool
	}{
		{studyshare.KindNotes, studyshare.UnitMatchOverlap, false},
		{studyshare.KindPastQuestions, studyshare.UnitMatchExact, true},
		{studyshare.KindBooks, studyshare.UnitMatchExact, false},
		{"slides", studyshare.UnitMatchExact, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			p := studyshare.PolicyFor(tt.kind)
			assert.Equal(t, tt.match, p.UnitMatch)
			assert.Equal(t, tt.yearSlot, p.YearSlot)
		})
	}
}

func TestMatchUnits(t *testing.T) {
	a := []string{"unit 1", "unit 2"}
	assert.True(t, studyshare.MatchUnits(studyshare.UnitMatchOverlap, a, []string{"unit 2", "unit 3"}))
	assert.False(t, studyshare.MatchUnits(studyshare.UnitMatchOverlap, a, []string{"unit 3"}))
	assert.True(t, studyshare.MatchUnits(studyshare.UnitMatchExact, a, []string{"unit 1", "unit 2"}))
	assert.False(t, studyshare.MatchUnits(studyshare.UnitMatchExact, a, []string{"unit 1"}))
}

func TestValidateCategory(t *testing.T) {
	valid := studyshare.CategoryKey{Course: "c", Term: "t", Subject: "s", Kind: studyshare.KindBooks}
	assert.NoError(t, studyshare.ValidateCategory(valid))

	noYear := valid
	noYear.Kind = studyshare.KindPastQuestions
	err := studyshare.ValidateCategory(noYear)
	assert.ErrorIs(t, err, studyshare.ErrValidation)

	var ve *studyshare.ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, "year", ve.Field)
}

func TestActionReferences(t *testing.T) {
	id := uuid.New()
	direct := studyshare.Action{Details: map[string]interface{}{"itemId": id.String()}}
	nested := studyshare.Action{Details: map[string]interface{}{
		"old": map[string]interface{}{"itemId": uuid.NewString()},
		"new": map[string]interface{}{"itemId": id.String()},
	}}
	listed := studyshare.Action{Details: map[string]interface{}{
		"items": []interface{}{map[string]interface{}{"itemId": id}},
	}}
	unrelated := studyshare.Action{Details: map[string]interface{}{"fileName": id.String()}}

	assert.True(t, direct.References(id))
	assert.True(t, nested.References(id))
	assert.True(t, listed.References(id))
	assert.False(t, unrelated.References(id))
	assert.False(t, studyshare.Action{}.References(id))
}
