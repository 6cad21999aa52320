package store

import (
	"context"
	"testing"

	"jobgrade/internal/survey"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func sampleCatalog(t *testing.T) *survey.Catalog {
	t.Helper()
	rule, err := survey.NewConflictRule(1,
		survey.RulePair{QuestionID: 11, AnswerID: 3, QuestionText: "Q11", AnswerText: "три"},
		survey.RulePair{QuestionID: 12, AnswerID: 1, QuestionText: "Q12", AnswerText: "один"},
		survey.OptionalPair{QuestionID: intPtr(13), AnswerID: intPtr(2)},
	)
	require.NoError(t, err)
	return (&survey.Catalog{
		QuestionList: []survey.Question{
			{ID: 1, Text: "Роль"},
			{ID: 14, Text: "Подвопрос", ShowConditions: `{"show_if":{"question_13":["1"]}}`, Classifier: "0-8"},
		},
		Rules: []survey.ConflictRule{rule},
		Tables: &survey.GradeTables{
			P1:    []survey.P1Row{{Q8: 2, Q9: 1, Q10: 3, Value: 5}},
			P2:    []survey.P2Row{{Q11: 2, Q12: 2, Value: 4}},
			P3:    []survey.P3Row{{P1: 5, P2: 4, Value: 20}},
			P4Q14: []survey.P4Row{{Q16: 1, Q13: 2, Alternate: 3, Value: 22}},
			P4Q15: []survey.P4Row{{Q16: 1, Q13: 2, Alternate: 4, Value: 21}},
			Scale: []survey.ScaleRow{{Low: 40, Mid: 47, High: 55, Grade: "Grade 12"}},
		},
		VariantRows: []survey.VariantRow{{P1: 5, Q11Text: "2. a", Q11Answer: 2, Q12Text: "2. b", Q12Answer: 2}},
		Hierarchy:   []survey.HierarchyItem{{ID: 1, Role: "Альфа", FullPath: "Альфа"}, {ID: 2, Role: "Финансы", ParentID: 1, FullPath: "Альфа -> Финансы"}},
		Hay:         []survey.HayDefinition{{QuestionNumber: 8, AnswerNumber: 2, Definition: "Базовые"}},
	}).Index()
}

func TestSQLStoreCatalogRoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	empty, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.QuestionList)
	rules, err := empty.ConflictRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)

	want := sampleCatalog(t)
	require.NoError(t, s.SaveCatalog(ctx, want))
	// a second import replaces rather than appends
	require.NoError(t, s.SaveCatalog(ctx, want))

	got, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.QuestionList, got.QuestionList)
	require.Len(t, got.Rules, 1)
	assert.Equal(t, []int{11, 12, 13}, got.Rules[0].QuestionIDs())
	assert.Equal(t, want.Tables, got.Tables)
	assert.Equal(t, want.VariantRows, got.VariantRows)
	assert.Equal(t, want.Hierarchy, got.Hierarchy)
	assert.Equal(t, want.Hay, got.Hay)

	q, err := got.Question(ctx, 14)
	require.NoError(t, err)
	assert.True(t, q.HasShowConditions())
}

func TestMemoryStoreCatalog(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	c, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	_, err = c.GradeTables(ctx)
	require.NoError(t, err)

	want := sampleCatalog(t)
	require.NoError(t, s.SaveCatalog(ctx, want))
	got, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Same(t, want, got)
}
