package grade

import (
	"context"
	"errors"
	"testing"

	"jobgrade/internal/store"
	"jobgrade/internal/survey"

	"github.com/stretchr/testify/assert"
	trequire "github.com/stretchr/testify/require"
)

func testTables() *survey.GradeTables {
	return &survey.GradeTables{
		P1: []survey.P1Row{{Q8: 2, Q9: 1, Q10: 3, Value: 5}},
		P2: []survey.P2Row{{Q11: 2, Q12: 2, Value: 4}, {Q11: 3, Q12: 1, Value: 9}, {Q11: 4, Q12: 4, Value: 7}},
		P3: []survey.P3Row{{P1: 5.0, P2: 4, Value: 20}, {P1: 5.0, P2: 9, Value: 20}},
		P4Q14: []survey.P4Row{
			{Q16: 1, Q13: 2, Alternate: 3, Value: 22},
			{Q16: 1, Q13: 2, Alternate: 8, Value: 40},
		},
		P4Q15: []survey.P4Row{{Q16: 1, Q13: 2, Alternate: 4, Value: 21}},
		Scale: []survey.ScaleRow{
			{Low: 56, Mid: 63, High: 70, Grade: ""},
			{Low: 40, Mid: 47, High: 55, Grade: "Grade 12"},
		},
	}
}

func completeAnswers() map[int]int {
	return map[int]int{8: 2, 9: 1, 10: 3, 11: 2, 12: 2, 13: 2, 14: 3, 16: 1}
}

func TestComputeScenarioB(t *testing.T) {
	calc := NewCalculator(testTables())

	got, err := calc.Compute(completeAnswers())
	trequire.NoError(t, err)
	assert.Equal(t, 5, got.P1)
	assert.Equal(t, 4, got.P2)
	assert.Equal(t, 20, got.P3)
	assert.Equal(t, 22, got.P4)
	assert.Equal(t, 47, got.Total)
	assert.Equal(t, "Grade 12", got.Grade)
	assert.Equal(t, "40-55", got.Range)
	assert.Equal(t, survey.SheetP4Q14, got.P4Path)

	again, err := calc.Compute(completeAnswers())
	trequire.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestComputeExcludesP2FromTotal(t *testing.T) {
	calc := NewCalculator(testTables())

	base, err := calc.Compute(completeAnswers())
	trequire.NoError(t, err)

	changed := completeAnswers()
	changed[11], changed[12] = 3, 1
	other, err := calc.Compute(changed)
	trequire.NoError(t, err)

	assert.NotEqual(t, base.P2, other.P2)
	assert.Equal(t, base.P3, other.P3)
	assert.Equal(t, base.Total, other.Total)
}

func TestComputeSecondAlternate(t *testing.T) {
	answers := completeAnswers()
	delete(answers, 14)
	answers[15] = 4

	got, err := NewCalculator(testTables()).Compute(answers)
	trequire.NoError(t, err)
	assert.Equal(t, 21, got.P4)
	assert.Equal(t, 46, got.Total)
	assert.Equal(t, survey.SheetP4Q15, got.P4Path)
}

func TestComputeEmptyGradeName(t *testing.T) {
	answers := completeAnswers()
	answers[14] = 8

	got, err := NewCalculator(testTables()).Compute(answers)
	trequire.NoError(t, err)
	assert.Equal(t, 65, got.Total)
	assert.Equal(t, "—", got.Grade)
	assert.Equal(t, "56-70", got.Range)
}

func TestComputeFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[int]int)
		stage   Stage
		missing []int
		miss    bool
	}{
		{name: "p1 input missing", mutate: func(a map[int]int) { delete(a, 9) }, stage: StageP1, missing: []int{9}},
		{name: "p2 inputs missing", mutate: func(a map[int]int) { delete(a, 11); delete(a, 12) }, stage: StageP2, missing: []int{11, 12}},
		{name: "both alternates unanswered", mutate: func(a map[int]int) { delete(a, 14) }, stage: StageP4, missing: []int{14, 15}},
		{name: "p4 shared input missing", mutate: func(a map[int]int) { delete(a, 16) }, stage: StageP4, missing: []int{16}},
		{name: "p1 lookup miss", mutate: func(a map[int]int) { a[8] = 7 }, stage: StageP1, miss: true},
		{name: "p2 lookup miss", mutate: func(a map[int]int) { a[11], a[12] = 9, 9 }, stage: StageP2, miss: true},
		{name: "p3 lookup miss", mutate: func(a map[int]int) { a[11], a[12] = 4, 4 }, stage: StageP3, miss: true},
		{name: "p4 lookup miss", mutate: func(a map[int]int) { a[14] = 6 }, stage: StageP4, miss: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			answers := completeAnswers()
			tc.mutate(answers)
			_, err := NewCalculator(testTables()).Compute(answers)
			trequire.Error(t, err)

			if tc.miss {
				var lm *LookupMissError
				trequire.True(t, errors.As(err, &lm), "error = %v", err)
				assert.Equal(t, tc.stage, lm.Stage)
				assert.ErrorIs(t, err, ErrLookupMiss)
				return
			}
			var mp *MissingPrerequisiteAnswersError
			trequire.True(t, errors.As(err, &mp), "error = %v", err)
			assert.Equal(t, tc.stage, mp.Stage)
			assert.Equal(t, tc.missing, mp.Missing)
			assert.ErrorIs(t, err, ErrMissingPrerequisiteAnswers)
		})
	}
}

func TestScaleLookupMiss(t *testing.T) {
	tables := testTables()
	tables.Scale = tables.Scale[1:]
	answers := completeAnswers()
	answers[14] = 8

	_, err := NewCalculator(tables).Compute(answers)
	var lm *LookupMissError
	trequire.True(t, errors.As(err, &lm), "error = %v", err)
	assert.Equal(t, StageScale, lm.Stage)
	assert.Equal(t, 65, lm.Inputs["total"])
}

func TestSelectP4Input(t *testing.T) {
	in, err := SelectP4Input(map[int]int{13: 2, 16: 1, 14: 3, 15: 4})
	trequire.NoError(t, err)
	assert.Equal(t, ByFirstAlternate{Q16: 1, Q13: 2, Q14: 3}, in)

	in, err = SelectP4Input(map[int]int{13: 2, 16: 1, 15: 4})
	trequire.NoError(t, err)
	assert.Equal(t, BySecondAlternate{Q16: 1, Q13: 2, Q15: 4}, in)
}

func TestDiagnose(t *testing.T) {
	d := Diagnose(map[int]string{8: "2", 9: "1", 11: "не понял", 13: "2", 15: "4", 1: "Бухгалтер"})

	assert.Equal(t, 6, d.TotalAnswers)
	assert.Equal(t, []int{1, 8, 9, 11, 13, 15}, d.AnsweredIDs)
	assert.Equal(t, []int{1, 11}, d.Unclassified)
	trequire.Len(t, d.Stages, 3)

	assert.Equal(t, []int{10}, d.Stages[0].Missing)
	assert.False(t, d.Stages[0].Ready)
	assert.Equal(t, []int{11, 12}, d.Stages[1].Missing)
	assert.Equal(t, []int{13, 15}, d.Stages[2].Present)
	assert.Equal(t, []int{16}, d.Stages[2].Missing)
}

func TestServiceIntermediateP1ScenarioA(t *testing.T) {
	ctx := context.Background()
	responses := store.NewMemoryStore()
	key := store.SessionKey{UserID: 1, SessionID: 1}
	for qid, v := range map[int]string{8: "2", 9: "1", 10: "3"} {
		_, err := responses.AppendResponse(ctx, key, qid, "ответ", v)
		trequire.NoError(t, err)
	}
	svc := NewService(&survey.Catalog{Tables: testTables()}, responses, nil)

	p1, err := svc.IntermediateP1(ctx, key)
	trequire.NoError(t, err)
	assert.Equal(t, 5, p1)

	result, diag, err := svc.Grade(ctx, key)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrMissingPrerequisiteAnswers)
	assert.Equal(t, 3, diag.TotalAnswers)
	assert.True(t, diag.Stages[0].Ready)

	_, _, err = NewService(&survey.Catalog{}, responses, nil).Grade(ctx, key)
	assert.ErrorIs(t, err, survey.ErrNoGradeTables)
}

func TestServiceIgnoresRawAnswerOfUnclassifiedQuestion(t *testing.T) {
	ctx := context.Background()
	responses := store.NewMemoryStore()
	key := store.SessionKey{UserID: 2, SessionID: 1}
	for qid, v := range map[int]string{9: "1", 10: "3"} {
		_, err := responses.AppendResponse(ctx, key, qid, v, v)
		trequire.NoError(t, err)
	}
	_, err := responses.AppendResponse(ctx, key, 8, "2", "")
	trequire.NoError(t, err)

	catalog := &survey.Catalog{
		QuestionList: []survey.Question{{ID: 8, Text: "Образование", Classifier: "Уровень: {answer}"}},
		Tables:       testTables(),
	}
	svc := NewService(catalog, responses, nil)

	_, err = svc.IntermediateP1(ctx, key)
	assert.ErrorIs(t, err, ErrMissingPrerequisiteAnswers)

	_, diag, err := svc.Grade(ctx, key)
	trequire.Error(t, err)
	assert.Equal(t, []int{8}, diag.Unclassified)
	assert.Equal(t, 3, diag.TotalAnswers)

	plain := NewService(&survey.Catalog{QuestionList: []survey.Question{{ID: 8}}, Tables: testTables()}, responses, nil)
	p1, err := plain.IntermediateP1(ctx, key)
	trequire.NoError(t, err)
	assert.Equal(t, 5, p1)
}
