package survey

import (
	"errors"
	"fmt"
)

const (
	mandatoryPairs = 2
	maxRulePairs   = 5
)

var ErrMalformedRule = errors.New("malformed conflict rule")

// RulePair is one (question, required answer) clause of a conflict rule.
type RulePair struct {
	QuestionID   int    `json:"question_id"`
	AnswerID     int    `json:"answer_id"`
	QuestionText string `json:"question_text"`
	AnswerText   string `json:"answer_text"`
}

// OptionalPair is a stored optional clause. It takes part in matching only when both
// the question and the required answer are present.
type OptionalPair struct {
	QuestionID   *int
	AnswerID     *int
	QuestionText string
	AnswerText   string
}

func (p OptionalPair) defined() bool {
	return p.QuestionID != nil && p.AnswerID != nil
}

// ConflictRule keeps its pairs in table order: the first two are mandatory, the rest
// are the defined optional ones.
type ConflictRule struct {
	ID    int64      `json:"id"`
	Pairs []RulePair `json:"pairs"`
}

func NewConflictRule(id int64, first, second RulePair, optional ...OptionalPair) (ConflictRule, error) {
	if len(optional) > maxRulePairs-mandatoryPairs {
		return ConflictRule{}, fmt.Errorf("%w: rule %d has %d optional pairs", ErrMalformedRule, id, len(optional))
	}
	if first.QuestionID <= 0 || second.QuestionID <= 0 {
		return ConflictRule{}, fmt.Errorf("%w: rule %d lacks a mandatory question", ErrMalformedRule, id)
	}

	rule := ConflictRule{ID: id, Pairs: []RulePair{first, second}}
	for _, p := range optional {
		if !p.defined() {
			continue
		}
		rule.Pairs = append(rule.Pairs, RulePair{
			QuestionID:   *p.QuestionID,
			AnswerID:     *p.AnswerID,
			QuestionText: p.QuestionText,
			AnswerText:   p.AnswerText,
		})
	}
	return rule, nil
}

func (r ConflictRule) QuestionIDs() []int {
	ids := make([]int, 0, len(r.Pairs))
	for _, p := range r.Pairs {
		ids = append(ids, p.QuestionID)
	}
	return ids
}
