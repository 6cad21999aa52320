package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"jobgrade/internal/store"
	"jobgrade/internal/survey"
)

const conditionKeyPrefix = "question_"

var ErrMalformedCondition = errors.New("malformed visibility condition")

// subQuestions lists questions that must be re-answered together with their parent.
var subQuestions = map[int][]int{
	13: {14, 15},
}

// Condition is a conjunction: every listed question's normalized answer must be one
// of its allowed values.
type Condition map[int][]string

// ParseCondition reads {"show_if": {"question_N": [allowed, ...]}}. Allowed values may
// be strings or numbers. An empty document or one without show_if yields no clauses.
func ParseCondition(raw string) (Condition, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Condition{}, nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCondition, err)
	}
	showIf, ok := doc["show_if"]
	if !ok {
		return Condition{}, nil
	}
	var clauses map[string][]json.RawMessage
	if err := json.Unmarshal(showIf, &clauses); err != nil {
		return nil, fmt.Errorf("%w: show_if: %v", ErrMalformedCondition, err)
	}

	cond := make(Condition, len(clauses))
	for key, values := range clauses {
		id, err := strconv.Atoi(strings.TrimPrefix(key, conditionKeyPrefix))
		if err != nil || !strings.HasPrefix(key, conditionKeyPrefix) {
			return nil, fmt.Errorf("%w: key %q", ErrMalformedCondition, key)
		}
		allowed := make([]string, 0, len(values))
		for _, v := range values {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				allowed = append(allowed, strings.TrimSpace(s))
				continue
			}
			var n json.Number
			if err := json.Unmarshal(v, &n); err != nil {
				return nil, fmt.Errorf("%w: value %s", ErrMalformedCondition, string(v))
			}
			allowed = append(allowed, n.String())
		}
		cond[id] = allowed
	}
	return cond, nil
}

// Satisfied reports whether every clause holds against the normalized answers.
func (c Condition) Satisfied(answers map[int]string) bool {
	for qid, allowed := range c {
		got, ok := answers[qid]
		if !ok {
			return false
		}
		got = strings.TrimSpace(got)
		match := false
		for _, a := range allowed {
			if a == got {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

type Resolver struct {
	ref       survey.Reference
	responses store.ResponseStore
	log       *slog.Logger
}

func New(ref survey.Reference, responses store.ResponseStore, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{ref: ref, responses: responses, log: log}
}

// RemainingQuestions computes the ordered queue for a session from its active responses.
func (r *Resolver) RemainingQuestions(ctx context.Context, key store.SessionKey) ([]int, error) {
	questions, err := r.ref.Questions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	active, err := r.responses.ActiveResponses(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list active responses: %w", err)
	}
	return Remaining(questions, store.AnswerMap(active), r.log), nil
}

// Remaining returns, in ascending ID order, every question without an active answer
// whose visibility condition holds. A malformed condition counts as visible.
func Remaining(questions []survey.Question, answers map[int]string, log *slog.Logger) []int {
	out := make([]int, 0, len(questions))
	for _, q := range questions {
		if _, answered := answers[q.ID]; answered {
			continue
		}
		if Visible(q, answers, log) {
			out = append(out, q.ID)
		}
	}
	sort.Ints(out)
	return out
}

func Visible(q survey.Question, answers map[int]string, log *slog.Logger) bool {
	if !q.HasShowConditions() {
		return true
	}
	cond, err := ParseCondition(q.ShowConditions)
	if err != nil {
		if log != nil {
			log.Warn("visibility condition ignored", "question_id", q.ID, "error", err)
		}
		return true
	}
	return cond.Satisfied(answers)
}

// ExpandSubquestions adds the dependent sub-questions of every parent in ids.
// Already present IDs are not repeated.
func ExpandSubquestions(ids []int) []int {
	out := make([]int, 0, len(ids)+2)
	seen := make(map[int]bool, len(ids)+2)
	add := func(id int) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range ids {
		add(id)
	}
	for _, id := range ids {
		for _, sub := range subQuestions[id] {
			add(sub)
		}
	}
	return out
}

// Requeue merges ids into the queue and returns it sorted without duplicates.
func Requeue(remaining, ids []int) []int {
	seen := make(map[int]bool, len(remaining)+len(ids))
	out := make([]int, 0, len(remaining)+len(ids))
	for _, list := range [][]int{remaining, ids} {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Ints(out)
	return out
}
