package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"jobgrade/internal/store"
	"jobgrade/internal/survey"
)

// Match is a triggered rule with its pairs in rule order.
type Match struct {
	RuleID int64             `json:"rule_id"`
	Pairs  []survey.RulePair `json:"pairs"`
}

func (m Match) QuestionIDs() []int {
	ids := make([]int, 0, len(m.Pairs))
	for _, p := range m.Pairs {
		ids = append(ids, p.QuestionID)
	}
	return ids
}

// Find evaluates every rule in table order. A rule matches when each of its pairs
// equals the current answer; the first mismatch eliminates it.
func Find(rules []survey.ConflictRule, answers map[int]int) []Match {
	out := make([]Match, 0)
	for _, rule := range rules {
		matched := true
		for _, p := range rule.Pairs {
			got, ok := answers[p.QuestionID]
			if !ok || got != p.AnswerID {
				matched = false
				break
			}
		}
		if matched {
			pairs := make([]survey.RulePair, len(rule.Pairs))
			copy(pairs, rule.Pairs)
			out = append(out, Match{RuleID: rule.ID, Pairs: pairs})
		}
	}
	return out
}

type Detector struct {
	ref       survey.Reference
	responses store.ResponseStore
	log       *slog.Logger
}

func NewDetector(ref survey.Reference, responses store.ResponseStore, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{ref: ref, responses: responses, log: log}
}

// FindConflicts matches the numeric answer map against the rule table. A missing
// table is an error, never an empty result.
func (d *Detector) FindConflicts(ctx context.Context, answers map[int]int) ([]Match, error) {
	rules, err := d.ref.ConflictRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load conflict rules: %w", err)
	}
	return Find(rules, answers), nil
}

// Check reads the session's active responses and returns every triggered rule.
func (d *Detector) Check(ctx context.Context, key store.SessionKey) ([]Match, error) {
	active, err := d.responses.ActiveResponses(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list active responses: %w", err)
	}
	matches, err := d.FindConflicts(ctx, survey.NumericAnswers(store.AnswerMap(active)))
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		d.log.Info("conflict detected",
			"user_id", key.UserID,
			"session_id", key.SessionID,
			"rule_id", matches[0].RuleID,
			"question_ids", matches[0].QuestionIDs(),
			"matches", len(matches),
		)
	}
	return matches, nil
}

// ExplanationPrompt asks for a short, role-aware explanation of the contradiction.
func ExplanationPrompt(m Match, portrait string) string {
	var b strings.Builder
	if strings.TrimSpace(portrait) != "" {
		b.WriteString("КОНТЕКСТ О ПОЛЬЗОВАТЕЛЕ:\n")
		b.WriteString(portrait)
		b.WriteString("\n\n")
	}
	b.WriteString("Ты - эксперт по оценке должностей. Обнаружено логическое противоречие в ответах пользователя.\n\n")
	b.WriteString("ПРОТИВОРЕЧИВЫЕ ОТВЕТЫ:\n")
	for i, p := range m.Pairs {
		fmt.Fprintf(&b, "• Критерий %d: %s\n", i+1, p.QuestionText)
		fmt.Fprintf(&b, "  Выбранный ответ: «%s»\n\n", p.AnswerText)
	}
	b.WriteString(`ЗАДАЧА:
1. Объясни КРАТКО (2-3 предложения), почему эти ответы противоречат друг другу
2. Приведи КОРОТКИЙ пример, релевантный для должности пользователя из контекста
3. Предложи, какие ответы стоит пересмотреть

Говори простым языком, без терминов методологии HAY, не более 5-6 предложений.

ФОРМАТ ОТВЕТА:
🔍 ОБНАРУЖЕНО ПРОТИВОРЕЧИЕ:
[объяснение]

💡 ПРИМЕР:
[пример]

🔧 РЕКОМЕНДАЦИЯ:
[что пересмотреть]`)
	return b.String()
}

// Summary lists the contradicting pairs without any model call.
func Summary(m Match) string {
	var b strings.Builder
	b.WriteString("Ответы противоречат друг другу:")
	for _, p := range m.Pairs {
		text := p.QuestionText
		if text == "" {
			text = fmt.Sprintf("Вопрос %d", p.QuestionID)
		}
		answer := p.AnswerText
		if answer == "" {
			answer = fmt.Sprint(p.AnswerID)
		}
		fmt.Fprintf(&b, "\n• %s: «%s»", text, answer)
	}
	return b.String()
}
