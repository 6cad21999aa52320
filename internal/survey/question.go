package survey

import (
	"strconv"
	"strings"
)

// Question is one catalog entry. Options, verification instruction, classifier and
// show conditions are optional and kept in their stored textual form.
type Question struct {
	ID                      int    `json:"id" db:"id"`
	Text                    string `json:"question" db:"question"`
	AnswerOptions           string `json:"answer_options,omitempty" db:"answer_options"`
	VerificationInstruction string `json:"verification_instruction,omitempty" db:"verification_instruction"`
	Classifier              string `json:"classifier,omitempty" db:"classifier"`
	ShowConditions          string `json:"show_conditions,omitempty" db:"show_conditions"`
	Section                 string `json:"section,omitempty" db:"section"`
}

// Options splits the ";"-separated answer options.
func (q Question) Options() []string {
	return ParseOptions(q.AnswerOptions)
}

func (q Question) HasOptions() bool {
	return len(q.Options()) > 0
}

func (q Question) HasClassifier() bool {
	return strings.TrimSpace(q.Classifier) != ""
}

func (q Question) HasShowConditions() bool {
	return strings.TrimSpace(q.ShowConditions) != ""
}

func ParseOptions(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseLevel reads a normalized answer as an integer level. Anything that is not a
// plain integer is reported as unclassified.
func ParseLevel(normalized string) (int, bool) {
	s := strings.TrimSpace(normalized)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NumericAnswers keeps the answers that parse as levels. Unclassified answers are
// dropped and can never match a rule or a table row.
func NumericAnswers(answers map[int]string) map[int]int {
	out := make(map[int]int, len(answers))
	for qid, raw := range answers {
		if v, ok := ParseLevel(raw); ok {
			out[qid] = v
		}
	}
	return out
}
