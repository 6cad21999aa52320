package grade

import (
	"fmt"
	"sort"

	"jobgrade/internal/survey"
)

// Questions feeding the pipeline.
const (
	QuestionEducation  = 8
	QuestionExperience = 9
	QuestionComplexity = 10
	QuestionScope      = 11
	QuestionImpact     = 12
	QuestionFunctions  = 13
	QuestionAlternateA = 14
	QuestionAlternateB = 15
	QuestionInfluence  = 16
)

const emptyGradePlaceholder = "—"

var (
	p1Inputs = []int{QuestionEducation, QuestionExperience, QuestionComplexity}
	p2Inputs = []int{QuestionScope, QuestionImpact}
	p4Base   = []int{QuestionFunctions, QuestionInfluence}
)

// P4Input selects which alternate table P4 is read from.
type P4Input interface {
	table() string
}

// ByFirstAlternate reads P4 from the p4-14 table.
type ByFirstAlternate struct {
	Q16, Q13, Q14 int
}

// BySecondAlternate reads P4 from the p4-15 table.
type BySecondAlternate struct {
	Q16, Q13, Q15 int
}

func (ByFirstAlternate) table() string  { return survey.SheetP4Q14 }
func (BySecondAlternate) table() string { return survey.SheetP4Q15 }

type Result struct {
	P1     int             `json:"p1"`
	P2     int             `json:"p2"`
	P3     int             `json:"p3"`
	P4     int             `json:"p4"`
	P4Path string          `json:"p4_table"`
	Total  int             `json:"total"`
	Grade  string          `json:"grade"`
	Range  string          `json:"range"`
	Scale  survey.ScaleRow `json:"scale"`
}

type Calculator struct {
	tables *survey.GradeTables
}

func NewCalculator(tables *survey.GradeTables) *Calculator {
	return &Calculator{tables: tables}
}

// P1 is shared by Compute and the intermediate lookup used for adaptive variants.
func (c *Calculator) P1(answers map[int]int) (int, error) {
	v, err := require(StageP1, answers, p1Inputs)
	if err != nil {
		return 0, err
	}
	p1, ok := c.tables.LookupP1(v[0], v[1], v[2])
	if !ok {
		return 0, &LookupMissError{Stage: StageP1, Inputs: map[string]any{"q8": v[0], "q9": v[1], "q10": v[2]}}
	}
	return p1, nil
}

func (c *Calculator) P2(answers map[int]int) (int, error) {
	v, err := require(StageP2, answers, p2Inputs)
	if err != nil {
		return 0, err
	}
	p2, ok := c.tables.LookupP2(v[0], v[1])
	if !ok {
		return 0, &LookupMissError{Stage: StageP2, Inputs: map[string]any{"q11": v[0], "q12": v[1]}}
	}
	return p2, nil
}

// P3 is keyed by the computed values; P1 is compared as a decimal.
func (c *Calculator) P3(p1, p2 int) (int, error) {
	p3, ok := c.tables.LookupP3(float64(p1), p2)
	if !ok {
		return 0, &LookupMissError{Stage: StageP3, Inputs: map[string]any{"p1": float64(p1), "p2": p2}}
	}
	return p3, nil
}

// SelectP4Input picks the alternate path from the answers actually given. The first
// alternate wins when both are present.
func SelectP4Input(answers map[int]int) (P4Input, error) {
	base, err := require(StageP4, answers, p4Base)
	if err != nil {
		return nil, err
	}
	q13, q16 := base[0], base[1]
	if q14, ok := answers[QuestionAlternateA]; ok {
		return ByFirstAlternate{Q16: q16, Q13: q13, Q14: q14}, nil
	}
	if q15, ok := answers[QuestionAlternateB]; ok {
		return BySecondAlternate{Q16: q16, Q13: q13, Q15: q15}, nil
	}
	return nil, &MissingPrerequisiteAnswersError{
		Stage:   StageP4,
		Missing: []int{QuestionAlternateA, QuestionAlternateB},
		Present: present(answers, []int{QuestionFunctions, QuestionAlternateA, QuestionAlternateB, QuestionInfluence}),
	}
}

func (c *Calculator) P4(in P4Input) (int, error) {
	switch v := in.(type) {
	case ByFirstAlternate:
		if p4, ok := c.tables.LookupP4ByQ14(v.Q16, v.Q13, v.Q14); ok {
			return p4, nil
		}
		return 0, &LookupMissError{Stage: StageP4, Inputs: map[string]any{"q16": v.Q16, "q13": v.Q13, "q14": v.Q14}}
	case BySecondAlternate:
		if p4, ok := c.tables.LookupP4ByQ15(v.Q16, v.Q13, v.Q15); ok {
			return p4, nil
		}
		return 0, &LookupMissError{Stage: StageP4, Inputs: map[string]any{"q16": v.Q16, "q13": v.Q13, "q15": v.Q15}}
	default:
		return 0, fmt.Errorf("unknown P4 input %T", in)
	}
}

// Compute walks P1, P2, P3, P4 and the scale. The total is P1 + P3 + P4; P2 only
// feeds P3.
func (c *Calculator) Compute(answers map[int]int) (*Result, error) {
	p1, err := c.P1(answers)
	if err != nil {
		return nil, err
	}
	p2, err := c.P2(answers)
	if err != nil {
		return nil, err
	}
	p3, err := c.P3(p1, p2)
	if err != nil {
		return nil, err
	}
	in, err := SelectP4Input(answers)
	if err != nil {
		return nil, err
	}
	p4, err := c.P4(in)
	if err != nil {
		return nil, err
	}

	total := p1 + p3 + p4
	row, ok := c.tables.LookupScale(total)
	if !ok {
		return nil, &LookupMissError{Stage: StageScale, Inputs: map[string]any{"total": total}}
	}
	name := row.Grade
	if name == "" {
		name = emptyGradePlaceholder
	}
	return &Result{
		P1:     p1,
		P2:     p2,
		P3:     p3,
		P4:     p4,
		P4Path: in.table(),
		Total:  total,
		Grade:  name,
		Range:  fmt.Sprintf("%d-%d", row.Low, row.High),
		Scale:  row,
	}, nil
}

func require(stage Stage, answers map[int]int, ids []int) ([]int, error) {
	values := make([]int, 0, len(ids))
	missing := make([]int, 0)
	for _, id := range ids {
		v, ok := answers[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		values = append(values, v)
	}
	if len(missing) > 0 {
		return nil, &MissingPrerequisiteAnswersError{Stage: stage, Missing: missing, Present: present(answers, ids)}
	}
	return values, nil
}

func present(answers map[int]int, ids []int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := answers[id]; ok {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}
