package grade

import (
	"sort"

	"jobgrade/internal/survey"
)

type StageDiagnostic struct {
	Stage      Stage `json:"stage"`
	Required   []int `json:"required"`
	Alternates []int `json:"alternates,omitempty"`
	Present    []int `json:"present"`
	Missing    []int `json:"missing"`
	Ready      bool  `json:"ready"`
}

// Diagnostic describes which pipeline inputs a session has. It is built whether or
// not the computation succeeds.
type Diagnostic struct {
	TotalAnswers int               `json:"total_answers"`
	AnsweredIDs  []int             `json:"answered_ids"`
	Unclassified []int             `json:"unclassified_ids"`
	Stages       []StageDiagnostic `json:"stages"`
}

// Diagnose inspects the normalized active answers of a session.
func Diagnose(answers map[int]string) Diagnostic {
	numeric := make(map[int]int, len(answers))
	d := Diagnostic{
		TotalAnswers: len(answers),
		AnsweredIDs:  make([]int, 0, len(answers)),
		Unclassified: make([]int, 0),
	}
	for qid, raw := range answers {
		d.AnsweredIDs = append(d.AnsweredIDs, qid)
		if v, ok := survey.ParseLevel(raw); ok {
			numeric[qid] = v
		} else {
			d.Unclassified = append(d.Unclassified, qid)
		}
	}
	sort.Ints(d.AnsweredIDs)
	sort.Ints(d.Unclassified)

	d.Stages = []StageDiagnostic{
		stageDiagnostic(StageP1, numeric, p1Inputs, nil),
		stageDiagnostic(StageP2, numeric, p2Inputs, nil),
		stageDiagnostic(StageP4, numeric, p4Base, []int{QuestionAlternateA, QuestionAlternateB}),
	}
	return d
}

// stageDiagnostic treats alternates as any-of: one present alternate satisfies them.
func stageDiagnostic(stage Stage, answers map[int]int, required, alternates []int) StageDiagnostic {
	sd := StageDiagnostic{
		Stage:      stage,
		Required:   append([]int(nil), required...),
		Alternates: alternates,
		Present:    make([]int, 0),
		Missing:    make([]int, 0),
	}
	for _, id := range required {
		if _, ok := answers[id]; ok {
			sd.Present = append(sd.Present, id)
		} else {
			sd.Missing = append(sd.Missing, id)
		}
	}
	alternateFound := len(alternates) == 0
	for _, id := range alternates {
		if _, ok := answers[id]; ok {
			sd.Present = append(sd.Present, id)
			alternateFound = true
		}
	}
	if !alternateFound {
		sd.Missing = append(sd.Missing, alternates...)
	}
	sort.Ints(sd.Present)
	sort.Ints(sd.Missing)
	sd.Ready = len(sd.Missing) == 0
	return sd
}
