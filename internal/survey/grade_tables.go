package survey

import (
	"math"
	"sort"
)

type P1Row struct {
	Q8    int `json:"answer_q8" db:"answer_q8"`
	Q9    int `json:"answer_q9" db:"answer_q9"`
	Q10   int `json:"answer_q10" db:"answer_q10"`
	Value int `json:"p1_value" db:"p1_value"`
}

type P2Row struct {
	Q11   int `json:"answer_q11" db:"answer_q11"`
	Q12   int `json:"answer_q12" db:"answer_q12"`
	Value int `json:"p2_value" db:"p2_value"`
}

// P3Row is keyed by computed values. P1 is stored as a decimal.
type P3Row struct {
	P1    float64 `json:"p1_value" db:"p1_value"`
	P2    int     `json:"p2_value" db:"p2_value"`
	Value int     `json:"p3_value" db:"p3_value"`
}

// P4Row serves both alternate tables; Alternate is the Q14 or Q15 answer.
type P4Row struct {
	Q16       int `json:"answer_q16" db:"answer_q16"`
	Q13       int `json:"answer_q13" db:"answer_q13"`
	Alternate int `json:"answer_alt" db:"answer_alt"`
	Value     int `json:"p4_value" db:"p4_value"`
}

type ScaleRow struct {
	Low   int    `json:"low" db:"low_bound"`
	Mid   int    `json:"mid" db:"mid_point"`
	High  int    `json:"high" db:"high_bound"`
	Grade string `json:"grade" db:"grade"`
}

// GradeTables holds the chained lookup tables. Lookups are first-row-wins in table order.
type GradeTables struct {
	P1    []P1Row    `json:"p1"`
	P2    []P2Row    `json:"p2"`
	P3    []P3Row    `json:"p3"`
	P4Q14 []P4Row    `json:"p4_14"`
	P4Q15 []P4Row    `json:"p4_15"`
	Scale []ScaleRow `json:"scale"`
}

func (t *GradeTables) LookupP1(q8, q9, q10 int) (int, bool) {
	for _, r := range t.P1 {
		if r.Q8 == q8 && r.Q9 == q9 && r.Q10 == q10 {
			return r.Value, true
		}
	}
	return 0, false
}

func (t *GradeTables) LookupP2(q11, q12 int) (int, bool) {
	for _, r := range t.P2 {
		if r.Q11 == q11 && r.Q12 == q12 {
			return r.Value, true
		}
	}
	return 0, false
}

// LookupP3 compares P1 as a decimal against the stored key.
func (t *GradeTables) LookupP3(p1 float64, p2 int) (int, bool) {
	for _, r := range t.P3 {
		if math.Abs(r.P1-p1) < 1e-9 && r.P2 == p2 {
			return r.Value, true
		}
	}
	return 0, false
}

func (t *GradeTables) LookupP4ByQ14(q16, q13, q14 int) (int, bool) {
	return lookupP4(t.P4Q14, q16, q13, q14)
}

func (t *GradeTables) LookupP4ByQ15(q16, q13, q15 int) (int, bool) {
	return lookupP4(t.P4Q15, q16, q13, q15)
}

func lookupP4(rows []P4Row, q16, q13, alt int) (int, bool) {
	for _, r := range rows {
		if r.Q16 == q16 && r.Q13 == q13 && r.Alternate == alt {
			return r.Value, true
		}
	}
	return 0, false
}

// LookupScale returns the row whose inclusive bounds contain total. Overlapping rows
// resolve to the lowest low bound.
func (t *GradeTables) LookupScale(total int) (ScaleRow, bool) {
	rows := make([]ScaleRow, len(t.Scale))
	copy(rows, t.Scale)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Low < rows[j].Low })
	for _, r := range rows {
		if total >= r.Low && total <= r.High {
			return r, true
		}
	}
	return ScaleRow{}, false
}
