package survey

import (
	"context"
	"errors"
	"sort"
	"strings"
)

var (
	ErrQuestionNotFound      = errors.New("question not found")
	ErrHierarchyItemNotFound = errors.New("hierarchy item not found")
	ErrNoConflictRules       = errors.New("conflict rule table not loaded")
	ErrNoGradeTables         = errors.New("grade tables not loaded")
	ErrVariantQuestion       = errors.New("adaptive variants exist only for questions 11 and 12")
)

const (
	VariantQuestionFirst  = 11
	VariantQuestionSecond = 12
)

// VariantRow links a Q11 option to a Q12 option for one computed P1 value.
type VariantRow struct {
	P1        int    `json:"p1_value" db:"p1_value"`
	Q11Text   string `json:"q11_variant_text" db:"q11_variant_text"`
	Q11Answer int    `json:"q11_answer_value" db:"q11_answer_value"`
	Q12Text   string `json:"q12_variant_text" db:"q12_variant_text"`
	Q12Answer int    `json:"q12_answer_value" db:"q12_answer_value"`
}

// Option is one selectable answer with the level it stands for.
type Option struct {
	Text  string `json:"text"`
	Value int    `json:"value"`
}

type HierarchyItem struct {
	ID       int    `json:"id" db:"id"`
	Role     string `json:"role" db:"role"`
	ParentID int    `json:"parent_id" db:"id_rod"`
	FullPath string `json:"full_path" db:"full_path"`
}

type HayDefinition struct {
	QuestionNumber int    `json:"question_number" db:"question_number"`
	AnswerNumber   int    `json:"answer_number" db:"answer_number"`
	Definition     string `json:"hay_definition" db:"hay_definition"`
}

// Reference is the read-only view of the per-deployment tables.
type Reference interface {
	Question(ctx context.Context, id int) (Question, error)
	Questions(ctx context.Context) ([]Question, error)
	ConflictRules(ctx context.Context) ([]ConflictRule, error)
	GradeTables(ctx context.Context) (*GradeTables, error)
	Variants(ctx context.Context, questionID, p1 int, q11Answer *int) ([]Option, error)
	HierarchyChildren(ctx context.Context, parentID int) ([]HierarchyItem, error)
	HierarchyItem(ctx context.Context, id int) (HierarchyItem, error)
	IsHierarchyLeaf(ctx context.Context, id int) bool
	HayDefinition(ctx context.Context, questionNumber, answerNumber int) (string, bool)
}

// Catalog is an in-memory Reference. It is built once and never mutated afterwards.
type Catalog struct {
	QuestionList []Question      `json:"questions"`
	Rules        []ConflictRule  `json:"conflicts"`
	Tables       *GradeTables    `json:"grade_tables"`
	VariantRows  []VariantRow    `json:"variants"`
	Hierarchy    []HierarchyItem `json:"hierarchy"`
	Hay          []HayDefinition `json:"hay_dictionary"`

	byID map[int]Question
}

// Index sorts questions by ID and builds lookups. Call it after filling the fields.
func (c *Catalog) Index() *Catalog {
	sort.SliceStable(c.QuestionList, func(i, j int) bool { return c.QuestionList[i].ID < c.QuestionList[j].ID })
	c.byID = make(map[int]Question, len(c.QuestionList))
	for _, q := range c.QuestionList {
		c.byID[q.ID] = q
	}
	return c
}

func (c *Catalog) Question(_ context.Context, id int) (Question, error) {
	if c.byID != nil {
		if q, ok := c.byID[id]; ok {
			return q, nil
		}
		return Question{}, ErrQuestionNotFound
	}
	for _, q := range c.QuestionList {
		if q.ID == id {
			return q, nil
		}
	}
	return Question{}, ErrQuestionNotFound
}

func (c *Catalog) Questions(_ context.Context) ([]Question, error) {
	out := make([]Question, len(c.QuestionList))
	copy(out, c.QuestionList)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Catalog) ConflictRules(_ context.Context) ([]ConflictRule, error) {
	if c.Rules == nil {
		return nil, ErrNoConflictRules
	}
	return c.Rules, nil
}

func (c *Catalog) GradeTables(_ context.Context) (*GradeTables, error) {
	if c.Tables == nil {
		return nil, ErrNoGradeTables
	}
	return c.Tables, nil
}

// Variants returns the adaptive options for Q11 (by P1) or Q12 (by P1 and the Q11 answer),
// ordered by answer value. Q12 without a Q11 answer yields no options.
func (c *Catalog) Variants(_ context.Context, questionID, p1 int, q11Answer *int) ([]Option, error) {
	seen := map[int]bool{}
	out := make([]Option, 0)
	switch questionID {
	case VariantQuestionFirst:
		for _, r := range c.VariantRows {
			if r.P1 != p1 || seen[r.Q11Answer] {
				continue
			}
			seen[r.Q11Answer] = true
			out = append(out, Option{Text: r.Q11Text, Value: r.Q11Answer})
		}
	case VariantQuestionSecond:
		if q11Answer == nil {
			return out, nil
		}
		for _, r := range c.VariantRows {
			if r.P1 != p1 || r.Q11Answer != *q11Answer || seen[r.Q12Answer] {
				continue
			}
			seen[r.Q12Answer] = true
			out = append(out, Option{Text: r.Q12Text, Value: r.Q12Answer})
		}
	default:
		return nil, ErrVariantQuestion
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out, nil
}

// HierarchyChildren lists direct children ordered by role name. Parent 0 lists roots.
func (c *Catalog) HierarchyChildren(_ context.Context, parentID int) ([]HierarchyItem, error) {
	out := make([]HierarchyItem, 0)
	for _, it := range c.Hierarchy {
		if it.ParentID == parentID {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out, nil
}

func (c *Catalog) HierarchyItem(_ context.Context, id int) (HierarchyItem, error) {
	for _, it := range c.Hierarchy {
		if it.ID == id {
			return it, nil
		}
	}
	return HierarchyItem{}, ErrHierarchyItemNotFound
}

// IsHierarchyLeaf reports whether no item names id as its parent.
func (c *Catalog) IsHierarchyLeaf(_ context.Context, id int) bool {
	for _, it := range c.Hierarchy {
		if it.ParentID == id {
			return false
		}
	}
	return true
}

func (c *Catalog) HayDefinition(_ context.Context, questionNumber, answerNumber int) (string, bool) {
	for _, d := range c.Hay {
		if d.QuestionNumber == questionNumber && d.AnswerNumber == answerNumber {
			def := strings.TrimSpace(d.Definition)
			return def, def != ""
		}
	}
	return "", false
}
