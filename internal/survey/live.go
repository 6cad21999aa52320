package survey

import (
	"context"
	"sync/atomic"
)

// Live serves the current catalog and lets an import replace it without a restart.
// Sessions already in flight pick up the new tables on their next lookup.
type Live struct {
	cur atomic.Pointer[Catalog]
}

func NewLive(c *Catalog) *Live {
	l := &Live{}
	l.Swap(c)
	return l
}

func (l *Live) Swap(c *Catalog) {
	if c == nil {
		c = &Catalog{}
	}
	l.cur.Store(c.Index())
}

func (l *Live) Catalog() *Catalog {
	return l.cur.Load()
}

func (l *Live) Question(ctx context.Context, id int) (Question, error) {
	return l.Catalog().Question(ctx, id)
}

func (l *Live) Questions(ctx context.Context) ([]Question, error) {
	return l.Catalog().Questions(ctx)
}

func (l *Live) ConflictRules(ctx context.Context) ([]ConflictRule, error) {
	return l.Catalog().ConflictRules(ctx)
}

func (l *Live) GradeTables(ctx context.Context) (*GradeTables, error) {
	return l.Catalog().GradeTables(ctx)
}

func (l *Live) Variants(ctx context.Context, questionID, p1 int, q11Answer *int) ([]Option, error) {
	return l.Catalog().Variants(ctx, questionID, p1, q11Answer)
}

func (l *Live) HierarchyChildren(ctx context.Context, parentID int) ([]HierarchyItem, error) {
	return l.Catalog().HierarchyChildren(ctx, parentID)
}

func (l *Live) HierarchyItem(ctx context.Context, id int) (HierarchyItem, error) {
	return l.Catalog().HierarchyItem(ctx, id)
}

func (l *Live) IsHierarchyLeaf(ctx context.Context, id int) bool {
	return l.Catalog().IsHierarchyLeaf(ctx, id)
}

func (l *Live) HayDefinition(ctx context.Context, questionNumber, answerNumber int) (string, bool) {
	return l.Catalog().HayDefinition(ctx, questionNumber, answerNumber)
}
