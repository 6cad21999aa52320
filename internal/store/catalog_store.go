package store

import (
	"context"
	"database/sql"
	"fmt"

	"jobgrade/internal/db"
	"jobgrade/internal/survey"

	"golang.org/x/sync/errgroup"
)

type conflictRow struct {
	ID int64 `db:"id"`

	Q1     int    `db:"question1_id"`
	A1     int    `db:"answer1_id"`
	Q1Text string `db:"question1_text"`
	A1Text string `db:"answer1_text"`
	Q2     int    `db:"question2_id"`
	A2     int    `db:"answer2_id"`
	Q2Text string `db:"question2_text"`
	A2Text string `db:"answer2_text"`

	Q3     sql.NullInt64 `db:"question3_id"`
	A3     sql.NullInt64 `db:"answer3_id"`
	Q3Text string        `db:"question3_text"`
	A3Text string        `db:"answer3_text"`
	Q4     sql.NullInt64 `db:"question4_id"`
	A4     sql.NullInt64 `db:"answer4_id"`
	Q4Text string        `db:"question4_text"`
	A4Text string        `db:"answer4_text"`
	Q5     sql.NullInt64 `db:"question5_id"`
	A5     sql.NullInt64 `db:"answer5_id"`
	Q5Text string        `db:"question5_text"`
	A5Text string        `db:"answer5_text"`
}

func optionalPair(q, a sql.NullInt64, qText, aText string) survey.OptionalPair {
	p := survey.OptionalPair{QuestionText: qText, AnswerText: aText}
	if q.Valid {
		v := int(q.Int64)
		p.QuestionID = &v
	}
	if a.Valid {
		v := int(a.Int64)
		p.AnswerID = &v
	}
	return p
}

func (r conflictRow) rule() (survey.ConflictRule, error) {
	return survey.NewConflictRule(r.ID,
		survey.RulePair{QuestionID: r.Q1, AnswerID: r.A1, QuestionText: r.Q1Text, AnswerText: r.A1Text},
		survey.RulePair{QuestionID: r.Q2, AnswerID: r.A2, QuestionText: r.Q2Text, AnswerText: r.A2Text},
		optionalPair(r.Q3, r.A3, r.Q3Text, r.A3Text),
		optionalPair(r.Q4, r.A4, r.Q4Text, r.A4Text),
		optionalPair(r.Q5, r.A5, r.Q5Text, r.A5Text),
	)
}

func conflictRowFromRule(rule survey.ConflictRule) conflictRow {
	row := conflictRow{}
	nullable := func(i int) (sql.NullInt64, sql.NullInt64, string, string) {
		if i >= len(rule.Pairs) {
			return sql.NullInt64{}, sql.NullInt64{}, "", ""
		}
		p := rule.Pairs[i]
		return sql.NullInt64{Int64: int64(p.QuestionID), Valid: true}, sql.NullInt64{Int64: int64(p.AnswerID), Valid: true}, p.QuestionText, p.AnswerText
	}
	row.Q1, row.A1, row.Q1Text, row.A1Text = rule.Pairs[0].QuestionID, rule.Pairs[0].AnswerID, rule.Pairs[0].QuestionText, rule.Pairs[0].AnswerText
	row.Q2, row.A2, row.Q2Text, row.A2Text = rule.Pairs[1].QuestionID, rule.Pairs[1].AnswerID, rule.Pairs[1].QuestionText, rule.Pairs[1].AnswerText
	row.Q3, row.A3, row.Q3Text, row.A3Text = nullable(2)
	row.Q4, row.A4, row.Q4Text, row.A4Text = nullable(3)
	row.Q5, row.A5, row.Q5Text, row.A5Text = nullable(4)
	return row
}

// LoadCatalog reads every reference table concurrently and builds an indexed catalog.
func (s *SQLStore) LoadCatalog(ctx context.Context) (*survey.Catalog, error) {
	c := &survey.Catalog{Tables: &survey.GradeTables{}}
	var conflicts []conflictRow

	g, gctx := errgroup.WithContext(ctx)
	load := func(dst any, query string) {
		g.Go(func() error {
			if err := s.db.SelectContext(gctx, dst, query); err != nil {
				return fmt.Errorf("load reference: %w", err)
			}
			return nil
		})
	}
	load(&c.QuestionList, `SELECT id, question, answer_options, verification_instruction, classifier, show_conditions, section FROM questions ORDER BY id`)
	load(&conflicts, `SELECT * FROM conflicts ORDER BY id`)
	load(&c.Tables.P1, `SELECT answer_q8, answer_q9, answer_q10, p1_value FROM grading_p1 ORDER BY id`)
	load(&c.Tables.P2, `SELECT answer_q11, answer_q12, p2_value FROM grading_p2 ORDER BY id`)
	load(&c.Tables.P3, `SELECT p1_value, p2_value, p3_value FROM grading_p3 ORDER BY id`)
	load(&c.Tables.P4Q14, `SELECT answer_q16, answer_q13, answer_q14 AS answer_alt, p4_value FROM grading_p4_14 ORDER BY id`)
	load(&c.Tables.P4Q15, `SELECT answer_q16, answer_q13, answer_q15 AS answer_alt, p4_value FROM grading_p4_15 ORDER BY id`)
	load(&c.Tables.Scale, `SELECT low_bound, mid_point, high_bound, grade FROM grading_scale ORDER BY low_bound, id`)
	load(&c.VariantRows, `SELECT p1_value, q11_variant_text, q11_answer_value, q12_variant_text, q12_answer_value FROM question_variants_q11_q12 ORDER BY id`)
	load(&c.Hay, `SELECT question_number, answer_number, hay_definition FROM hay_dictionary ORDER BY question_number, answer_number`)
	load(&c.Hierarchy, `SELECT id, role, id_rod, full_path FROM shtat_hierarchy ORDER BY id`)
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.Rules = make([]survey.ConflictRule, 0, len(conflicts))
	for _, row := range conflicts {
		rule, err := row.rule()
		if err != nil {
			return nil, fmt.Errorf("load conflict %d: %w", row.ID, err)
		}
		c.Rules = append(c.Rules, rule)
	}
	return c.Index(), nil
}

// SaveCatalog replaces all reference tables in one transaction.
func (s *SQLStore) SaveCatalog(ctx context.Context, c *survey.Catalog) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range db.ReferenceTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	insert := func(query string, rows any) error {
		if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
			return fmt.Errorf("insert reference rows: %w", err)
		}
		return nil
	}
	steps := []struct {
		n     int
		query string
		rows  any
	}{
		{len(c.QuestionList), `INSERT INTO questions (id, question, answer_options, verification_instruction, classifier, show_conditions, section)
			VALUES (:id, :question, :answer_options, :verification_instruction, :classifier, :show_conditions, :section)`, c.QuestionList},
		{len(c.VariantRows), `INSERT INTO question_variants_q11_q12 (p1_value, q11_variant_text, q11_answer_value, q12_variant_text, q12_answer_value)
			VALUES (:p1_value, :q11_variant_text, :q11_answer_value, :q12_variant_text, :q12_answer_value)`, c.VariantRows},
		{len(c.Hay), `INSERT INTO hay_dictionary (question_number, answer_number, hay_definition)
			VALUES (:question_number, :answer_number, :hay_definition)`, c.Hay},
		{len(c.Hierarchy), `INSERT INTO shtat_hierarchy (id, role, id_rod, full_path)
			VALUES (:id, :role, :id_rod, :full_path)`, c.Hierarchy},
	}
	if t := c.Tables; t != nil {
		steps = append(steps, []struct {
			n     int
			query string
			rows  any
		}{
			{len(t.P1), `INSERT INTO grading_p1 (answer_q8, answer_q9, answer_q10, p1_value) VALUES (:answer_q8, :answer_q9, :answer_q10, :p1_value)`, t.P1},
			{len(t.P2), `INSERT INTO grading_p2 (answer_q11, answer_q12, p2_value) VALUES (:answer_q11, :answer_q12, :p2_value)`, t.P2},
			{len(t.P3), `INSERT INTO grading_p3 (p1_value, p2_value, p3_value) VALUES (:p1_value, :p2_value, :p3_value)`, t.P3},
			{len(t.P4Q14), `INSERT INTO grading_p4_14 (answer_q16, answer_q13, answer_q14, p4_value) VALUES (:answer_q16, :answer_q13, :answer_alt, :p4_value)`, t.P4Q14},
			{len(t.P4Q15), `INSERT INTO grading_p4_15 (answer_q16, answer_q13, answer_q15, p4_value) VALUES (:answer_q16, :answer_q13, :answer_alt, :p4_value)`, t.P4Q15},
			{len(t.Scale), `INSERT INTO grading_scale (low_bound, mid_point, high_bound, grade) VALUES (:low_bound, :mid_point, :high_bound, :grade)`, t.Scale},
		}...)
	}
	if len(c.Rules) > 0 {
		rows := make([]conflictRow, 0, len(c.Rules))
		for _, rule := range c.Rules {
			rows = append(rows, conflictRowFromRule(rule))
		}
		steps = append(steps, struct {
			n     int
			query string
			rows  any
		}{len(rows), `INSERT INTO conflicts (
				question1_id, answer1_id, question1_text, answer1_text,
				question2_id, answer2_id, question2_text, answer2_text,
				question3_id, answer3_id, question3_text, answer3_text,
				question4_id, answer4_id, question4_text, answer4_text,
				question5_id, answer5_id, question5_text, answer5_text)
			VALUES (
				:question1_id, :answer1_id, :question1_text, :answer1_text,
				:question2_id, :answer2_id, :question2_text, :answer2_text,
				:question3_id, :answer3_id, :question3_text, :answer3_text,
				:question4_id, :answer4_id, :question4_text, :answer4_text,
				:question5_id, :answer5_id, :question5_text, :answer5_text)`, rows})
	}

	for _, step := range steps {
		if step.n == 0 {
			continue
		}
		if err := insert(step.query, step.rows); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog tx: %w", err)
	}
	return nil
}
