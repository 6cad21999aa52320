package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type dialect struct {
	serial string
	double string
	now    string
}

var dialects = map[string]dialect{
	DriverPgx:    {serial: "BIGSERIAL PRIMARY KEY", double: "DOUBLE PRECISION", now: "TIMESTAMPTZ NOT NULL DEFAULT now()"},
	DriverSQLite: {serial: "INTEGER PRIMARY KEY AUTOINCREMENT", double: "REAL", now: "TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP"},
}

// ReferenceTables lists the tables replaced wholesale by a reference import, in
// delete order.
var ReferenceTables = []string{
	"conflicts",
	"grading_p1",
	"grading_p2",
	"grading_p3",
	"grading_p4_14",
	"grading_p4_15",
	"grading_scale",
	"question_variants_q11_q12",
	"hay_dictionary",
	"shtat_hierarchy",
	"questions",
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY,
		question TEXT NOT NULL,
		answer_options TEXT NOT NULL DEFAULT '',
		verification_instruction TEXT NOT NULL DEFAULT '',
		classifier TEXT NOT NULL DEFAULT '',
		show_conditions TEXT NOT NULL DEFAULT '',
		section TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS responses (
		id {{serial}},
		user_id BIGINT NOT NULL,
		session_id INTEGER NOT NULL,
		question INTEGER NOT NULL,
		answer TEXT NOT NULL DEFAULT '',
		final_answer TEXT,
		user_state TEXT,
		user_portrait TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at {{now}}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_responses_session ON responses (user_id, session_id, status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_responses_active ON responses (user_id, session_id, question) WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS conflicts (
		id {{serial}},
		question1_id INTEGER NOT NULL,
		answer1_id INTEGER NOT NULL,
		question1_text TEXT NOT NULL DEFAULT '',
		answer1_text TEXT NOT NULL DEFAULT '',
		question2_id INTEGER NOT NULL,
		answer2_id INTEGER NOT NULL,
		question2_text TEXT NOT NULL DEFAULT '',
		answer2_text TEXT NOT NULL DEFAULT '',
		question3_id INTEGER,
		answer3_id INTEGER,
		question3_text TEXT NOT NULL DEFAULT '',
		answer3_text TEXT NOT NULL DEFAULT '',
		question4_id INTEGER,
		answer4_id INTEGER,
		question4_text TEXT NOT NULL DEFAULT '',
		answer4_text TEXT NOT NULL DEFAULT '',
		question5_id INTEGER,
		answer5_id INTEGER,
		question5_text TEXT NOT NULL DEFAULT '',
		answer5_text TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS grading_p1 (
		id {{serial}},
		answer_q8 INTEGER NOT NULL,
		answer_q9 INTEGER NOT NULL,
		answer_q10 INTEGER NOT NULL,
		p1_value INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS grading_p2 (
		id {{serial}},
		answer_q11 INTEGER NOT NULL,
		answer_q12 INTEGER NOT NULL,
		p2_value INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS grading_p3 (
		id {{serial}},
		p1_value {{double}} NOT NULL,
		p2_value INTEGER NOT NULL,
		p3_value INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS grading_p4_14 (
		id {{serial}},
		answer_q16 INTEGER NOT NULL,
		answer_q13 INTEGER NOT NULL,
		answer_q14 INTEGER NOT NULL,
		p4_value INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS grading_p4_15 (
		id {{serial}},
		answer_q16 INTEGER NOT NULL,
		answer_q13 INTEGER NOT NULL,
		answer_q15 INTEGER NOT NULL,
		p4_value INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS grading_scale (
		id {{serial}},
		low_bound INTEGER NOT NULL,
		mid_point INTEGER NOT NULL,
		high_bound INTEGER NOT NULL,
		grade TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS question_variants_q11_q12 (
		id {{serial}},
		p1_value INTEGER NOT NULL,
		q11_variant_text TEXT NOT NULL,
		q11_answer_value INTEGER NOT NULL,
		q12_variant_text TEXT NOT NULL,
		q12_answer_value INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_variants_p1 ON question_variants_q11_q12 (p1_value, q11_answer_value)`,
	`CREATE TABLE IF NOT EXISTS hay_dictionary (
		question_number INTEGER NOT NULL,
		answer_number INTEGER NOT NULL,
		hay_definition TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (question_number, answer_number)
	)`,
	`CREATE TABLE IF NOT EXISTS shtat_hierarchy (
		id INTEGER PRIMARY KEY,
		role TEXT NOT NULL,
		id_rod INTEGER NOT NULL DEFAULT 0,
		full_path TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_shtat_parent ON shtat_hierarchy (id_rod)`,
}

// Statements renders the schema for one driver.
func Statements(driver string) ([]string, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	r := strings.NewReplacer("{{serial}}", d.serial, "{{double}}", d.double, "{{now}}", d.now)
	out := make([]string, 0, len(schema))
	for _, stmt := range schema {
		out = append(out, r.Replace(stmt))
	}
	return out, nil
}

// Migrate creates missing tables and indexes in one transaction.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	stmts, err := Statements(driver)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migrate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrate tx: %w", err)
	}
	return nil
}
