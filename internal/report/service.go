package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jobgrade/internal/grade"
	"jobgrade/internal/store"
	"jobgrade/internal/survey"
)

var ErrEmptySession = errors.New("session has no responses")

// Entry is one answered question of the transcript.
type Entry struct {
	QuestionID    int    `json:"question_id"`
	QuestionText  string `json:"question_text"`
	Section       string `json:"section,omitempty"`
	Answer        string `json:"answer"`
	Level         string `json:"level,omitempty"`
	HayDefinition string `json:"hay_definition,omitempty"`
}

type Report struct {
	UserID      int64            `json:"user_id"`
	SessionID   int              `json:"session_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Entries     []Entry          `json:"entries"`
	Grade       *grade.Result    `json:"grade,omitempty"`
	GradeError  string           `json:"grade_error,omitempty"`
	Diagnostic  grade.Diagnostic `json:"diagnostic"`
	Notes       []string         `json:"diagnostic_notes,omitempty"`
}

func (r *Report) Graded() bool {
	return r.Grade != nil && r.GradeError == ""
}

type Service struct {
	ref       survey.Reference
	responses store.ResponseStore
	grades    *grade.Service
	dir       string
	now       func() time.Time
	log       *slog.Logger
}

// NewService builds the report service. When dir is set, delivered reports are also
// written there as xlsx files.
func NewService(ref survey.Reference, responses store.ResponseStore, grades *grade.Service, dir string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		ref:       ref,
		responses: responses,
		grades:    grades,
		dir:       strings.TrimSpace(dir),
		now:       time.Now,
		log:       log.With("component", "report"),
	}
}

// Build grades the session and assembles its report. A grade failure is recorded in
// the report and does not fail the call.
func (s *Service) Build(ctx context.Context, key store.SessionKey) (*Report, error) {
	result, diag, gradeErr := s.grades.Grade(ctx, key)
	if gradeErr != nil && !isGradeFailure(gradeErr) {
		return nil, gradeErr
	}
	return s.assemble(ctx, key, result, diag, gradeErr)
}

// Deliver renders the completion message for a finished session and, when a report
// directory is configured, stores the xlsx export. A failed export is logged only.
func (s *Service) Deliver(ctx context.Context, key store.SessionKey, result *grade.Result, diag grade.Diagnostic, gradeErr error) (string, error) {
	rep, err := s.assemble(ctx, key, result, diag, gradeErr)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("📊 Ваш персональный отчет по опросу\n")
	fmt.Fprintf(&b, "👤 Пользователь: #%d\n", key.UserID)
	fmt.Fprintf(&b, "📋 Сессия: #%d\n", key.SessionID)
	fmt.Fprintf(&b, "📅 Дата: %s\n", rep.GeneratedAt.Format("02.01.2006 15:04"))
	if rep.Graded() {
		fmt.Fprintf(&b, "🏷 Грейд: %s (баллы: %d, диапазон %s)\n", rep.Grade.Grade, rep.Grade.Total, rep.Grade.Range)
	} else {
		fmt.Fprintf(&b, "⚠️ Грейд не рассчитан: %s\n", rep.GradeError)
		for _, note := range rep.Notes {
			b.WriteString(note + "\n")
		}
	}

	if s.dir != "" {
		if path, err := s.save(rep); err != nil {
			s.log.Error("report export failed", "user_id", key.UserID, "session_id", key.SessionID, "error", err)
		} else {
			s.log.Info("report saved", "user_id", key.UserID, "session_id", key.SessionID, "path", path)
		}
	}
	b.WriteString("\n✅ Отчет готов! Спасибо за участие в опросе.")
	return b.String(), nil
}

func (s *Service) assemble(ctx context.Context, key store.SessionKey, result *grade.Result, diag grade.Diagnostic, gradeErr error) (*Report, error) {
	active, err := s.responses.ActiveResponses(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list active responses: %w", err)
	}
	if len(active) == 0 {
		return nil, ErrEmptySession
	}

	rep := &Report{
		UserID:      key.UserID,
		SessionID:   key.SessionID,
		GeneratedAt: s.now(),
		Entries:     make([]Entry, 0, len(active)),
		Grade:       result,
		Diagnostic:  diag,
	}
	for _, r := range active {
		rep.Entries = append(rep.Entries, s.entry(ctx, r))
	}
	if gradeErr != nil || result == nil {
		rep.Grade = nil
		rep.GradeError = "нет данных"
		if gradeErr != nil {
			rep.GradeError = gradeErr.Error()
		}
		rep.Notes = DiagnosticNotes(diag)
	}
	return rep, nil
}

// entry shows the level and its Hay definition only for classified questions.
func (s *Service) entry(ctx context.Context, r store.Response) Entry {
	e := Entry{QuestionID: r.QuestionID, Answer: r.Answer}
	q, err := s.ref.Question(ctx, r.QuestionID)
	if err != nil {
		s.log.Warn("transcript question missing from catalog", "question_id", r.QuestionID, "error", err)
		return e
	}
	e.QuestionText = q.Text
	e.Section = q.Section
	if !q.HasClassifier() {
		return e
	}
	e.Level = strings.TrimSpace(r.FinalAnswer)
	if level, ok := survey.ParseLevel(e.Level); ok {
		if def, found := s.ref.HayDefinition(ctx, r.QuestionID, level); found {
			e.HayDefinition = def
		}
	}
	return e
}

func (s *Service) save(rep *Report) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	name := fmt.Sprintf("report_user_%d_session_%d_%s.xlsx", rep.UserID, rep.SessionID, rep.GeneratedAt.Format("20060102_150405"))
	path := filepath.Join(s.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report file: %w", err)
	}
	if err := WriteXLSX(f, rep); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close report file: %w", err)
	}
	return path, nil
}

// DiagnosticNotes renders one readable line per pipeline stage plus totals.
func DiagnosticNotes(d grade.Diagnostic) []string {
	out := make([]string, 0, len(d.Stages)+2)
	for _, st := range d.Stages {
		if st.Ready {
			out = append(out, fmt.Sprintf("✅ %s: ответы найдены %s", st.Stage, joinInts(st.Present)))
			continue
		}
		out = append(out, fmt.Sprintf("❌ %s: отсутствуют ответы на вопросы %s", st.Stage, joinInts(st.Missing)))
	}
	out = append(out, fmt.Sprintf("📊 Всего ответов в сессии: %d", d.TotalAnswers))
	out = append(out, "📋 Номера отвеченных вопросов: "+joinInts(d.AnsweredIDs))
	if len(d.Unclassified) > 0 {
		out = append(out, "❔ Без уровня: "+joinInts(d.Unclassified))
	}
	return out
}

func isGradeFailure(err error) bool {
	return errors.Is(err, grade.ErrMissingPrerequisiteAnswers) ||
		errors.Is(err, grade.ErrLookupMiss) ||
		errors.Is(err, survey.ErrNoGradeTables)
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
