package grade

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"jobgrade/internal/store"
	"jobgrade/internal/survey"
)

type Service struct {
	ref       survey.Reference
	responses store.ResponseStore
	log       *slog.Logger
}

func NewService(ref survey.Reference, responses store.ResponseStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{ref: ref, responses: responses, log: log}
}

// Grade computes the session's grade from its active responses. The diagnostic is
// returned even when the computation fails.
func (s *Service) Grade(ctx context.Context, key store.SessionKey) (*Result, Diagnostic, error) {
	answers, err := s.answers(ctx, key)
	if err != nil {
		return nil, Diagnostic{}, err
	}
	diag := Diagnose(answers)

	calc, err := s.calculator(ctx)
	if err != nil {
		return nil, diag, err
	}
	result, err := calc.Compute(survey.NumericAnswers(answers))
	if err != nil {
		s.log.Warn("grade computation failed",
			"user_id", key.UserID,
			"session_id", key.SessionID,
			"error", err,
		)
		return nil, diag, err
	}
	return result, diag, nil
}

// IntermediateP1 computes P1 alone once Q8 to Q10 are answered.
func (s *Service) IntermediateP1(ctx context.Context, key store.SessionKey) (int, error) {
	answers, err := s.answers(ctx, key)
	if err != nil {
		return 0, err
	}
	calc, err := s.calculator(ctx)
	if err != nil {
		return 0, err
	}
	return calc.P1(survey.NumericAnswers(answers))
}

func (s *Service) answers(ctx context.Context, key store.SessionKey) (map[int]string, error) {
	active, err := s.responses.ActiveResponses(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list active responses: %w", err)
	}
	out := store.AnswerMap(active)
	for _, r := range active {
		if strings.TrimSpace(r.FinalAnswer) != "" {
			continue
		}
		// A classifier question without a classification has no level, whatever the
		// raw text says.
		q, err := s.ref.Question(ctx, r.QuestionID)
		if err == nil && q.HasClassifier() {
			out[r.QuestionID] = ""
		}
	}
	return out, nil
}

func (s *Service) calculator(ctx context.Context) (*Calculator, error) {
	tables, err := s.ref.GradeTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("load grade tables: %w", err)
	}
	return NewCalculator(tables), nil
}
