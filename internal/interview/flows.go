package interview

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"jobgrade/internal/grade"
	"jobgrade/internal/store"
	"jobgrade/internal/survey"
)

type presentKind int

const (
	presentAsked presentKind = iota
	presentAuto
	presentRequeued
)

// presentResult says what happened when a question reached the head of the queue.
// Automatic answers carry the values to persist.
type presentResult struct {
	kind   presentKind
	answer string
	final  string
	notice string
}

func isVariantQuestion(id int) bool {
	return id == survey.VariantQuestionFirst || id == survey.VariantQuestionSecond
}

func (e *Engine) hasHierarchy(ctx context.Context) bool {
	roots, err := e.ref.HierarchyChildren(ctx, 0)
	return err == nil && len(roots) > 0
}

func (e *Engine) present(ctx context.Context, st *State, q survey.Question, sink Sink) (presentResult, error) {
	asked := presentResult{kind: presentAsked}
	switch {
	case q.ID == e.special.RoleMenu && e.hasHierarchy(ctx):
		return asked, e.askRoleMenu(ctx, st, q, sink)
	case q.ID == e.special.Functionality:
		return asked, e.askDraft(ctx, st, q, sink)
	case isVariantQuestion(q.ID):
		return e.presentVariants(ctx, st, q, sink)
	}

	if q.ID == e.special.RolePath && st.RoleItemID != nil && !st.manual(q.ID) {
		item, err := e.ref.HierarchyItem(ctx, *st.RoleItemID)
		switch {
		case err == nil:
			return presentResult{
				kind:   presentAuto,
				answer: item.FullPath,
				final:  item.FullPath,
				notice: questionHeader(q) + "\n→ " + item.FullPath,
			}, nil
		case !errors.Is(err, survey.ErrHierarchyItemNotFound):
			return presentResult{}, err
		}
	}
	return asked, sink.Ask(ctx, genericPrompt(q))
}

func genericPrompt(q survey.Question) Prompt {
	p := Prompt{QuestionID: q.ID, Text: questionHeader(q)}
	for _, opt := range q.Options() {
		p.Choices = append(p.Choices, Choice{Label: opt})
	}
	return p
}

func (e *Engine) askRoleMenu(ctx context.Context, st *State, q survey.Question, sink Sink) error {
	children, err := e.ref.HierarchyChildren(ctx, st.MenuParent)
	if err != nil {
		return fmt.Errorf("list hierarchy: %w", err)
	}
	text := questionHeader(q)
	choices := make([]Choice, 0, len(children)+1)
	for _, c := range children {
		label := c.Role
		if !e.ref.IsHierarchyLeaf(ctx, c.ID) {
			label += " ›"
		}
		choices = append(choices, Choice{Label: label, Command: Command{Kind: CmdSelectRole, Value: c.ID}.String()})
	}
	if st.MenuParent != 0 {
		if parent, err := e.ref.HierarchyItem(ctx, st.MenuParent); err == nil {
			text += "\n\n📂 " + parent.FullPath
		}
		choices = append(choices, Choice{Label: "⬅️ Назад", Command: Command{Kind: CmdRoleBack}.String()})
	}
	return sink.Ask(ctx, Prompt{QuestionID: q.ID, Text: text, Choices: choices})
}

// handleRoleMenu walks the staff hierarchy. Only a leaf answers the question.
func (e *Engine) handleRoleMenu(ctx context.Context, st *State, q survey.Question, in Input, sink Sink) (step, error) {
	if in.Command == nil {
		return stepPresent, sink.Notify(ctx, msgChoose)
	}
	switch in.Command.Kind {
	case CmdRoleBack:
		if st.MenuParent != 0 {
			parent, err := e.ref.HierarchyItem(ctx, st.MenuParent)
			if err != nil && !errors.Is(err, survey.ErrHierarchyItemNotFound) {
				return 0, err
			}
			st.MenuParent = parent.ParentID
		}
		return stepPresent, nil
	case CmdSelectRole:
		item, err := e.ref.HierarchyItem(ctx, in.Command.Value)
		if errors.Is(err, survey.ErrHierarchyItemNotFound) {
			return stepPresent, sink.Notify(ctx, msgChoose)
		}
		if err != nil {
			return 0, err
		}
		if !e.ref.IsHierarchyLeaf(ctx, item.ID) {
			st.MenuParent = item.ID
			return stepPresent, nil
		}
		id := item.ID
		st.RoleItemID = &id
		final := e.finalAnswer(ctx, st, q, item.Role)
		return e.commitStep(ctx, st, q, item.Role, final, sink, false)
	default:
		return stepPresent, sink.Notify(ctx, msgNoCommand)
	}
}

// askDraft generates the functionality draft once per visit of the question.
func (e *Engine) askDraft(ctx context.Context, st *State, q survey.Question, sink Sink) error {
	if st.Draft == nil {
		portrait, err := e.portrait(ctx, st.Key())
		if err != nil {
			return err
		}
		res := e.interp.SummarizeFunctionality(ctx, portrait, "")
		if res.Degraded() {
			e.log.Warn("functionality draft built locally", "user_id", st.UserID, "source", res.Source)
		}
		draft := res.Text
		st.Draft = &draft
	}
	return sink.Ask(ctx, Prompt{
		QuestionID: q.ID,
		Text:       questionHeader(q) + "\n\n📝 Черновик:\n" + *st.Draft + "\n\nПримите черновик или дополните его.",
		Choices: []Choice{
			{Label: "✅ Принять", Command: Command{Kind: CmdAcceptDraft}.String()},
			{Label: "✏️ Дополнить", Command: Command{Kind: CmdAppendDraft}.String()},
		},
	})
}

func (e *Engine) handleDraft(ctx context.Context, st *State, q survey.Question, in Input, sink Sink) (step, error) {
	draft := *st.Draft
	if in.Command != nil {
		switch in.Command.Kind {
		case CmdAcceptDraft:
			return e.commitStep(ctx, st, q, draft, e.finalAnswer(ctx, st, q, draft), sink, true)
		case CmdAppendDraft:
			st.AwaitingAppend = true
			return stepStay, sink.Notify(ctx, msgAppendDraft)
		default:
			return stepStay, sink.Notify(ctx, msgNoCommand)
		}
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return stepStay, sink.Notify(ctx, msgEmpty)
	}
	answer := draft + "\n" + text
	return e.commitStep(ctx, st, q, answer, e.finalAnswer(ctx, st, q, answer), sink, true)
}

// presentVariants offers the Q11/Q12 options for the session's intermediate P1.
// One option is taken without asking unless the question was requeued by a conflict;
// none reopens the grading questions.
func (e *Engine) presentVariants(ctx context.Context, st *State, q survey.Question, sink Sink) (presentResult, error) {
	key := st.Key()
	p1, err := e.grades.IntermediateP1(ctx, key)
	if err != nil {
		if !errors.Is(err, grade.ErrMissingPrerequisiteAnswers) && !errors.Is(err, grade.ErrLookupMiss) {
			return presentResult{}, err
		}
		e.log.Warn("adaptive options unavailable", "user_id", key.UserID, "session_id", key.SessionID, "error", err)
		return e.requeueGrading(ctx, st)
	}

	var q11 *int
	if q.ID == survey.VariantQuestionSecond {
		active, err := e.responses.ActiveResponses(ctx, key)
		if err != nil {
			return presentResult{}, fmt.Errorf("list active responses: %w", err)
		}
		if v, ok := survey.NumericAnswers(store.AnswerMap(active))[survey.VariantQuestionFirst]; ok {
			q11 = &v
		}
	}
	opts, err := e.ref.Variants(ctx, q.ID, p1, q11)
	if err != nil {
		return presentResult{}, err
	}
	switch len(opts) {
	case 0:
		e.log.Warn("no adaptive options", "user_id", key.UserID, "question_id", q.ID, "p1", p1)
		return e.requeueGrading(ctx, st)
	case 1:
		if !st.manual(q.ID) {
			return presentResult{
				kind:   presentAuto,
				answer: opts[0].Text,
				final:  strconv.Itoa(opts[0].Value),
				notice: questionHeader(q) + "\n→ Выбран единственный подходящий вариант: " + opts[0].Text,
			}, nil
		}
	}

	st.Variants = opts
	p := Prompt{QuestionID: q.ID, Text: questionHeader(q)}
	for _, o := range opts {
		p.Choices = append(p.Choices, Choice{
			Label:   o.Text,
			Command: Command{Kind: CmdSelectVariant, Question: q.ID, Value: o.Value}.String(),
		})
	}
	return presentResult{kind: presentAsked}, sink.Ask(ctx, p)
}

func (e *Engine) requeueGrading(ctx context.Context, st *State) (presentResult, error) {
	if err := e.resetGrading(ctx, st); err != nil {
		return presentResult{}, err
	}
	return presentResult{kind: presentRequeued, notice: msgNoVariants}, nil
}

func (e *Engine) handleVariant(ctx context.Context, st *State, q survey.Question, in Input, sink Sink) (step, error) {
	var chosen *survey.Option
	if in.Command != nil {
		if in.Command.Kind != CmdSelectVariant {
			return stepStay, sink.Notify(ctx, msgNoCommand)
		}
		if in.Command.Question == q.ID {
			chosen = findOption(st.Variants, in.Command.Value)
		}
	} else {
		chosen = matchOption(st.Variants, in.Text)
	}
	if chosen == nil {
		return stepStay, sink.Notify(ctx, msgChoose)
	}
	return e.commitStep(ctx, st, q, chosen.Text, strconv.Itoa(chosen.Value), sink, false)
}

func findOption(opts []survey.Option, value int) *survey.Option {
	for i := range opts {
		if opts[i].Value == value {
			return &opts[i]
		}
	}
	return nil
}

// matchOption accepts the option label itself or its leading number.
func matchOption(opts []survey.Option, text string) *survey.Option {
	text = strings.TrimSpace(text)
	for i := range opts {
		if strings.EqualFold(strings.TrimSpace(opts[i].Text), text) {
			return &opts[i]
		}
	}
	if v, err := survey.VariantAnswerValue(text); err == nil {
		return findOption(opts, v)
	}
	if v, ok := survey.ParseLevel(text); ok {
		return findOption(opts, v)
	}
	return nil
}
