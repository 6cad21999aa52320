package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"jobgrade/internal/conflict"
	"jobgrade/internal/grade"
	"jobgrade/internal/interpret"
	"jobgrade/internal/resolver"
	"jobgrade/internal/store"
	"jobgrade/internal/survey"
)

var ErrSessionCompleted = errors.New("session already completed")

const (
	msgStart        = "Начинаю опрос! (Сессия #%d)"
	msgResume       = "Продолжаем опрос! (Сессия #%d)"
	msgNoSession    = "Напишите /start для начала опроса"
	msgAccepted     = "✅ Принято! Отлично!"
	msgConflict     = "⚠️ Обнаружено противоречие в ваших ответах!"
	msgRetry        = "🔄 Предлагаю ответить на некоторые вопросы заново..."
	msgCompleted    = "🎉 Опрос завершен! Генерирую ваш отчет..."
	msgReportFailed = "❌ Произошла ошибка при генерации отчета. Обратитесь к администратору."
	msgTurnFailed   = "❌ Не удалось обработать ответ. Попробуйте ещё раз."
	msgChoose       = "Пожалуйста, выберите один из предложенных вариантов."
	msgNoCommand    = "Эта команда недоступна для текущего вопроса."
	msgEmpty        = "Ответ пустой. Напишите, пожалуйста, ответ."
	msgAppendDraft  = "✏️ Напишите, что добавить к черновику."
	msgResetGrading = "🔄 Ответы на вопросы 8-12 сброшены. Ответьте на них заново."
	msgNoVariants   = "Для ваших ответов не нашлось подходящих вариантов. Давайте уточним ответы на вопросы 8-12."
)

// lockStripes bounds the per-user locks. Users sharing a stripe are serialized.
const lockStripes = 256

// gradingQuestions are re-asked together when the adaptive options cannot be built.
var gradingQuestions = []int{8, 9, 10, 11, 12}

// Special names the questions with their own flow. Zero disables a flow.
type Special struct {
	RoleMenu      int
	RolePath      int
	Functionality int
}

func DefaultSpecial() Special {
	return Special{RoleMenu: 1, RolePath: 3, Functionality: 7}
}

// Reporter turns a finished session into the message sent to the respondent.
type Reporter interface {
	Deliver(ctx context.Context, key store.SessionKey, result *grade.Result, diag grade.Diagnostic, gradeErr error) (string, error)
}

type Hooks struct {
	Turn      func(outcome string)
	Conflict  func(ruleID int64)
	Completed func(key store.SessionKey, gradeErr error)
}

type Deps struct {
	Reference   survey.Reference
	Responses   store.ResponseStore
	Interpreter interpret.Service
	Registry    Registry
	Reporter    Reporter
	Special     Special
	Hooks       Hooks
}

// Engine runs interviews. Turns of one user are serialized; different users proceed
// independently.
type Engine struct {
	ref       survey.Reference
	responses store.ResponseStore
	resolver  *resolver.Resolver
	detector  *conflict.Detector
	grades    *grade.Service
	interp    interpret.Service
	registry  Registry
	reporter  Reporter
	special   Special
	hooks     Hooks
	log       *slog.Logger

	locks [lockStripes]sync.Mutex
}

func NewEngine(d Deps, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if d.Registry == nil {
		d.Registry = NewMemoryRegistry()
	}
	return &Engine{
		ref:       d.Reference,
		responses: d.Responses,
		resolver:  resolver.New(d.Reference, d.Responses, log),
		detector:  conflict.NewDetector(d.Reference, d.Responses, log),
		grades:    grade.NewService(d.Reference, d.Responses, log),
		interp:    d.Interpreter,
		registry:  d.Registry,
		reporter:  d.Reporter,
		special:   d.Special,
		hooks:     d.Hooks,
		log:       log.With("component", "interview"),
	}
}

func (e *Engine) lock(userID int64) func() {
	mu := &e.locks[uint64(userID)%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Start abandons any live session of the user and opens the next one.
func (e *Engine) Start(ctx context.Context, userID int64, sink Sink) (*State, error) {
	unlock := e.lock(userID)
	defer unlock()
	return e.start(ctx, userID, sink)
}

func (e *Engine) start(ctx context.Context, userID int64, sink Sink) (*State, error) {
	if err := e.registry.Discard(ctx, userID); err != nil {
		return nil, err
	}
	sessionID, err := e.responses.NextSessionID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("allocate session: %w", err)
	}
	key := store.SessionKey{UserID: userID, SessionID: sessionID}
	remaining, err := e.resolver.RemainingQuestions(ctx, key)
	if err != nil {
		return nil, err
	}
	st := newState(key, remaining)
	e.log.Info("session started", "user_id", userID, "session_id", sessionID, "questions", len(remaining))
	if err := sink.Notify(ctx, fmt.Sprintf(msgStart, sessionID)); err != nil {
		return nil, err
	}
	return e.advance(ctx, st, sink)
}

// Resume continues the user's live session, or rebuilds it from the latest stored
// snapshot.
func (e *Engine) Resume(ctx context.Context, userID int64, sink Sink) (*State, error) {
	unlock := e.lock(userID)
	defer unlock()

	st, err := e.registry.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNoActiveSession) {
			return nil, err
		}
		sessionID, err := e.responses.LatestSessionID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if st, err = e.loadStored(ctx, store.SessionKey{UserID: userID, SessionID: sessionID}); err != nil {
			return nil, err
		}
	}
	if st.Phase == PhaseCompleted {
		return st, ErrSessionCompleted
	}
	if err := sink.Notify(ctx, fmt.Sprintf(msgResume, st.SessionID)); err != nil {
		return nil, err
	}
	if st.Phase == PhaseConflictPending {
		if err := e.finishRemediation(ctx, st, sink); err != nil {
			return st, err
		}
	}
	return e.advance(ctx, st, sink)
}

func (e *Engine) loadStored(ctx context.Context, key store.SessionKey) (*State, error) {
	raw, err := e.responses.LoadState(ctx, key)
	if errors.Is(err, store.ErrStateNotFound) {
		remaining, rerr := e.resolver.RemainingQuestions(ctx, key)
		if rerr != nil {
			return nil, rerr
		}
		return newState(key, remaining), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session state: %w", err)
	}
	st, err := UnmarshalState(raw)
	if err != nil {
		return nil, err
	}
	st.UserID, st.SessionID = key.UserID, key.SessionID
	if st.Phase == PhaseInProgress {
		if err := e.reconcile(ctx, st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// reconcile aligns a stored queue with the response log. The snapshot can lag one
// answer behind when the process stopped between saving a response and the state.
func (e *Engine) reconcile(ctx context.Context, st *State) error {
	key := st.Key()
	active, err := e.responses.ActiveResponses(ctx, key)
	if err != nil {
		return fmt.Errorf("list active responses: %w", err)
	}
	fresh, err := e.resolver.RemainingQuestions(ctx, key)
	if err != nil {
		return err
	}
	answered := store.AnswerMap(active)
	queued := make(map[int]bool, len(st.Remaining))
	queue := make([]int, 0, len(st.Remaining)+len(fresh))
	for _, id := range st.Remaining {
		if _, ok := answered[id]; ok || queued[id] {
			continue
		}
		queued[id] = true
		queue = append(queue, id)
	}
	for _, id := range fresh {
		if !queued[id] {
			queued[id] = true
			queue = append(queue, id)
		}
	}
	if len(queue) != len(st.Remaining) {
		e.log.Warn("stored queue reconciled",
			"user_id", key.UserID,
			"session_id", key.SessionID,
			"stored", st.Remaining,
			"queue", queue,
		)
	}
	st.Remaining = queue
	return nil
}

func (e *Engine) Live(ctx context.Context, userID int64) (*State, error) {
	return e.registry.Get(ctx, userID)
}

// Discard drops the live session. Stored responses stay untouched.
func (e *Engine) Discard(ctx context.Context, userID int64) error {
	unlock := e.lock(userID)
	defer unlock()
	return e.registry.Discard(ctx, userID)
}

// Handle processes one respondent input against the live session.
func (e *Engine) Handle(ctx context.Context, userID int64, in Input, sink Sink) (*State, error) {
	unlock := e.lock(userID)
	defer unlock()

	if in.Command != nil && in.Command.Kind == CmdRestart {
		e.turn("restart")
		return e.start(ctx, userID, sink)
	}
	st, err := e.registry.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			_ = sink.Notify(ctx, msgNoSession)
		}
		return nil, err
	}

	next, outcome, err := e.handle(ctx, st, in, sink)
	if err != nil {
		e.turn("error")
		e.log.Error("turn failed",
			"user_id", st.UserID,
			"session_id", st.SessionID,
			"question_id", st.Current(),
			"error", err,
		)
		_ = sink.Notify(ctx, msgTurnFailed)
		return nil, err
	}
	e.turn(outcome)
	return next, nil
}

func (e *Engine) handle(ctx context.Context, st *State, in Input, sink Sink) (*State, string, error) {
	switch st.Phase {
	case PhaseCompleted:
		return st, "completed", ErrSessionCompleted
	case PhaseConflictPending:
		if err := e.finishRemediation(ctx, st, sink); err != nil {
			return nil, "", err
		}
		next, err := e.advance(ctx, st, sink)
		return next, "conflict", err
	}

	if in.Command != nil && in.Command.Kind == CmdResetGrading {
		if err := e.resetGrading(ctx, st); err != nil {
			return nil, "", err
		}
		if err := e.persist(ctx, st); err != nil {
			return nil, "", err
		}
		if err := sink.Notify(ctx, msgResetGrading); err != nil {
			return nil, "", err
		}
		next, err := e.advance(ctx, st, sink)
		return next, "reset", err
	}

	qid := st.Current()
	if qid == 0 {
		next, err := e.complete(ctx, st, sink)
		return next, "completed", err
	}
	q, err := e.ref.Question(ctx, qid)
	if err != nil {
		return nil, "", fmt.Errorf("load question %d: %w", qid, err)
	}

	step, err := e.dispatch(ctx, st, q, in, sink)
	if err != nil {
		return nil, "", err
	}
	switch step {
	case stepStay:
		if err := e.registry.Put(ctx, st); err != nil {
			return nil, "", err
		}
		return st, "follow_up", nil
	case stepConflict:
		next, err := e.advance(ctx, st, sink)
		return next, "conflict", err
	case stepPresent:
		next, err := e.advance(ctx, st, sink)
		return next, "navigate", err
	default:
		next, err := e.advance(ctx, st, sink)
		if next != nil && next.Phase == PhaseCompleted {
			return next, "completed", err
		}
		return next, "accepted", err
	}
}

type step int

const (
	stepAdvance step = iota
	stepStay
	stepPresent
	stepConflict
)

func (e *Engine) dispatch(ctx context.Context, st *State, q survey.Question, in Input, sink Sink) (step, error) {
	switch {
	case q.ID == e.special.RoleMenu && e.hasHierarchy(ctx):
		return e.handleRoleMenu(ctx, st, q, in, sink)
	case q.ID == e.special.Functionality && st.Draft != nil:
		return e.handleDraft(ctx, st, q, in, sink)
	case isVariantQuestion(q.ID) && len(st.Variants) > 0:
		return e.handleVariant(ctx, st, q, in, sink)
	}

	if in.Command != nil {
		return stepStay, sink.Notify(ctx, msgNoCommand)
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return stepStay, sink.Notify(ctx, msgEmpty)
	}
	if q.HasOptions() {
		final := e.finalAnswer(ctx, st, q, text)
		return e.commitStep(ctx, st, q, text, final, sink, false)
	}
	return e.handleFreeText(ctx, st, q, text, sink)
}

func (e *Engine) handleFreeText(ctx context.Context, st *State, q survey.Question, text string, sink Sink) (step, error) {
	st.Conversation = append(st.Conversation, text)
	portrait, err := e.portrait(ctx, st.Key())
	if err != nil {
		return 0, err
	}
	verdict := e.interp.Verify(ctx, q, st.Conversation, portrait)
	if !verdict.Accepted {
		st.Conversation = append(st.Conversation, verdict.FollowUp)
		return stepStay, sink.Notify(ctx, "❓ "+verdict.FollowUp)
	}
	compiled := e.interp.CompileFinalAnswer(ctx, q, st.Conversation, portrait)
	if compiled.Degraded() {
		e.log.Warn("final answer compiled locally", "question_id", q.ID, "source", compiled.Source)
	}
	final := e.finalAnswer(ctx, st, q, compiled.Text)
	return e.commitStep(ctx, st, q, compiled.Text, final, sink, true)
}

func (e *Engine) commitStep(ctx context.Context, st *State, q survey.Question, answer, final string, sink Sink, announce bool) (step, error) {
	conflicted, err := e.commit(ctx, st, q, answer, final, sink)
	if err != nil {
		return 0, err
	}
	if conflicted {
		return stepConflict, nil
	}
	if announce {
		if err := sink.Notify(ctx, msgAccepted); err != nil {
			return 0, err
		}
	}
	return stepAdvance, nil
}

// finalAnswer classifies the answer when the question has a classifier. A result
// that is not a level is kept and treated as unclassified downstream.
func (e *Engine) finalAnswer(ctx context.Context, st *State, q survey.Question, answer string) string {
	if !q.HasClassifier() {
		return answer
	}
	portrait, err := e.portrait(ctx, st.Key())
	if err != nil {
		e.log.Warn("portrait unavailable for classification", "question_id", q.ID, "error", err)
	}
	res := e.interp.Classify(ctx, q, answer, portrait)
	final := strings.TrimSpace(res.Text)
	if _, ok := survey.ParseLevel(final); !ok {
		e.log.Warn("answer left unclassified",
			"user_id", st.UserID,
			"session_id", st.SessionID,
			"question_id", q.ID,
			"source", res.Source,
		)
	}
	return final
}

// commit is the shared tail of every flow: persist, check conflicts, then either
// remediate or recompute the queue.
func (e *Engine) commit(ctx context.Context, st *State, q survey.Question, answer, final string, sink Sink) (bool, error) {
	key := st.Key()
	if _, err := e.responses.AppendResponse(ctx, key, q.ID, answer, final); err != nil {
		return false, fmt.Errorf("save response: %w", err)
	}
	st.resetTurn()
	st.clearManual(q.ID)

	matches, err := e.detector.Check(ctx, key)
	if err != nil {
		return false, err
	}
	if len(matches) > 0 {
		return true, e.remediate(ctx, st, matches[0], sink)
	}

	remaining, err := e.resolver.RemainingQuestions(ctx, key)
	if err != nil {
		return false, err
	}
	st.Remaining = remaining
	if err := e.refreshPortrait(ctx, key); err != nil {
		return false, err
	}
	return false, e.persist(ctx, st)
}

func (e *Engine) remediate(ctx context.Context, st *State, m conflict.Match, sink Sink) error {
	st.Phase = PhaseConflictPending
	st.Conflict = &m
	if err := e.persist(ctx, st); err != nil {
		return err
	}
	if e.hooks.Conflict != nil {
		e.hooks.Conflict(m.RuleID)
	}
	if err := sink.Notify(ctx, msgConflict); err != nil {
		return err
	}
	portrait, err := e.portrait(ctx, st.Key())
	if err != nil {
		return err
	}
	explanation := e.interp.ExplainConflict(ctx, conflict.ExplanationPrompt(m, portrait), conflict.Summary(m))
	if err := sink.Notify(ctx, "🤖 "+explanation.Text); err != nil {
		return err
	}
	return e.finishRemediation(ctx, st, sink)
}

// finishRemediation demotes the pending conflict's questions and requeues them. The
// requeued questions are asked even when they could be answered automatically.
func (e *Engine) finishRemediation(ctx context.Context, st *State, sink Sink) error {
	if st.Conflict == nil {
		st.Phase = PhaseInProgress
		return nil
	}
	key := st.Key()
	ids := resolver.ExpandSubquestions(st.Conflict.QuestionIDs())
	if err := e.responses.DemoteQuestions(ctx, key, ids); err != nil {
		return fmt.Errorf("demote conflicting answers: %w", err)
	}
	remaining, err := e.resolver.RemainingQuestions(ctx, key)
	if err != nil {
		return err
	}
	e.log.Info("conflict remediated",
		"user_id", key.UserID,
		"session_id", key.SessionID,
		"rule_id", st.Conflict.RuleID,
		"requeued", ids,
	)
	st.Remaining = resolver.Requeue(remaining, ids)
	st.markManual(ids)
	st.Phase = PhaseInProgress
	st.Conflict = nil
	st.resetTurn()
	if err := e.refreshPortrait(ctx, key); err != nil {
		return err
	}
	if err := e.persist(ctx, st); err != nil {
		return err
	}
	return sink.Notify(ctx, msgRetry)
}

// resetGrading demotes the grading questions and puts them back in the queue.
// The caller persists the state.
func (e *Engine) resetGrading(ctx context.Context, st *State) error {
	key := st.Key()
	if err := e.responses.DemoteQuestions(ctx, key, gradingQuestions); err != nil {
		return fmt.Errorf("reset grading answers: %w", err)
	}
	remaining, err := e.resolver.RemainingQuestions(ctx, key)
	if err != nil {
		return err
	}
	st.Remaining = resolver.Requeue(remaining, gradingQuestions)
	st.Phase = PhaseInProgress
	st.Conflict = nil
	st.resetTurn()
	return e.refreshPortrait(ctx, key)
}

// ResetGrading reopens questions 8 to 12 of any session. A live session is updated
// in place; otherwise only the stored snapshot changes and Resume picks it up.
func (e *Engine) ResetGrading(ctx context.Context, key store.SessionKey) (*State, error) {
	unlock := e.lock(key.UserID)
	defer unlock()

	live, err := e.registry.Get(ctx, key.UserID)
	if err != nil && !errors.Is(err, ErrNoActiveSession) {
		return nil, err
	}
	if live != nil && live.SessionID == key.SessionID {
		if err := e.resetGrading(ctx, live); err != nil {
			return nil, err
		}
		return live, e.persist(ctx, live)
	}

	st, err := e.loadStored(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := e.resetGrading(ctx, st); err != nil {
		return nil, err
	}
	raw, err := st.Marshal()
	if err != nil {
		return nil, err
	}
	if err := e.responses.SaveState(ctx, key, raw); err != nil {
		return nil, fmt.Errorf("save session state: %w", err)
	}
	e.log.Info("grading reset", "user_id", key.UserID, "session_id", key.SessionID)
	return st, nil
}

// advance presents the head of the queue, answering automatic questions on the way,
// and completes the session when nothing is left.
func (e *Engine) advance(ctx context.Context, st *State, sink Sink) (*State, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		qid := st.Current()
		if qid == 0 {
			return e.complete(ctx, st, sink)
		}
		q, err := e.ref.Question(ctx, qid)
		if err != nil {
			return nil, fmt.Errorf("load question %d: %w", qid, err)
		}
		res, err := e.present(ctx, st, q, sink)
		if err != nil {
			return nil, err
		}
		switch res.kind {
		case presentAsked:
			if err := e.persist(ctx, st); err != nil {
				return nil, err
			}
			return st, nil
		case presentAuto:
			if err := sink.Notify(ctx, res.notice); err != nil {
				return nil, err
			}
			conflicted, err := e.commit(ctx, st, q, res.answer, res.final, sink)
			if err != nil {
				return nil, err
			}
			if conflicted {
				e.log.Info("automatic answer raised a conflict", "user_id", st.UserID, "question_id", q.ID)
			}
		case presentRequeued:
			if err := sink.Notify(ctx, res.notice); err != nil {
				return nil, err
			}
		}
	}
}

func (e *Engine) complete(ctx context.Context, st *State, sink Sink) (*State, error) {
	key := st.Key()
	st.Phase = PhaseCompleted
	st.Remaining = []int{}
	st.resetTurn()
	if err := e.persist(ctx, st); err != nil {
		return nil, err
	}
	if err := sink.Notify(ctx, msgCompleted); err != nil {
		return nil, err
	}

	result, diag, gradeErr := e.grades.Grade(ctx, key)
	if e.hooks.Completed != nil {
		e.hooks.Completed(key, gradeErr)
	}
	e.log.Info("session completed",
		"user_id", key.UserID,
		"session_id", key.SessionID,
		"graded", gradeErr == nil,
	)

	message := GradeSummary(result, gradeErr)
	if e.reporter != nil {
		text, err := e.reporter.Deliver(ctx, key, result, diag, gradeErr)
		if err != nil {
			e.log.Error("report delivery failed", "user_id", key.UserID, "session_id", key.SessionID, "error", err)
			message = msgReportFailed
		} else {
			message = text
		}
	}
	if err := sink.Notify(ctx, message); err != nil {
		return nil, err
	}
	if err := e.registry.Discard(ctx, key.UserID); err != nil {
		return nil, err
	}
	return st, nil
}

// GradeSummary is the short completion line used when no reporter is configured.
func GradeSummary(result *grade.Result, gradeErr error) string {
	if gradeErr != nil || result == nil {
		return "⚠️ Грейд не рассчитан: " + errText(gradeErr)
	}
	return fmt.Sprintf("📊 Ваш грейд: %s (баллы: %d, диапазон %s)", result.Grade, result.Total, result.Range)
}

func errText(err error) string {
	if err == nil {
		return "нет данных"
	}
	return err.Error()
}

func (e *Engine) portrait(ctx context.Context, key store.SessionKey) (string, error) {
	active, err := e.responses.ActiveResponses(ctx, key)
	if err != nil {
		return "", fmt.Errorf("list active responses: %w", err)
	}
	return BuildPortrait(ctx, e.ref, active), nil
}

func (e *Engine) refreshPortrait(ctx context.Context, key store.SessionKey) error {
	portrait, err := e.portrait(ctx, key)
	if err != nil {
		return err
	}
	if err := e.responses.SavePortrait(ctx, key, portrait); err != nil {
		return fmt.Errorf("save portrait: %w", err)
	}
	return nil
}

func (e *Engine) persist(ctx context.Context, st *State) error {
	st.UpdatedAt = time.Now().UTC()
	raw, err := st.Marshal()
	if err != nil {
		return err
	}
	if err := e.responses.SaveState(ctx, st.Key(), raw); err != nil {
		return fmt.Errorf("save session state: %w", err)
	}
	return e.registry.Put(ctx, st)
}

func (e *Engine) turn(outcome string) {
	if e.hooks.Turn != nil {
		e.hooks.Turn(outcome)
	}
}

func questionHeader(q survey.Question) string {
	return fmt.Sprintf("Вопрос %d: %s", q.ID, q.Text)
}
