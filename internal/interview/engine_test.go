package interview

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"jobgrade/internal/conflict"
	"jobgrade/internal/grade"
	"jobgrade/internal/interpret"
	"jobgrade/internal/store"
	"jobgrade/internal/survey"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInterpreter struct {
	mu         sync.Mutex
	verifyFn   func(conversation []string) interpret.Verdict
	classifyFn func(q survey.Question, answer string) string
	verified   [][]string
	explained  int
}

func (f *fakeInterpreter) Verify(_ context.Context, _ survey.Question, conversation []string, _ string) interpret.Verdict {
	f.mu.Lock()
	f.verified = append(f.verified, append([]string(nil), conversation...))
	f.mu.Unlock()
	if f.verifyFn != nil {
		return f.verifyFn(conversation)
	}
	return interpret.Verdict{Accepted: true, Source: interpret.SourceModel}
}

func (f *fakeInterpreter) CompileFinalAnswer(_ context.Context, _ survey.Question, conversation []string, _ string) interpret.Result {
	return interpret.Result{Text: strings.Join(interpret.UserTurns(conversation), " "), Source: interpret.SourceModel}
}

func (f *fakeInterpreter) Classify(_ context.Context, q survey.Question, answer, _ string) interpret.Result {
	if f.classifyFn != nil {
		return interpret.Result{Text: f.classifyFn(q, answer), Source: interpret.SourceModel}
	}
	return interpret.Result{Text: answer, Source: interpret.SourceModel}
}

func (f *fakeInterpreter) SummarizeFunctionality(_ context.Context, _, _ string) interpret.Result {
	return interpret.Result{Text: "• ведёт учёт", Source: interpret.SourceModel}
}

func (f *fakeInterpreter) ExplainConflict(_ context.Context, _, fallback string) interpret.Result {
	f.mu.Lock()
	f.explained++
	f.mu.Unlock()
	return interpret.Result{Text: fallback, Source: interpret.SourceLocal}
}

func levels(ids ...int) []survey.Question {
	out := make([]survey.Question, 0, len(ids))
	for _, id := range ids {
		out = append(out, survey.Question{ID: id, Text: "Уровень", AnswerOptions: "1;2;3"})
	}
	return out
}

func fullCatalog() *survey.Catalog {
	questions := []survey.Question{
		{ID: 1, Text: "Ваша должность"},
		{ID: 2, Text: "Опишите задачи"},
		{ID: 3, Text: "Путь в структуре"},
		{ID: 7, Text: "Функционал"},
		{ID: 11, Text: "Масштаб"},
		{ID: 12, Text: "Влияние"},
		{ID: 14, Text: "Первая альтернатива", AnswerOptions: "1;2;3", ShowConditions: `{"show_if":{"question_13":["1"]}}`},
		{ID: 15, Text: "Вторая альтернатива", AnswerOptions: "1;2;3", ShowConditions: `{"show_if":{"question_13":[2]}}`},
		{ID: 16, Text: "Воздействие", AnswerOptions: "Слабое;Сильное", Classifier: "Уровень: {answer}"},
	}
	questions = append(questions, levels(8, 9, 10, 13)...)
	rule, _ := survey.NewConflictRule(1,
		survey.RulePair{QuestionID: 8, AnswerID: 3, QuestionText: "Образование", AnswerText: "3"},
		survey.RulePair{QuestionID: 9, AnswerID: 3, QuestionText: "Опыт", AnswerText: "3"},
	)
	return (&survey.Catalog{
		QuestionList: questions,
		Rules:        []survey.ConflictRule{rule},
		Tables: &survey.GradeTables{
			P1:    []survey.P1Row{{Q8: 2, Q9: 1, Q10: 3, Value: 5}},
			P2:    []survey.P2Row{{Q11: 2, Q12: 3, Value: 4}},
			P3:    []survey.P3Row{{P1: 5.0, P2: 4, Value: 10}},
			P4Q14: []survey.P4Row{{Q16: 2, Q13: 1, Alternate: 3, Value: 32}},
			Scale: []survey.ScaleRow{{Low: 40, Mid: 47, High: 55, Grade: "Grade 12"}},
		},
		VariantRows: []survey.VariantRow{
			{P1: 5, Q11Text: "1. Слабо", Q11Answer: 1, Q12Text: "1. Низко", Q12Answer: 1},
			{P1: 5, Q11Text: "1. Слабо", Q11Answer: 1, Q12Text: "2. Средне", Q12Answer: 2},
			{P1: 5, Q11Text: "2. Средне", Q11Answer: 2, Q12Text: "3. Высоко", Q12Answer: 3},
		},
		Hierarchy: []survey.HierarchyItem{
			{ID: 1, Role: "Компания", ParentID: 0, FullPath: "Компания"},
			{ID: 2, Role: "Финансы", ParentID: 1, FullPath: "Компания -> Финансы"},
			{ID: 3, Role: "Бухгалтер", ParentID: 2, FullPath: "Компания -> Финансы -> Бухгалтер"},
			{ID: 4, Role: "Аналитик", ParentID: 2, FullPath: "Компания -> Финансы -> Аналитик"},
		},
	}).Index()
}

type testEnv struct {
	engine   *Engine
	store    *store.MemoryStore
	registry *MemoryRegistry
	interp   *fakeInterpreter
	outcomes []string
	conflict []int64
}

func newTestEnv(t *testing.T, c *survey.Catalog) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    store.NewMemoryStore(),
		registry: NewMemoryRegistry(),
		interp: &fakeInterpreter{classifyFn: func(q survey.Question, answer string) string {
			if answer == "Сильное" {
				return "2"
			}
			return "1"
		}},
	}
	env.engine = NewEngine(Deps{
		Reference:   c,
		Responses:   env.store,
		Interpreter: env.interp,
		Registry:    env.registry,
		Special:     DefaultSpecial(),
		Hooks: Hooks{
			Turn:     func(o string) { env.outcomes = append(env.outcomes, o) },
			Conflict: func(id int64) { env.conflict = append(env.conflict, id) },
		},
	}, nil)
	return env
}

func text(s string) Input { return Input{Text: s} }

func command(t *testing.T, raw string) Input {
	t.Helper()
	cmd, err := ParseCommand(raw)
	require.NoError(t, err)
	return Input{Command: &cmd}
}

func lastPrompt(t *testing.T, rec *Recorder) Prompt {
	t.Helper()
	msgs := rec.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Prompt != nil {
			return *msgs[i].Prompt
		}
	}
	t.Fatalf("no prompt in %+v", msgs)
	return Prompt{}
}

func notices(rec *Recorder) []string {
	out := []string{}
	for _, m := range rec.Messages() {
		if m.Kind == MessageNotice {
			out = append(out, m.Text)
		}
	}
	return out
}

func (env *testEnv) send(t *testing.T, userID int64, in Input) (*State, *Recorder) {
	t.Helper()
	rec := &Recorder{}
	st, err := env.engine.Handle(context.Background(), userID, in, rec)
	require.NoError(t, err, "messages: %+v", rec.Messages())
	return st, rec
}

func TestEngineFullInterview(t *testing.T) {
	env := newTestEnv(t, fullCatalog())
	ctx := context.Background()

	rec := &Recorder{}
	st, err := env.engine.Start(ctx, 7, rec)
	require.NoError(t, err)
	assert.Equal(t, "Начинаю опрос! (Сессия #1)", notices(rec)[0])
	assert.Equal(t, []int{1, 2, 3, 7, 8, 9, 10, 11, 12, 13, 16}, st.Remaining)
	menu := lastPrompt(t, rec)
	require.Len(t, menu.Choices, 1)
	assert.Equal(t, "shtat_1", menu.Choices[0].Command)

	_, rec = env.send(t, 7, command(t, "shtat_1"))
	_, rec = env.send(t, 7, command(t, "shtat_2"))
	menu = lastPrompt(t, rec)
	require.Len(t, menu.Choices, 3)
	assert.Equal(t, "Аналитик", menu.Choices[0].Label)
	assert.Equal(t, "shtat_back", menu.Choices[2].Command)
	assert.Contains(t, menu.Text, "Компания -> Финансы")

	st, rec = env.send(t, 7, command(t, "shtat_3"))
	assert.Equal(t, 2, st.Current())
	assert.Equal(t, "Вопрос 2: Опишите задачи", lastPrompt(t, rec).Text)

	st, rec = env.send(t, 7, text("веду учёт"))
	assert.Contains(t, notices(rec), msgAccepted)
	assert.Contains(t, notices(rec), "Вопрос 3: Путь в структуре\n→ Компания -> Финансы -> Бухгалтер")
	assert.Equal(t, 7, st.Current())
	draft := lastPrompt(t, rec)
	assert.Contains(t, draft.Text, "• ведёт учёт")
	require.NotNil(t, st.Draft)

	st, _ = env.send(t, 7, command(t, "draft_accept"))
	assert.Equal(t, 8, st.Current())

	env.send(t, 7, text("2"))
	env.send(t, 7, text("1"))
	st, rec = env.send(t, 7, text("3"))
	assert.Equal(t, 11, st.Current())
	variants := lastPrompt(t, rec)
	require.Len(t, variants.Choices, 2)
	assert.Equal(t, "q11_accept_2", variants.Choices[1].Command)

	st, rec = env.send(t, 7, command(t, "q11_accept_2"))
	assert.Contains(t, notices(rec), "Вопрос 12: Влияние\n→ Выбран единственный подходящий вариант: 3. Высоко")
	assert.Equal(t, 13, st.Current())

	st, _ = env.send(t, 7, text("1"))
	assert.Equal(t, []int{14, 16}, st.Remaining)
	env.send(t, 7, text("3"))
	st, rec = env.send(t, 7, text("Сильное"))

	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.Contains(t, notices(rec), msgCompleted)
	assert.Contains(t, notices(rec), "📊 Ваш грейд: Grade 12 (баллы: 47, диапазон 40-55)")
	_, err = env.engine.Live(ctx, 7)
	assert.ErrorIs(t, err, ErrNoActiveSession)

	key := store.SessionKey{UserID: 7, SessionID: 1}
	active, err := env.store.ActiveResponses(ctx, key)
	require.NoError(t, err)
	answers := store.AnswerMap(active)
	assert.Equal(t, "Бухгалтер", answers[1])
	assert.Equal(t, "Компания -> Финансы -> Бухгалтер", answers[3])
	assert.Equal(t, "• ведёт учёт", answers[7])
	assert.Equal(t, "3", answers[12])
	assert.Equal(t, "2", answers[16])

	portrait, err := env.store.Portrait(ctx, key)
	require.NoError(t, err)
	assert.Contains(t, portrait, "Вопрос 16: Воздействие\n→ Ответ: Сильное\n→ Уровень: 2")

	raw, err := env.store.LoadState(ctx, key)
	require.NoError(t, err)
	saved, err := UnmarshalState(raw)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, saved.Phase)
	assert.Contains(t, env.outcomes, "completed")
}

func TestEngineFollowUpKeepsConversation(t *testing.T) {
	c := (&survey.Catalog{QuestionList: []survey.Question{{ID: 2, Text: "Опишите задачи"}}, Rules: []survey.ConflictRule{}}).Index()
	env := newTestEnv(t, c)
	calls := 0
	env.interp.verifyFn = func(conversation []string) interpret.Verdict {
		calls++
		if calls == 1 {
			return interpret.Verdict{FollowUp: "Сколько человек в команде?"}
		}
		return interpret.Verdict{Accepted: true}
	}
	ctx := context.Background()
	_, err := env.engine.Start(ctx, 1, &Recorder{})
	require.NoError(t, err)

	st, rec := env.send(t, 1, text("руковожу"))
	assert.Equal(t, []string{"❓ Сколько человек в команде?"}, notices(rec))
	assert.Equal(t, []string{"руковожу", "Сколько человек в команде?"}, st.Conversation)

	st, _ = env.send(t, 1, text("пять"))
	assert.Equal(t, []string{"руковожу", "Сколько человек в команде?", "пять"}, env.interp.verified[1])
	assert.Equal(t, PhaseCompleted, st.Phase)

	active, err := env.store.ActiveResponses(ctx, store.SessionKey{UserID: 1, SessionID: 1})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "руковожу пять", active[0].Answer)
}

func TestEngineConflictRemediation(t *testing.T) {
	env := newTestEnv(t, fullCatalog())
	ctx := context.Background()
	key := store.SessionKey{UserID: 3, SessionID: 1}

	_, err := env.engine.Start(ctx, 3, &Recorder{})
	require.NoError(t, err)
	// Skip straight to the grading block.
	for _, qid := range []int{1, 2, 3, 7} {
		_, err := env.store.AppendResponse(ctx, key, qid, "x", "x")
		require.NoError(t, err)
	}
	live, err := env.registry.Get(ctx, 3)
	require.NoError(t, err)
	live.Remaining = []int{8, 9, 10, 11, 12, 13, 16}
	require.NoError(t, env.registry.Put(ctx, live))

	env.send(t, 3, text("3"))
	st, rec := env.send(t, 3, text("3"))

	got := notices(rec)
	require.Len(t, got, 3)
	assert.Equal(t, msgConflict, got[0])
	assert.True(t, strings.HasPrefix(got[1], "🤖 Ответы противоречат друг другу:"))
	assert.Equal(t, msgRetry, got[2])
	assert.Equal(t, 8, st.Current())
	assert.Equal(t, PhaseInProgress, st.Phase)
	assert.Nil(t, st.Conflict)
	assert.Contains(t, st.Remaining, 9)
	assert.Equal(t, []int64{1}, env.conflict)

	active, err := env.store.ActiveResponses(ctx, key)
	require.NoError(t, err)
	answers := store.AnswerMap(active)
	assert.NotContains(t, answers, 8)
	assert.NotContains(t, answers, 9)

	all, err := env.store.AllResponses(ctx, key)
	require.NoError(t, err)
	demoted := 0
	for _, r := range all {
		if (r.QuestionID == 8 || r.QuestionID == 9) && r.Status == store.StatusInactive {
			demoted++
		}
	}
	assert.Equal(t, 2, demoted)
}

func TestEngineResumesPendingConflict(t *testing.T) {
	env := newTestEnv(t, fullCatalog())
	ctx := context.Background()
	key := store.SessionKey{UserID: 4, SessionID: 1}

	_, err := env.store.AppendResponse(ctx, key, 13, "1", "1")
	require.NoError(t, err)
	st := newState(key, []int{16})
	st.Phase = PhaseConflictPending
	st.Conflict = &conflict.Match{RuleID: 9, Pairs: []survey.RulePair{{QuestionID: 13, AnswerID: 1}}}
	require.NoError(t, env.registry.Put(ctx, st))

	next, rec := env.send(t, 4, text("ignored"))
	assert.Contains(t, notices(rec), msgRetry)
	assert.Subset(t, next.Remaining, []int{13, 14, 15})
	assert.Equal(t, PhaseInProgress, next.Phase)
	active, err := env.store.ActiveResponses(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestEngineEmptyVariantsResetGrading(t *testing.T) {
	env := newTestEnv(t, fullCatalog())
	ctx := context.Background()
	key := store.SessionKey{UserID: 5, SessionID: 1}

	_, err := env.engine.Start(ctx, 5, &Recorder{})
	require.NoError(t, err)
	for _, qid := range []int{1, 2, 3, 7} {
		_, err := env.store.AppendResponse(ctx, key, qid, "x", "x")
		require.NoError(t, err)
	}
	live, err := env.registry.Get(ctx, 5)
	require.NoError(t, err)
	live.Remaining = []int{8, 9, 10, 11, 12, 13, 16}
	require.NoError(t, env.registry.Put(ctx, live))

	env.send(t, 5, text("1"))
	env.send(t, 5, text("1"))
	st, rec := env.send(t, 5, text("1"))

	assert.Contains(t, notices(rec), msgNoVariants)
	assert.Equal(t, []int{8, 9, 10, 11, 12, 13, 16}, st.Remaining)
	assert.Equal(t, 8, lastPrompt(t, rec).QuestionID)
}

func TestEngineVariantRejectsUnknownChoice(t *testing.T) {
	env := newTestEnv(t, fullCatalog())
	ctx := context.Background()
	key := store.SessionKey{UserID: 6, SessionID: 1}
	for qid, v := range map[int]string{1: "x", 2: "x", 3: "x", 7: "x", 8: "2", 9: "1", 10: "3"} {
		_, err := env.store.AppendResponse(ctx, key, qid, v, v)
		require.NoError(t, err)
	}

	rec := &Recorder{}
	st, err := env.engine.Resume(ctx, 6, rec)
	require.NoError(t, err)
	assert.Equal(t, "Продолжаем опрос! (Сессия #1)", notices(rec)[0])
	assert.Equal(t, 11, st.Current())

	_, rec = env.send(t, 6, command(t, "q11_accept_4"))
	assert.Equal(t, []string{msgChoose}, notices(rec))

	st, _ = env.send(t, 6, text("1. Слабо"))
	assert.Equal(t, 12, st.Current())
	require.Len(t, st.Variants, 2)
}

func TestEngineResetGradingStoredSession(t *testing.T) {
	env := newTestEnv(t, fullCatalog())
	ctx := context.Background()
	key := store.SessionKey{UserID: 8, SessionID: 1}
	for _, qid := range []int{8, 9, 10, 11, 12, 13} {
		_, err := env.store.AppendResponse(ctx, key, qid, "1", "1")
		require.NoError(t, err)
	}

	st, err := env.engine.ResetGrading(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 7, 8, 9, 10, 11, 12, 14, 16}, st.Remaining)

	active, err := env.store.ActiveResponses(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{13: "1"}, store.AnswerMap(active))
	_, err = env.registry.Get(ctx, 8)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestEngineHandleWithoutSession(t *testing.T) {
	env := newTestEnv(t, fullCatalog())
	rec := &Recorder{}
	_, err := env.engine.Handle(context.Background(), 99, text("привет"), rec)
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.Equal(t, []string{msgNoSession}, notices(rec))
}

func TestEngineRestartOpensNextSession(t *testing.T) {
	env := newTestEnv(t, fullCatalog())
	ctx := context.Background()
	_, err := env.engine.Start(ctx, 2, &Recorder{})
	require.NoError(t, err)
	_, err = env.store.AppendResponse(ctx, store.SessionKey{UserID: 2, SessionID: 1}, 1, "x", "x")
	require.NoError(t, err)

	st, rec := env.send(t, 2, command(t, "restart"))
	assert.Equal(t, 2, st.SessionID)
	assert.Equal(t, "Начинаю опрос! (Сессия #2)", notices(rec)[0])
}

type storeFailure struct {
	*store.MemoryStore
}

func (s storeFailure) AppendResponse(context.Context, store.SessionKey, int, string, string) (int64, error) {
	return 0, errors.New("disk full")
}

func TestEngineStorageFailureKeepsLiveState(t *testing.T) {
	c := (&survey.Catalog{QuestionList: levels(8), Rules: []survey.ConflictRule{}}).Index()
	reg := NewMemoryRegistry()
	engine := NewEngine(Deps{
		Reference:   c,
		Responses:   storeFailure{store.NewMemoryStore()},
		Interpreter: &fakeInterpreter{},
		Registry:    reg,
	}, nil)
	ctx := context.Background()
	_, err := engine.Start(ctx, 1, &Recorder{})
	require.NoError(t, err)

	rec := &Recorder{}
	_, err = engine.Handle(ctx, 1, text("2"), rec)
	require.Error(t, err)
	assert.Equal(t, []string{msgTurnFailed}, notices(rec))

	live, err := reg.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, live.Current())
}

type captureReporter struct {
	gradeErr error
}

func (r *captureReporter) Deliver(_ context.Context, _ store.SessionKey, _ *grade.Result, _ grade.Diagnostic, gradeErr error) (string, error) {
	r.gradeErr = gradeErr
	return "отчет готов", nil
}

func TestEngineCompletionReportsGradeFailure(t *testing.T) {
	c := fullCatalog()
	c.QuestionList = levels(8)
	c.Index()
	rep := &captureReporter{}
	engine := NewEngine(Deps{
		Reference:   c,
		Responses:   store.NewMemoryStore(),
		Interpreter: &fakeInterpreter{},
		Reporter:    rep,
	}, nil)
	ctx := context.Background()
	_, err := engine.Start(ctx, 1, &Recorder{})
	require.NoError(t, err)

	rec := &Recorder{}
	st, err := engine.Handle(ctx, 1, text("2"), rec)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.ErrorIs(t, rep.gradeErr, grade.ErrMissingPrerequisiteAnswers)
	assert.Equal(t, "отчет готов", notices(rec)[len(notices(rec))-1])
}

func TestGradeSummary(t *testing.T) {
	assert.Equal(t, "⚠️ Грейд не рассчитан: нет данных", GradeSummary(nil, nil))
	assert.Contains(t, GradeSummary(nil, errors.New("boom")), "boom")
}

func singleVariantCatalog() *survey.Catalog {
	questions := levels(8, 9, 10)
	questions = append(questions,
		survey.Question{ID: 11, Text: "Масштаб"},
		survey.Question{ID: 12, Text: "Влияние"},
	)
	rule, _ := survey.NewConflictRule(2,
		survey.RulePair{QuestionID: 11, AnswerID: 3, QuestionText: "Масштаб", AnswerText: "3. Широко"},
		survey.RulePair{QuestionID: 12, AnswerID: 1, QuestionText: "Влияние", AnswerText: "1. Низко"},
	)
	return (&survey.Catalog{
		QuestionList: questions,
		Rules:        []survey.ConflictRule{rule},
		Tables: &survey.GradeTables{
			P1: []survey.P1Row{{Q8: 2, Q9: 1, Q10: 3, Value: 5}},
		},
		VariantRows: []survey.VariantRow{
			{P1: 5, Q11Text: "3. Широко", Q11Answer: 3, Q12Text: "1. Низко", Q12Answer: 1},
		},
	}).Index()
}

func TestEngineConflictFromAutomaticAnswers(t *testing.T) {
	env := newTestEnv(t, singleVariantCatalog())
	ctx := context.Background()

	_, err := env.engine.Start(ctx, 11, &Recorder{})
	require.NoError(t, err)
	env.send(t, 11, text("2"))
	env.send(t, 11, text("1"))

	done := make(chan struct{})
	var (
		st  *State
		rec *Recorder
	)
	go func() {
		defer close(done)
		rec = &Recorder{}
		st, err = env.engine.Handle(ctx, 11, text("3"), rec)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("turn did not return, conflict explanations so far: %d", env.interp.explained)
	}
	require.NoError(t, err)

	got := notices(rec)
	assert.Contains(t, got, "Вопрос 11: Масштаб\n→ Выбран единственный подходящий вариант: 3. Широко")
	assert.Contains(t, got, "Вопрос 12: Влияние\n→ Выбран единственный подходящий вариант: 1. Низко")
	assert.Contains(t, got, msgConflict)
	assert.Contains(t, got, msgRetry)
	assert.Equal(t, 1, env.interp.explained)
	assert.Equal(t, []int64{2}, env.conflict)

	assert.Equal(t, []int{11, 12}, st.Remaining)
	assert.ElementsMatch(t, []int{11, 12}, st.Manual)
	prompt := lastPrompt(t, rec)
	assert.Equal(t, 11, prompt.QuestionID)
	require.Len(t, prompt.Choices, 1)
	assert.Equal(t, "q11_accept_3", prompt.Choices[0].Command)

	st, rec = env.send(t, 11, command(t, "q11_accept_3"))
	assert.Equal(t, 12, st.Current())
	assert.Equal(t, []int{12}, st.Manual)
	assert.Equal(t, "q12_accept_1", lastPrompt(t, rec).Choices[0].Command)

	st, _ = env.send(t, 11, command(t, "q12_accept_1"))
	assert.Equal(t, 2, env.interp.explained)
	assert.Equal(t, []int64{2, 2}, env.conflict)
	assert.Equal(t, 11, st.Current())

	key := store.SessionKey{UserID: 11, SessionID: 1}
	active, err := env.store.ActiveResponses(ctx, key)
	require.NoError(t, err)
	answers := store.AnswerMap(active)
	assert.NotContains(t, answers, 11)
	assert.NotContains(t, answers, 12)
}

func TestEngineAdvanceStopsOnCanceledContext(t *testing.T) {
	env := newTestEnv(t, singleVariantCatalog())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.engine.Start(ctx, 12, &Recorder{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineResumeSkipsAnswerMissingFromSnapshot(t *testing.T) {
	c := (&survey.Catalog{QuestionList: levels(8, 9, 10), Rules: []survey.ConflictRule{}}).Index()
	env := newTestEnv(t, c)
	ctx := context.Background()
	key := store.SessionKey{UserID: 13, SessionID: 1}

	_, err := env.store.AppendResponse(ctx, key, 8, "2", "2")
	require.NoError(t, err)
	raw, err := newState(key, []int{9, 10}).Marshal()
	require.NoError(t, err)
	require.NoError(t, env.store.SaveState(ctx, key, raw))
	// The next answer reached the log but its snapshot did not.
	_, err = env.store.AppendResponse(ctx, key, 9, "1", "1")
	require.NoError(t, err)

	rec := &Recorder{}
	st, err := env.engine.Resume(ctx, 13, rec)
	require.NoError(t, err)
	assert.Equal(t, []int{10}, st.Remaining)
	assert.Equal(t, 10, lastPrompt(t, rec).QuestionID)
}

func TestEngineLocksAreBounded(t *testing.T) {
	env := newTestEnv(t, fullCatalog())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := int64(1); i <= 2*lockStripes; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			assert.NoError(t, env.engine.Discard(ctx, userID))
		}(i)
	}
	wg.Wait()

	unlock := env.engine.lock(1 + lockStripes)
	assert.False(t, env.engine.locks[1].TryLock(), "user 1 and its stripe twin share a mutex")
	unlock()
	require.True(t, env.engine.locks[1].TryLock())
	env.engine.locks[1].Unlock()
}
