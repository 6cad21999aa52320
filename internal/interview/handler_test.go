package interview

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"jobgrade/internal/store"

	"github.com/go-chi/chi/v5"
)

type mockEngine struct {
	startFn        func(ctx context.Context, userID int64, sink Sink) (*State, error)
	resumeFn       func(ctx context.Context, userID int64, sink Sink) (*State, error)
	handleFn       func(ctx context.Context, userID int64, in Input, sink Sink) (*State, error)
	liveFn         func(ctx context.Context, userID int64) (*State, error)
	discardFn      func(ctx context.Context, userID int64) error
	resetGradingFn func(ctx context.Context, key store.SessionKey) (*State, error)
}

func (m *mockEngine) Start(ctx context.Context, userID int64, sink Sink) (*State, error) {
	return m.startFn(ctx, userID, sink)
}

func (m *mockEngine) Resume(ctx context.Context, userID int64, sink Sink) (*State, error) {
	return m.resumeFn(ctx, userID, sink)
}

func (m *mockEngine) Handle(ctx context.Context, userID int64, in Input, sink Sink) (*State, error) {
	return m.handleFn(ctx, userID, in, sink)
}

func (m *mockEngine) Live(ctx context.Context, userID int64) (*State, error) {
	return m.liveFn(ctx, userID)
}

func (m *mockEngine) Discard(ctx context.Context, userID int64) error {
	return m.discardFn(ctx, userID)
}

func (m *mockEngine) ResetGrading(ctx context.Context, key store.SessionKey) (*State, error) {
	return m.resetGradingFn(ctx, key)
}

func testRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/interviews", h.Start)
	r.Post("/interviews/{userID}/resume", h.Resume)
	r.Post("/interviews/{userID}/messages", h.Message)
	r.Get("/interviews/{userID}", h.Get)
	r.Delete("/interviews/{userID}", h.Discard)
	r.Post("/sessions/{userID}/{sessionID}/reset-grading", h.ResetGrading)
	return r
}

type envelope struct {
	OK   bool `json:"ok"`
	Data struct {
		State    *State    `json:"state"`
		Messages []Message `json:"messages"`
	} `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v body=%s", err, rr.Body.String())
	}
	return rr, env
}

func TestHandlerStart(t *testing.T) {
	svc := &mockEngine{startFn: func(ctx context.Context, userID int64, sink Sink) (*State, error) {
		if userID != 42 {
			t.Fatalf("userID = %d", userID)
		}
		_ = sink.Notify(ctx, "hi")
		_ = sink.Ask(ctx, Prompt{QuestionID: 1, Text: "Вопрос 1: ?"})
		return &State{UserID: 42, SessionID: 1, Phase: PhaseInProgress, Remaining: []int{1}}, nil
	}}
	r := testRouter(NewHandler(svc))

	rr, env := do(t, r, http.MethodPost, "/interviews", `{"user_id":42}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if len(env.Data.Messages) != 2 || env.Data.Messages[1].Prompt.QuestionID != 1 {
		t.Fatalf("messages = %+v", env.Data.Messages)
	}
	if env.Data.State.SessionID != 1 {
		t.Fatalf("state = %+v", env.Data.State)
	}

	rr, _ = do(t, r, http.MethodPost, "/interviews", `{"user_id":0}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid user status = %d", rr.Code)
	}
}

func TestHandlerMessage(t *testing.T) {
	var got Input
	svc := &mockEngine{handleFn: func(ctx context.Context, userID int64, in Input, sink Sink) (*State, error) {
		got = in
		return &State{UserID: userID, Phase: PhaseInProgress}, nil
	}}
	r := testRouter(NewHandler(svc))

	tests := []struct {
		name   string
		body   string
		status int
		check  func(t *testing.T)
	}{
		{"text", `{"text":"ответ"}`, http.StatusOK, func(t *testing.T) {
			if got.Text != "ответ" || got.Command != nil {
				t.Fatalf("input = %+v", got)
			}
		}},
		{"command", `{"command":"q11_accept_3"}`, http.StatusOK, func(t *testing.T) {
			if got.Command == nil || got.Command.Kind != CmdSelectVariant || got.Command.Value != 3 {
				t.Fatalf("input = %+v", got)
			}
		}},
		{"unknown command", `{"command":"fly"}`, http.StatusBadRequest, nil},
		{"empty", `{}`, http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _ := do(t, r, http.MethodPost, "/interviews/5/messages", tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d, body = %s", rr.Code, tt.status, rr.Body.String())
			}
			if tt.check != nil {
				tt.check(t)
			}
		})
	}

	rr, _ := do(t, r, http.MethodPost, "/interviews/abc/messages", `{"text":"x"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad user id status = %d", rr.Code)
	}
}

func TestHandlerErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{ErrNoActiveSession, http.StatusNotFound},
		{store.ErrNoSession, http.StatusNotFound},
		{ErrSessionCompleted, http.StatusConflict},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		svc := &mockEngine{
			resumeFn: func(context.Context, int64, Sink) (*State, error) { return nil, tt.err },
			liveFn:   func(context.Context, int64) (*State, error) { return nil, tt.err },
		}
		r := testRouter(NewHandler(svc))
		if rr, _ := do(t, r, http.MethodPost, "/interviews/1/resume", ""); rr.Code != tt.status {
			t.Fatalf("resume(%v) status = %d, want %d", tt.err, rr.Code, tt.status)
		}
		if rr, _ := do(t, r, http.MethodGet, "/interviews/1", ""); rr.Code != tt.status {
			t.Fatalf("get(%v) status = %d, want %d", tt.err, rr.Code, tt.status)
		}
	}
}

func TestHandlerDiscardAndReset(t *testing.T) {
	var discarded int64
	var resetKey store.SessionKey
	svc := &mockEngine{
		discardFn: func(_ context.Context, userID int64) error {
			discarded = userID
			return nil
		},
		resetGradingFn: func(_ context.Context, key store.SessionKey) (*State, error) {
			resetKey = key
			return &State{UserID: key.UserID, SessionID: key.SessionID, Remaining: []int{8, 9}}, nil
		},
	}
	r := testRouter(NewHandler(svc))

	if rr, _ := do(t, r, http.MethodDelete, "/interviews/9", ""); rr.Code != http.StatusOK || discarded != 9 {
		t.Fatalf("discard status = %d, user = %d", rr.Code, discarded)
	}
	if rr, _ := do(t, r, http.MethodPost, "/sessions/9/2/reset-grading", ""); rr.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rr.Code)
	}
	if resetKey != (store.SessionKey{UserID: 9, SessionID: 2}) {
		t.Fatalf("reset key = %+v", resetKey)
	}
	if rr, _ := do(t, r, http.MethodPost, "/sessions/9/x/reset-grading", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad session status = %d", rr.Code)
	}
}
