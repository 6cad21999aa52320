package interview

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"jobgrade/internal/app/apiresp"
	"jobgrade/internal/store"

	"github.com/go-chi/chi/v5"
)

type engineService interface {
	Start(ctx context.Context, userID int64, sink Sink) (*State, error)
	Resume(ctx context.Context, userID int64, sink Sink) (*State, error)
	Handle(ctx context.Context, userID int64, in Input, sink Sink) (*State, error)
	Live(ctx context.Context, userID int64) (*State, error)
	Discard(ctx context.Context, userID int64) error
	ResetGrading(ctx context.Context, key store.SessionKey) (*State, error)
}

type Handler struct {
	svc engineService
}

func NewHandler(svc engineService) *Handler {
	return &Handler{svc: svc}
}

type startRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

type messageRequest struct {
	Text    string `json:"text" validate:"required_without=Command,max=4000"`
	Command string `json:"command" validate:"required_without=Text,max=64"`
}

type turnResponse struct {
	State    *State    `json:"state,omitempty"`
	Messages []Message `json:"messages"`
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec := &Recorder{}
	st, err := h.svc.Start(r.Context(), req.UserID, rec)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, turnResponse{State: st, Messages: rec.Messages()})
}

func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	rec := &Recorder{}
	st, err := h.svc.Resume(r.Context(), userID, rec)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, turnResponse{State: st, Messages: rec.Messages()})
}

func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	in := Input{Text: req.Text}
	if req.Command != "" {
		cmd, err := ParseCommand(req.Command)
		if err != nil {
			apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		in = Input{Command: &cmd}
	}

	rec := &Recorder{}
	st, err := h.svc.Handle(r.Context(), userID, in, rec)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, turnResponse{State: st, Messages: rec.Messages()})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	st, err := h.svc.Live(r.Context(), userID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, st)
}

func (h *Handler) Discard(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Discard(r.Context(), userID); err != nil {
		writeEngineError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]bool{"discarded": true})
}

// ResetGrading serves the admin route for an arbitrary stored session.
func (h *Handler) ResetGrading(w http.ResponseWriter, r *http.Request) {
	key, ok := ParseSessionKey(w, r)
	if !ok {
		return
	}
	st, err := h.svc.ResetGrading(r.Context(), key)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, st)
}

func parseUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

// ParseSessionKey reads the {userID}/{sessionID} route params.
func ParseSessionKey(w http.ResponseWriter, r *http.Request) (store.SessionKey, bool) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return store.SessionKey{}, false
	}
	sessionID, err := strconv.Atoi(chi.URLParam(r, "sessionID"))
	if err != nil || sessionID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid session id")
		return store.SessionKey{}, false
	}
	return store.SessionKey{UserID: userID, SessionID: sessionID}, true
}

func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNoActiveSession), errors.Is(err, store.ErrNoSession):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSessionCompleted):
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
