package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"jobgrade/internal/app/apiresp"
	"jobgrade/internal/interview"
	"jobgrade/internal/store"
)

type builder interface {
	Build(ctx context.Context, key store.SessionKey) (*Report, error)
}

type Handler struct {
	svc builder
}

func NewHandler(svc builder) *Handler {
	return &Handler{svc: svc}
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Session serves the report of /{userID}/{sessionID}; ?format=xlsx downloads the workbook.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	key, ok := interview.ParseSessionKey(w, r)
	if !ok {
		return
	}
	rep, err := h.svc.Build(r.Context(), key)
	if err != nil {
		if errors.Is(err, ErrEmptySession) {
			apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
			return
		}
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	if !strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("format")), "xlsx") {
		apiresp.WriteOK(w, r, http.StatusOK, rep)
		return
	}
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, rep); err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "render report failed")
		return
	}
	filename := fmt.Sprintf("report_user_%d_session_%d.xlsx", key.UserID, key.SessionID)
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
