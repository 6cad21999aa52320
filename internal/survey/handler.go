package survey

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"jobgrade/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

// CatalogSaver persists an imported catalog and swaps it in for new sessions.
type CatalogSaver interface {
	SaveCatalog(ctx context.Context, c *Catalog) error
}

type Handler struct {
	ref   Reference
	saver CatalogSaver
	swap  func(*Catalog)
}

const maxImportBytes = 20 << 20

func NewHandler(ref Reference, saver CatalogSaver, swap func(*Catalog)) *Handler {
	return &Handler{ref: ref, saver: saver, swap: swap}
}

func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	items, err := h.ref.Questions(r.Context())
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	section := strings.TrimSpace(r.URL.Query().Get("section"))
	if section != "" {
		filtered := make([]Question, 0, len(items))
		for _, q := range items {
			if strings.EqualFold(q.Section, section) {
				filtered = append(filtered, q)
			}
		}
		items = filtered
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid question id")
		return
	}
	q, err := h.ref.Question(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrQuestionNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
			return
		}
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{
		"question": q,
		"options":  q.Options(),
	})
}

func (h *Handler) ListHierarchy(w http.ResponseWriter, r *http.Request) {
	parent := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("parent_id")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			apiresp.WriteError(w, r, http.StatusBadRequest, "parent_id must be a non-negative integer")
			return
		}
		parent = n
	}
	items, err := h.ref.HierarchyChildren(r.Context(), parent)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "multipart form with a file field is required")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	catalog, report, err := ImportWorkbook(file)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := h.saver.SaveCatalog(r.Context(), catalog); err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "save reference tables failed")
		return
	}
	if h.swap != nil {
		h.swap(catalog)
	}
	apiresp.WriteOK(w, r, http.StatusOK, report)
}
