package http

import (
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/flock/pkg/domain/interfaces"
	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/goerr/v2"
)

// transform IDs are lowercase hex digests
var transformIDPattern = regexp.MustCompile(`^[0-9a-f]{1,64}$`)

type outcomeHandler struct {
	ledger interfaces.Ledger
}

type outcomeListResponse struct {
	TransformID model.TransformID    `json:"transform_id"`
	Outcomes    []*model.LedgerEntry `json:"outcomes"`
}

type summaryResponse struct {
	TransformID model.TransformID `json:"transform_id"`
	Total       int               `json:"total"`
	Counts      model.Summary     `json:"counts"`
}

func (h *outcomeHandler) transformID(w http.ResponseWriter, r *http.Request) (model.TransformID, bool) {
	id := chi.URLParam(r, "transformID")
	if !transformIDPattern.MatchString(id) {
		writeError(w, r, goerr.New("invalid transform ID"), http.StatusBadRequest)
		return "", false
	}
	return model.TransformID(id), true
}

func (h *outcomeHandler) list(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transformID(w, r)
	if !ok {
		return
	}

	entries, err := h.ledger.List(r.Context(), id)
	if err != nil {
		writeError(w, r, goerr.Wrap(err, "failed to list outcomes", goerr.V("transform_id", id)), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*model.LedgerEntry{}
	}

	writeJSON(w, r, &outcomeListResponse{TransformID: id, Outcomes: entries}, http.StatusOK)
}

func (h *outcomeHandler) summary(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transformID(w, r)
	if !ok {
		return
	}

	summary, err := h.ledger.Summarize(r.Context(), id)
	if err != nil {
		writeError(w, r, goerr.Wrap(err, "failed to summarize outcomes", goerr.V("transform_id", id)), http.StatusInternalServerError)
		return
	}
	if summary == nil {
		summary = model.Summary{}
	}

	writeJSON(w, r, &summaryResponse{TransformID: id, Total: summary.Total(), Counts: summary}, http.StatusOK)
}
