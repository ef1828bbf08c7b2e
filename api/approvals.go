package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/garnizeh/timesheets/internal/approval"
	"github.com/garnizeh/timesheets/internal/policy"
	"github.com/garnizeh/timesheets/pkg/models"
)

// ApprovalsHandler serves batch management for admins and clients and the
// public token endpoints used by external approvers.
type ApprovalsHandler struct {
	engine *approval.Engine
}

func NewApprovalsHandler(engine *approval.Engine) *ApprovalsHandler {
	return &ApprovalsHandler{engine: engine}
}

func (h *ApprovalsHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.BatchCreate, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}

	var in approval.CreateBatchInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.engine.CreateBatch(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type batchQuery struct {
	listQuery
	ClientID int64 `schema:"clientId"`
}

func (h *ApprovalsHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	s, err := effectiveSubject(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var q batchQuery
	if err := decodeQuery(r, &q); err != nil {
		writeError(w, r, err)
		return
	}

	batches, err := h.engine.ListBatches(r.Context(), s, q.ClientID, q.params())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(batches))
}

func (h *ApprovalsHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	s, err := effectiveSubject(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "batchId")
	if err != nil {
		writeError(w, r, err)
		return
	}

	b, err := h.engine.GetBatch(r.Context(), s, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ClientBatchTimesheets lists a batch's timesheets for the owning client.
func (h *ApprovalsHandler) ClientBatchTimesheets(w http.ResponseWriter, r *http.Request) {
	s, err := effectiveSubject(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "batchId")
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := h.engine.ListBatchTimesheets(r.Context(), s, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// Resolve is the public landing endpoint behind an emailed approval link.
func (h *ApprovalsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.ResolveBatch(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	view.Timesheets = nonNil(view.Timesheets)
	writeJSON(w, http.StatusOK, view)
}

func (h *ApprovalsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.engine.Approve)
}

func (h *ApprovalsHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.engine.Reject)
}

type decisionFunc func(ctx context.Context, token string, timesheetID int64, payload []byte) (*models.Timesheet, error)

func (h *ApprovalsHandler) decide(w http.ResponseWriter, r *http.Request, fn decisionFunc) {
	id, err := pathID(r, "timesheetId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	payload, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	t, err := fn(r.Context(), mux.Vars(r)["token"], id, payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
