package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/garnizeh/timesheets/internal/apperror"
	"github.com/garnizeh/timesheets/internal/audit"
	"github.com/garnizeh/timesheets/internal/policy"
	"github.com/garnizeh/timesheets/pkg/repository"
)

// DeletedHandler exposes the soft-delete registry.
type DeletedHandler struct {
	store repository.SoftDeleter
	audit *audit.Recorder
}

func NewDeletedHandler(store repository.SoftDeleter, rec *audit.Recorder) *DeletedHandler {
	return &DeletedHandler{store: store, audit: rec}
}

func (h *DeletedHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.DeletedManage, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}

	items, err := h.store.ListDeleted(r.Context(), mux.Vars(r)["entity"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

func (h *DeletedHandler) Restore(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.DeletedManage, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}
	kind := mux.Vars(r)["entity"]
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.store.Restore(r.Context(), kind, id); err != nil {
		writeError(w, r, err)
		return
	}
	record(r, h.audit, "restore", kind, id, "", nil)

	writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "id": id, "restored": true})
}

type AuditHandler struct {
	audit *audit.Recorder
}

func NewAuditHandler(rec *audit.Recorder) *AuditHandler {
	return &AuditHandler{audit: rec}
}

type auditQuery struct {
	listQuery
	EntityType string `schema:"entityType"`
	EntityID   int64  `schema:"entityId"`
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.AuditRead, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}
	var q auditQuery
	if err := decodeQuery(r, &q); err != nil {
		writeError(w, r, err)
		return
	}

	entries, err := h.audit.List(r.Context(), repository.AuditFilter{EntityType: q.EntityType, EntityID: q.EntityID}, q.params())
	if err != nil {
		writeError(w, r, apperror.Internal(err, "list audit log"))
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}
