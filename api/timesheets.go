package api

import (
	"net/http"

	"github.com/garnizeh/timesheets/internal/apperror"
	"github.com/garnizeh/timesheets/internal/audit"
	"github.com/garnizeh/timesheets/internal/policy"
	"github.com/garnizeh/timesheets/internal/validate"
	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

type TimesheetStore interface {
	repository.TimesheetRepo
	repository.SoftDeleter
}

type TimesheetsHandler struct {
	store TimesheetStore
	audit *audit.Recorder
}

func NewTimesheetsHandler(store TimesheetStore, rec *audit.Recorder) *TimesheetsHandler {
	return &TimesheetsHandler{store: store, audit: rec}
}

type timesheetQuery struct {
	listQuery
	UserID    int64  `schema:"userId"`
	WeekStart string `schema:"weekStart"`
	Status    string `schema:"status"`
}

// List returns timesheets matching the query. Drivers only see their own.
func (h *TimesheetsHandler) List(w http.ResponseWriter, r *http.Request) {
	s, ok := SubjectFrom(r.Context())
	if !ok {
		writeError(w, r, apperror.Unauthorized("authentication required"))
		return
	}
	var q timesheetQuery
	if err := decodeQuery(r, &q); err != nil {
		writeError(w, r, err)
		return
	}

	status := models.ApprovalStatus(q.Status)
	if status != "" && !status.Valid() {
		writeError(w, r, apperror.InvalidField("status", "must be one of: pending approved rejected"))
		return
	}

	f := repository.TimesheetFilter{UserID: q.UserID, WeekStart: q.WeekStart, Status: status}
	if !policy.Allow(s, policy.TimesheetListAll, policy.Resource{}) {
		if s.Role != models.RoleDriver {
			writeError(w, r, apperror.Forbidden("not allowed to list timesheets"))
			return
		}
		f.UserID = s.UserID
	}

	list, err := h.store.ListTimesheets(r.Context(), f, q.params())
	if err != nil {
		writeError(w, r, apperror.Internal(err, "list timesheets"))
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *TimesheetsHandler) Create(w http.ResponseWriter, r *http.Request) {
	s, ok := SubjectFrom(r.Context())
	if !ok {
		writeError(w, r, apperror.Unauthorized("authentication required"))
		return
	}

	var t models.Timesheet
	if err := decodeJSON(w, r, &t); err != nil {
		writeError(w, r, err)
		return
	}
	if t.UserID == 0 && s.Role == models.RoleDriver {
		t.UserID = s.UserID
	}
	if !policy.Allow(s, policy.TimesheetCreate, policy.Resource{OwnerID: t.UserID}) {
		writeError(w, r, apperror.Forbidden("not allowed to create this timesheet"))
		return
	}

	if t.ApprovalStatus == "" {
		t.ApprovalStatus = models.StatusPending
	}
	if t.ApprovalStatus != models.StatusPending && !policy.Allow(s, policy.TimesheetSetStatus, policy.Resource{}) {
		writeError(w, r, apperror.Forbidden("not allowed to set approvalStatus"))
		return
	}
	sanitizeTimesheet(&t, models.Timesheet{ApprovalStatus: t.ApprovalStatus, UserID: t.UserID})
	if err := validate.Struct(t); err != nil {
		writeError(w, r, err)
		return
	}

	id, err := h.store.CreateTimesheet(r.Context(), &t)
	if err != nil {
		writeError(w, r, apperror.Internal(err, "create timesheet"))
		return
	}
	record(r, h.audit, "timesheet.create", "timesheet", id, t.WeekStart, t)

	created, err := h.load(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *TimesheetsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.load(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := authorize(r, policy.TimesheetRead, policy.Resource{OwnerID: t.UserID}); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Update applies a partial update. Only admins may change approvalStatus here;
// client decisions go through the approval token path.
func (h *TimesheetsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.load(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := authorize(r, policy.TimesheetUpdate, policy.Resource{OwnerID: t.UserID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	before := *t

	if err := decodeJSON(w, r, t); err != nil {
		writeError(w, r, err)
		return
	}
	if t.ApprovalStatus != before.ApprovalStatus && !policy.Allow(s, policy.TimesheetSetStatus, policy.Resource{}) {
		writeError(w, r, apperror.Forbidden("not allowed to set approvalStatus"))
		return
	}
	sanitizeTimesheet(t, before)
	if err := validate.Struct(t); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.store.UpdateTimesheet(r.Context(), t); err != nil {
		writeError(w, r, apperror.Internal(err, "update timesheet"))
		return
	}
	record(r, h.audit, "timesheet.update", "timesheet", id, t.WeekStart, map[string]any{
		"before": map[string]any{"weekStart": before.WeekStart, "approvalStatus": before.ApprovalStatus, "entries": before.Entries},
		"after":  map[string]any{"weekStart": t.WeekStart, "approvalStatus": t.ApprovalStatus, "entries": t.Entries},
	})

	writeJSON(w, http.StatusOK, t)
}

func (h *TimesheetsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	s, err := authorize(r, policy.TimesheetDelete, policy.Resource{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	t, err := h.load(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.SoftDelete(r.Context(), "timesheets", id, s.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	record(r, h.audit, "timesheet.delete", "timesheet", id, t.WeekStart, nil)

	w.WriteHeader(http.StatusNoContent)
}

func (h *TimesheetsHandler) load(r *http.Request, id int64) (*models.Timesheet, error) {
	t, err := h.store.GetTimesheet(r.Context(), id)
	if err != nil {
		return nil, apperror.Internal(err, "load timesheet")
	}
	if t == nil {
		return nil, apperror.NotFound("timesheet", id)
	}
	return t, nil
}

// sanitizeTimesheet restores every field a generic write may not touch.
func sanitizeTimesheet(t *models.Timesheet, keep models.Timesheet) {
	t.ID = keep.ID
	t.UserID = keep.UserID
	t.BatchID = keep.BatchID
	t.ClientApprovedBy = keep.ClientApprovedBy
	t.ClientApprovedAt = keep.ClientApprovedAt
	t.ClientRating = keep.ClientRating
	t.ClientComments = keep.ClientComments
	t.ClientModifications = keep.ClientModifications
	t.Receipts = keep.Receipts
	t.Created = keep.Created
	t.Updated = keep.Updated
	t.SoftDelete = keep.SoftDelete
	if t.Receipts == nil {
		t.Receipts = []string{}
	}
}
