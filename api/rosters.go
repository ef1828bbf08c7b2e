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

type RosterStore interface {
	repository.RosterRepo
	repository.SoftDeleter
}

type RostersHandler struct {
	store RosterStore
	audit *audit.Recorder
}

func NewRostersHandler(store RosterStore, rec *audit.Recorder) *RostersHandler {
	return &RostersHandler{store: store, audit: rec}
}

type rosterQuery struct {
	listQuery
	ClientID  int64  `schema:"clientId"`
	UserID    int64  `schema:"userId"`
	WeekStart string `schema:"weekStart"`
}

// List returns rosters matching the query. Drivers only ever see their own.
func (h *RostersHandler) List(w http.ResponseWriter, r *http.Request) {
	s, ok := SubjectFrom(r.Context())
	if !ok {
		writeError(w, r, apperror.Unauthorized("authentication required"))
		return
	}
	var q rosterQuery
	if err := decodeQuery(r, &q); err != nil {
		writeError(w, r, err)
		return
	}

	f := repository.RosterFilter{ClientID: q.ClientID, UserID: q.UserID, WeekStart: q.WeekStart}
	if !policy.Allow(s, policy.RosterList, policy.Resource{}) {
		if s.Role != models.RoleDriver {
			writeError(w, r, apperror.Forbidden("not allowed to list rosters"))
			return
		}
		f.UserID = s.UserID
	}

	rosters, err := h.store.ListRosters(r.Context(), f, q.params())
	if err != nil {
		writeError(w, r, apperror.Internal(err, "list rosters"))
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rosters))
}

func (h *RostersHandler) Create(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.RosterManage, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}

	var ro models.Roster
	if err := decodeJSON(w, r, &ro); err != nil {
		writeError(w, r, err)
		return
	}
	ro.ID, ro.SoftDelete = 0, models.SoftDelete{}
	if err := validate.Struct(ro); err != nil {
		writeError(w, r, err)
		return
	}

	id, err := h.store.CreateRoster(r.Context(), &ro)
	if err != nil {
		writeError(w, r, apperror.Internal(err, "create roster"))
		return
	}
	record(r, h.audit, "roster.create", "roster", id, ro.WeekStart, ro)

	created, err := h.load(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *RostersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ro, err := h.load(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := authorize(r, policy.RosterRead, policy.Resource{OwnerID: ro.UserID, ClientID: ro.ClientID}); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ro)
}

func (h *RostersHandler) Update(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, policy.RosterManage, policy.Resource{}); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ro, err := h.load(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	before := *ro

	if err := decodeJSON(w, r, ro); err != nil {
		writeError(w, r, err)
		return
	}
	ro.ID, ro.Created, ro.SoftDelete = before.ID, before.Created, before.SoftDelete
	if err := validate.Struct(ro); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.store.UpdateRoster(r.Context(), ro); err != nil {
		writeError(w, r, apperror.Internal(err, "update roster"))
		return
	}
	record(r, h.audit, "roster.update", "roster", id, ro.WeekStart, map[string]any{"before": before, "after": ro})

	writeJSON(w, http.StatusOK, ro)
}

func (h *RostersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	s, err := authorize(r, policy.RosterManage, policy.Resource{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	ro, err := h.load(r, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.SoftDelete(r.Context(), "rosters", id, s.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	record(r, h.audit, "roster.delete", "roster", id, ro.WeekStart, nil)

	w.WriteHeader(http.StatusNoContent)
}

func (h *RostersHandler) load(r *http.Request, id int64) (*models.Roster, error) {
	ro, err := h.store.GetRoster(r.Context(), id)
	if err != nil {
		return nil, apperror.Internal(err, "load roster")
	}
	if ro == nil {
		return nil, apperror.NotFound("roster", id)
	}
	return ro, nil
}
