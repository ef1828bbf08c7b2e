package api

import (
	"net/http"

	"github.com/garnizeh/timesheets/internal/apperror"
	"github.com/garnizeh/timesheets/internal/audit"
	"github.com/garnizeh/timesheets/internal/policy"
)

// authorize resolves the caller and checks a against res.
func authorize(r *http.Request, a policy.Action, res policy.Resource) (policy.Subject, error) {
	s, ok := SubjectFrom(r.Context())
	if !ok {
		return policy.Subject{}, apperror.Unauthorized("authentication required")
	}
	if !policy.Allow(s, a, res) {
		return s, apperror.Forbidden("not allowed to " + string(a))
	}
	return s, nil
}

// record appends an audit entry for an admin mutation. Failures are logged by the recorder.
func record(r *http.Request, rec *audit.Recorder, action, entityType string, id int64, name string, changes any) {
	if rec == nil {
		return
	}
	rec.Record(r.Context(), rec.Entry(r.Context(), actorFrom(r.Context()), action, entityType, id, name, changes))
}
