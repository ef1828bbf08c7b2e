package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/garnizeh/timesheets/api"
	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository/mock"
)

func TestTimesheetsHandler_DriverScope(t *testing.T) {
	mocks := mock.NewMocks()
	mocks.TimesheetRepo.Add(models.Timesheet{ID: 1, UserID: 7, WeekStart: "2024-06-03", ApprovalStatus: models.StatusPending})
	mocks.TimesheetRepo.Add(models.Timesheet{ID: 2, UserID: 8, WeekStart: "2024-06-03", ApprovalStatus: models.StatusPending})
	h := api.NewTimesheetsHandler(mocks.TimesheetRepo, nil)

	// a driver asking for someone else's timesheets still only sees their own
	req := withSubject(httptest.NewRequest(http.MethodGet, "/v1/timesheets?userId=8", nil), 7, models.RoleDriver, nil)
	w := httptest.NewRecorder()
	h.List(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200 got %d", w.Code)
	}
	var list []models.Timesheet
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != 1 {
		t.Fatalf("driver must only see own timesheets, got %#v", list)
	}

	req = withSubject(httptest.NewRequest(http.MethodGet, "/v1/timesheets", nil), 5, models.RoleClient, nil)
	w = httptest.NewRecorder()
	h.List(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("client listing timesheets: expected 403 got %d", w.Code)
	}

	get := func(id string, userID int64, role models.Role) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/timesheets/"+id, nil)
		req = mux.SetURLVars(withSubject(req, userID, role, nil), map[string]string{"id": id})
		w := httptest.NewRecorder()
		h.Get(w, req)
		return w.Code
	}
	if code := get("1", 7, models.RoleDriver); code != http.StatusOK {
		t.Fatalf("own timesheet: expected 200 got %d", code)
	}
	if code := get("2", 7, models.RoleDriver); code != http.StatusForbidden {
		t.Fatalf("foreign timesheet: expected 403 got %d", code)
	}
	if code := get("2", 1, models.RoleAdmin); code != http.StatusOK {
		t.Fatalf("admin: expected 200 got %d", code)
	}
	if code := get("abc", 1, models.RoleAdmin); code != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400 got %d", code)
	}
}

func TestTimesheetsHandler_StatusGuard(t *testing.T) {
	mocks := mock.NewMocks()
	mocks.TimesheetRepo.Add(models.Timesheet{ID: 1, UserID: 7, WeekStart: "2024-06-03", ApprovalStatus: models.StatusPending})
	h := api.NewTimesheetsHandler(mocks.TimesheetRepo, nil)

	patch := func(userID int64, role models.Role, body any) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "/v1/timesheets/1", jsonBody(body))
		req = mux.SetURLVars(withSubject(req, userID, role, nil), map[string]string{"id": "1"})
		w := httptest.NewRecorder()
		h.Update(w, req)
		return w
	}

	if w := patch(7, models.RoleDriver, map[string]any{"approvalStatus": "approved"}); w.Code != http.StatusForbidden {
		t.Fatalf("driver self-approval: expected 403 got %d", w.Code)
	}

	w := patch(7, models.RoleDriver, map[string]any{
		"entries":          []map[string]any{{"day": "mon", "hours": 9.5}},
		"clientApprovedBy": "forged",
		"userId":           99,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("driver edit: expected 200 got %d: %s", w.Code, w.Body.String())
	}
	var got models.Timesheet
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ClientApprovedBy != nil || got.UserID != 7 || got.TotalHours() != 9.5 {
		t.Fatalf("protected fields must not change: %#v", got)
	}

	if w := patch(7, models.RoleDriver, map[string]any{"entries": []map[string]any{{"day": "someday"}}}); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid entry: expected 400 got %d", w.Code)
	}

	if w := patch(1, models.RoleAdmin, map[string]any{"approvalStatus": "rejected"}); w.Code != http.StatusOK {
		t.Fatalf("admin status change: expected 200 got %d", w.Code)
	}
	if s := mocks.TimesheetRepo.Stored[1].ApprovalStatus; s != models.StatusRejected {
		t.Fatalf("expected stored status rejected, got %s", s)
	}
}

func TestTimesheetsHandler_Create(t *testing.T) {
	mocks := mock.NewMocks()
	h := api.NewTimesheetsHandler(mocks.TimesheetRepo, nil)

	create := func(userID int64, role models.Role, body any) *httptest.ResponseRecorder {
		req := withSubject(httptest.NewRequest(http.MethodPost, "/v1/timesheets", jsonBody(body)), userID, role, nil)
		w := httptest.NewRecorder()
		h.Create(w, req)
		return w
	}

	w := create(7, models.RoleDriver, map[string]any{"weekStart": "2024-06-03", "entries": []map[string]any{{"day": "tue", "hours": 8}}})
	if w.Code != http.StatusCreated {
		t.Fatalf("driver create: expected 201 got %d: %s", w.Code, w.Body.String())
	}
	var ts models.Timesheet
	_ = json.Unmarshal(w.Body.Bytes(), &ts)
	if ts.UserID != 7 || ts.ApprovalStatus != models.StatusPending {
		t.Fatalf("unexpected timesheet %#v", ts)
	}

	if w := create(7, models.RoleDriver, map[string]any{"userId": 8, "weekStart": "2024-06-03"}); w.Code != http.StatusForbidden {
		t.Fatalf("driver creating for another driver: expected 403 got %d", w.Code)
	}
	if w := create(7, models.RoleDriver, map[string]any{"weekStart": "2024-06-03", "approvalStatus": "approved"}); w.Code != http.StatusForbidden {
		t.Fatalf("driver creating approved timesheet: expected 403 got %d", w.Code)
	}
	if w := create(1, models.RoleAdmin, map[string]any{"weekStart": "03/06/2024", "userId": 7}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad week start: expected 400 got %d", w.Code)
	}
}
