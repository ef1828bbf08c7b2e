package sqlite_test

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	dbfs "github.com/garnizeh/timesheets/db"
	dbpkg "github.com/garnizeh/timesheets/internal/db"
	sqlite "github.com/garnizeh/timesheets/internal/repository/sqlite"
	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

func setupRepo(t *testing.T) *sqlite.SQLiteRepo {
	t.Helper()
	repo, _ := setupDB(t)
	return repo
}

func setupDB(t *testing.T) (*sqlite.SQLiteRepo, *dbpkg.DB) {
	t.Helper()
	ctx := context.Background()

	d, err := dbpkg.New(ctx, ":memory:", nil)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	if err := dbpkg.Migrate(ctx, d, dbfs.Migrations); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	return sqlite.New(d, nil), d
}

func seedClient(t *testing.T, repo *sqlite.SQLiteRepo, name string) int64 {
	t.Helper()
	id, err := repo.CreateClient(context.Background(), &models.Client{CompanyName: name, Email: "ops@" + name + ".test"})
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	return id
}

func seedDriver(t *testing.T, repo *sqlite.SQLiteRepo, email string) int64 {
	t.Helper()
	id, err := repo.CreateUser(context.Background(), &models.User{Email: email, Name: "Driver", Role: models.RoleDriver})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return id
}

func seedTimesheet(t *testing.T, repo *sqlite.SQLiteRepo, userID int64, week string) int64 {
	t.Helper()
	id, err := repo.CreateTimesheet(context.Background(), &models.Timesheet{
		UserID:    userID,
		WeekStart: week,
		Entries:   []models.TimeEntry{{Day: "mon", Start: "08:00", End: "17:00", Hours: 8}},
	})
	if err != nil {
		t.Fatalf("CreateTimesheet: %v", err)
	}
	return id
}

func TestUserCRUD(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if _, err := repo.CreateUser(ctx, nil); err == nil {
		t.Fatalf("expected error when creating nil user")
	}

	got, err := repo.GetUser(ctx, 9999)
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) for missing user, got %#v, %v", got, err)
	}

	id, err := repo.CreateUser(ctx, &models.User{Email: "jo@example.com", Name: "Jo", Role: models.RoleAdmin, PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, err = repo.GetUserByEmail(ctx, "jo@example.com")
	if err != nil || got == nil {
		t.Fatalf("GetUserByEmail: %v, %#v", err, got)
	}
	if got.ID != id || got.PasswordHash != "hash" || got.Role != models.RoleAdmin {
		t.Fatalf("unexpected user: %#v", got)
	}

	got.Name = "Joanna"
	if err := repo.UpdateUser(ctx, got); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	missing := &models.User{ID: 4242, Email: "x@example.com", Role: models.RoleDriver}
	if err := repo.UpdateUser(ctx, missing); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating missing user, got %v", err)
	}

	seedDriver(t, repo, "d1@example.com")
	drivers, err := repo.ListUsers(ctx, models.RoleDriver, repository.ListParams{})
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(drivers) != 1 || drivers[0].Email != "d1@example.com" {
		t.Fatalf("expected one driver, got %#v", drivers)
	}

	all, err := repo.ListUsers(ctx, "", repository.ListParams{})
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 users, got %d", len(all))
	}
}

func TestClientMinimumHoursStoredAsGiven(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	id := seedClient(t, repo, "acme")
	c, err := repo.GetClient(ctx, id)
	if err != nil || c == nil {
		t.Fatalf("GetClient: %v, %#v", err, c)
	}
	if c.MinimumHours != 0 {
		t.Fatalf("an explicit zero must be kept, got %v", c.MinimumHours)
	}

	c.MinimumHours = 6
	if err := repo.UpdateClient(ctx, c); err != nil {
		t.Fatalf("UpdateClient: %v", err)
	}
	c2, _ := repo.GetClient(ctx, id)
	if c2.MinimumHours != 6 {
		t.Fatalf("expected 6 hours after update, got %v", c2.MinimumHours)
	}
}

func primaryCount(t *testing.T, repo *sqlite.SQLiteRepo, clientID int64) int {
	t.Helper()
	contacts, err := repo.ListContacts(context.Background(), clientID)
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	n := 0
	for _, c := range contacts {
		if c.IsPrimary {
			n++
		}
	}
	return n
}

func TestContacts_SinglePrimary(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	clientID := seedClient(t, repo, "acme")

	first, err := repo.CreateContact(ctx, &models.ClientContact{ClientID: clientID, Name: "A", IsPrimary: true})
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	second, err := repo.CreateContact(ctx, &models.ClientContact{ClientID: clientID, Name: "B", IsPrimary: true})
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	if n := primaryCount(t, repo, clientID); n != 1 {
		t.Fatalf("expected one primary contact, got %d", n)
	}

	p, err := repo.PrimaryContact(ctx, clientID)
	if err != nil || p == nil || p.ID != second {
		t.Fatalf("expected contact %d primary, got %#v (%v)", second, p, err)
	}

	if err := repo.SetPrimary(ctx, clientID, first); err != nil {
		t.Fatalf("SetPrimary: %v", err)
	}
	p, _ = repo.PrimaryContact(ctx, clientID)
	if p == nil || p.ID != first {
		t.Fatalf("expected contact %d primary after SetPrimary, got %#v", first, p)
	}

	if err := repo.SetPrimary(ctx, clientID, 9999); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown contact, got %v", err)
	}
	if n := primaryCount(t, repo, clientID); n != 1 {
		t.Fatalf("failed SetPrimary must leave one primary, got %d", n)
	}

	if err := repo.DeleteContact(ctx, clientID, second); err != nil {
		t.Fatalf("DeleteContact: %v", err)
	}
	if c, _ := repo.GetContact(ctx, clientID, second); c != nil {
		t.Fatalf("expected contact hard-deleted, got %#v", c)
	}
}

func TestContacts_ConcurrentSetPrimary(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	clientID := seedClient(t, repo, "acme")

	var ids []int64
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		id, err := repo.CreateContact(ctx, &models.ClientContact{ClientID: clientID, Name: name})
		if err != nil {
			t.Fatalf("CreateContact: %v", err)
		}
		ids = append(ids, id)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if err := repo.SetPrimary(ctx, clientID, id); err != nil {
				t.Errorf("SetPrimary(%d): %v", id, err)
			}
		}(ids[i%len(ids)])
	}
	wg.Wait()

	if n := primaryCount(t, repo, clientID); n != 1 {
		t.Fatalf("expected exactly one primary after concurrent updates, got %d", n)
	}
}

func TestSetPrimary_RollsBackOnFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer conn.Close()

	repo := sqlite.New(dbpkg.Wrap(conn, nil), nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM client_contacts WHERE client_id = ? AND id = ?`)).
		WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE client_contacts SET is_primary = 0 WHERE client_id = ?`)).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE client_contacts SET is_primary = 1 WHERE client_id = ? AND id = ?`)).
		WithArgs(1, 2).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	if err := repo.SetPrimary(context.Background(), 1, 2); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRostersFilterAndJSON(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	clientID := seedClient(t, repo, "acme")
	driverID := seedDriver(t, repo, "d@example.com")

	in := &models.Roster{
		ClientID:  clientID,
		UserID:    driverID,
		WeekStart: "2024-06-03",
		Shifts:    []models.Shift{{Day: "mon", Start: "06:00", End: "14:00"}, {Day: "tue", Start: "06:00", End: "14:00", Notes: "depot B"}},
	}
	id, err := repo.CreateRoster(ctx, in)
	if err != nil {
		t.Fatalf("CreateRoster: %v", err)
	}
	if _, err := repo.CreateRoster(ctx, &models.Roster{ClientID: clientID, UserID: driverID, WeekStart: "2024-06-10"}); err != nil {
		t.Fatalf("CreateRoster: %v", err)
	}

	got, err := repo.GetRoster(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("GetRoster: %v, %#v", err, got)
	}
	if diff := cmp.Diff(in.Shifts, got.Shifts); diff != "" {
		t.Fatalf("shifts mismatch (-want +got):\n%s", diff)
	}

	list, err := repo.ListRosters(ctx, repository.RosterFilter{WeekStart: "2024-06-10"}, repository.ListParams{})
	if err != nil {
		t.Fatalf("ListRosters: %v", err)
	}
	if len(list) != 1 || list[0].Shifts == nil || len(list[0].Shifts) != 0 {
		t.Fatalf("expected one roster with empty shifts, got %#v", list)
	}
}

func TestTimesheetReceipts(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	tsID := seedTimesheet(t, repo, seedDriver(t, repo, "d@example.com"), "2024-06-03")

	for _, p := range []string{"/objects/uploads/a", "/objects/uploads/b", "/objects/uploads/a"} {
		if err := repo.AddReceipt(ctx, tsID, p); err != nil {
			t.Fatalf("AddReceipt: %v", err)
		}
	}

	ts, err := repo.GetTimesheet(ctx, tsID)
	if err != nil || ts == nil {
		t.Fatalf("GetTimesheet: %v", err)
	}
	if diff := cmp.Diff([]string{"/objects/uploads/a", "/objects/uploads/b"}, ts.Receipts); diff != "" {
		t.Fatalf("receipts mismatch (-want +got):\n%s", diff)
	}

	if err := repo.AddReceipt(ctx, 9999, "/objects/x"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSoftDeleteRoundTrip(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	clientID := seedClient(t, repo, "acme")
	driverID := seedDriver(t, repo, "d@example.com")
	rosterID, err := repo.CreateRoster(ctx, &models.Roster{ClientID: clientID, UserID: driverID, WeekStart: "2024-06-03"})
	if err != nil {
		t.Fatalf("CreateRoster: %v", err)
	}
	tsID := seedTimesheet(t, repo, driverID, "2024-06-03")

	cases := []struct {
		kind   string
		id     int64
		active func() (bool, error)
	}{
		{"clients", clientID, func() (bool, error) { c, err := repo.GetClient(ctx, clientID); return c != nil, err }},
		{"rosters", rosterID, func() (bool, error) { r, err := repo.GetRoster(ctx, rosterID); return r != nil, err }},
		{"timesheets", tsID, func() (bool, error) { ts, err := repo.GetTimesheet(ctx, tsID); return ts != nil, err }},
		{"users", driverID, func() (bool, error) { u, err := repo.GetUser(ctx, driverID); return u != nil, err }},
	}

	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			if err := repo.SoftDelete(ctx, tc.kind, tc.id, 7); err != nil {
				t.Fatalf("SoftDelete: %v", err)
			}
			if ok, err := tc.active(); err != nil || ok {
				t.Fatalf("expected hidden after delete, active=%v err=%v", ok, err)
			}

			deleted, err := repo.ListDeleted(ctx, tc.kind)
			if err != nil {
				t.Fatalf("ListDeleted: %v", err)
			}
			if len(deleted) != 1 || deleted[0].ID != tc.id || deleted[0].DeletedBy == nil || *deleted[0].DeletedBy != 7 {
				t.Fatalf("unexpected deleted listing: %#v", deleted)
			}

			if err := repo.Restore(ctx, tc.kind, tc.id); err != nil {
				t.Fatalf("Restore: %v", err)
			}
			if err := repo.Restore(ctx, tc.kind, tc.id); err != nil {
				t.Fatalf("second Restore must be a no-op: %v", err)
			}
			if ok, err := tc.active(); err != nil || !ok {
				t.Fatalf("expected visible after restore, active=%v err=%v", ok, err)
			}

			deleted, _ = repo.ListDeleted(ctx, tc.kind)
			if len(deleted) != 0 {
				t.Fatalf("expected empty deleted listing, got %#v", deleted)
			}
		})
	}
}

func TestSoftDelete_UnknownKindAndID(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if err := repo.SoftDelete(ctx, "contacts", 1, 1); !errors.Is(err, repository.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := repo.ListDeleted(ctx, "jobs"); !errors.Is(err, repository.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if err := repo.Restore(ctx, "clients", 9999); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if diff := cmp.Diff([]string{"clients", "rosters", "timesheets", "users"}, sqlite.SoftDeleteKinds()); diff != "" {
		t.Fatalf("kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestBatchMembershipAndDecision(t *testing.T) {
	repo, d := setupDB(t)
	ctx := context.Background()

	clientID := seedClient(t, repo, "acme")
	driverID := seedDriver(t, repo, "d@example.com")
	t1 := seedTimesheet(t, repo, driverID, "2024-06-03")
	t2 := seedTimesheet(t, repo, driverID, "2024-06-03")
	t3 := seedTimesheet(t, repo, driverID, "2024-06-03")

	b := &models.ApprovalBatch{ClientID: clientID, WeekStart: "2024-06-03", Token: "tok", TokenExpiresAt: 1 << 50}
	batchID, err := repo.CreateBatch(ctx, b, []int64{t1, t2}, &models.AuditEntry{Action: "batch.create", EntityType: "approval_batch"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	got, err := repo.GetBatchByToken(ctx, "tok")
	if err != nil || got == nil || got.ID != batchID {
		t.Fatalf("GetBatchByToken: %v, %#v", err, got)
	}
	if missing, _ := repo.GetBatchByToken(ctx, "nope"); missing != nil {
		t.Fatalf("expected nil for unknown token")
	}

	if ok, _ := repo.HasBatchLink(ctx, batchID, t1); !ok {
		t.Fatalf("expected join link for t1")
	}
	if ok, _ := repo.HasBatchLink(ctx, batchID, t3); ok {
		t.Fatalf("unexpected join link for t3")
	}

	// back-reference only membership
	if _, err := d.Exec(ctx, `UPDATE timesheets SET batch_id = ? WHERE id = ?`, batchID, t3); err != nil {
		t.Fatalf("set back-reference: %v", err)
	}

	members, err := repo.ListBatchTimesheets(ctx, batchID)
	if err != nil {
		t.Fatalf("ListBatchTimesheets: %v", err)
	}
	var ids []int64
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]int64{t1, t2, t3}, ids); diff != "" {
		t.Fatalf("members mismatch (-want +got):\n%s", diff)
	}

	rating := 5
	updated, err := repo.RecordDecision(ctx, t1, models.ClientDecision{
		Status:        models.StatusApproved,
		ApprovedBy:    "Jane Doe",
		ApprovedAt:    1717400000000,
		Rating:        &rating,
		Modifications: []byte(`{"mon":7.5}`),
	}, &models.AuditEntry{Action: "timesheet.approve", EntityType: "timesheet", EntityID: &t1, ActorLabel: "Jane Doe"})
	if err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}

	want := models.Timesheet{
		ID:                  t1,
		UserID:              driverID,
		WeekStart:           "2024-06-03",
		Entries:             []models.TimeEntry{{Day: "mon", Start: "08:00", End: "17:00", Hours: 8}},
		ApprovalStatus:      models.StatusApproved,
		BatchID:             &batchID,
		ClientApprovedBy:    strPtr("Jane Doe"),
		ClientApprovedAt:    int64Ptr(1717400000000),
		ClientRating:        &rating,
		ClientModifications: []byte(`{"mon":7.5}`),
		Receipts:            []string{},
	}
	if diff := cmp.Diff(want, *updated, cmpopts.IgnoreFields(models.Timesheet{}, "Created", "Updated")); diff != "" {
		t.Fatalf("decision mismatch (-want +got):\n%s", diff)
	}

	audit, err := repo.ListAudit(ctx, repository.AuditFilter{EntityType: "timesheet"}, repository.ListParams{})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(audit) != 1 || audit[0].Action != "timesheet.approve" {
		t.Fatalf("expected one approve audit entry, got %#v", audit)
	}
}

func TestCreateBatch_RollsBackOnUnknownTimesheet(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	clientID := seedClient(t, repo, "acme")
	t1 := seedTimesheet(t, repo, seedDriver(t, repo, "d@example.com"), "2024-06-03")

	b := &models.ApprovalBatch{ClientID: clientID, WeekStart: "2024-06-03", Token: "tok", TokenExpiresAt: 1}
	if _, err := repo.CreateBatch(ctx, b, []int64{t1, 9999}, nil); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if got, _ := repo.GetBatchByToken(ctx, "tok"); got != nil {
		t.Fatalf("batch must not persist after rollback")
	}
	ts, _ := repo.GetTimesheet(ctx, t1)
	if ts.BatchID != nil {
		t.Fatalf("back-reference must roll back, got %v", *ts.BatchID)
	}
}

func strPtr(s string) *string  { return &s }
func int64Ptr(v int64) *int64 { return &v }

func TestUserEmailStaysTakenAfterSoftDelete(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	id := seedDriver(t, repo, "gone@example.com")
	if err := repo.SoftDelete(ctx, "users", id, 0); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	if u, err := repo.GetUserByEmail(ctx, "gone@example.com"); err != nil || u != nil {
		t.Fatalf("deleted user must be hidden from GetUserByEmail, got %#v (%v)", u, err)
	}
	u, err := repo.FindUserByEmail(ctx, "gone@example.com")
	if err != nil || u == nil || u.ID != id || !u.IsDeleted() {
		t.Fatalf("FindUserByEmail must see the deleted user, got %#v (%v)", u, err)
	}

	_, err = repo.CreateUser(ctx, &models.User{Email: "gone@example.com", Role: models.RoleDriver})
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate creating over a deleted user's email, got %v", err)
	}

	other := seedDriver(t, repo, "other@example.com")
	err = repo.UpdateUser(ctx, &models.User{ID: other, Email: "gone@example.com", Role: models.RoleDriver})
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate renaming onto a deleted user's email, got %v", err)
	}
}

func TestListLimitIsClamped(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	for i := 0; i < 510; i++ {
		seedDriver(t, repo, "driver"+strconv.Itoa(i)+"@example.com")
	}

	cases := []struct {
		limit int
		want  int
	}{
		{0, 50},
		{-3, 50},
		{120, 120},
		{500, 500},
		{1000, 500},
	}
	for _, tt := range cases {
		got, err := repo.ListUsers(ctx, models.RoleDriver, repository.ListParams{Limit: tt.limit})
		if err != nil {
			t.Fatalf("ListUsers(limit=%d): %v", tt.limit, err)
		}
		if len(got) != tt.want {
			t.Errorf("limit %d: got %d rows, want %d", tt.limit, len(got), tt.want)
		}
	}
}

func TestTimesheetsWithReceipt(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	driver := seedDriver(t, repo, "d@example.com")
	mine := seedTimesheet(t, repo, driver, "2024-06-03")
	gone := seedTimesheet(t, repo, driver, "2024-06-10")
	seedTimesheet(t, repo, driver, "2024-06-17")

	for _, id := range []int64{mine, gone} {
		if err := repo.AddReceipt(ctx, id, "/objects/uploads/a"); err != nil {
			t.Fatalf("AddReceipt: %v", err)
		}
	}
	if err := repo.AddReceipt(ctx, mine, "/objects/uploads/b"); err != nil {
		t.Fatalf("AddReceipt: %v", err)
	}
	if err := repo.SoftDelete(ctx, "timesheets", gone, 0); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	got, err := repo.TimesheetsWithReceipt(ctx, "/objects/uploads/a")
	if err != nil {
		t.Fatalf("TimesheetsWithReceipt: %v", err)
	}
	if len(got) != 1 || got[0].ID != mine || got[0].UserID != driver {
		t.Fatalf("expected only the live timesheet %d, got %#v", mine, got)
	}

	got, err = repo.TimesheetsWithReceipt(ctx, "/objects/uploads/missing")
	if err != nil || len(got) != 0 {
		t.Fatalf("unattached object: got %#v (%v)", got, err)
	}
}
