package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

// Test helpers and mocks
type Mocks struct {
	UserRepo      *mockUserRepo
	TimesheetRepo *mockTimesheetRepo
	RosterRepo    *mockRosterRepo
}

func NewMocks() *Mocks {
	return &Mocks{
		UserRepo:      &mockUserRepo{Stored: map[int64]*models.User{}},
		TimesheetRepo: &mockTimesheetRepo{Stored: map[int64]*models.Timesheet{}},
		RosterRepo:    &mockRosterRepo{Stored: map[int64]*models.Roster{}},
	}
}

// softDeletes records SoftDelete calls. Mocks embed it to satisfy repository.SoftDeleter.
type softDeletes struct {
	mu         sync.Mutex
	Deleted    map[int64]int64
	DeleteErr  error
	RestoreErr error
}

func (s *softDeletes) SoftDelete(ctx context.Context, kind string, id, actorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	if s.Deleted == nil {
		s.Deleted = map[int64]int64{}
	}
	s.Deleted[id] = actorID
	return nil
}

func (s *softDeletes) Restore(ctx context.Context, kind string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RestoreErr != nil {
		return s.RestoreErr
	}
	delete(s.Deleted, id)
	return nil
}

func (s *softDeletes) ListDeleted(ctx context.Context, kind string) ([]models.DeletedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.DeletedItem{}
	for id, by := range s.Deleted {
		actor := by
		out = append(out, models.DeletedItem{Kind: kind, ID: id, DeletedBy: &actor})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type mockUserRepo struct {
	softDeletes
	Stored    map[int64]*models.User
	CreateErr error
	GetErr    error
	nextID    int64
}

func (m *mockUserRepo) CreateUser(ctx context.Context, u *models.User) (int64, error) {
	if m.CreateErr != nil {
		return 0, m.CreateErr
	}
	if m.emailTaken(u.Email, 0) {
		return 0, repository.ErrDuplicate
	}
	m.nextID++
	stored := *u
	stored.ID = m.nextID
	m.Stored[stored.ID] = &stored
	return stored.ID, nil
}

// Add stores u under its own id, for test setup.
func (m *mockUserRepo) Add(u models.User) {
	m.Stored[u.ID] = &u
	if u.ID > m.nextID {
		m.nextID = u.ID
	}
}

func (m *mockUserRepo) GetUser(ctx context.Context, id int64) (*models.User, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	if u, ok := m.Stored[id]; ok {
		if _, deleted := m.Deleted[id]; !deleted {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	for _, u := range m.Stored {
		if u.Email == email {
			return m.GetUser(ctx, u.ID)
		}
	}
	return nil, nil
}

// FindUserByEmail ignores soft deletes, like the sqlite store.
func (m *mockUserRepo) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	for id, u := range m.Stored {
		if u.Email == email {
			cp := *u
			if _, deleted := m.Deleted[id]; deleted {
				at := int64(1)
				cp.DeletedAt = &at
			}
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) emailTaken(email string, self int64) bool {
	for id, u := range m.Stored {
		if id != self && u.Email == email {
			return true
		}
	}
	return false
}

func (m *mockUserRepo) ListUsers(ctx context.Context, role models.Role, p repository.ListParams) ([]models.User, error) {
	out := []models.User{}
	for id, u := range m.Stored {
		if _, deleted := m.Deleted[id]; deleted {
			continue
		}
		if role == "" || u.Role == role {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockUserRepo) UpdateUser(ctx context.Context, u *models.User) error {
	if _, ok := m.Stored[u.ID]; !ok {
		return repository.ErrNotFound
	}
	if m.emailTaken(u.Email, u.ID) {
		return repository.ErrDuplicate
	}
	stored := *u
	m.Stored[u.ID] = &stored
	return nil
}

type mockTimesheetRepo struct {
	softDeletes
	Stored    map[int64]*models.Timesheet
	CreateErr error
	nextID    int64
}

func (m *mockTimesheetRepo) CreateTimesheet(ctx context.Context, t *models.Timesheet) (int64, error) {
	if m.CreateErr != nil {
		return 0, m.CreateErr
	}
	m.nextID++
	stored := *t
	stored.ID = m.nextID
	if stored.Receipts == nil {
		stored.Receipts = []string{}
	}
	m.Stored[stored.ID] = &stored
	return stored.ID, nil
}

// Add stores t under its own id, for test setup.
func (m *mockTimesheetRepo) Add(t models.Timesheet) {
	if t.Receipts == nil {
		t.Receipts = []string{}
	}
	m.Stored[t.ID] = &t
	if t.ID > m.nextID {
		m.nextID = t.ID
	}
}

func (m *mockTimesheetRepo) GetTimesheet(ctx context.Context, id int64) (*models.Timesheet, error) {
	if t, ok := m.Stored[id]; ok {
		if _, deleted := m.Deleted[id]; !deleted {
			cp := *t
			cp.Receipts = append([]string{}, t.Receipts...)
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockTimesheetRepo) ListTimesheets(ctx context.Context, f repository.TimesheetFilter, p repository.ListParams) ([]models.Timesheet, error) {
	out := []models.Timesheet{}
	for id, t := range m.Stored {
		if _, deleted := m.Deleted[id]; deleted {
			continue
		}
		if f.UserID != 0 && t.UserID != f.UserID {
			continue
		}
		if f.WeekStart != "" && t.WeekStart != f.WeekStart {
			continue
		}
		if f.Status != "" && t.ApprovalStatus != f.Status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockTimesheetRepo) UpdateTimesheet(ctx context.Context, t *models.Timesheet) error {
	cur, ok := m.Stored[t.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.WeekStart, cur.Entries, cur.ApprovalStatus = t.WeekStart, t.Entries, t.ApprovalStatus
	return nil
}

func (m *mockTimesheetRepo) AddReceipt(ctx context.Context, timesheetID int64, objectPath string) error {
	t, ok := m.Stored[timesheetID]
	if !ok {
		return repository.ErrNotFound
	}
	for _, r := range t.Receipts {
		if r == objectPath {
			return nil
		}
	}
	t.Receipts = append(t.Receipts, objectPath)
	return nil
}

func (m *mockTimesheetRepo) TimesheetsWithReceipt(ctx context.Context, objectPath string) ([]models.Timesheet, error) {
	out := []models.Timesheet{}
	for id, t := range m.Stored {
		if _, deleted := m.Deleted[id]; deleted {
			continue
		}
		for _, r := range t.Receipts {
			if r == objectPath {
				out = append(out, *t)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type mockRosterRepo struct {
	softDeletes
	Stored map[int64]*models.Roster
	nextID int64
}

func (m *mockRosterRepo) CreateRoster(ctx context.Context, r *models.Roster) (int64, error) {
	m.nextID++
	stored := cloneRoster(*r)
	stored.ID = m.nextID
	m.Stored[stored.ID] = &stored
	return stored.ID, nil
}

// Add stores r under its own id, for test setup.
func (m *mockRosterRepo) Add(r models.Roster) {
	r = cloneRoster(r)
	m.Stored[r.ID] = &r
	if r.ID > m.nextID {
		m.nextID = r.ID
	}
}

func (m *mockRosterRepo) GetRoster(ctx context.Context, id int64) (*models.Roster, error) {
	if r, ok := m.Stored[id]; ok {
		if _, deleted := m.Deleted[id]; !deleted {
			cp := cloneRoster(*r)
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockRosterRepo) ListRosters(ctx context.Context, f repository.RosterFilter, p repository.ListParams) ([]models.Roster, error) {
	out := []models.Roster{}
	for id, r := range m.Stored {
		if _, deleted := m.Deleted[id]; deleted {
			continue
		}
		if (f.ClientID != 0 && r.ClientID != f.ClientID) || (f.UserID != 0 && r.UserID != f.UserID) || (f.WeekStart != "" && r.WeekStart != f.WeekStart) {
			continue
		}
		out = append(out, cloneRoster(*r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRosterRepo) UpdateRoster(ctx context.Context, r *models.Roster) error {
	if _, ok := m.Stored[r.ID]; !ok {
		return repository.ErrNotFound
	}
	stored := cloneRoster(*r)
	m.Stored[r.ID] = &stored
	return nil
}

func cloneRoster(r models.Roster) models.Roster {
	r.Shifts = append([]models.Shift(nil), r.Shifts...)
	return r
}

var (
	_ repository.UserRepo      = (*mockUserRepo)(nil)
	_ repository.TimesheetRepo = (*mockTimesheetRepo)(nil)
	_ repository.RosterRepo    = (*mockRosterRepo)(nil)
	_ repository.SoftDeleter   = (*mockUserRepo)(nil)
)
