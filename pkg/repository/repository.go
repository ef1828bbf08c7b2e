package repository

import (
	"context"
	"errors"

	"github.com/garnizeh/timesheets/pkg/models"
)

// Repository interfaces for domain entities. These are the public contracts
// consumers should depend on; concrete implementations live under internal/.
// Get methods return (nil, nil) when the row does not exist or is soft-deleted.

var (
	// ErrNotFound is returned by mutations whose target row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnknownKind is returned by the soft-delete registry for kinds it does not manage.
	ErrUnknownKind = errors.New("unknown entity kind")
	// ErrDuplicate is returned when a write collides with a unique column.
	ErrDuplicate = errors.New("duplicate value")
)

// ListParams carries pagination for list operations.
type ListParams struct {
	Limit  int
	Offset int
}

type UserRepo interface {
	CreateUser(ctx context.Context, u *models.User) (int64, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// FindUserByEmail is GetUserByEmail including soft-deleted users.
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, role models.Role, p ListParams) ([]models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
}

type ClientRepo interface {
	CreateClient(ctx context.Context, c *models.Client) (int64, error)
	GetClient(ctx context.Context, id int64) (*models.Client, error)
	ListClients(ctx context.Context, p ListParams) ([]models.Client, error)
	UpdateClient(ctx context.Context, c *models.Client) error
}

type ContactRepo interface {
	CreateContact(ctx context.Context, c *models.ClientContact) (int64, error)
	GetContact(ctx context.Context, clientID, id int64) (*models.ClientContact, error)
	ListContacts(ctx context.Context, clientID int64) ([]models.ClientContact, error)
	UpdateContact(ctx context.Context, c *models.ClientContact) error
	DeleteContact(ctx context.Context, clientID, id int64) error
	// SetPrimary makes contactID the only primary contact of clientID.
	SetPrimary(ctx context.Context, clientID, contactID int64) error
	PrimaryContact(ctx context.Context, clientID int64) (*models.ClientContact, error)
}

type RosterFilter struct {
	ClientID  int64
	UserID    int64
	WeekStart string
}

type RosterRepo interface {
	CreateRoster(ctx context.Context, r *models.Roster) (int64, error)
	GetRoster(ctx context.Context, id int64) (*models.Roster, error)
	ListRosters(ctx context.Context, f RosterFilter, p ListParams) ([]models.Roster, error)
	UpdateRoster(ctx context.Context, r *models.Roster) error
}

type TimesheetFilter struct {
	UserID    int64
	WeekStart string
	Status    models.ApprovalStatus
}

type TimesheetRepo interface {
	CreateTimesheet(ctx context.Context, t *models.Timesheet) (int64, error)
	GetTimesheet(ctx context.Context, id int64) (*models.Timesheet, error)
	ListTimesheets(ctx context.Context, f TimesheetFilter, p ListParams) ([]models.Timesheet, error)
	UpdateTimesheet(ctx context.Context, t *models.Timesheet) error
	AddReceipt(ctx context.Context, timesheetID int64, objectPath string) error
	// TimesheetsWithReceipt lists the active timesheets referencing objectPath.
	TimesheetsWithReceipt(ctx context.Context, objectPath string) ([]models.Timesheet, error)
}

// SoftDeleter is the soft-delete registry shared by every soft-deletable kind.
type SoftDeleter interface {
	SoftDelete(ctx context.Context, kind string, id, actorID int64) error
	Restore(ctx context.Context, kind string, id int64) error
	ListDeleted(ctx context.Context, kind string) ([]models.DeletedItem, error)
}

type AuditFilter struct {
	EntityType string
	EntityID   int64
}

type AuditRepo interface {
	AppendAudit(ctx context.Context, e *models.AuditEntry) (int64, error)
	ListAudit(ctx context.Context, f AuditFilter, p ListParams) ([]models.AuditEntry, error)
}

// ApprovalStore is the persistence surface of the approval batch engine.
type ApprovalStore interface {
	// CreateBatch stores the batch, its timesheet links, the timesheets'
	// batch back-references and the audit entry in one transaction.
	CreateBatch(ctx context.Context, b *models.ApprovalBatch, timesheetIDs []int64, audit *models.AuditEntry) (int64, error)
	GetBatch(ctx context.Context, id int64) (*models.ApprovalBatch, error)
	GetBatchByToken(ctx context.Context, token string) (*models.ApprovalBatch, error)
	ListBatches(ctx context.Context, clientID int64, p ListParams) ([]models.ApprovalBatch, error)
	// HasBatchLink reports whether the join relation links the timesheet to the batch.
	HasBatchLink(ctx context.Context, batchID, timesheetID int64) (bool, error)
	// ListBatchTimesheets returns members found through the join relation or
	// the timesheets' back-reference.
	ListBatchTimesheets(ctx context.Context, batchID int64) ([]models.Timesheet, error)
	// RecordDecision applies a client decision and appends the audit entry in one transaction.
	RecordDecision(ctx context.Context, timesheetID int64, d models.ClientDecision, audit *models.AuditEntry) (*models.Timesheet, error)

	GetClient(ctx context.Context, id int64) (*models.Client, error)
	GetTimesheet(ctx context.Context, id int64) (*models.Timesheet, error)
	PrimaryContact(ctx context.Context, clientID int64) (*models.ClientContact, error)
}
