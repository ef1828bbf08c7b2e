package models

import "encoding/json"

// Domain models matching the database schema in db/migrations/0001_init.sql.
// Timestamps are UTC unix milliseconds; week starts are YYYY-MM-DD.

type Role string

const (
	RoleDriver     Role = "driver"
	RoleClient     Role = "client"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleDriver, RoleClient, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsAdmin reports whether r carries administrative rights.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// DefaultMinimumHours applies when a client has no explicit threshold.
const DefaultMinimumHours = 8

// SoftDelete is embedded by every entity kind that is soft-deleted.
type SoftDelete struct {
	DeletedAt *int64 `json:"deletedAt,omitempty" db:"deleted_at"`
	DeletedBy *int64 `json:"deletedBy,omitempty" db:"deleted_by"`
}

// IsDeleted reports whether the record carries a deletion marker.
func (s SoftDelete) IsDeleted() bool { return s.DeletedAt != nil }

type User struct {
	ID           int64   `json:"id" db:"id"`
	Email        string  `json:"email" db:"email" validate:"required,email,max=254"`
	Name         string  `json:"name" db:"name" validate:"max=200"`
	Role         Role    `json:"role" db:"role" validate:"required,oneof=driver client admin super_admin"`
	ClientID     *int64  `json:"clientId,omitempty" db:"client_id" validate:"required_if=Role client"`
	Phone        string  `json:"phone,omitempty" db:"phone" validate:"max=40"`
	PasswordHash string  `json:"-" db:"password_hash"`
	Created      int64   `json:"created" db:"created"`
	Updated      int64   `json:"updated" db:"updated"`
	SoftDelete
}

type Client struct {
	ID           int64   `json:"id" db:"id"`
	CompanyName  string  `json:"companyName" db:"company_name" validate:"required,max=200"`
	ContactName  string  `json:"contactName,omitempty" db:"contact_name" validate:"max=200"`
	Email        string  `json:"email,omitempty" db:"email" validate:"omitempty,email,max=254"`
	Phone        string  `json:"phone,omitempty" db:"phone" validate:"max=40"`
	MinimumHours float64 `json:"minimumHours" db:"minimum_hours" validate:"gte=0,lte=24"`
	Created      int64   `json:"created" db:"created"`
	Updated      int64   `json:"updated" db:"updated"`
	SoftDelete
}

type ClientContact struct {
	ID        int64  `json:"id" db:"id"`
	ClientID  int64  `json:"clientId" db:"client_id" validate:"required"`
	Name      string `json:"name" db:"name" validate:"required,max=200"`
	Email     string `json:"email,omitempty" db:"email" validate:"omitempty,email,max=254"`
	Phone     string `json:"phone,omitempty" db:"phone" validate:"max=40"`
	IsPrimary bool   `json:"isPrimary" db:"is_primary"`
	Created   int64  `json:"created" db:"created"`
}

type Shift struct {
	Day   string `json:"day" validate:"required,oneof=mon tue wed thu fri sat sun"`
	Start string `json:"start" validate:"required,datetime=15:04"`
	End   string `json:"end" validate:"required,datetime=15:04"`
	Notes string `json:"notes,omitempty" validate:"max=500"`
}

type Roster struct {
	ID        int64   `json:"id" db:"id"`
	ClientID  int64   `json:"clientId" db:"client_id" validate:"required"`
	UserID    int64   `json:"userId" db:"user_id" validate:"required"`
	WeekStart string  `json:"weekStart" db:"week_start" validate:"required,datetime=2006-01-02"`
	Shifts    []Shift `json:"shifts" db:"shifts" validate:"dive"`
	Notes     string  `json:"notes,omitempty" db:"notes" validate:"max=2000"`
	Created   int64   `json:"created" db:"created"`
	Updated   int64   `json:"updated" db:"updated"`
	SoftDelete
}

// TimeEntry is one day of a driver's week.
type TimeEntry struct {
	Day          string  `json:"day" validate:"required,oneof=mon tue wed thu fri sat sun"`
	Start        string  `json:"start,omitempty" validate:"omitempty,datetime=15:04"`
	End          string  `json:"end,omitempty" validate:"omitempty,datetime=15:04"`
	BreakMinutes int     `json:"breakMinutes,omitempty" validate:"gte=0,lte=1440"`
	Hours        float64 `json:"hours,omitempty" validate:"gte=0,lte=24"`
	Notes        string  `json:"notes,omitempty" validate:"max=500"`
}

type Timesheet struct {
	ID                  int64           `json:"id" db:"id"`
	UserID              int64           `json:"userId" db:"user_id" validate:"required"`
	WeekStart           string          `json:"weekStart" db:"week_start" validate:"required,datetime=2006-01-02"`
	Entries             []TimeEntry     `json:"entries" db:"entries" validate:"max=7,dive"`
	ApprovalStatus      ApprovalStatus  `json:"approvalStatus" db:"approval_status" validate:"required,oneof=pending approved rejected"`
	BatchID             *int64          `json:"batchId,omitempty" db:"batch_id"`
	ClientApprovedBy    *string         `json:"clientApprovedBy,omitempty" db:"client_approved_by"`
	ClientApprovedAt    *int64          `json:"clientApprovedAt,omitempty" db:"client_approved_at"`
	ClientRating        *int            `json:"clientRating,omitempty" db:"client_rating"`
	ClientComments      *string         `json:"clientComments,omitempty" db:"client_comments"`
	ClientModifications json.RawMessage `json:"clientModifications,omitempty" db:"client_modifications"`
	Receipts            []string        `json:"receipts" db:"receipts"`
	Created             int64           `json:"created" db:"created"`
	Updated             int64           `json:"updated" db:"updated"`
	SoftDelete
}

// TotalHours sums the recorded hours of every entry.
func (t *Timesheet) TotalHours() float64 {
	var total float64
	for _, e := range t.Entries {
		total += e.Hours
	}
	return total
}

type ApprovalBatch struct {
	ID             int64  `json:"id" db:"id"`
	ClientID       int64  `json:"clientId" db:"client_id"`
	WeekStart      string `json:"weekStart" db:"week_start"`
	Token          string `json:"token,omitempty" db:"token"`
	TokenExpiresAt int64  `json:"tokenExpiresAt" db:"token_expires_at"`
	CreatedBy      *int64 `json:"createdBy,omitempty" db:"created_by"`
	Created        int64  `json:"created" db:"created"`
}

// ClientDecision is what an external approver records against a timesheet.
type ClientDecision struct {
	Status        ApprovalStatus
	ApprovedBy    string
	ApprovedAt    int64
	Rating        *int
	Comments      *string
	Modifications json.RawMessage
}

type AuditEntry struct {
	ID         int64           `json:"id" db:"id"`
	ActorID    *int64          `json:"actorId,omitempty" db:"actor_id"`
	ActorLabel string          `json:"actorLabel" db:"actor_label"`
	Action     string          `json:"action" db:"action"`
	EntityType string          `json:"entityType" db:"entity_type"`
	EntityID   *int64          `json:"entityId,omitempty" db:"entity_id"`
	EntityName string          `json:"entityName,omitempty" db:"entity_name"`
	Changes    json.RawMessage `json:"changes,omitempty" db:"changes"`
	IPAddress  string          `json:"ipAddress,omitempty" db:"ip_address"`
	UserAgent  string          `json:"userAgent,omitempty" db:"user_agent"`
	Notes      string          `json:"notes,omitempty" db:"notes"`
	Created    int64           `json:"created" db:"created"`
}

// DeletedItem is the uniform summary returned by the deleted-items listing.
type DeletedItem struct {
	Kind      string `json:"kind"`
	ID        int64  `json:"id"`
	Label     string `json:"label"`
	DeletedAt int64  `json:"deletedAt"`
	DeletedBy *int64 `json:"deletedBy,omitempty"`
}
