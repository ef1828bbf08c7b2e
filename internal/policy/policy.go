// Package policy decides whether a subject may perform an action on a
// resource. Every role check in the service goes through Allow.
package policy

import "github.com/garnizeh/timesheets/pkg/models"

// Subject is the resolved identity of a caller.
type Subject struct {
	UserID   int64
	Role     models.Role
	ClientID *int64
	// Impersonating is set when a super_admin acts as a client.
	Impersonating bool
}

// Resource describes what an action targets. Zero values mean "not owned".
type Resource struct {
	OwnerID  int64
	ClientID int64
}

type Action string

const (
	ClientManage  Action = "client.manage"
	ContactManage Action = "contact.manage"

	RosterList   Action = "roster.list"
	RosterManage Action = "roster.manage"
	RosterRead   Action = "roster.read"

	TimesheetListAll Action = "timesheet.list_all"
	TimesheetCreate  Action = "timesheet.create"
	TimesheetRead    Action = "timesheet.read"
	TimesheetUpdate  Action = "timesheet.update"
	TimesheetDelete  Action = "timesheet.delete"
	// TimesheetSetStatus covers writing approvalStatus outside the token path.
	TimesheetSetStatus Action = "timesheet.set_status"

	UserManage          Action = "user.manage"
	UserAssignPrivilege Action = "user.assign_privileged"

	BatchCreate         Action = "batch.create"
	BatchListAll        Action = "batch.list_all"
	BatchRead           Action = "batch.read"
	BatchClientRead     Action = "batch.client_read"
	BatchListTimesheets Action = "batch.list_timesheets"

	DeletedManage Action = "deleted.manage"
	AuditRead     Action = "audit.read"

	ObjectUpload  Action = "object.upload"
	ObjectRead    Action = "object.read"
	ReceiptAttach Action = "receipt.attach"
)

var adminOnly = map[Action]bool{
	ClientManage:       true,
	ContactManage:      true,
	RosterList:         true,
	RosterManage:       true,
	TimesheetListAll:   true,
	TimesheetDelete:    true,
	TimesheetSetStatus: true,
	UserManage:         true,
	BatchCreate:        true,
	BatchListAll:       true,
	DeletedManage:      true,
	AuditRead:          true,
}

// Allow reports whether s may perform a on r.
func Allow(s Subject, a Action, r Resource) bool {
	if !s.Role.Valid() || s.UserID == 0 {
		return false
	}

	if adminOnly[a] {
		return s.Role.IsAdmin()
	}

	switch a {
	case UserAssignPrivilege:
		return s.Role == models.RoleSuperAdmin

	case TimesheetCreate:
		if s.Role.IsAdmin() {
			return true
		}
		return s.Role == models.RoleDriver && r.OwnerID == s.UserID

	case TimesheetRead, TimesheetUpdate, RosterRead, ReceiptAttach, ObjectRead:
		if s.Role.IsAdmin() {
			return true
		}
		return s.Role == models.RoleDriver && r.OwnerID != 0 && r.OwnerID == s.UserID

	case BatchRead:
		if s.Role.IsAdmin() {
			return true
		}
		return ownsClient(s, r)

	case BatchClientRead, BatchListTimesheets:
		return ownsClient(s, r)

	case ObjectUpload:
		return true
	}

	return false
}

func ownsClient(s Subject, r Resource) bool {
	return s.Role == models.RoleClient && s.ClientID != nil && r.ClientID != 0 && *s.ClientID == r.ClientID
}

// Impersonate returns the effective subject for a caller asking to act as
// clientID. Only a super_admin may impersonate; anyone else gets s back unchanged.
func Impersonate(s Subject, clientID int64) Subject {
	if s.Role != models.RoleSuperAdmin || clientID <= 0 {
		return s
	}

	id := clientID
	return Subject{
		UserID:        s.UserID,
		Role:          models.RoleClient,
		ClientID:      &id,
		Impersonating: true,
	}
}
