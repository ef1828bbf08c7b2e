package approval

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/garnizeh/timesheets/internal/apperror"
	"github.com/garnizeh/timesheets/internal/audit"
	"github.com/garnizeh/timesheets/internal/validate"
	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

var approveSchema = validate.MustCompile("approve", `{
	"type": "object",
	"required": ["approvedBy"],
	"properties": {
		"approvedBy":    {"type": "string", "minLength": 1, "maxLength": 200},
		"rating":        {"type": "integer", "minimum": 1, "maximum": 5},
		"comments":      {"type": "string", "maxLength": 2000},
		"modifications": {"type": "object"}
	},
	"additionalProperties": false
}`)

var rejectSchema = validate.MustCompile("reject", `{
	"type": "object",
	"required": ["approvedBy", "comments"],
	"properties": {
		"approvedBy":    {"type": "string", "minLength": 1, "maxLength": 200},
		"rating":        {"type": "integer", "minimum": 1, "maximum": 5},
		"comments":      {"type": "string", "minLength": 1, "maxLength": 2000},
		"modifications": {"type": "object"}
	},
	"additionalProperties": false
}`)

// DecisionInput is the body of an approve or reject call.
type DecisionInput struct {
	ApprovedBy    string          `json:"approvedBy"`
	Rating        *int            `json:"rating,omitempty"`
	Comments      *string         `json:"comments,omitempty"`
	Modifications json.RawMessage `json:"modifications,omitempty"`
}

// CanTransition reports whether a timesheet in status from may be moved to
// status to through the token path. Decisions may be revised.
func CanTransition(from, to models.ApprovalStatus) bool {
	if !from.Valid() {
		return false
	}
	return to == models.StatusApproved || to == models.StatusRejected
}

// Membership returns the timesheet when it belongs to batch b. The join
// table is consulted first, then the timesheet's own batch reference. A nil
// timesheet means it is not a member.
func Membership(ctx context.Context, store repository.ApprovalStore, b *models.ApprovalBatch, timesheetID int64) (*models.Timesheet, error) {
	linked, err := store.HasBatchLink(ctx, b.ID, timesheetID)
	if err != nil {
		return nil, err
	}

	ts, err := store.GetTimesheet(ctx, timesheetID)
	if err != nil || ts == nil {
		return nil, err
	}
	if linked {
		return ts, nil
	}
	if ts.BatchID != nil && *ts.BatchID == b.ID {
		return ts, nil
	}
	return nil, nil
}

// Approve records the token holder's approval of a timesheet in the batch.
func (e *Engine) Approve(ctx context.Context, token string, timesheetID int64, payload []byte) (*models.Timesheet, error) {
	return e.decide(ctx, token, timesheetID, payload, models.StatusApproved)
}

// Reject records a rejection. Comments are mandatory.
func (e *Engine) Reject(ctx context.Context, token string, timesheetID int64, payload []byte) (*models.Timesheet, error) {
	return e.decide(ctx, token, timesheetID, payload, models.StatusRejected)
}

func (e *Engine) decide(ctx context.Context, token string, timesheetID int64, payload []byte, to models.ApprovalStatus) (*models.Timesheet, error) {
	b, err := e.checkLive(ctx, token)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apperror.Forbidden("invalid approval token")
	}

	ts, err := Membership(ctx, e.store, b, timesheetID)
	if err != nil {
		return nil, apperror.Internal(err, "check batch membership")
	}
	if ts == nil {
		return nil, apperror.NotFound("timesheet", timesheetID)
	}

	in, err := parseDecision(ctx, payload, to)
	if err != nil {
		return nil, err
	}

	if !CanTransition(ts.ApprovalStatus, to) {
		return nil, apperror.InvalidField("approvalStatus", "cannot move from "+string(ts.ApprovalStatus)+" to "+string(to))
	}

	d := models.ClientDecision{
		Status:        to,
		ApprovedBy:    strings.TrimSpace(in.ApprovedBy),
		ApprovedAt:    e.now().UTC().UnixMilli(),
		Rating:        in.Rating,
		Comments:      in.Comments,
		Modifications: in.Modifications,
	}

	action := "timesheet.client_approve"
	if to == models.StatusRejected {
		action = "timesheet.client_reject"
	}
	entry, err := audit.Entry(ctx, audit.Actor{Label: d.ApprovedBy}, action, "timesheet", ts.ID, ts.WeekStart, map[string]any{
		"batchId":        b.ID,
		"from":           ts.ApprovalStatus,
		"approvalStatus": to,
		"rating":         in.Rating,
		"comments":       in.Comments,
	})
	if err != nil {
		e.logger.Warn("audit changes dropped", slog.String("action", action), slog.Any("err", err))
	}

	updated, err := e.store.RecordDecision(ctx, ts.ID, d, entry)
	if err != nil {
		return nil, apperror.Internal(err, "record decision")
	}
	if updated == nil {
		return nil, apperror.NotFound("timesheet", timesheetID)
	}

	e.logger.Info("timesheet decision recorded",
		slog.Int64("batch_id", b.ID),
		slog.Int64("timesheet_id", ts.ID),
		slog.String("status", string(to)),
	)

	return updated, nil
}

func parseDecision(ctx context.Context, payload []byte, to models.ApprovalStatus) (*DecisionInput, error) {
	schema := approveSchema
	if to == models.StatusRejected {
		schema = rejectSchema
	}
	if err := schema.Validate(ctx, payload); err != nil {
		return nil, err
	}

	var in DecisionInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, apperror.InvalidField("body", "must be a valid JSON object")
	}

	if strings.TrimSpace(in.ApprovedBy) == "" {
		return nil, apperror.InvalidField("approvedBy", "is required")
	}
	if to == models.StatusRejected && (in.Comments == nil || strings.TrimSpace(*in.Comments) == "") {
		return nil, apperror.InvalidField("comments", "a reason is required to reject a timesheet")
	}

	return &in, nil
}
