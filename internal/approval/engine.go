// Package approval implements the batch approval workflow: an admin groups
// a client's timesheets into a batch, the batch token is mailed to the
// client, and the holder of the token approves or rejects each timesheet
// without signing in.
package approval

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/garnizeh/timesheets/internal/apperror"
	"github.com/garnizeh/timesheets/internal/audit"
	"github.com/garnizeh/timesheets/internal/policy"
	"github.com/garnizeh/timesheets/internal/validate"
	"github.com/garnizeh/timesheets/pkg/models"
	"github.com/garnizeh/timesheets/pkg/repository"
)

// DefaultTokenTTL is used when the engine is built without an explicit TTL.
const DefaultTokenTTL = 7 * 24 * time.Hour

// Notice is what the notifier needs to tell a client a batch is waiting.
type Notice struct {
	Client        models.Client
	Batch         models.ApprovalBatch
	Recipient     string
	RecipientName string
}

// Notifier is told about every committed batch.
type Notifier interface {
	BatchCreated(ctx context.Context, n Notice) error
}

type Engine struct {
	store    repository.ApprovalStore
	notifier Notifier
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func New(store repository.ApprovalStore, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type CreateBatchInput struct {
	ClientID     int64   `json:"clientId" validate:"required,gt=0"`
	WeekStart    string  `json:"weekStart" validate:"required,datetime=2006-01-02"`
	TimesheetIDs []int64 `json:"timesheetIds" validate:"required,min=1,dive,gt=0"`
}

type CreateBatchResult struct {
	Batch models.ApprovalBatch `json:"batch"`
	// Warning is set when the batch was stored but the client could not be notified.
	Warning string `json:"warning,omitempty"`
}

// CreateBatch stores a new batch over the given timesheets and notifies the
// client. Notification failures never undo the batch.
func (e *Engine) CreateBatch(ctx context.Context, actor audit.Actor, in CreateBatchInput) (*CreateBatchResult, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	client, err := e.store.GetClient(ctx, in.ClientID)
	if err != nil {
		return nil, apperror.Internal(err, "load client")
	}
	if client == nil {
		return nil, apperror.NotFound("client", in.ClientID)
	}

	for _, id := range in.TimesheetIDs {
		ts, err := e.store.GetTimesheet(ctx, id)
		if err != nil {
			return nil, apperror.Internal(err, "load timesheet")
		}
		if ts == nil {
			return nil, apperror.NotFound("timesheet", id)
		}
	}

	token, err := NewToken()
	if err != nil {
		return nil, apperror.Internal(err, "generate token")
	}

	now := e.now().UTC()
	b := &models.ApprovalBatch{
		ClientID:       client.ID,
		WeekStart:      in.WeekStart,
		Token:          token,
		TokenExpiresAt: now.Add(e.ttl).UnixMilli(),
		Created:        now.UnixMilli(),
	}
	if actor.ID > 0 {
		id := actor.ID
		b.CreatedBy = &id
	}

	entry, err := audit.Entry(ctx, actor, "batch.create", "approval_batch", 0, client.CompanyName, map[string]any{
		"clientId":     client.ID,
		"weekStart":    in.WeekStart,
		"timesheetIds": in.TimesheetIDs,
	})
	if err != nil {
		e.logger.Warn("audit changes dropped", slog.String("action", entry.Action), slog.Any("err", err))
	}
	if _, err := e.store.CreateBatch(ctx, b, in.TimesheetIDs, entry); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("timesheet", "in batch")
		}
		return nil, apperror.Internal(err, "create batch")
	}

	e.logger.Info("approval batch created",
		slog.Int64("batch_id", b.ID),
		slog.Int64("client_id", b.ClientID),
		slog.Int("timesheets", len(in.TimesheetIDs)),
	)

	res := &CreateBatchResult{Batch: *b}
	if err := e.notify(ctx, *client, *b); err != nil {
		e.logger.Warn("batch notification failed", slog.Int64("batch_id", b.ID), slog.Any("err", err))
		res.Warning = "batch created but the client could not be notified: " + err.Error()
	}

	return res, nil
}

func (e *Engine) notify(ctx context.Context, client models.Client, b models.ApprovalBatch) error {
	if e.notifier == nil {
		return nil
	}

	n := Notice{Client: client, Batch: b, Recipient: client.Email, RecipientName: client.ContactName}
	contact, err := e.store.PrimaryContact(ctx, client.ID)
	if err != nil {
		return fmt.Errorf("load primary contact: %w", err)
	}
	if contact != nil && contact.Email != "" {
		n.Recipient, n.RecipientName = contact.Email, contact.Name
	}
	if n.Recipient == "" {
		return fmt.Errorf("client %d has no contact email", client.ID)
	}

	return e.notifier.BatchCreated(ctx, n)
}

// BatchView is what a token holder sees.
type BatchView struct {
	Batch        models.ApprovalBatch `json:"batch"`
	MinimumHours float64              `json:"minimumHours"`
	Timesheets   []models.Timesheet   `json:"timesheets"`
}

// ResolveBatch returns the batch behind a live token together with its
// member timesheets.
func (e *Engine) ResolveBatch(ctx context.Context, token string) (*BatchView, error) {
	b, err := e.checkLive(ctx, token)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apperror.NotFound("batch", "for token")
	}

	view := &BatchView{Batch: *b, MinimumHours: models.DefaultMinimumHours}

	client, err := e.store.GetClient(ctx, b.ClientID)
	if err != nil {
		return nil, apperror.Internal(err, "load client")
	}
	if client != nil {
		view.MinimumHours = client.MinimumHours
	}

	view.Timesheets, err = e.store.ListBatchTimesheets(ctx, b.ID)
	if err != nil {
		return nil, apperror.Internal(err, "list batch timesheets")
	}
	if view.Timesheets == nil {
		view.Timesheets = []models.Timesheet{}
	}

	return view, nil
}

// GetBatch returns a batch to an admin or to the client that owns it. The
// token is only shown to admins.
func (e *Engine) GetBatch(ctx context.Context, s policy.Subject, id int64) (*models.ApprovalBatch, error) {
	b, err := e.store.GetBatch(ctx, id)
	if err != nil {
		return nil, apperror.Internal(err, "load batch")
	}
	if b == nil || !policy.Allow(s, policy.BatchRead, policy.Resource{ClientID: b.ClientID}) {
		return nil, apperror.NotFound("batch", id)
	}

	if !s.Role.IsAdmin() {
		b.Token = ""
	}
	return b, nil
}

// ListBatches lists batches for clientID (zero for all) to admins. Client
// callers always get their own batches.
func (e *Engine) ListBatches(ctx context.Context, s policy.Subject, clientID int64, p repository.ListParams) ([]models.ApprovalBatch, error) {
	switch {
	case policy.Allow(s, policy.BatchListAll, policy.Resource{}):
	case s.ClientID != nil && policy.Allow(s, policy.BatchClientRead, policy.Resource{ClientID: *s.ClientID}):
		clientID = *s.ClientID
	default:
		return nil, apperror.Forbidden("not allowed to list batches")
	}

	out, err := e.store.ListBatches(ctx, clientID, p)
	if err != nil {
		return nil, apperror.Internal(err, "list batches")
	}
	if out == nil {
		out = []models.ApprovalBatch{}
	}
	if !s.Role.IsAdmin() {
		for i := range out {
			out[i].Token = ""
		}
	}
	return out, nil
}

// ListBatchTimesheets lists a batch's timesheets for the client that owns
// it. A batch owned by someone else is reported as missing.
func (e *Engine) ListBatchTimesheets(ctx context.Context, s policy.Subject, batchID int64) ([]models.Timesheet, error) {
	if s.Role != models.RoleClient {
		return nil, apperror.Forbidden("client access required")
	}

	b, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, apperror.Internal(err, "load batch")
	}
	if b == nil || !policy.Allow(s, policy.BatchListTimesheets, policy.Resource{ClientID: b.ClientID}) {
		return nil, apperror.NotFound("batch", batchID)
	}

	out, err := e.store.ListBatchTimesheets(ctx, b.ID)
	if err != nil {
		return nil, apperror.Internal(err, "list batch timesheets")
	}
	if out == nil {
		out = []models.Timesheet{}
	}
	return out, nil
}

// NewToken returns 32 random bytes, hex encoded.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// checkLive loads the batch behind token. An unknown token yields a nil
// batch and no error so each caller picks its own response; a known token
// past its expiry is always Expired.
func (e *Engine) checkLive(ctx context.Context, token string) (*models.ApprovalBatch, error) {
	b, err := e.store.GetBatchByToken(ctx, token)
	if err != nil {
		return nil, apperror.Internal(err, "load batch")
	}
	if b == nil {
		return nil, nil
	}
	if e.now().UTC().UnixMilli() > b.TokenExpiresAt {
		return nil, apperror.Expired("approval link has expired")
	}
	return b, nil
}
