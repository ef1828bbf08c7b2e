// Package notify tells clients that a batch of timesheets is waiting for
// their approval.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/garnizeh/timesheets/internal/approval"
	"github.com/garnizeh/timesheets/internal/jobs"
	"github.com/garnizeh/timesheets/internal/mail"
)

const (
	// JobApprovalRequested is the job type of an approval request email.
	JobApprovalRequested = "mail.approval_requested"

	jobPriority    = 10
	jobMaxAttempts = 5

	approveRoute = "/approve/{token}"
)

type approvalRequested struct {
	Recipient     string `json:"recipient"`
	RecipientName string `json:"recipientName"`
	ClientName    string `json:"clientName"`
	WeekStart     string `json:"weekStart"`
	Token         string `json:"token"`
	ExpiresAt     int64  `json:"expiresAt"`
}

type approvalRequestedData struct {
	Name      string // Recipient name
	Client    string // Client company name
	WeekStart string // Week the timesheets cover
	Link      string // Approval page URL
	Expires   string // Link expiry, human readable
}

var approvalRequestedText = `
Hello{{if .Name}} {{.Name}}{{end}},

Timesheets for {{.Client}} covering the week starting {{.WeekStart}} are ready for your review.

Approve or reject each timesheet here:
{{.Link}}

This link expires on {{.Expires}}.
`

var approvalRequestedTmpl = template.Must(
	template.New("approvalRequested").Parse(approvalRequestedText))

// Dispatcher implements approval.Notifier.
type Dispatcher struct {
	queue   jobs.Enqueuer
	mailer  mail.Mailer
	baseURL string
	logger  *slog.Logger
}

var _ approval.Notifier = (*Dispatcher)(nil)

// NewDispatcher returns a dispatcher that enqueues mail jobs on queue. With
// a nil queue the email is sent inline.
func NewDispatcher(queue jobs.Enqueuer, mailer mail.Mailer, publicBaseURL string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:   queue,
		mailer:  mailer,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:  logger,
	}
}

func (d *Dispatcher) BatchCreated(ctx context.Context, n approval.Notice) error {
	p := approvalRequested{
		Recipient:     n.Recipient,
		RecipientName: n.RecipientName,
		ClientName:    n.Client.CompanyName,
		WeekStart:     n.Batch.WeekStart,
		Token:         n.Batch.Token,
		ExpiresAt:     n.Batch.TokenExpiresAt,
	}

	if d.queue == nil {
		return d.send(ctx, p)
	}

	id, err := d.queue.Enqueue(ctx, JobApprovalRequested, p, jobPriority, jobMaxAttempts)
	if err != nil {
		return fmt.Errorf("enqueue approval email: %w", err)
	}
	d.logger.Debug("approval email queued", slog.Int64("job_id", id), slog.Int64("batch_id", n.Batch.ID))
	return nil
}

// Handle is the jobs.Handler for JobApprovalRequested.
func (d *Dispatcher) Handle(ctx context.Context, j *jobs.Job) error {
	var p approvalRequested
	if err := j.Decode(&p); err != nil {
		return fmt.Errorf("decode job %d: %w", j.ID, err)
	}
	return d.send(ctx, p)
}

// Register attaches the dispatcher's handlers to pool.
func (d *Dispatcher) Register(pool *jobs.WorkerPool) {
	pool.Register(JobApprovalRequested, d.Handle)
}

// ApprovalLink returns the public approval page URL for token.
func (d *Dispatcher) ApprovalLink(token string) (string, error) {
	route := strings.Replace(approveRoute, "{token}", url.PathEscape(token), 1)
	u, err := url.Parse(d.baseURL + route)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (d *Dispatcher) send(ctx context.Context, p approvalRequested) error {
	if d.mailer == nil || !d.mailer.IsEnabled() {
		d.logger.WarnContext(ctx, "email disabled, approval request not sent",
			slog.String("recipient", p.Recipient),
			slog.String("week_start", p.WeekStart),
		)
		return nil
	}

	link, err := d.ApprovalLink(p.Token)
	if err != nil {
		return err
	}

	body, err := populateTemplate(approvalRequestedTmpl, approvalRequestedData{
		Name:      p.RecipientName,
		Client:    p.ClientName,
		WeekStart: p.WeekStart,
		Link:      link,
		Expires:   time.UnixMilli(p.ExpiresAt).UTC().Format("Mon 2 Jan 2006 15:04 MST"),
	})
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("Timesheets awaiting approval: %s, week of %s", p.ClientName, p.WeekStart)
	if err := d.mailer.SendTo(subject, body, []string{p.Recipient}); err != nil {
		return fmt.Errorf("send approval email: %w", err)
	}

	d.logger.InfoContext(ctx, "approval email sent", slog.String("recipient", p.Recipient))
	return nil
}

func populateTemplate(tmpl *template.Template, data any) (string, error) {
	var b bytes.Buffer
	if err := tmpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
