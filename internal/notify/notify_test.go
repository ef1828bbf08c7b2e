package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/garnizeh/timesheets/internal/approval"
	"github.com/garnizeh/timesheets/internal/jobs"
	"github.com/garnizeh/timesheets/internal/notify"
	"github.com/garnizeh/timesheets/pkg/models"
)

type sent struct {
	subject    string
	body       string
	recipients []string
}

type fakeMailer struct {
	enabled bool
	err     error
	sent    []sent
}

func (f *fakeMailer) IsEnabled() bool { return f.enabled }

func (f *fakeMailer) SendTo(subject, body string, recipients []string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{subject, body, recipients})
	return nil
}

type fakeQueue struct {
	typ         string
	payload     []byte
	priority    int
	maxAttempts int
}

func (q *fakeQueue) Enqueue(_ context.Context, typ string, payload any, priority int, maxAttempts int) (int64, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	q.typ, q.payload, q.priority, q.maxAttempts = typ, b, priority, maxAttempts
	return 1, nil
}

func notice() approval.Notice {
	return approval.Notice{
		Client:        models.Client{ID: 3, CompanyName: "Acme Haulage"},
		Batch:         models.ApprovalBatch{ID: 7, WeekStart: "2024-06-03", Token: "abc123", TokenExpiresAt: 1718000000000},
		Recipient:     "pat@acme.test",
		RecipientName: "Pat",
	}
}

func TestBatchCreated_InlineSend(t *testing.T) {
	m := &fakeMailer{enabled: true}
	d := notify.NewDispatcher(nil, m, "https://timesheets.example.com/", nil)

	if err := d.BatchCreated(context.Background(), notice()); err != nil {
		t.Fatalf("BatchCreated: %v", err)
	}
	if len(m.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(m.sent))
	}

	msg := m.sent[0]
	if !strings.Contains(msg.body, "https://timesheets.example.com/approve/abc123") {
		t.Fatalf("body is missing the approval link:\n%s", msg.body)
	}
	if !strings.Contains(msg.body, "Hello Pat,") || !strings.Contains(msg.body, "2024-06-03") {
		t.Fatalf("unexpected body:\n%s", msg.body)
	}
	if !strings.Contains(msg.subject, "Acme Haulage") || len(msg.recipients) != 1 || msg.recipients[0] != "pat@acme.test" {
		t.Fatalf("unexpected envelope: %#v", msg)
	}
}

func TestBatchCreated_EnqueuesAndHandles(t *testing.T) {
	m := &fakeMailer{enabled: true}
	q := &fakeQueue{}
	d := notify.NewDispatcher(q, m, "http://localhost:8080", nil)

	if err := d.BatchCreated(context.Background(), notice()); err != nil {
		t.Fatalf("BatchCreated: %v", err)
	}
	if len(m.sent) != 0 {
		t.Fatalf("queued dispatch must not send inline")
	}
	if q.typ != notify.JobApprovalRequested || q.priority != 10 || q.maxAttempts != 5 {
		t.Fatalf("unexpected job: %#v", q)
	}

	if err := d.Handle(context.Background(), &jobs.Job{ID: 1, Type: q.typ, Payload: q.payload}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(m.sent) != 1 || !strings.Contains(m.sent[0].body, "http://localhost:8080/approve/abc123") {
		t.Fatalf("unexpected emails: %#v", m.sent)
	}
}

func TestHandle_DisabledMailerCompletes(t *testing.T) {
	m := &fakeMailer{enabled: false}
	d := notify.NewDispatcher(&fakeQueue{}, m, "http://localhost:8080", nil)

	payload, _ := json.Marshal(map[string]any{"recipient": "pat@acme.test", "token": "abc"})
	if err := d.Handle(context.Background(), &jobs.Job{ID: 1, Payload: payload}); err != nil {
		t.Fatalf("disabled mailer must not fail the job: %v", err)
	}
	if len(m.sent) != 0 {
		t.Fatalf("disabled mailer must not send")
	}
}

func TestHandle_SendErrorIsRetried(t *testing.T) {
	m := &fakeMailer{enabled: true, err: errors.New("connection refused")}
	d := notify.NewDispatcher(nil, m, "http://localhost:8080", nil)

	if err := d.BatchCreated(context.Background(), notice()); err == nil {
		t.Fatalf("expected send error to surface")
	}
	if err := d.Handle(context.Background(), &jobs.Job{ID: 1}); err == nil {
		t.Fatalf("expected error for a job without payload")
	}
}

func TestApprovalLinkEscapesToken(t *testing.T) {
	d := notify.NewDispatcher(nil, nil, "http://localhost:8080/", nil)
	link, err := d.ApprovalLink("a/b")
	if err != nil {
		t.Fatalf("ApprovalLink: %v", err)
	}
	if link != "http://localhost:8080/approve/a%2Fb" {
		t.Fatalf("unexpected link %q", link)
	}
}
