// Package notification delivers session lifecycle events to participants over
// email and SMS, with template rendering, an in-memory delivery log, and
// manual retry for failed deliveries.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinicore/internal/domain/telehealth"
)

// Channel is the transport used for a delivery.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Contact is a participant's reachable addresses. Either field may be empty;
// email is preferred when both are set.
type Contact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// ContactDirectory resolves a user id to contact addresses. The directory is
// backed by the clinic's user store; a StaticDirectory serves tests and
// single-tenant deployments.
type ContactDirectory interface {
	Lookup(ctx context.Context, userID uuid.UUID) (Contact, error)
}

// StaticDirectory is a fixed in-memory ContactDirectory.
type StaticDirectory map[uuid.UUID]Contact

func (d StaticDirectory) Lookup(_ context.Context, userID uuid.UUID) (Contact, error) {
	c, ok := d[userID]
	if !ok {
		return Contact{}, fmt.Errorf("no contact for user %s", userID)
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Sender Interfaces
// ---------------------------------------------------------------------------

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template defines a reusable notification template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in session
// lifecycle templates pre-registered. Template ids match lifecycle event
// types so an event renders without a lookup table.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      telehealth.EventSessionCreated,
			Name:    "Session Scheduled",
			Subject: "Your telemedicine session is scheduled",
			Body:    "A {{session_type}} video session has been scheduled for {{scheduled_start}}. Join from {{join_url}} up to 15 minutes before the start time.",
		},
		{
			ID:      telehealth.EventSessionCompleted,
			Name:    "Session Completed",
			Subject: "Your telemedicine session has ended",
			Body:    "Your video session has ended after {{duration}}. Thank you for using our telemedicine service.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are
// left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Mock Senders (test doubles)
// ---------------------------------------------------------------------------

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender is a test double for SMSSender.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
	FailError  string
}

// SendSMS records the call and optionally returns an error.
func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded SMS calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Delivery records one attempted delivery to one recipient.
type Delivery struct {
	ID        string     `json:"id"`
	EventType string     `json:"event_type"`
	SessionID uuid.UUID  `json:"session_id"`
	Recipient uuid.UUID  `json:"recipient"`
	Channel   Channel    `json:"channel"`
	Address   string     `json:"address"`
	Subject   string     `json:"subject,omitempty"`
	Body      string     `json:"body"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Manager turns lifecycle events into per-recipient deliveries. It satisfies
// telehealth.Notifier.
type Manager struct {
	email      EmailSender
	sms        SMSSender
	templates  *TemplateEngine
	directory  ContactDirectory
	logger     zerolog.Logger
	mu         sync.RWMutex
	deliveries map[string]*Delivery
}

func NewManager(email EmailSender, sms SMSSender, tpl *TemplateEngine, dir ContactDirectory, logger zerolog.Logger) *Manager {
	return &Manager{
		email:      email,
		sms:        sms,
		templates:  tpl,
		directory:  dir,
		logger:     logger,
		deliveries: make(map[string]*Delivery),
	}
}

// Notify renders the template matching the event type and sends the result
// to each recipient over their preferred channel. Failed deliveries are
// recorded and reported; a partial failure does not abort the rest.
func (m *Manager) Notify(ctx context.Context, event telehealth.Event) error {
	subject, body, err := m.templates.Render(event.Type, event.Payload)
	if err != nil {
		return fmt.Errorf("render %s: %w", event.Type, err)
	}

	var errs []error
	for _, recipient := range event.Recipients {
		if err := m.deliverTo(ctx, event, recipient, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("deliver to %s: %w", recipient, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) deliverTo(ctx context.Context, event telehealth.Event, recipient uuid.UUID, subject, body string) error {
	contact, err := m.directory.Lookup(ctx, recipient)
	if err != nil {
		return err
	}

	d := &Delivery{
		ID:        uuid.NewString(),
		EventType: event.Type,
		SessionID: event.SessionID,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Status:    "pending",
		CreatedAt: time.Now().UTC(),
	}
	switch {
	case contact.Email != "":
		d.Channel = ChannelEmail
		d.Address = contact.Email
	case contact.Phone != "":
		d.Channel = ChannelSMS
		d.Address = contact.Phone
	default:
		return fmt.Errorf("user %s has no reachable address", recipient)
	}

	sendErr := m.send(ctx, d)
	m.record(d, sendErr)
	return sendErr
}

func (m *Manager) send(ctx context.Context, d *Delivery) error {
	switch d.Channel {
	case ChannelEmail:
		return m.email.SendEmail(ctx, d.Address, d.Subject, d.Body)
	case ChannelSMS:
		return m.sms.SendSMS(ctx, d.Address, d.Body)
	default:
		return fmt.Errorf("unsupported channel: %s", d.Channel)
	}
}

func (m *Manager) record(d *Delivery, sendErr error) {
	if sendErr != nil {
		d.Status = "failed"
		d.Error = sendErr.Error()
		m.logger.Warn().Err(sendErr).
			Str("event", d.EventType).
			Str("recipient", d.Recipient.String()).
			Msg("notification delivery failed")
	} else {
		d.Status = "sent"
		sentAt := time.Now().UTC()
		d.SentAt = &sentAt
	}
	m.mu.Lock()
	m.deliveries[d.ID] = d
	m.mu.Unlock()
}

// Retry re-sends a failed delivery. It returns an error if the delivery is
// not in "failed" status.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.RLock()
	d, ok := m.deliveries[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("delivery %q not found", id)
	}
	if d.Status != "failed" {
		return fmt.Errorf("delivery %q is not in failed status (current: %s)", id, d.Status)
	}

	sendErr := m.send(ctx, d)
	m.mu.Lock()
	if sendErr != nil {
		d.Status = "failed"
		d.Error = sendErr.Error()
	} else {
		d.Status = "sent"
		sentAt := time.Now().UTC()
		d.SentAt = &sentAt
		d.Error = ""
	}
	m.mu.Unlock()
	return sendErr
}

// Deliveries returns a copy of the delivery log for a session.
func (m *Manager) Deliveries(sessionID uuid.UUID) []*Delivery {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Delivery
	for _, d := range m.deliveries {
		if d.SessionID == sessionID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out
}

// Stats returns delivery counts grouped by status.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]int)
	for _, d := range m.deliveries {
		stats[d.Status]++
	}
	return stats
}
