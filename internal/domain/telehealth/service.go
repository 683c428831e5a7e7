package telehealth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is a lifecycle notification handed to the Notifier. Delivery is
// fire-and-forget: a failed Notify never fails the triggering operation.
type Event struct {
	Type       string            `json:"type"`
	SessionID  uuid.UUID         `json:"session_id"`
	Recipients []uuid.UUID       `json:"recipients"`
	Payload    map[string]string `json:"payload,omitempty"`
}

const (
	EventSessionCreated   = "session.created"
	EventSessionCompleted = "session.completed"
)

// Notifier delivers lifecycle events to participants.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// casAttempts bounds the read-modify-write retry loop used to serialize
// concurrent mutations of one session row.
const casAttempts = 3

// Service owns the telemedicine session lifecycle: scheduling, join-window
// admission, status transitions, and completion bookkeeping.
type Service struct {
	repo     Repository
	notifier Notifier
	logger   zerolog.Logger
	joinBase string
	now      func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:   repo,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
}

// SetNotifier attaches an optional lifecycle-event sink.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetLogger attaches the service logger (used only for swallowed side-effect
// failures).
func (s *Service) SetLogger(l zerolog.Logger) { s.logger = l }

// SetJoinBaseURL sets the external base URL embedded in join links.
func (s *Service) SetJoinBaseURL(base string) { s.joinBase = base }

// CreateSession validates and persists a new session in state "scheduled",
// then emits a "session created" event with join URLs for both parties.
func (s *Service) CreateSession(ctx context.Context, sess *Session) (*Session, error) {
	if sess.DurationMinutes < MinDurationMinutes || sess.DurationMinutes > MaxDurationMinutes {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDuration, sess.DurationMinutes)
	}
	if sess.PatientID == uuid.Nil || sess.TherapistID == uuid.Nil || sess.PatientID == sess.TherapistID {
		return nil, ErrInvalidParties
	}
	if !validSessionTypes[sess.SessionType] {
		return nil, fmt.Errorf("%w: unknown session type %q", ErrInvalidParties, sess.SessionType)
	}

	now := s.now().UTC()
	if sess.SessionType == TypeEmergency {
		sess.Emergency = true
	}
	if sess.ScheduledStart.IsZero() {
		if !sess.Emergency {
			return nil, fmt.Errorf("%w: scheduled_start is required", ErrInvalidParties)
		}
		sess.ScheduledStart = now
	}
	if sess.ScheduledStart.Before(now) && !sess.Emergency {
		return nil, fmt.Errorf("%w: scheduled_start is in the past", ErrInvalidParties)
	}

	sess.ID = uuid.New()
	sess.RoomID = "room-" + sess.ID.String()
	sess.Status = StatusScheduled
	sess.ActualStart = nil
	sess.ActualEnd = nil
	sess.VersionID = 1
	sess.CreatedAt = now
	sess.UpdatedAt = now

	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, storeErr("create session", err)
	}

	s.notify(ctx, Event{
		Type:       EventSessionCreated,
		SessionID:  sess.ID,
		Recipients: []uuid.UUID{sess.PatientID, sess.TherapistID},
		Payload: map[string]string{
			"room_id":         sess.RoomID,
			"session_type":    string(sess.SessionType),
			"scheduled_start": sess.ScheduledStart.Format(time.RFC3339),
			"join_url":        s.joinURL(sess.ID),
		},
	})
	return sess, nil
}

// RequestJoin admits a participant into a session. The first join moves the
// session from "scheduled" to "starting" and stamps actualStart exactly once;
// later joins by either party record reconnects without touching either.
// Joining is rejected before scheduledStart-15m (inclusive boundary allowed)
// and after the session reaches a terminal state.
func (s *Service) RequestJoin(ctx context.Context, sessionID, userID uuid.UUID, role Role, device DeviceInfo) (*Session, *Participant, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		sess, err := s.repo.GetByID(ctx, sessionID)
		if err != nil {
			return nil, nil, storeErr("get session", err)
		}
		if sess == nil {
			return nil, nil, ErrNotFound
		}
		if actual := sess.ParticipantOf(userID); actual == "" || actual != role {
			return nil, nil, ErrForbidden
		}
		if sess.Status.IsTerminal() {
			return nil, nil, ErrSessionClosed
		}

		now := s.now().UTC()
		earliest := sess.ScheduledStart.Add(-EarlyJoinWindow)
		if now.Before(earliest) {
			return nil, nil, &TooEarlyError{NotBefore: earliest}
		}

		if sess.Status == StatusScheduled {
			from := sess.Status
			sess.Status = StatusStarting
			sess.ActualStart = &now
			if err := s.repo.Update(ctx, sess); err != nil {
				if err == ErrVersionConflict {
					continue // another join won the race; re-read
				}
				return nil, nil, storeErr("update session", err)
			}
			s.recordTransition(ctx, sess.ID, from, sess.Status, now)
		}

		// A reconnect closes the previous active record before opening a
		// new one, keeping at most one open record per (session, user).
		if _, err := s.repo.MarkLeft(ctx, sessionID, userID, now); err != nil {
			return nil, nil, storeErr("close previous participant record", err)
		}
		p := &Participant{
			ID:        uuid.New(),
			SessionID: sessionID,
			UserID:    userID,
			Role:      role,
			JoinedAt:  now,
			Device:    device,
		}
		if err := s.repo.AddParticipant(ctx, p); err != nil {
			return nil, nil, storeErr("add participant", err)
		}
		return sess, p, nil
	}
	return nil, nil, storeErr("join session", ErrVersionConflict)
}

// UpdateFields carries the free-form side-channel fields that may accompany
// a status update. Nil fields are left untouched.
type UpdateFields struct {
	ConnectionQuality *QualityTier
	TechnicalIssues   *string
	PatientFeedback   *string
	RecordingURL      *string
}

// UpdateStatus applies a status transition, persisting any side-channel
// fields in the same atomic write. Transitioning to "completed" stamps
// actualEnd (if unset) and triggers the completion side effects.
func (s *Service) UpdateStatus(ctx context.Context, sessionID uuid.UUID, newStatus Status, fields UpdateFields) (*Session, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, newStatus)
	}
	for attempt := 0; attempt < casAttempts; attempt++ {
		sess, err := s.repo.GetByID(ctx, sessionID)
		if err != nil {
			return nil, storeErr("get session", err)
		}
		if sess == nil {
			return nil, ErrNotFound
		}
		if !CanTransition(sess.Status, newStatus) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Status, newStatus)
		}

		now := s.now().UTC()
		from := sess.Status
		sess.Status = newStatus
		if fields.ConnectionQuality != nil {
			sess.ConnectionQuality = fields.ConnectionQuality
		}
		if fields.TechnicalIssues != nil {
			sess.TechnicalIssues = fields.TechnicalIssues
		}
		if fields.PatientFeedback != nil {
			sess.PatientFeedback = fields.PatientFeedback
		}
		if fields.RecordingURL != nil {
			sess.RecordingURL = fields.RecordingURL
		}
		if newStatus == StatusCompleted && sess.ActualEnd == nil {
			sess.ActualEnd = &now
		}

		if err := s.repo.Update(ctx, sess); err != nil {
			if err == ErrVersionConflict {
				continue
			}
			return nil, storeErr("update session", err)
		}
		s.recordTransition(ctx, sess.ID, from, newStatus, now)
		if newStatus == StatusCompleted {
			s.onCompletion(ctx, sess)
		}
		return sess, nil
	}
	return nil, storeErr("update status", ErrVersionConflict)
}

// CompleteOnHangup moves an in-flight session toward "completed". Either
// party's hangup is sufficient to begin teardown; the call is a no-op for
// sessions that have not started or are already terminal.
func (s *Service) CompleteOnHangup(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return storeErr("get session", err)
	}
	if sess == nil {
		return ErrNotFound
	}
	switch sess.Status {
	case StatusStarting, StatusActive, StatusPaused:
		_, err := s.UpdateStatus(ctx, sessionID, StatusCompleted, UpdateFields{})
		return err
	}
	return nil
}

// LeaveSession closes the user's active participant record.
func (s *Service) LeaveSession(ctx context.Context, sessionID, userID uuid.UUID) error {
	sess, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return storeErr("get session", err)
	}
	if sess == nil {
		return ErrNotFound
	}
	if sess.ParticipantOf(userID) == "" {
		return ErrForbidden
	}
	if _, err := s.repo.MarkLeft(ctx, sessionID, userID, s.now().UTC()); err != nil {
		return storeErr("mark participant left", err)
	}
	return nil
}

// RecordQualitySample classifies one network sample and stores the derived
// tier plus running aggregates on the session.
func (s *Service) RecordQualitySample(ctx context.Context, sessionID, userID uuid.UUID, sample QualitySample) (QualityTier, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		sess, err := s.repo.GetByID(ctx, sessionID)
		if err != nil {
			return "", storeErr("get session", err)
		}
		if sess == nil {
			return "", ErrNotFound
		}
		if sess.ParticipantOf(userID) == "" {
			return "", ErrForbidden
		}
		if sess.Status.IsTerminal() {
			return "", ErrSessionClosed
		}

		tier := Classify(sample)
		sess.ConnectionQuality = &tier
		if sess.QualityStats == nil {
			sess.QualityStats = &QualityStats{}
		}
		sess.QualityStats.Tally(tier)

		if err := s.repo.Update(ctx, sess); err != nil {
			if err == ErrVersionConflict {
				continue
			}
			return "", storeErr("update session", err)
		}
		return tier, nil
	}
	return "", storeErr("record quality sample", ErrVersionConflict)
}

func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr("get session", err)
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *Service) ListSessionsForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Session, int, error) {
	sessions, total, err := s.repo.ListByParticipant(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, storeErr("list sessions", err)
	}
	return sessions, total, nil
}

func (s *Service) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]*Participant, error) {
	parts, err := s.repo.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, storeErr("list participants", err)
	}
	return parts, nil
}

func (s *Service) StatusHistory(ctx context.Context, sessionID uuid.UUID) ([]*StatusChange, error) {
	changes, err := s.repo.ListStatusChanges(ctx, sessionID)
	if err != nil {
		return nil, storeErr("list status history", err)
	}
	return changes, nil
}

// SessionStats aggregates sessions created in the last windowDays days.
func (s *Service) SessionStats(ctx context.Context, windowDays int) (*Stats, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := s.now().UTC().AddDate(0, 0, -windowDays)
	counts, err := s.repo.CountByStatusSince(ctx, since)
	if err != nil {
		return nil, storeErr("count sessions", err)
	}
	stats := &Stats{ByStatus: counts}
	for _, n := range counts {
		stats.TotalSessions += n
	}
	return stats, nil
}

// onCompletion runs the deterministic completion side effects: finalize the
// duration/quality record, then emit a "session completed" event. The record
// is retained; deletion is an external administrative concern.
func (s *Service) onCompletion(ctx context.Context, sess *Session) {
	payload := map[string]string{"room_id": sess.RoomID}
	if sess.ActualStart != nil && sess.ActualEnd != nil {
		payload["duration"] = sess.ActualEnd.Sub(*sess.ActualStart).Round(time.Second).String()
	}
	if sess.ConnectionQuality != nil {
		payload["connection_quality"] = string(*sess.ConnectionQuality)
	}
	s.notify(ctx, Event{
		Type:       EventSessionCompleted,
		SessionID:  sess.ID,
		Recipients: []uuid.UUID{sess.PatientID, sess.TherapistID},
		Payload:    payload,
	})
}

func (s *Service) notify(ctx context.Context, event Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn().Err(err).
			Str("event", event.Type).
			Str("session_id", event.SessionID.String()).
			Msg("notification delivery failed")
	}
}

func (s *Service) recordTransition(ctx context.Context, sessionID uuid.UUID, from, to Status, at time.Time) {
	sc := &StatusChange{
		ID:         uuid.New(),
		SessionID:  sessionID,
		FromStatus: from,
		ToStatus:   to,
		ChangedAt:  at,
	}
	if err := s.repo.AddStatusChange(ctx, sc); err != nil {
		s.logger.Warn().Err(err).
			Str("session_id", sessionID.String()).
			Msg("failed to record status transition")
	}
}

func (s *Service) joinURL(sessionID uuid.UUID) string {
	return fmt.Sprintf("%s/telehealth/sessions/%s/join", s.joinBase, sessionID)
}
