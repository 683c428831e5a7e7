package telehealth

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a telemedicine session.
type Status string

const (
	StatusScheduled        Status = "scheduled"
	StatusStarting         Status = "starting"
	StatusActive           Status = "active"
	StatusPaused           Status = "paused"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"
	StatusNoShow           Status = "no_show"
	StatusTechnicalFailure Status = "technical_failure"
)

// validTransitions is the session state machine. Transitions are monotonic:
// once a session leaves a stage it never returns to it, except the
// paused <-> active pair. Every non-terminal stage can reach completed
// because a hangup ends the call wherever it stands, and every live stage
// can fail technically. Terminal states have no outgoing edges.
var validTransitions = map[Status][]Status{
	StatusScheduled: {StatusStarting, StatusCancelled, StatusNoShow, StatusTechnicalFailure},
	StatusStarting:  {StatusActive, StatusCompleted, StatusCancelled, StatusTechnicalFailure},
	StatusActive:    {StatusPaused, StatusCompleted, StatusCancelled, StatusNoShow, StatusTechnicalFailure},
	StatusPaused:    {StatusActive, StatusCompleted, StatusTechnicalFailure},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow, StatusTechnicalFailure:
		return true
	}
	return false
}

// Valid reports whether s is a known session status.
func (s Status) Valid() bool {
	if s == StatusScheduled {
		return true
	}
	if _, ok := validTransitions[s]; ok {
		return true
	}
	return s.IsTerminal()
}

// SessionType categorizes the clinical purpose of a session.
type SessionType string

const (
	TypeConsultation     SessionType = "consultation"
	TypeFollowUp         SessionType = "follow-up"
	TypeExerciseGuidance SessionType = "exercise-guidance"
	TypeAssessment       SessionType = "assessment"
	TypeEmergency        SessionType = "emergency"
)

var validSessionTypes = map[SessionType]bool{
	TypeConsultation:     true,
	TypeFollowUp:         true,
	TypeExerciseGuidance: true,
	TypeAssessment:       true,
	TypeEmergency:        true,
}

// Role identifies which side of the encounter a participant is on.
type Role string

const (
	RolePatient   Role = "patient"
	RoleTherapist Role = "therapist"
)

// Duration bounds for a scheduled session, in minutes.
const (
	MinDurationMinutes = 15
	MaxDurationMinutes = 120
)

// EarlyJoinWindow is how long before the scheduled start a participant may
// join. The boundary is inclusive: joining at exactly scheduledStart-15m
// is allowed.
const EarlyJoinWindow = 15 * time.Minute

// Session maps to the telehealth_session table.
type Session struct {
	ID                uuid.UUID     `db:"id" json:"id"`
	RoomID            string        `db:"room_id" json:"room_id"`
	PatientID         uuid.UUID     `db:"patient_id" json:"patient_id"`
	TherapistID       uuid.UUID     `db:"therapist_id" json:"therapist_id"`
	SessionType       SessionType   `db:"session_type" json:"session_type"`
	Status            Status        `db:"status" json:"status"`
	ScheduledStart    time.Time     `db:"scheduled_start" json:"scheduled_start"`
	DurationMinutes   int           `db:"duration_minutes" json:"duration_minutes"`
	ActualStart       *time.Time    `db:"actual_start" json:"actual_start,omitempty"`
	ActualEnd         *time.Time    `db:"actual_end" json:"actual_end,omitempty"`
	RecordingRequired bool          `db:"recording_required" json:"recording_required"`
	Emergency         bool          `db:"emergency" json:"emergency"`
	ConnectionQuality *QualityTier  `db:"connection_quality" json:"connection_quality,omitempty"`
	QualityStats      *QualityStats `db:"quality_stats" json:"quality_stats,omitempty"`
	TechnicalIssues   *string       `db:"technical_issues" json:"technical_issues,omitempty"`
	PatientFeedback   *string       `db:"patient_feedback" json:"patient_feedback,omitempty"`
	RecordingURL      *string       `db:"recording_url" json:"recording_url,omitempty"`
	VersionID         int           `db:"version_id" json:"version_id"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// GetVersionID returns the current optimistic-lock version.
func (s *Session) GetVersionID() int { return s.VersionID }

// SetVersionID sets the current optimistic-lock version.
func (s *Session) SetVersionID(v int) { s.VersionID = v }

// ParticipantOf returns the role of userID in the session, or "" if the user
// is not one of the session's two parties.
func (s *Session) ParticipantOf(userID uuid.UUID) Role {
	switch userID {
	case s.PatientID:
		return RolePatient
	case s.TherapistID:
		return RoleTherapist
	}
	return ""
}

// DeviceInfo is the capability snapshot reported by a joining client. The
// service treats it as opaque; it is stored verbatim on the participant row.
type DeviceInfo struct {
	HasCamera     bool   `json:"has_camera"`
	HasMicrophone bool   `json:"has_microphone"`
	Browser       string `json:"browser,omitempty"`
	OS            string `json:"os,omitempty"`
}

// Participant maps to the telehealth_participant table. Reconnects create
// new rows; at most one row per (session, user) has a nil LeftAt.
type Participant struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	SessionID uuid.UUID  `db:"session_id" json:"session_id"`
	UserID    uuid.UUID  `db:"user_id" json:"user_id"`
	Role      Role       `db:"role" json:"role"`
	JoinedAt  time.Time  `db:"joined_at" json:"joined_at"`
	LeftAt    *time.Time `db:"left_at" json:"left_at,omitempty"`
	Device    DeviceInfo `db:"device" json:"device"`
}

// StatusChange maps to the telehealth_status_history table, one row per
// applied transition.
type StatusChange struct {
	ID         uuid.UUID `db:"id" json:"id"`
	SessionID  uuid.UUID `db:"session_id" json:"session_id"`
	FromStatus Status    `db:"from_status" json:"from_status"`
	ToStatus   Status    `db:"to_status" json:"to_status"`
	ChangedAt  time.Time `db:"changed_at" json:"changed_at"`
}

// QualityStats aggregates the quality samples observed over a session's
// lifetime. Persisted as JSON on the session row at completion.
type QualityStats struct {
	Samples   int `json:"samples"`
	Excellent int `json:"excellent"`
	Good      int `json:"good"`
	Fair      int `json:"fair"`
	Poor      int `json:"poor"`
}

// Tally increments the bucket for the given tier.
func (q *QualityStats) Tally(tier QualityTier) {
	q.Samples++
	switch tier {
	case TierExcellent:
		q.Excellent++
	case TierGood:
		q.Good++
	case TierFair:
		q.Fair++
	case TierPoor:
		q.Poor++
	}
}

// MarshalDB renders the stats for a jsonb column.
func (q *QualityStats) MarshalDB() ([]byte, error) {
	if q == nil {
		return nil, nil
	}
	return json.Marshal(q)
}

// Stats is the aggregate returned by the stats endpoint.
type Stats struct {
	TotalSessions int            `json:"total_sessions"`
	ByStatus      map[Status]int `json:"by_status"`
}
