package telehealth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo returns a Postgres-backed session store.
func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const sessionCols = `id, room_id, patient_id, therapist_id, session_type, status,
	scheduled_start, duration_minutes, actual_start, actual_end,
	recording_required, emergency,
	connection_quality, quality_stats, technical_issues, patient_feedback, recording_url,
	version_id, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, s *Session) error {
	stats, err := s.QualityStats.MarshalDB()
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO telehealth_session (
			id, room_id, patient_id, therapist_id, session_type, status,
			scheduled_start, duration_minutes, actual_start, actual_end,
			recording_required, emergency,
			connection_quality, quality_stats, technical_issues, patient_feedback, recording_url,
			version_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		s.ID, s.RoomID, s.PatientID, s.TherapistID, s.SessionType, s.Status,
		s.ScheduledStart, s.DurationMinutes, s.ActualStart, s.ActualEnd,
		s.RecordingRequired, s.Emergency,
		s.ConnectionQuality, stats, s.TechnicalIssues, s.PatientFeedback, s.RecordingURL,
		s.VersionID,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionCols+` FROM telehealth_session WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *repoPG) Update(ctx context.Context, s *Session) error {
	stats, err := s.QualityStats.MarshalDB()
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE telehealth_session SET
			status=$2, actual_start=$3, actual_end=$4,
			connection_quality=$5, quality_stats=$6, technical_issues=$7,
			patient_feedback=$8, recording_url=$9,
			version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $10`,
		s.ID, s.Status, s.ActualStart, s.ActualEnd,
		s.ConnectionQuality, stats, s.TechnicalIssues,
		s.PatientFeedback, s.RecordingURL,
		s.VersionID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	s.VersionID++
	return nil
}

func (r *repoPG) ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Session, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM telehealth_session
		WHERE patient_id = $1 OR therapist_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionCols+` FROM telehealth_session
		WHERE patient_id = $1 OR therapist_id = $1
		ORDER BY scheduled_start DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, s)
	}
	return sessions, total, rows.Err()
}

func (r *repoPG) AddParticipant(ctx context.Context, p *Participant) error {
	device, err := json.Marshal(p.Device)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO telehealth_participant (id, session_id, user_id, role, joined_at, left_at, device)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.SessionID, p.UserID, p.Role, p.JoinedAt, p.LeftAt, device,
	)
	return err
}

func (r *repoPG) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]*Participant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, session_id, user_id, role, joined_at, left_at, device
		FROM telehealth_participant WHERE session_id = $1 ORDER BY joined_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []*Participant
	for rows.Next() {
		var p Participant
		var device []byte
		if err := rows.Scan(&p.ID, &p.SessionID, &p.UserID, &p.Role, &p.JoinedAt, &p.LeftAt, &device); err != nil {
			return nil, err
		}
		if len(device) > 0 {
			if err := json.Unmarshal(device, &p.Device); err != nil {
				return nil, err
			}
		}
		parts = append(parts, &p)
	}
	return parts, rows.Err()
}

func (r *repoPG) MarkLeft(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE telehealth_participant SET left_at = $3
		WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL`,
		sessionID, userID, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) AddStatusChange(ctx context.Context, sc *StatusChange) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO telehealth_status_history (id, session_id, from_status, to_status, changed_at)
		VALUES ($1,$2,$3,$4,$5)`,
		sc.ID, sc.SessionID, sc.FromStatus, sc.ToStatus, sc.ChangedAt,
	)
	return err
}

func (r *repoPG) ListStatusChanges(ctx context.Context, sessionID uuid.UUID) ([]*StatusChange, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, session_id, from_status, to_status, changed_at
		FROM telehealth_status_history WHERE session_id = $1 ORDER BY changed_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []*StatusChange
	for rows.Next() {
		var sc StatusChange
		if err := rows.Scan(&sc.ID, &sc.SessionID, &sc.FromStatus, &sc.ToStatus, &sc.ChangedAt); err != nil {
			return nil, err
		}
		changes = append(changes, &sc)
	}
	return changes, rows.Err()
}

func (r *repoPG) CountByStatusSince(ctx context.Context, since time.Time) (map[Status]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM telehealth_session
		WHERE created_at >= $1 GROUP BY status`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	var stats []byte
	err := row.Scan(
		&s.ID, &s.RoomID, &s.PatientID, &s.TherapistID, &s.SessionType, &s.Status,
		&s.ScheduledStart, &s.DurationMinutes, &s.ActualStart, &s.ActualEnd,
		&s.RecordingRequired, &s.Emergency,
		&s.ConnectionQuality, &stats, &s.TechnicalIssues, &s.PatientFeedback, &s.RecordingURL,
		&s.VersionID, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(stats) > 0 {
		s.QualityStats = &QualityStats{}
		if err := json.Unmarshal(stats, s.QualityStats); err != nil {
			return nil, err
		}
	}
	return &s, nil
}
