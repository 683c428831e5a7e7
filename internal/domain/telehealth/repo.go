package telehealth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrVersionConflict is returned by Repository.Update when the session row
// changed since it was read. The service retries the read-modify-write.
var ErrVersionConflict = errors.New("session was modified concurrently")

// Repository is the session store. GetByID returns (nil, nil) for an unknown
// id; any non-nil error is a storage failure. Update is atomic per row and
// compares-and-swaps on VersionID.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	Update(ctx context.Context, s *Session) error
	// ListByParticipant returns one page of the user's sessions, newest
	// scheduled first, plus the total match count.
	ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Session, int, error)

	AddParticipant(ctx context.Context, p *Participant) error
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]*Participant, error)
	// MarkLeft closes the user's active participant record, if any, and
	// reports whether a record was closed.
	MarkLeft(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) (bool, error)

	AddStatusChange(ctx context.Context, sc *StatusChange) error
	ListStatusChanges(ctx context.Context, sessionID uuid.UUID) ([]*StatusChange, error)

	CountByStatusSince(ctx context.Context, since time.Time) (map[Status]int, error)
}
