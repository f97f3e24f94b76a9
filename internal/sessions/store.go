package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/groundwork/pkg/models"
)

// ErrInvalidSession is returned for an empty session ID.
var ErrInvalidSession = errors.New("session ID is required")

// ErrInvalidTurn is returned for a nil turn or an unknown actor.
var ErrInvalidTurn = errors.New("invalid turn")

// Store is the append-only message store holding every session's turns.
//
// Implementations must make an appended turn visible to the next
// QueryRecent for the same session, and must keep timestamps non-decreasing
// in append order within a session.
type Store interface {
	// Append assigns ID and timestamp, persists the turn and returns the
	// stored copy. The argument is not modified.
	Append(ctx context.Context, sessionID string, turn *models.Turn) (*models.Turn, error)

	// QueryRecent returns at most limit turns, newest first. An unknown
	// session yields an empty slice.
	QueryRecent(ctx context.Context, sessionID string, limit int) ([]*models.Turn, error)

	// Close releases backend resources.
	Close() error
}

// prepareTurn validates the arguments to Append and returns the copy to
// persist, with session, ID and timestamp filled in.
func prepareTurn(sessionID string, turn *models.Turn, newID func() string, last time.Time, now time.Time) (*models.Turn, error) {
	if err := validateAppend(sessionID, turn); err != nil {
		return nil, err
	}
	stored := turn.Clone()
	stored.SessionID = sessionID
	if stored.ID == "" {
		stored.ID = newID()
	}
	stored.CreatedAt = monotonicTimestamp(last, now)
	return stored, nil
}

func validateAppend(sessionID string, turn *models.Turn) error {
	if sessionID == "" {
		return ErrInvalidSession
	}
	if turn == nil || !turn.Actor.Valid() {
		return ErrInvalidTurn
	}
	return nil
}

// monotonicTimestamp returns now, or last if the clock went backwards.
func monotonicTimestamp(last, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if now.Before(last) {
		return last
	}
	return now
}
