package store

import (
	"context"
	"errors"
	"time"

	"secret.letters/internal/models"
)

var (
	ErrNotFound       = errors.New("letter not found")
	ErrConflict       = errors.New("secret code already in use")
	ErrExpired        = errors.New("letter has expired")
	ErrAlreadyReplied = errors.New("letter already has a reply")
)

// Store persists letters keyed by secret code. Implementations enforce code
// uniqueness and single-reply atomically; callers never check before writing.
type Store interface {
	// Create inserts letter. A live letter under the same code yields
	// ErrConflict; a dead one (Expires before letter.Sent) is replaced.
	Create(ctx context.Context, letter *models.Letter) error
	// Get returns the letter regardless of expiry.
	Get(ctx context.Context, code string) (*models.Letter, error)
	// DeleteIfExpired removes the letter under code only if it expired
	// before now, so a letter that reclaimed the code meanwhile survives.
	DeleteIfExpired(ctx context.Context, code string, now time.Time) (bool, error)
	// AddReply attaches reply if the letter is still alive at now and has no
	// reply yet.
	AddReply(ctx context.Context, code string, reply models.Reply, now time.Time) error
	// DeleteExpired removes every letter with Expires before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
