package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secret.letters/internal/models"
)

// runStoreSuite checks the behaviour every backend must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	newLetter := func(code string, sent time.Time, ttl time.Duration) *models.Letter {
		return &models.Letter{
			ID:         uuid.NewString(),
			SecretCode: code,
			From:       "A",
			To:         "B",
			Text:       "hi",
			Signature:  "A",
			Image:      "data:image/png;base64,AAAA",
			Sent:       sent,
			Expires:    sent.Add(ttl),
		}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		l := newLetter("X1", base, 24*time.Hour)
		require.NoError(t, s.Create(ctx, l))

		got, err := s.Get(ctx, "X1")
		require.NoError(t, err)
		assert.Equal(t, l.ID, got.ID)
		assert.Equal(t, "A", got.From)
		assert.Equal(t, "B", got.To)
		assert.Equal(t, "hi", got.Text)
		assert.Equal(t, "A", got.Signature)
		assert.Equal(t, l.Image, got.Image)
		assert.False(t, got.HasReply)
		assert.Nil(t, got.Reply)
		assert.WithinDuration(t, l.Expires, got.Expires, time.Millisecond)
	})

	t.Run("DuplicateLiveCodeConflicts", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newLetter("dup", base, time.Hour)))

		other := newLetter("dup", base.Add(time.Minute), time.Hour)
		other.Text = "overwrite?"
		require.ErrorIs(t, s.Create(ctx, other), ErrConflict)

		got, err := s.Get(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, "hi", got.Text)
	})

	t.Run("DeadCodeIsReclaimed", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newLetter("reuse", base, time.Hour)))

		fresh := newLetter("reuse", base.Add(2*time.Hour), time.Hour)
		fresh.Text = "second life"
		require.NoError(t, s.Create(ctx, fresh))

		got, err := s.Get(ctx, "reuse")
		require.NoError(t, err)
		assert.Equal(t, "second life", got.Text)
		assert.Equal(t, fresh.ID, got.ID)
	})

	t.Run("GetUnknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nope")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DeleteIfExpired", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newLetter("gone", base, time.Hour)))

		deleted, err := s.DeleteIfExpired(ctx, "gone", base.Add(30*time.Minute))
		require.NoError(t, err)
		assert.False(t, deleted)
		_, err = s.Get(ctx, "gone")
		require.NoError(t, err)

		deleted, err = s.DeleteIfExpired(ctx, "gone", base.Add(2*time.Hour))
		require.NoError(t, err)
		assert.True(t, deleted)
		_, err = s.Get(ctx, "gone")
		require.ErrorIs(t, err, ErrNotFound)

		deleted, err = s.DeleteIfExpired(ctx, "gone", base.Add(2*time.Hour))
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("LazyDeleteSparesReclaimedCode", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newLetter("X1", base, time.Hour)))

		// A reader saw the dead letter; a new one takes the code before the
		// reader gets to delete it.
		now := base.Add(2 * time.Hour)
		seen, err := s.Get(ctx, "X1")
		require.NoError(t, err)
		require.True(t, seen.Expired(now))

		fresh := newLetter("X1", now, time.Hour)
		fresh.Text = "second life"
		require.NoError(t, s.Create(ctx, fresh))

		deleted, err := s.DeleteIfExpired(ctx, "X1", now)
		require.NoError(t, err)
		assert.False(t, deleted)

		got, err := s.Get(ctx, "X1")
		require.NoError(t, err)
		assert.Equal(t, fresh.ID, got.ID)
		assert.Equal(t, "second life", got.Text)
	})

	t.Run("ConcurrentCreateSingleWinner", func(t *testing.T) {
		s := newStore(t)
		wins, conflicts := createConcurrently(t, s, 20, func() *models.Letter {
			return newLetter("race", base, time.Hour)
		})
		assert.Equal(t, 1, wins)
		assert.Equal(t, 19, conflicts)
	})

	t.Run("ConcurrentReclaimSingleWinner", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newLetter("race", base, time.Hour)))

		wins, conflicts := createConcurrently(t, s, 20, func() *models.Letter {
			return newLetter("race", base.Add(2*time.Hour), time.Hour)
		})
		assert.Equal(t, 1, wins)
		assert.Equal(t, 19, conflicts)

		got, err := s.Get(ctx, "race")
		require.NoError(t, err)
		assert.WithinDuration(t, base.Add(3*time.Hour), got.Expires, time.Millisecond)
	})

	t.Run("ConcurrentReplySingleWinner", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newLetter("r", base, time.Hour)))

		var wg sync.WaitGroup
		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				reply := models.Reply{Text: fmt.Sprintf("reply %d", i), Signature: "B", Sent: base}
				errs <- s.AddReply(ctx, "r", reply, base)
			}()
		}
		wg.Wait()
		close(errs)

		var ok int
		for err := range errs {
			if err == nil {
				ok++
				continue
			}
			require.ErrorIs(t, err, ErrAlreadyReplied)
		}
		assert.Equal(t, 1, ok)

		got, err := s.Get(ctx, "r")
		require.NoError(t, err)
		require.NotNil(t, got.Reply)
		assert.True(t, got.HasReply)
	})

	t.Run("ReplyOnce", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newLetter("r1", base, time.Hour)))

		first := models.Reply{Text: "thanks", Signature: "B", Sent: base.Add(time.Minute)}
		require.NoError(t, s.AddReply(ctx, "r1", first, base.Add(time.Minute)))

		second := models.Reply{Text: "again", Signature: "B", Sent: base.Add(2 * time.Minute)}
		require.ErrorIs(t, s.AddReply(ctx, "r1", second, base.Add(2*time.Minute)), ErrAlreadyReplied)

		got, err := s.Get(ctx, "r1")
		require.NoError(t, err)
		require.True(t, got.HasReply)
		require.NotNil(t, got.Reply)
		assert.Equal(t, "thanks", got.Reply.Text)
		assert.Equal(t, "B", got.Reply.Signature)
		assert.WithinDuration(t, first.Sent, got.Reply.Sent, time.Millisecond)
	})

	t.Run("ReplyUnknown", func(t *testing.T) {
		s := newStore(t)
		err := s.AddReply(ctx, "missing", models.Reply{Text: "x", Signature: "y", Sent: base}, base)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ReplyAfterExpiry", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newLetter("late", base, time.Hour)))

		later := base.Add(2 * time.Hour)
		err := s.AddReply(ctx, "late", models.Reply{Text: "x", Signature: "y", Sent: later}, later)
		require.ErrorIs(t, err, ErrExpired)

		got, err := s.Get(ctx, "late")
		require.NoError(t, err)
		assert.False(t, got.HasReply)
		assert.Nil(t, got.Reply)
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newLetter("old", base, time.Hour)))
		require.NoError(t, s.Create(ctx, newLetter("young", base, 3*time.Hour)))

		cutoff := base.Add(2 * time.Hour)
		n, err := s.DeleteExpired(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = s.Get(ctx, "old")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.Get(ctx, "young")
		require.NoError(t, err)

		n, err = s.DeleteExpired(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("Ping", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Ping(ctx))
	})
}

// createConcurrently runs n creates at once and counts successes and
// conflicts. Any other error fails the test.
func createConcurrently(t *testing.T, s Store, n int, letter func() *models.Letter) (wins, conflicts int) {
	t.Helper()
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Create(context.Background(), letter())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected create error: %v", err)
		}
	}
	return wins, conflicts
}
