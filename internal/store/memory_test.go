package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secret.letters/internal/models"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s := NewMemoryStore()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.Create(ctx, &models.Letter{SecretCode: "c", Text: "orig", Sent: now, Expires: now.Add(time.Hour)}))

	got, err := s.Get(ctx, "c")
	require.NoError(t, err)
	got.Text = "mutated"

	again, err := s.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "orig", again.Text)
}
