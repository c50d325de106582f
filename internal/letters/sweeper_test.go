package letters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"secret.letters/internal/store"
)

func TestRunSweeperSweepsAtStartAndStops(t *testing.T) {
	svc, st, clk := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := svc.Submit(context.Background(), validSubmit("stale"))
	require.NoError(t, err)
	clk.Advance(48 * time.Hour)

	done := make(chan struct{})
	go func() {
		svc.RunSweeper(ctx, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err := st.Get(context.Background(), "stale")
		return err == store.ErrNotFound
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
