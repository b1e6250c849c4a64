package tasks

import (
	"testing"
	"time"

	"github.com/soundtrace/backend/internal/shared/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGate(t *testing.T) {
	logger := zap.NewNop()

	t.Run("try acquire succeeds when free", func(t *testing.T) {
		g := NewGate("separation", logger)
		permit, ok := g.TryAcquire()
		require.True(t, ok)
		permit.Release()
	})

	t.Run("only one holder at a time", func(t *testing.T) {
		g := NewGate("separation", logger)
		permit, ok := g.TryAcquire()
		require.True(t, ok)

		_, ok = g.TryAcquire()
		assert.False(t, ok)

		permit.Release()
		second, ok := g.TryAcquire()
		assert.True(t, ok)
		second.Release()
	})

	t.Run("release is idempotent", func(t *testing.T) {
		g := NewGate("separation", logger)
		permit, _ := g.TryAcquire()
		permit.Release()
		permit.Release()
		_, ok := g.TryAcquire()
		assert.True(t, ok)
	})

	t.Run("families never block each other", func(t *testing.T) {
		sep := NewGate("separation", logger)
		det := NewGate("detection", logger)

		sepPermit, ok := sep.TryAcquire()
		require.True(t, ok)
		defer sepPermit.Release()

		detPermit, ok := det.TryAcquire()
		assert.True(t, ok)
		detPermit.Release()
	})

	t.Run("queued acquire gets the slot when freed", func(t *testing.T) {
		g := NewGate("detection", logger)
		r := NewRegistry(logger)
		token := r.Reset("det_1")

		holder, _ := g.TryAcquire()

		queued := false
		acquired := make(chan *Permit, 1)
		go func() {
			permit, err := g.Acquire("det_1", token, func() { queued = true })
			require.NoError(t, err)
			acquired <- permit
		}()

		time.Sleep(50 * time.Millisecond)
		holder.Release()

		select {
		case permit := <-acquired:
			assert.True(t, queued)
			permit.Release()
		case <-time.After(2 * time.Second):
			t.Fatal("queued acquire never completed")
		}
	})

	t.Run("cancelled while queued never acquires", func(t *testing.T) {
		g := NewGate("detection", logger)
		r := NewRegistry(logger)
		token := r.Reset("det_1")

		holder, _ := g.TryAcquire()

		result := make(chan error, 1)
		go func() {
			_, err := g.Acquire("det_1", token, nil)
			result <- err
		}()

		time.Sleep(50 * time.Millisecond)
		r.RequestCancel("det_1")

		select {
		case err := <-result:
			assert.True(t, apperr.IsCancelled(err))
		case <-time.After(2 * time.Second):
			t.Fatal("queued acquire did not observe cancellation")
		}

		// The slot still belongs to the original holder.
		_, ok := g.TryAcquire()
		assert.False(t, ok)
		holder.Release()
	})
}
