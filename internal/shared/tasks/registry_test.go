package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRegistry(t *testing.T) {
	logger := zap.NewNop()

	t.Run("fresh token reads not cancelled", func(t *testing.T) {
		r := NewRegistry(logger)
		token := r.Reset("task-1")
		assert.False(t, token.IsCancelled())
	})

	t.Run("request cancel flips the token", func(t *testing.T) {
		r := NewRegistry(logger)
		token := r.Reset("task-1")
		r.RequestCancel("task-1")
		assert.True(t, token.IsCancelled())
	})

	t.Run("reset after cancel yields a fresh flag", func(t *testing.T) {
		r := NewRegistry(logger)
		r.Reset("task-1")
		r.RequestCancel("task-1")

		token := r.Reset("task-1")
		assert.False(t, token.IsCancelled())
	})

	t.Run("cancel before reset is remembered until reset", func(t *testing.T) {
		r := NewRegistry(logger)
		r.RequestCancel("task-1")
		assert.True(t, r.Token("task-1").IsCancelled())
	})

	t.Run("tasks are independent", func(t *testing.T) {
		r := NewRegistry(logger)
		a := r.Reset("task-a")
		b := r.Reset("task-b")
		r.RequestCancel("task-a")
		assert.True(t, a.IsCancelled())
		assert.False(t, b.IsCancelled())
	})

	t.Run("release clears flag state", func(t *testing.T) {
		r := NewRegistry(logger)
		r.Reset("task-1")
		r.RequestCancel("task-1")
		r.Release("task-1")
		assert.False(t, r.Token("task-1").IsCancelled())
	})

	t.Run("token for unknown task is inert", func(t *testing.T) {
		r := NewRegistry(logger)
		assert.False(t, r.Token("never-seen").IsCancelled())
	})

	t.Run("kill all with no processes is a no-op", func(t *testing.T) {
		r := NewRegistry(logger)
		r.Reset("task-1")
		r.KillAll("task-1")
	})
}

func TestTokenNil(t *testing.T) {
	var token *Token
	assert.False(t, token.IsCancelled())
}
