package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAuthFailureLimiter(t *testing.T) {
	t.Run("blocks after max failures", func(t *testing.T) {
		l := NewAuthFailureLimiter()
		for i := 0; i < 4; i++ {
			l.RecordFailure("10.0.0.1")
		}
		assert.False(t, l.Blocked("10.0.0.1"))

		l.RecordFailure("10.0.0.1")
		assert.True(t, l.Blocked("10.0.0.1"))
		assert.False(t, l.Blocked("10.0.0.2"))
	})

	t.Run("window expiry unblocks", func(t *testing.T) {
		l := NewAuthFailureLimiter()
		now := time.Now()
		l.now = func() time.Time { return now }

		for i := 0; i < 5; i++ {
			l.RecordFailure("10.0.0.1")
		}
		assert.True(t, l.Blocked("10.0.0.1"))

		now = now.Add(2 * time.Minute)
		assert.False(t, l.Blocked("10.0.0.1"))
	})

	t.Run("reset clears failures", func(t *testing.T) {
		l := NewAuthFailureLimiter()
		for i := 0; i < 5; i++ {
			l.RecordFailure("10.0.0.1")
		}
		l.Reset("10.0.0.1")
		assert.False(t, l.Blocked("10.0.0.1"))
	})
}
