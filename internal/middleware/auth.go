package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/eyesee/license-server-go/internal/audit"
	apperrors "github.com/eyesee/license-server-go/internal/errors"
	"github.com/eyesee/license-server-go/internal/metrics"
	"github.com/eyesee/license-server-go/internal/util"
)

// AdminAuthMiddleware guards the admin API with a shared password sent as a
// bearer token. The password is compared against a bcrypt hash when one is
// configured, otherwise against the plaintext value in constant time.
type AdminAuthMiddleware struct {
	password     string
	passwordHash string
	failures     *AuthFailureLimiter
}

func NewAdminAuthMiddleware(password, passwordHash string, failures *AuthFailureLimiter) *AdminAuthMiddleware {
	if failures == nil {
		failures = NewAuthFailureLimiter()
	}
	return &AdminAuthMiddleware{
		password:     password,
		passwordHash: passwordHash,
		failures:     failures,
	}
}

func (m *AdminAuthMiddleware) configured() bool {
	return m.password != "" || m.passwordHash != ""
}

func (m *AdminAuthMiddleware) verify(candidate string) bool {
	if m.passwordHash != "" {
		return util.CheckPasswordHash(candidate, m.passwordHash)
	}
	return util.ConstantTimeEqual(candidate, m.password)
}

func (m *AdminAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.configured() {
			writeError(w, apperrors.ServiceUnavailable("Admin access is not configured"))
			return
		}

		token := extractBearer(r)
		if token == "" {
			writeError(w, apperrors.Unauthorized("Missing admin credentials"))
			return
		}

		ip := audit.ClientIP(r)
		if m.failures.Blocked(ip) {
			log.Warn().Str("ip", ip).Msg("admin auth: too many failed attempts")
			metrics.RateLimitRejectionsTotal.WithLabelValues("admin_auth").Inc()
			w.Header().Set("Retry-After", "60")
			writeError(w, apperrors.RateLimitExceeded())
			return
		}

		if !m.verify(token) {
			m.failures.RecordFailure(ip)
			log.Warn().Str("ip", ip).Msg("admin auth: invalid password")
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"path": r.URL.Path},
			})
			writeError(w, apperrors.Forbidden("Invalid admin credentials"))
			return
		}

		m.failures.Reset(ip)
		next.ServeHTTP(w, r)
	})
}

func extractBearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}
