package audit

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/eyesee/license-server-go/internal/util"
)

type EventType string

const (
	EventKeysGenerate      EventType = "keys_generate"
	EventKeyDelete         EventType = "key_delete"
	EventKeyReset          EventType = "key_reset"
	EventLicenseActivate   EventType = "license_activate"
	EventLicenseRevoke     EventType = "license_revoke"
	EventLicenseReactivate EventType = "license_reactivate"
	EventLicenseDelete     EventType = "license_delete"
	EventReconcile         EventType = "reconcile"
	EventAuthFailure       EventType = "auth_failure"
	EventRateLimitExceed   EventType = "rate_limit_exceeded"
)

type Event struct {
	Type        EventType
	LicenseKey  string
	HardwareID  string
	ProductCode string
	IP          string
	UserAgent   string
	Details     map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := loggerFrom(ctx).With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.LicenseKey != "" {
		logger = logger.With().Str("license_key", event.LicenseKey).Logger()
	}
	if event.HardwareID != "" {
		logger = logger.With().Str("hardware_id", util.MaskHardwareID(event.HardwareID)).Logger()
	}
	if event.ProductCode != "" {
		logger = logger.With().Str("product_code", event.ProductCode).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

// loggerFrom prefers a logger attached to ctx and falls back to the global one.
func loggerFrom(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return log.Logger
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// ClientIP returns the connection address without its port. Forwarded
// headers are only honoured when the router rewrites RemoteAddr from them.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
