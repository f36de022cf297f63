package observability

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// AuditEvent is the structured record written for security-relevant auth actions.
type AuditEvent struct {
	EventName   string `json:"event_name"`
	ActorUserID string `json:"actor_user_id,omitempty"`
	ActorIP     string `json:"actor_ip"`
	Email       string `json:"email,omitempty"`
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason,omitempty"`
	RequestID   string `json:"request_id"`
	TS          string `json:"ts"`
}

type AuditInput struct {
	EventName   string
	ActorUserID string
	Email       string
	Outcome     string
	Reason      string
}

func BuildAuditEvent(r *http.Request, in AuditInput) AuditEvent {
	return AuditEvent{
		EventName:   in.EventName,
		ActorUserID: in.ActorUserID,
		ActorIP:     clientIP(r),
		Email:       MaskEmail(in.Email),
		Outcome:     in.Outcome,
		Reason:      in.Reason,
		RequestID:   r.Header.Get("X-Request-Id"),
		TS:          time.Now().UTC().Format(time.RFC3339),
	}
}

func (e AuditEvent) Validate() error {
	var missing []string
	if e.EventName == "" {
		missing = append(missing, "event_name")
	}
	if e.ActorIP == "" {
		missing = append(missing, "actor_ip")
	}
	if e.Outcome == "" {
		missing = append(missing, "outcome")
	}
	if e.TS == "" {
		missing = append(missing, "ts")
	}
	if len(missing) > 0 {
		return errors.New("audit event missing fields: " + strings.Join(missing, ", "))
	}
	return nil
}

// EmitAudit logs a structured audit event on the request context.
func EmitAudit(r *http.Request, in AuditInput) {
	ev := BuildAuditEvent(r, in)
	if err := ev.Validate(); err != nil {
		slog.WarnContext(r.Context(), "invalid audit event", "error", err, "event_name", in.EventName)
	}
	attrs := []any{
		"event_name", ev.EventName,
		"actor_ip", ev.ActorIP,
		"outcome", ev.Outcome,
		"request_id", ev.RequestID,
		"ts", ev.TS,
	}
	if ev.ActorUserID != "" {
		attrs = append(attrs, "actor_user_id", ev.ActorUserID)
	}
	if ev.Email != "" {
		attrs = append(attrs, "email", ev.Email)
	}
	if ev.Reason != "" {
		attrs = append(attrs, "reason", ev.Reason)
	}
	Audit(r, ev.EventName, attrs...)
}

func Audit(r *http.Request, event string, attrs ...any) {
	msg := "audit"
	sc := trace.SpanContextFromContext(r.Context())
	if sc.IsValid() {
		msg = fmt.Sprintf("audit trace_id=%s span_id=%s", sc.TraceID().String(), sc.SpanID().String())
	}
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), msg, base...)
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
