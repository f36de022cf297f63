package response

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Body is the success payload. Message is always present on the wire.
type Body struct {
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
	User    any    `json:"user,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type envelope struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Token   string    `json:"token,omitempty"`
	User    any       `json:"user,omitempty"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
	Meta    meta      `json:"meta"`
}

type apiError struct {
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

type problemDetails struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, body Body) {
	write(w, "application/json", status, envelope{
		Success: true,
		Message: body.Message,
		Token:   body.Token,
		User:    body.User,
		Data:    body.Data,
		Meta:    buildMeta(r),
	})
}

// Message writes a success envelope carrying only a message.
func Message(w http.ResponseWriter, r *http.Request, status int, message string) {
	JSON(w, r, status, Body{Message: message})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	if prefersProblemJSON(r) {
		write(w, "application/problem+json", status, problemDetails{
			Type:      problemType(code),
			Title:     problemTitle(code, status),
			Status:    status,
			Detail:    message,
			Instance:  r.URL.Path,
			Code:      code,
			RequestID: buildMeta(r).RequestID,
			Message:   message,
		})
		return
	}
	write(w, "application/json", status, envelope{
		Success: false,
		Message: message,
		Error:   &apiError{Code: code, Details: details},
		Meta:    buildMeta(r),
	})
}

func write(w http.ResponseWriter, contentType string, status int, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}

func prefersProblemJSON(r *http.Request) bool {
	accept := strings.ToLower(r.Header.Get("Accept"))
	if accept == "" {
		return false
	}
	for _, part := range strings.Split(accept, ",") {
		mediaType, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.TrimSpace(mediaType) != "application/problem+json" {
			continue
		}
		if !qualityIsZero(params) {
			return true
		}
	}
	return false
}

func qualityIsZero(params string) bool {
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || strings.TrimSpace(k) != "q" {
			continue
		}
		v = strings.TrimRight(strings.TrimSpace(v), "0")
		return v == "0." || v == "0" || v == ""
	}
	return false
}

func problemType(code string) string {
	normalized := strings.ToLower(strings.TrimSpace(code))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	if normalized == "" {
		normalized = "unknown"
	}
	return "urn:problem:email-auth:" + normalized
}

func problemTitle(code string, status int) string {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "VALIDATION_ERROR":
		return "Validation Failed"
	case "UNAUTHORIZED":
		return "Unauthorized"
	case "DUPLICATE_EMAIL":
		return "Conflict"
	case "NOT_FOUND":
		return "Not Found"
	case "INCORRECT_PASSWORD":
		return "Incorrect Password"
	case "UNVERIFIED":
		return "Email Unverified"
	case "INVALID_CODE", "CODE_EXPIRED":
		return "Invalid Verification Code"
	case "DELIVERY_FAILED":
		return "Bad Gateway"
	case "RATE_LIMITED":
		return "Too Many Requests"
	case "DEPENDENCY_UNREADY":
		return "Service Unavailable"
	case "INTERNAL":
		return "Internal Server Error"
	default:
		if text := http.StatusText(status); text != "" {
			return text
		}
		return "Error"
	}
}
