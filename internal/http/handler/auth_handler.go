package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/email-auth-api/internal/http/middleware"
	"github.com/sandeepkv93/email-auth-api/internal/http/response"
	"github.com/sandeepkv93/email-auth-api/internal/observability"
	"github.com/sandeepkv93/email-auth-api/internal/security"
	"github.com/sandeepkv93/email-auth-api/internal/service"
	"github.com/sandeepkv93/email-auth-api/internal/validation"
)

type AuthHandler struct {
	authSvc   service.AuthServiceInterface
	cookieMgr *security.CookieManager
}

func NewAuthHandler(authSvc service.AuthServiceInterface, cookieMgr *security.CookieManager) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, cookieMgr: cookieMgr}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	Email string `json:"email"`
}

type verifyUserRequest struct {
	Email            string           `json:"email"`
	VerificationCode verificationCode `json:"verificationCode"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// verificationCode accepts the code as a JSON string or a JSON number.
type verificationCode string

func (c *verificationCode) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = verificationCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("verificationCode must be a string or number")
	}
	*c = verificationCode(integralString(n))
	return nil
}

// integralString renders whole numbers without a fraction or exponent, so
// 123456.0 and 1.23456e5 both read as "123456".
func integralString(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < 0 || f > math.MaxInt64 {
		return n.String()
	}
	return strconv.FormatInt(int64(f), 10)
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "register", status, time.Since(start))
	}()

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		status = "failure"
		observability.Audit(r, "auth.register.failed", "reason", "invalid_body")
		writeBadBody(w, r)
		return
	}
	user, err := h.authSvc.Register(r.Context(), service.RegisterInput{Email: req.Email, Password: req.Password})
	if err != nil {
		status = "failure"
		observability.Audit(r, "auth.register.failed", "email", observability.MaskEmail(req.Email), "reason", service.FlowOutcome(err))
		writeServiceError(w, r, err, flowRegister)
		return
	}
	observability.Audit(r, "auth.register.success", "user_id", user.ID.String())
	response.JSON(w, r, http.StatusCreated, response.Body{Message: "Registration Successful", User: user})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "login", status, time.Since(start))
	}()

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		status = "failure"
		observability.Audit(r, "auth.login.failed", "reason", "invalid_body")
		writeBadBody(w, r)
		return
	}
	result, err := h.authSvc.Login(r.Context(), service.LoginInput{Email: req.Email, Password: req.Password, ClientIP: clientIP(r)})
	if err != nil {
		status = "failure"
		observability.Audit(r, "auth.login.failed", "email", observability.MaskEmail(req.Email), "reason", service.FlowOutcome(err))
		writeServiceError(w, r, err, flowLogin)
		return
	}
	h.cookieMgr.SetSessionCookie(w, result.Token)
	observability.Audit(r, "auth.login.success", "user_id", result.User.ID.String())
	response.JSON(w, r, http.StatusOK, response.Body{Message: "Login Successful", Token: result.Token, User: result.User})
}

// Logout clears the cookie. Issued tokens stay valid until they expire.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "logout", "success", time.Since(start))
	}()

	h.cookieMgr.ClearSessionCookie(w)
	attrs := []any{}
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		attrs = append(attrs, "user_id", claims.UserID)
	}
	observability.RecordAuthFlowEvent(r.Context(), "logout", "success")
	observability.Audit(r, "auth.logout.success", attrs...)
	response.Message(w, r, http.StatusOK, "Logout Successful")
}

func (h *AuthHandler) RequestVerification(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "verify_request", status, time.Since(start))
	}()

	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		status = "failure"
		observability.Audit(r, "auth.verify.request.failed", "reason", "invalid_body")
		writeBadBody(w, r)
		return
	}
	if err := h.authSvc.RequestVerification(r.Context(), req.Email); err != nil {
		status = "failure"
		observability.Audit(r, "auth.verify.request.failed", "email", observability.MaskEmail(req.Email), "reason", service.FlowOutcome(err))
		writeServiceError(w, r, err, flowVerifyRequest)
		return
	}
	observability.Audit(r, "auth.verify.request.success", "email", observability.MaskEmail(req.Email))
	response.Message(w, r, http.StatusOK, "Verification code sent to email")
}

func (h *AuthHandler) ConfirmVerification(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "verify_confirm", status, time.Since(start))
	}()

	var req verifyUserRequest
	if err := decodeJSON(r, &req); err != nil {
		status = "failure"
		observability.Audit(r, "auth.verify.confirm.failed", "reason", "invalid_body")
		writeBadBody(w, r)
		return
	}
	err := h.authSvc.ConfirmVerification(r.Context(), service.ConfirmVerificationInput{
		Email:    req.Email,
		Code:     string(req.VerificationCode),
		ClientIP: clientIP(r),
	})
	if err != nil {
		status = "failure"
		observability.Audit(r, "auth.verify.confirm.failed", "email", observability.MaskEmail(req.Email), "reason", service.FlowOutcome(err))
		writeServiceError(w, r, err, flowVerifyConfirm)
		return
	}
	observability.Audit(r, "auth.verify.confirm.success", "email", observability.MaskEmail(req.Email))
	response.Message(w, r, http.StatusOK, "Verification successful")
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		observability.RecordAuthRequestDuration(r.Context(), "change_password", status, time.Since(start))
	}()

	identity, ok := identityFromRequest(r)
	if !ok {
		status = "failure"
		observability.Audit(r, "auth.password.change.failed", "reason", "missing_auth_context")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		status = "failure"
		observability.Audit(r, "auth.password.change.failed", "user_id", identity.UserID.String(), "reason", "invalid_body")
		writeBadBody(w, r)
		return
	}
	if err := h.authSvc.ChangePassword(r.Context(), identity, service.ChangePasswordInput{OldPassword: req.OldPassword, NewPassword: req.NewPassword}); err != nil {
		status = "failure"
		observability.Audit(r, "auth.password.change.failed", "user_id", identity.UserID.String(), "reason", service.FlowOutcome(err))
		writeServiceError(w, r, err, flowChangePassword)
		return
	}
	observability.Audit(r, "auth.password.change.success", "user_id", identity.UserID.String())
	response.Message(w, r, http.StatusOK, "Password changed successfully")
}

func identityFromRequest(r *http.Request) (service.Identity, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return service.Identity{}, false
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return service.Identity{}, false
	}
	return service.Identity{UserID: id, Email: claims.Email, Verified: claims.Verified}, true
}

type flow int

const (
	flowRegister flow = iota
	flowLogin
	flowVerifyRequest
	flowVerifyConfirm
	flowChangePassword
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var serviceErrorMappings = []errorMapping{
	{service.ErrDuplicateEmail, http.StatusConflict, "DUPLICATE_EMAIL", "User already exists"},
	{service.ErrUserNotFound, http.StatusNotFound, "NOT_FOUND", "User not found"},
	{service.ErrIncorrectPassword, http.StatusUnauthorized, "INCORRECT_PASSWORD", "Incorrect Password"},
	{service.ErrUnverified, http.StatusForbidden, "UNVERIFIED", "User not verified"},
	{service.ErrAlreadyVerified, http.StatusBadRequest, "ALREADY_VERIFIED", "User already verified"},
	{service.ErrVerificationNotRequested, http.StatusBadRequest, "NOT_REQUESTED", "Verify Your Email First"},
	{service.ErrCodeExpired, http.StatusBadRequest, "CODE_EXPIRED", "Verification code expired"},
	{service.ErrInvalidCode, http.StatusUnauthorized, "INVALID_CODE", "Invalid verification code"},
	{service.ErrDeliveryFailed, http.StatusBadGateway, "DELIVERY_FAILED", "Failed to send verification code"},
}

// Messages that differ by flow.
var flowMessages = map[flow]map[error]string{
	flowLogin: {
		service.ErrUserNotFound: "Invalid email or password",
	},
	flowChangePassword: {
		service.ErrIncorrectPassword: "Incorrect old password",
	},
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error, f flow) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", verr.Message, map[string]string{"field": verr.Field})
		return
	}
	if errors.Is(err, service.ErrValidation) {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request", nil)
		return
	}
	var cooldown *service.CooldownError
	if errors.As(err, &cooldown) {
		seconds := int((cooldown.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
		response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
		return
	}
	if errors.Is(err, service.ErrTooManyAttempts) {
		response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
		return
	}
	for _, m := range serviceErrorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.message
		if override, ok := flowMessages[f][m.target]; ok {
			msg = override
		}
		if m.status >= http.StatusInternalServerError {
			slog.ErrorContext(r.Context(), "auth dependency failure", "code", m.code, "error", err)
		}
		response.Error(w, r, m.status, m.code, msg, nil)
		return
	}
	slog.ErrorContext(r.Context(), "unhandled auth error", "path", r.URL.Path, "error", err)
	response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "Internal server error", nil)
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeBadBody(w http.ResponseWriter, r *http.Request) {
	response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body", nil)
}

func clientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
