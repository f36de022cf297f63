package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/sandeepkv93/email-auth-api/internal/domain"
	"github.com/sandeepkv93/email-auth-api/internal/observability"
	"github.com/sandeepkv93/email-auth-api/internal/repository"
	"github.com/sandeepkv93/email-auth-api/internal/security"
	"github.com/sandeepkv93/email-auth-api/internal/validation"
)

var (
	ErrValidation               = errors.New("validation failed")
	ErrDuplicateEmail           = errors.New("user already exists")
	ErrUserNotFound             = errors.New("user not found")
	ErrIncorrectPassword        = errors.New("incorrect password")
	ErrUnverified               = errors.New("user not verified")
	ErrAlreadyVerified          = errors.New("user already verified")
	ErrVerificationNotRequested = errors.New("verification not requested")
	ErrCodeExpired              = errors.New("verification code expired")
	ErrInvalidCode              = errors.New("invalid verification code")
	ErrDeliveryFailed           = errors.New("verification code delivery failed")
	ErrTooManyAttempts          = errors.New("too many failed attempts")
)

// CooldownError reports how long a client must wait before retrying.
type CooldownError struct {
	Scope      AuthAbuseScope
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s cooldown active for %s", e.Scope, e.RetryAfter)
}

func (e *CooldownError) Unwrap() error { return ErrTooManyAttempts }

type RegisterInput struct {
	Email    string
	Password string
}

type LoginInput struct {
	Email    string
	Password string
	ClientIP string
}

type ConfirmVerificationInput struct {
	Email    string
	Code     string
	ClientIP string
}

// Identity is the caller as asserted by a verified session token.
type Identity struct {
	UserID   uuid.UUID
	Email    string
	Verified bool
}

type ChangePasswordInput struct {
	OldPassword string
	NewPassword string
}

type LoginResult struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

type AuthService struct {
	users     repository.UserRepository
	hasher    security.PasswordHasher
	codes     *security.VerificationCodes
	tokens    *security.JWTManager
	mailer    Mailer
	validator validation.Validator
	guard     AuthAbuseGuard
	logger    *slog.Logger
	now       func() time.Time
}

func NewAuthService(
	users repository.UserRepository,
	hasher security.PasswordHasher,
	codes *security.VerificationCodes,
	tokens *security.JWTManager,
	mailer Mailer,
	validator validation.Validator,
	guard AuthAbuseGuard,
	logger *slog.Logger,
) *AuthService {
	if guard == nil {
		guard = NewNoopAuthAbuseGuard()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		users:     users,
		hasher:    hasher,
		codes:     codes,
		tokens:    tokens,
		mailer:    mailer,
		validator: validator,
		guard:     guard,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (user *domain.User, err error) {
	ctx, span := observability.StartSpan(ctx, "auth.register")
	defer func() { s.finish(ctx, span, "register", err) }()

	email := normalizeEmail(in.Email)
	if err := s.validate(ctx, validation.Register, validation.RegisterPayload{Email: email, Password: in.Password}); err != nil {
		return nil, err
	}
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	saved, err := s.users.Save(ctx, &domain.User{Email: email, PasswordHash: hash})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("save user: %w", err)
	}
	return saved, nil
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (result *LoginResult, err error) {
	ctx, span := observability.StartSpan(ctx, "auth.login")
	defer func() { s.finish(ctx, span, "login", err) }()

	email := normalizeEmail(in.Email)
	if err := s.validate(ctx, validation.Login, validation.LoginPayload{Email: email, Password: in.Password}); err != nil {
		return nil, err
	}
	if err := s.checkCooldown(ctx, AuthAbuseScopeLogin, email, in.ClientIP); err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.registerFailure(ctx, AuthAbuseScopeLogin, email, in.ClientIP)
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	ok, err := s.hasher.Compare(in.Password, user.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.registerFailure(ctx, AuthAbuseScopeLogin, email, in.ClientIP)
		return nil, ErrIncorrectPassword
	}
	s.resetCooldown(ctx, AuthAbuseScopeLogin, email, in.ClientIP)

	token, expiresAt, err := s.tokens.Issue(user.ID.String(), user.Email, user.Verified)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// RequestVerification emails a fresh code. The fingerprint is stored only
// after the transport accepts the recipient, so a failed send leaves any
// earlier pending code in place.
func (s *AuthService) RequestVerification(ctx context.Context, email string) (err error) {
	ctx, span := observability.StartSpan(ctx, "auth.verification.request")
	defer func() { s.finish(ctx, span, "verification_request", err) }()

	email = normalizeEmail(email)
	if err := s.validate(ctx, validation.Verify, validation.VerifyPayload{Email: email}); err != nil {
		return err
	}
	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user.Verified {
		return ErrAlreadyVerified
	}

	code, err := s.codes.Generate()
	if err != nil {
		return err
	}
	msg, err := verificationMessage(user.Email, code)
	if err != nil {
		return err
	}
	delivery, err := s.mailer.Send(ctx, msg)
	if err != nil {
		s.logger.WarnContext(ctx, "verification mail send failed", "error", err, "email", observability.MaskEmail(user.Email))
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	if !delivery.IsAccepted(user.Email) {
		s.logger.WarnContext(ctx, "verification mail rejected", "email", observability.MaskEmail(user.Email), "rejected", len(delivery.Rejected))
		return ErrDeliveryFailed
	}

	user.BeginVerification(s.codes.Fingerprint(code), s.now())
	if _, err := s.users.Save(ctx, user); err != nil {
		return fmt.Errorf("save pending verification: %w", err)
	}
	return nil
}

func (s *AuthService) ConfirmVerification(ctx context.Context, in ConfirmVerificationInput) (err error) {
	ctx, span := observability.StartSpan(ctx, "auth.verification.confirm")
	defer func() { s.finish(ctx, span, "verification_confirm", err) }()

	email := normalizeEmail(in.Email)
	code := strings.TrimSpace(in.Code)
	if err := s.validate(ctx, validation.VerifyUser, validation.VerifyUserPayload{Email: email, VerificationCode: code}); err != nil {
		return err
	}
	if err := s.checkCooldown(ctx, AuthAbuseScopeVerify, email, in.ClientIP); err != nil {
		return err
	}

	user, err := s.findByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user.Verified {
		return ErrAlreadyVerified
	}
	pending := user.PendingVerification
	if pending == nil {
		return ErrVerificationNotRequested
	}
	switch err := s.codes.Check(code, pending.CodeHash, pending.IssuedAt, s.now()); {
	case errors.Is(err, security.ErrCodeExpired):
		return ErrCodeExpired
	case errors.Is(err, security.ErrCodeMismatch):
		s.registerFailure(ctx, AuthAbuseScopeVerify, email, in.ClientIP)
		return ErrInvalidCode
	case err != nil:
		return err
	}

	user.CompleteVerification()
	if _, err := s.users.Save(ctx, user); err != nil {
		return fmt.Errorf("save verification: %w", err)
	}
	s.resetCooldown(ctx, AuthAbuseScopeVerify, email, in.ClientIP)
	return nil
}

// ChangePassword trusts the verified flag carried by the session token,
// not the stored one, so a token issued before verification keeps
// failing until the user logs in again.
func (s *AuthService) ChangePassword(ctx context.Context, id Identity, in ChangePasswordInput) (err error) {
	ctx, span := observability.StartSpan(ctx, "auth.password.change")
	defer func() { s.finish(ctx, span, "password_change", err) }()

	if err := s.validate(ctx, validation.ChangePassword, validation.ChangePasswordPayload{OldPassword: in.OldPassword, NewPassword: in.NewPassword}); err != nil {
		return err
	}
	if !id.Verified {
		return ErrUnverified
	}
	user, err := s.users.FindByID(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	ok, err := s.hasher.Compare(in.OldPassword, user.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrIncorrectPassword
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if _, err := s.users.Save(ctx, user); err != nil {
		return fmt.Errorf("save password: %w", err)
	}
	return nil
}

func (s *AuthService) validate(ctx context.Context, name validation.Name, payload any) error {
	err := s.validator.Validate(name, payload)
	if err == nil {
		return nil
	}
	if validation.IsValidationError(err) {
		observability.RecordValidationFailure(ctx, string(name))
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return err
}

func (s *AuthService) findByEmail(ctx context.Context, email string) (*domain.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// checkCooldown fails open when the guard backend errors.
func (s *AuthService) checkCooldown(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	retryAfter, err := s.guard.Check(ctx, scope, identity, ip)
	if err != nil {
		s.logger.WarnContext(ctx, "auth abuse guard check failed", "scope", scope, "error", err)
		observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "check", "error")
		return nil
	}
	if retryAfter > 0 {
		observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "check", "blocked")
		observability.RecordAuthAbuseCooldown(ctx, string(scope), "check", retryAfter)
		return &CooldownError{Scope: scope, RetryAfter: retryAfter}
	}
	observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "check", "allowed")
	return nil
}

func (s *AuthService) registerFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) {
	delay, err := s.guard.RegisterFailure(ctx, scope, identity, ip)
	if err != nil {
		s.logger.WarnContext(ctx, "auth abuse guard failure tracking failed", "scope", scope, "error", err)
		observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "register_failure", "error")
		return
	}
	observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "register_failure", "recorded")
	if delay > 0 {
		observability.RecordAuthAbuseCooldown(ctx, string(scope), "register_failure", delay)
	}
}

func (s *AuthService) resetCooldown(ctx context.Context, scope AuthAbuseScope, identity, ip string) {
	if err := s.guard.Reset(ctx, scope, identity, ip); err != nil {
		s.logger.WarnContext(ctx, "auth abuse guard reset failed", "scope", scope, "error", err)
		observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "reset", "error")
		return
	}
	observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "reset", "success")
}

func (s *AuthService) finish(ctx context.Context, span trace.Span, flow string, err error) {
	outcome := FlowOutcome(err)
	observability.EndSpan(span, outcome, err, outcome == "error")
	observability.RecordAuthFlowEvent(ctx, flow, outcome)
}

var flowOutcomes = []struct {
	err     error
	outcome string
}{
	{ErrValidation, "invalid"},
	{ErrDuplicateEmail, "duplicate"},
	{ErrUserNotFound, "not_found"},
	{ErrIncorrectPassword, "incorrect_password"},
	{ErrUnverified, "unverified"},
	{ErrAlreadyVerified, "already_verified"},
	{ErrVerificationNotRequested, "not_requested"},
	{ErrCodeExpired, "expired"},
	{ErrInvalidCode, "invalid_code"},
	{ErrDeliveryFailed, "delivery_failed"},
	{ErrTooManyAttempts, "throttled"},
}

// FlowOutcome maps an orchestrator error to a low-cardinality label.
func FlowOutcome(err error) string {
	if err == nil {
		return "success"
	}
	for _, fo := range flowOutcomes {
		if errors.Is(err, fo.err) {
			return fo.outcome
		}
	}
	return "error"
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
