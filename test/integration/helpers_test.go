package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/email-auth-api/internal/database"
	"github.com/sandeepkv93/email-auth-api/internal/health"
	"github.com/sandeepkv93/email-auth-api/internal/http/handler"
	"github.com/sandeepkv93/email-auth-api/internal/http/middleware"
	"github.com/sandeepkv93/email-auth-api/internal/http/router"
	"github.com/sandeepkv93/email-auth-api/internal/repository"
	"github.com/sandeepkv93/email-auth-api/internal/security"
	"github.com/sandeepkv93/email-auth-api/internal/service"
	"github.com/sandeepkv93/email-auth-api/internal/validation"
)

const testJWTSecret = "abcdefghijklmnopqrstuvwxyz123456"

type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Token   string          `json:"token"`
	User    json.RawMessage `json:"user"`
	Error   *struct {
		Code    string          `json:"code"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func (e apiEnvelope) errorCode() string {
	if e.Error == nil {
		return ""
	}
	return e.Error.Code
}

var codePattern = regexp.MustCompile(`<strong>(\d{6})</strong>`)

// captureMailer accepts every recipient and remembers the codes it was
// asked to deliver.
type captureMailer struct {
	mu     sync.Mutex
	sent   []service.Message
	reject bool
	fail   bool
}

func (m *captureMailer) Send(_ context.Context, msg service.Message) (service.DeliveryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return service.DeliveryResult{}, errors.New("smtp: connection refused")
	}
	if m.reject {
		return service.DeliveryResult{Rejected: []string{msg.To}}, nil
	}
	m.sent = append(m.sent, msg)
	return service.DeliveryResult{Accepted: []string{msg.To}}, nil
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *captureMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no verification mail captured")
	}
	match := codePattern.FindStringSubmatch(m.sent[len(m.sent)-1].HTMLBody)
	if match == nil {
		t.Fatalf("no code in mail body %q", m.sent[len(m.sent)-1].HTMLBody)
	}
	return match[1]
}

type testServerOptions struct {
	db         *gorm.DB
	mailer     service.Mailer
	guard      service.AuthAbuseGuard
	authRPM    int
	verifyRPM  int
	apiRPM     int
	limiter    middleware.Limiter
	tokenTTL   time.Duration
	readiness  *health.ProbeRunner
	cookieTTL  time.Duration
	jwtManager *security.JWTManager
}

type testServer struct {
	URL    string
	Client *http.Client
	Mailer *captureMailer
	DB     *gorm.DB
}

func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:it_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// newTestServer assembles the same component graph the API binary uses,
// with a capturing mailer unless one is supplied.
func newTestServer(t *testing.T, opts testServerOptions) *testServer {
	t.Helper()
	if opts.db == nil {
		opts.db = newSQLiteDB(t)
	}
	capture := &captureMailer{}
	if opts.mailer == nil {
		opts.mailer = capture
	}
	if opts.guard == nil {
		opts.guard = service.NewNoopAuthAbuseGuard()
	}
	if opts.authRPM == 0 {
		opts.authRPM = 1000
	}
	if opts.verifyRPM == 0 {
		opts.verifyRPM = 1000
	}
	if opts.apiRPM == 0 {
		opts.apiRPM = 1000
	}
	if opts.tokenTTL == 0 {
		opts.tokenTTL = time.Hour
	}
	if opts.cookieTTL == 0 {
		opts.cookieTTL = time.Hour
	}

	validator, err := validation.Default()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	jwtMgr := opts.jwtManager
	if jwtMgr == nil {
		jwtMgr = security.NewJWTManager("email-auth-api", "email-auth-clients", testJWTSecret, opts.tokenTTL)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := service.NewAuthService(
		repository.NewUserRepository(opts.db),
		security.NewBcryptHasher(bcrypt.MinCost),
		security.NewVerificationCodes(testJWTSecret),
		jwtMgr,
		opts.mailer,
		validator,
		opts.guard,
		logger,
	)
	extractor := middleware.ClientAwareExtractor{}
	dep := router.Dependencies{
		AuthHandler:        handler.NewAuthHandler(authSvc, security.NewCookieManager("", false, "lax", opts.cookieTTL)),
		SystemHandler:      handler.NewSystemHandler(opts.readiness),
		JWTManager:         jwtMgr,
		TokenExtractor:     extractor,
		CORSOrigins:        []string{"http://localhost:3000"},
		AuthRateLimitRPM:   opts.authRPM,
		VerifyRateLimitRPM: opts.verifyRPM,
		APIRateLimitRPM:    opts.apiRPM,
	}
	if opts.limiter != nil {
		dep.AuthRateLimiter = middleware.NewDistributedRateLimiter(opts.limiter, opts.authRPM, time.Minute, middleware.FailClosed, "auth").Middleware()
		dep.VerifyRateLimiter = middleware.NewDistributedRateLimiterWithKey(opts.limiter, opts.verifyRPM, time.Minute, middleware.FailClosed, "verify", middleware.SubjectOrIPKeyFunc(extractor, jwtMgr)).Middleware()
		dep.GlobalRateLimiter = middleware.NewDistributedRateLimiterWithKey(opts.limiter, opts.apiRPM, time.Minute, middleware.FailOpen, "api", middleware.SubjectOrIPKeyFunc(extractor, jwtMgr)).Middleware()
	}

	srv := httptest.NewServer(router.NewRouter(dep))
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := srv.Client()
	client.Jar = jar
	return &testServer{URL: srv.URL, Client: client, Mailer: capture, DB: opts.db}
}

// apiClient headers select header transport for the session token.
func apiClient(token string) map[string]string {
	h := map[string]string{middleware.ClientHeader: middleware.NonBrowserClient}
	if token != "" {
		h["Authorization"] = security.BearerPrefix + token
	}
	return h
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, apiEnvelope) {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(resp.Body)
	var env apiEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, raw, err)
		}
	}
	return resp, env
}

func (s *testServer) expect(t *testing.T, method, path string, body any, headers map[string]string, status int, code string) apiEnvelope {
	t.Helper()
	resp, env := s.do(t, method, path, body, headers)
	if resp.StatusCode != status {
		t.Fatalf("%s %s: expected %d, got %d (%+v)", method, path, status, resp.StatusCode, env.Error)
	}
	if got := env.errorCode(); got != code {
		t.Fatalf("%s %s: expected error code %q, got %q", method, path, code, got)
	}
	if env.Success != (code == "") {
		t.Fatalf("%s %s: unexpected success flag %v", method, path, env.Success)
	}
	return env
}

func (s *testServer) register(t *testing.T, email, password string) {
	t.Helper()
	s.expect(t, http.MethodPost, "/register", map[string]string{"email": email, "password": password}, nil, http.StatusCreated, "")
}

func (s *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	env := s.expect(t, http.MethodPost, "/login", map[string]string{"email": email, "password": password}, apiClient(""), http.StatusOK, "")
	if env.Token == "" {
		t.Fatal("expected token in login response")
	}
	return env.Token
}

// verify runs the request-and-confirm round trip for email.
func (s *testServer) verify(t *testing.T, token, email string) {
	t.Helper()
	s.expect(t, http.MethodPatch, "/verify", map[string]string{"email": email}, apiClient(token), http.StatusOK, "")
	s.expect(t, http.MethodPatch, "/verify-user", map[string]string{"email": email, "verificationCode": s.Mailer.lastCode(t)}, apiClient(token), http.StatusOK, "")
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func detailsContain(env apiEnvelope, want string) bool {
	return env.Error != nil && strings.Contains(string(env.Error.Details), want)
}
