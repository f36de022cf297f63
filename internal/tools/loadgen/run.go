package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/email-auth-api/internal/observability"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int64
	Failures      int64
	Status2xx     int64
	Status4xx     int64
	Status5xx     int64
}

type step struct {
	method string
	path   string
	body   any
	auth   bool
}

const loadgenPassword = "loadgen123"

// Run drives the API until cfg.Duration elapses or ctx is cancelled.
// Transport errors count as failures, not as a run error.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 15
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	steps := stepsForProfile(cfg.Profile)
	if len(steps) == 0 {
		return Result{}, fmt.Errorf("unknown profile: %s", cfg.Profile)
	}
	profile := strings.ToLower(cfg.Profile)
	if profile == "" {
		profile = "mixed"
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	defer transport.CloseIdleConnections()
	client := &http.Client{Timeout: 5 * time.Second, Transport: transport}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var c counters
	jobs := make(chan int, cfg.Concurrency*2)
	g, gctx := errgroup.WithContext(ctx)

	for w := range cfg.Concurrency {
		g.Go(func() error {
			wk := &worker{client: client, baseURL: cfg.BaseURL, profile: profile, counters: &c}
			if needsSession(steps) {
				wk.token = wk.bootstrap(gctx, fmt.Sprintf("lg-%d-%d-%d@loadgen.com", cfg.Seed, w, time.Now().UnixNano()))
			}
			for idx := range jobs {
				wk.do(gctx, steps[idx])
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		rng := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Concurrency)))
		ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				select {
				case jobs <- rng.IntN(len(steps)):
				case <-gctx.Done():
					return nil
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		return c.result(), err
	}
	return c.result(), nil
}

type counters struct {
	total, failures, s2xx, s4xx, s5xx atomic.Int64
}

func (c *counters) result() Result {
	return Result{
		TotalRequests: c.total.Load(),
		Failures:      c.failures.Load(),
		Status2xx:     c.s2xx.Load(),
		Status4xx:     c.s4xx.Load(),
		Status5xx:     c.s5xx.Load(),
	}
}

type worker struct {
	client   *http.Client
	baseURL  string
	profile  string
	token    string
	counters *counters
}

// bootstrap registers a throwaway account and logs in. An empty token means
// authenticated steps will be rejected, which still exercises the API.
func (w *worker) bootstrap(ctx context.Context, email string) string {
	creds := map[string]string{"email": email, "password": loadgenPassword}
	w.do(ctx, step{method: http.MethodPost, path: "/register", body: creds})
	resp, err := w.send(ctx, step{method: http.MethodPost, path: "/login", body: creds})
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	var out struct {
		Token string `json:"token"`
	}
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&out) != nil {
		return ""
	}
	return out.Token
}

func (w *worker) do(ctx context.Context, s step) {
	resp, err := w.send(ctx, s)
	if err != nil {
		if ctx.Err() == nil {
			w.counters.failures.Add(1)
		}
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	w.counters.total.Add(1)
	class := statusClass(resp.StatusCode)
	switch class {
	case "2xx":
		w.counters.s2xx.Add(1)
	case "4xx":
		w.counters.s4xx.Add(1)
	case "5xx":
		w.counters.s5xx.Add(1)
	}
	observability.RecordLoadgenRequest(ctx, class, w.profile)
}

func (w *worker) send(ctx context.Context, s step) (*http.Response, error) {
	var body io.Reader
	if s.body != nil {
		raw, err := json.Marshal(s.body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, s.method, w.baseURL+s.path, body)
	if err != nil {
		return nil, err
	}
	if s.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("client", "not-browser")
	if s.auth && w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	return w.client.Do(req)
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

func needsSession(steps []step) bool {
	for _, s := range steps {
		if s.auth {
			return true
		}
	}
	return false
}

func stepsForProfile(profile string) []step {
	hello := step{method: http.MethodGet, path: "/"}
	ready := step{method: http.MethodGet, path: "/health/ready"}
	badLogin := step{method: http.MethodPost, path: "/login", body: map[string]string{"email": "nobody@loadgen.com", "password": "wrong123"}}
	invalidRegister := step{method: http.MethodPost, path: "/register", body: map[string]string{"email": "bad", "password": "x"}}
	unauthLogout := step{method: http.MethodPost, path: "/logout"}
	wrongCode := step{method: http.MethodPatch, path: "/verify-user", body: map[string]any{"email": "nobody@loadgen.com", "verificationCode": "000000"}, auth: true}

	switch strings.ToLower(profile) {
	case "", "mixed":
		return []step{hello, ready, badLogin, invalidRegister, {method: http.MethodPost, path: "/logout", auth: true}}
	case "auth":
		return []step{badLogin, {method: http.MethodPost, path: "/logout", auth: true}, wrongCode}
	case "error-heavy":
		return []step{badLogin, invalidRegister, unauthLogout, wrongCode}
	default:
		return nil
	}
}
