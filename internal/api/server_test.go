package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pressproof/render-node/internal/browser"
	"github.com/pressproof/render-node/internal/capture"
	"github.com/pressproof/render-node/internal/config"
	"github.com/pressproof/render-node/internal/readiness"
	"github.com/pressproof/render-node/internal/resolver"
)

func newTestServer(secret string) *Server {
	cfg := &config.Config{
		SharedSecret:          secret,
		AllowedOrigins:        []string{"https://docs.example.com"},
		AllowlistPolicy:       "origin",
		RequestCeiling:        5 * time.Second,
		MaxConcurrentCaptures: 2,
	}

	logger := zap.NewNop()
	return NewServer(ServerConfig{
		Config:  cfg,
		Manager: browser.NewManager(browser.Options{Mode: "local"}, logger),
		Resolver: &resolver.Resolver{
			Allowlist:        cfg.AllowedOrigins,
			Policy:           resolver.PolicyOrigin,
			SelectorFallback: "body",
		},
		Executor: capture.NewExecutor(time.Second, logger),
		Logger:   logger,
	})
}

func doRequest(s *Server, method, path, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Auth-Secret", secret)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	s := newTestServer("topsecret")
	w := doRequest(s, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestAuthRejectsMissingAndWrongSecret(t *testing.T) {
	s := newTestServer("topsecret")

	w := doRequest(s, http.MethodPost, "/pdf", "", `{"url":"https://docs.example.com/x"}`)
	assert.Equal(t, 401, w.Code)

	w = doRequest(s, http.MethodPost, "/pdf", "wrong", `{"url":"https://docs.example.com/x"}`)
	assert.Equal(t, 401, w.Code)
}

func TestAuthDisabledWhenNoSecretConfigured(t *testing.T) {
	s := newTestServer("")
	// Passes auth, then fails validation rather than authentication.
	w := doRequest(s, http.MethodPost, "/pdf", "", `{}`)
	assert.Equal(t, 400, w.Code)
}

func TestRenderRejectsMalformedBody(t *testing.T) {
	s := newTestServer("topsecret")
	w := doRequest(s, http.MethodPost, "/pdf", "topsecret", `{"url": 42`)
	assert.Equal(t, 400, w.Code)
}

func TestRenderRejectsMissingTarget(t *testing.T) {
	s := newTestServer("topsecret")
	w := doRequest(s, http.MethodPost, "/pdf", "topsecret", `{}`)
	require.Equal(t, 400, w.Code)
	assert.Contains(t, w.Body.String(), "either url or html is required")
}

func TestRenderRejectsDisallowedTarget(t *testing.T) {
	s := newTestServer("topsecret")
	w := doRequest(s, http.MethodPost, "/pdf", "topsecret", `{"url":"https://evil.example.net/x"}`)
	require.Equal(t, 400, w.Code)
	assert.Contains(t, w.Body.String(), "not in the allowed list")
}

func TestRenderRejectsUnknownDebugMode(t *testing.T) {
	s := newTestServer("topsecret")
	w := doRequest(s, http.MethodPost, "/pdf", "topsecret",
		`{"url":"https://docs.example.com/x","debug":"gif"}`)
	require.Equal(t, 400, w.Code)
	assert.Contains(t, w.Body.String(), "debug")
}

func TestGrabRejectsPDFFormat(t *testing.T) {
	s := newTestServer("topsecret")
	w := doRequest(s, http.MethodPost, "/grab", "topsecret",
		`{"url":"https://docs.example.com/x","format":"pdf"}`)
	assert.Equal(t, 400, w.Code)
}

func TestGrabRejectsUnknownFormat(t *testing.T) {
	s := newTestServer("topsecret")
	w := doRequest(s, http.MethodPost, "/grab", "topsecret",
		`{"url":"https://docs.example.com/x","format":"docx"}`)
	assert.Equal(t, 400, w.Code)
}

func TestRenderRejectsWhenAtCapacity(t *testing.T) {
	s := newTestServer("topsecret")
	require.True(t, s.sem.TryAcquire(2), "drain the admission slots")
	defer s.sem.Release(2)

	w := doRequest(s, http.MethodPost, "/pdf", "topsecret", `{"url":"https://docs.example.com/x"}`)
	require.Equal(t, 503, w.Code)
	assert.Contains(t, w.Body.String(), "capacity")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer("topsecret")
	w := doRequest(s, http.MethodOptions, "/pdf", "", "")
	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

// trackedPage fakes a full tab, counting Close calls and letting tests
// inject a failure at any point in the request lifecycle.
type trackedPage struct {
	mu     sync.Mutex
	closed int

	navErr       error
	selectorErr  error
	lifecycleErr error
	pollErr      error
	pdfErr       error
	htmlErr      error
}

func (p *trackedPage) Navigate(_ context.Context, url string, _ time.Duration) (readiness.NavResult, error) {
	if p.navErr != nil {
		return readiness.NavResult{}, p.navErr
	}
	return readiness.NavResult{Status: 200, FinalURL: url}, nil
}

func (p *trackedPage) SetContent(context.Context, string) error { return nil }

func (p *trackedPage) WaitSelector(_ context.Context, _ string, _ bool, _ time.Duration) error {
	return p.selectorErr
}

func (p *trackedPage) WaitLifecycle(_ context.Context, _ string, _ time.Duration) error {
	return p.lifecycleErr
}

func (p *trackedPage) Poll(_ context.Context, _ string, _, _ time.Duration) error {
	return p.pollErr
}

func (p *trackedPage) ScrollTo(context.Context, string) error { return nil }

func (p *trackedPage) EmulateMedia(context.Context, string) error { return nil }

func (p *trackedPage) Screenshot(context.Context, time.Duration) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (p *trackedPage) HTML(context.Context, time.Duration) (string, error) {
	return "<html></html>", p.htmlErr
}

func (p *trackedPage) PDF(context.Context, browser.PDFOptions, time.Duration) ([]byte, error) {
	if p.pdfErr != nil {
		return nil, p.pdfErr
	}
	return []byte("%PDF-1.7"), nil
}

func (p *trackedPage) SetViewport(context.Context, int64, int64) error { return nil }

func (p *trackedPage) SetExtraHeaders(context.Context, map[string]string) error { return nil }

func (p *trackedPage) Status() int { return 200 }

func (p *trackedPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *trackedPage) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeOpener struct {
	page *trackedPage
	err  error
}

func (o fakeOpener) NewPage(context.Context, *zap.Logger) (Page, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.page, nil
}

func TestPageClosedExactlyOncePerRequest(t *testing.T) {
	tests := []struct {
		name     string
		page     *trackedPage
		wantCode int
	}{
		{"success", &trackedPage{}, 200},
		{"navigation refused", &trackedPage{navErr: errors.New("net::ERR_CONNECTION_REFUSED")}, 502},
		{"selector never attaches", &trackedPage{selectorErr: errors.New("wait timed out")}, 200},
		{"load event missing", &trackedPage{lifecycleErr: errors.New("load never fired")}, 200},
		{"predicates stuck", &trackedPage{pollErr: errors.New("predicate stuck")}, 200},
		{"capture fails", &trackedPage{pdfErr: errors.New("print target crashed")}, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer("topsecret")
			s.pages = fakeOpener{page: tt.page}

			w := doRequest(s, http.MethodPost, "/pdf", "topsecret", `{"url":"https://docs.example.com/x"}`)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, 1, tt.page.closeCount(), "page must be closed exactly once")
		})
	}
}

func TestSuccessfulPDFCarriesAttachmentHeaders(t *testing.T) {
	s := newTestServer("topsecret")
	s.pages = fakeOpener{page: &trackedPage{}}

	w := doRequest(s, http.MethodPost, "/pdf", "topsecret",
		`{"url":"https://docs.example.com/x","fileName":"monthly report"}`)

	require.Equal(t, 200, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), `"monthly-report.pdf"`)
	assert.NotEmpty(t, w.Header().Get("X-Capture-Id"))
}

func TestOpenerFailureClosesNothing(t *testing.T) {
	s := newTestServer("topsecret")
	s.pages = fakeOpener{err: errors.New("browser launch attempts exhausted")}

	w := doRequest(s, http.MethodPost, "/pdf", "topsecret", `{"url":"https://docs.example.com/x"}`)
	assert.Equal(t, 500, w.Code)
}

func TestDevtoolsUnavailableInLocalMode(t *testing.T) {
	s := newTestServer("topsecret")
	w := doRequest(s, http.MethodGet, "/debug/devtools", "topsecret", "")
	assert.Equal(t, 404, w.Code)
}
