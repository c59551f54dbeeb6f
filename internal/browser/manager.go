package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrClosed is returned by Acquire and NewPage after Shutdown.
var ErrClosed = errors.New("browser manager is shut down")

// Options configures the shared browser instance.
type Options struct {
	// Mode is "local" (spawn a Chrome process) or "container" (run the
	// browser in a Docker container and attach over CDP).
	Mode string

	ChromePath string

	// Container mode settings.
	Image         string
	DockerNetwork string
	DevtoolsPort  int

	// RelaunchAttempts bounds how many times a failed launch is
	// retried, with doubling backoff between attempts.
	RelaunchAttempts int
}

// Manager owns the single long-lived browser shared by all requests.
// The first Acquire triggers the launch; concurrent callers await the
// same in-flight launch. Requests never hold the browser exclusively;
// isolation happens at the page level via NewPage.
type Manager struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	launch   *launchState
	attempts int
	lastErr  error
	closed   bool
}

type launchState struct {
	done chan struct{}

	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	// Container mode only.
	containerID string
	devtoolsWS  string

	err error
}

const relaunchBackoffBase = 500 * time.Millisecond

func NewManager(opts Options, logger *zap.Logger) *Manager {
	if opts.RelaunchAttempts < 1 {
		opts.RelaunchAttempts = 1
	}
	return &Manager{opts: opts, logger: logger}
}

// Warmup launches the browser eagerly so startup failures surface in
// logs immediately. A failed warm-up is not fatal; the next request
// retries within the relaunch budget.
func (m *Manager) Warmup(ctx context.Context) error {
	_, err := m.acquire(ctx)
	return err
}

// NewPage allocates a dedicated tab bound to the shared browser. The
// caller owns the session and must Close it on every exit path.
func (m *Manager) NewPage(ctx context.Context, logger *zap.Logger) (*PageSession, error) {
	browserCtx, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return newPageSession(browserCtx, logger)
}

// DevtoolsWSURL reports the browser's DevTools websocket endpoint.
// Only available in container mode.
func (m *Manager) DevtoolsWSURL() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.launch == nil || m.launch.err != nil || m.launch.devtoolsWS == "" {
		return "", false
	}
	return m.launch.devtoolsWS, true
}

func (m *Manager) acquire(ctx context.Context) (context.Context, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}

		ls := m.launch
		if ls == nil {
			if m.attempts >= m.opts.RelaunchAttempts {
				err := m.lastErr
				m.mu.Unlock()
				return nil, fmt.Errorf("browser launch attempts exhausted: %w", err)
			}
			m.attempts++
			attempt := m.attempts
			ls = &launchState{done: make(chan struct{})}
			m.launch = ls
			m.mu.Unlock()
			go m.doLaunch(ls, attempt)
		} else {
			m.mu.Unlock()
		}

		select {
		case <-ls.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if ls.err == nil {
			return ls.browserCtx, nil
		}

		m.mu.Lock()
		if m.launch == ls {
			m.launch = nil
			m.lastErr = ls.err
		}
		exhausted := m.attempts >= m.opts.RelaunchAttempts
		m.mu.Unlock()

		if exhausted {
			return nil, ls.err
		}
	}
}

func (m *Manager) doLaunch(ls *launchState, attempt int) {
	defer close(ls.done)

	if attempt > 1 {
		backoff := relaunchBackoffBase << (attempt - 2)
		m.logger.Info("retrying browser launch",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff))
		time.Sleep(backoff)
	}

	var err error
	if m.opts.Mode == "container" {
		err = m.launchContainer(ls)
	} else {
		err = m.launchLocal(ls)
	}
	if err != nil {
		ls.err = err
		m.logger.Error("browser launch failed", zap.Int("attempt", attempt), zap.Error(err))
		return
	}
	m.logger.Info("browser ready", zap.String("mode", m.opts.Mode))
}

func (m *Manager) launchLocal(ls *launchState) error {
	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("headless", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if m.opts.ChromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(m.opts.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Start the process now so launch errors surface here, not on the
	// first request.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("starting browser: %w", err)
	}

	ls.browserCtx = browserCtx
	ls.browserCancel = browserCancel
	ls.allocCancel = allocCancel
	return nil
}

// Shutdown tears the browser down exactly once. Safe to call when no
// launch ever succeeded; all errors are swallowed.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	ls := m.launch
	m.launch = nil
	m.mu.Unlock()

	if ls == nil {
		return
	}

	select {
	case <-ls.done:
	case <-ctx.Done():
		return
	}

	if ls.browserCancel != nil {
		ls.browserCancel()
	}
	if ls.allocCancel != nil {
		ls.allocCancel()
	}
	if ls.containerID != "" {
		m.stopContainer(ctx, ls.containerID)
	}
}
