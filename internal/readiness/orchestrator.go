package readiness

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Stage names the readiness states for logging and diagnostics.
type Stage string

const (
	StageNavigating       Stage = "navigating"
	StageElementAttaching Stage = "element_attaching"
	StageDocumentLoading  Stage = "document_loading"
	StageNetworkSettling  Stage = "network_settling"
	StageFontsReady       Stage = "fonts_ready"
	StageImagesReady      Stage = "images_ready"
	StageSizeStable       Stage = "size_stable"
	StageSettling         Stage = "settling"
	StageReady            Stage = "ready"
)

// NavResult reports what navigation actually reached.
type NavResult struct {
	Status   int
	FinalURL string
}

// Page is the driver surface the orchestrator needs. A live browser
// tab satisfies it; tests inject fakes.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) (NavResult, error)
	SetContent(ctx context.Context, html string) error
	WaitSelector(ctx context.Context, selector string, visible bool, timeout time.Duration) error
	WaitLifecycle(ctx context.Context, event string, timeout time.Duration) error
	Poll(ctx context.Context, expr string, interval, timeout time.Duration) error
	ScrollTo(ctx context.Context, expr string) error
}

// Warning records one soft readiness failure. Warnings never abort the
// request; they are reported to diagnostics and logged.
type Warning struct {
	Stage Stage
	Err   error
}

// Outcome is the result of a completed orchestration. Warnings may be
// non-empty; capture proceeds regardless.
type Outcome struct {
	Status   int
	FinalURL string
	Warnings []Warning
}

// Target is the navigable input to Run. Exactly one of URL or HTML is
// set.
type Target struct {
	URL  string
	HTML string
}

// Spec carries the per-request readiness parameters, already
// normalized by the resolver.
type Spec struct {
	Selector    string
	Strategy    Strategy
	SettleDelay time.Duration
}

// Timeouts are the operator-configured per-step bounds. Zero values
// are replaced by Config defaults at construction.
type Timeouts struct {
	Navigation    time.Duration
	Selector      time.Duration
	LoadEvent     time.Duration
	NetworkSettle time.Duration
	Fonts         time.Duration
}

// DiagnosticFunc is invoked on each soft failure with the stage that
// failed and a snapshot of the warnings accumulated so far. It must be
// best-effort and non-blocking for the caller.
type DiagnosticFunc func(ctx context.Context, stage Stage, warnings []Warning)

// Orchestrator drives a loaded page through the readiness checks.
//
// Navigation failures are hard failures; every post-navigation check
// degrades to a warning, because once navigation succeeds the page is
// at minimum showing something and a best-effort capture beats none.
type Orchestrator struct {
	timeouts            Timeouts
	authRedirectMarkers []string
	logger              *zap.Logger
}

const (
	fontsReadyExpr = `document.fonts === undefined || document.fonts.status === "loaded"`

	imagesCompleteExpr = `Array.from(document.images).every((img) => img.complete && img.naturalWidth > 0)`

	scrollBottomExpr = `window.scrollTo(0, document.body ? document.body.scrollHeight : 0)`
	scrollTopExpr    = `window.scrollTo(0, 0)`

	pollInterval = 250 * time.Millisecond
)

// New creates an Orchestrator. authRedirectMarkers are path segments
// (e.g. "/login") whose presence in the final URL fails navigation.
func New(timeouts Timeouts, authRedirectMarkers []string, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		timeouts:            timeouts,
		authRedirectMarkers: authRedirectMarkers,
		logger:              logger,
	}
}

// Run executes the readiness chain against page. It returns a
// *NavigationError when navigation itself fails and the context error
// when the outer deadline expires between steps; all other check
// failures are accumulated as warnings on the Outcome.
func (o *Orchestrator) Run(ctx context.Context, page Page, target Target, spec Spec, diagnose DiagnosticFunc) (*Outcome, error) {
	outcome := &Outcome{}
	profile := ProfileFor(spec.Strategy)

	if err := o.navigate(ctx, page, target, outcome); err != nil {
		return nil, err
	}

	selectorTimeout := o.timeouts.Selector
	if spec.Selector != "" {
		o.soft(ctx, outcome, diagnose, StageElementAttaching, func(ctx context.Context) error {
			return page.WaitSelector(ctx, spec.Selector, profile.WaitVisible, selectorTimeout)
		})
	}

	o.soft(ctx, outcome, diagnose, StageDocumentLoading, func(ctx context.Context) error {
		return page.WaitLifecycle(ctx, "load", o.timeouts.LoadEvent)
	})

	// A page holding a live socket never goes idle; this check must
	// never block capture beyond its window.
	o.soft(ctx, outcome, diagnose, StageNetworkSettling, func(ctx context.Context) error {
		return page.WaitLifecycle(ctx, "networkIdle", o.timeouts.NetworkSettle)
	})

	o.soft(ctx, outcome, diagnose, StageFontsReady, func(ctx context.Context) error {
		return page.Poll(ctx, fontsReadyExpr, pollInterval, o.timeouts.Fonts)
	})

	if profile.ImageWait > 0 {
		o.soft(ctx, outcome, diagnose, StageImagesReady, func(ctx context.Context) error {
			return page.Poll(ctx, imagesCompleteExpr, pollInterval, profile.ImageWait)
		})
	}

	if spec.Selector != "" {
		o.soft(ctx, outcome, diagnose, StageSizeStable, func(ctx context.Context) error {
			return page.Poll(ctx, heightExpr(spec.Selector, profile.MinHeight), pollInterval, profile.HeightWait)
		})
	}

	o.soft(ctx, outcome, diagnose, StageSettling, func(ctx context.Context) error {
		if err := page.ScrollTo(ctx, scrollBottomExpr); err != nil {
			return err
		}
		if err := page.ScrollTo(ctx, scrollTopExpr); err != nil {
			return err
		}
		return sleepCtx(ctx, spec.SettleDelay)
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.logger.Debug("page ready",
		zap.String("final_url", outcome.FinalURL),
		zap.Int("status", outcome.Status),
		zap.Int("warnings", len(outcome.Warnings)))
	return outcome, nil
}

// navigate is the single hard stage. Network-level failure, a final
// status outside 2xx/3xx, or an auth-redirect final URL abort the
// request with full target context.
func (o *Orchestrator) navigate(ctx context.Context, page Page, target Target, outcome *Outcome) error {
	if target.HTML != "" {
		if err := page.SetContent(ctx, target.HTML); err != nil {
			return &NavigationError{Target: "inline html", Err: err}
		}
		return nil
	}

	result, err := page.Navigate(ctx, target.URL, o.timeouts.Navigation)
	if err != nil {
		return &NavigationError{Target: target.URL, Err: err}
	}

	if marker := o.matchAuthRedirect(result.FinalURL); marker != "" {
		return &NavigationError{
			Target:   target.URL,
			Status:   result.Status,
			FinalURL: result.FinalURL,
			Err:      fmt.Errorf("%w (matched %q)", ErrAuthRedirect, marker),
		}
	}

	if result.Status != 0 && (result.Status < 200 || result.Status >= 400) {
		return &NavigationError{
			Target:   target.URL,
			Status:   result.Status,
			FinalURL: result.FinalURL,
			Err:      fmt.Errorf("target returned non-OK status"),
		}
	}

	outcome.Status = result.Status
	outcome.FinalURL = result.FinalURL
	return nil
}

// soft runs one post-navigation check, downgrading any failure to a
// warning and handing it to diagnostics. The outer context expiring is
// not recorded as a stage warning; Run surfaces it after the chain.
func (o *Orchestrator) soft(ctx context.Context, outcome *Outcome, diagnose DiagnosticFunc, stage Stage, fn func(context.Context) error) {
	if ctx.Err() != nil {
		return
	}

	err := fn(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}

	o.logger.Warn("readiness check failed, continuing",
		zap.String("stage", string(stage)),
		zap.Error(err))
	outcome.Warnings = append(outcome.Warnings, Warning{Stage: stage, Err: err})

	if diagnose != nil {
		// Snapshot so an asynchronous consumer never races later appends.
		warnings := make([]Warning, len(outcome.Warnings))
		copy(warnings, outcome.Warnings)
		diagnose(ctx, stage, warnings)
	}
}

func (o *Orchestrator) matchAuthRedirect(finalURL string) string {
	if finalURL == "" {
		return ""
	}
	parsed, err := url.Parse(finalURL)
	if err != nil {
		return ""
	}
	for _, marker := range o.authRedirectMarkers {
		if marker != "" && strings.Contains(parsed.Path, marker) {
			return marker
		}
	}
	return ""
}

func heightExpr(selector string, minHeight int) string {
	return fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); return !!el && el.getBoundingClientRect().height >= %d; })()`,
		selector, minHeight)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
