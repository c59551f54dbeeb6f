package readiness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type selectorCall struct {
	selector string
	visible  bool
}

type fakePage struct {
	navResult  NavResult
	navErr     error
	contentErr error

	lifecycleErr map[string]error
	pollErr      func(expr string) error
	scrollErr    error

	navigated []string
	content   []string
	selectors []selectorCall
	lifecycle []string
	polled    []string
	scrolls   []string
}

func (f *fakePage) Navigate(_ context.Context, url string, _ time.Duration) (NavResult, error) {
	f.navigated = append(f.navigated, url)
	return f.navResult, f.navErr
}

func (f *fakePage) SetContent(_ context.Context, html string) error {
	f.content = append(f.content, html)
	return f.contentErr
}

func (f *fakePage) WaitSelector(_ context.Context, selector string, visible bool, _ time.Duration) error {
	f.selectors = append(f.selectors, selectorCall{selector: selector, visible: visible})
	return nil
}

func (f *fakePage) WaitLifecycle(_ context.Context, event string, _ time.Duration) error {
	f.lifecycle = append(f.lifecycle, event)
	if f.lifecycleErr != nil {
		return f.lifecycleErr[event]
	}
	return nil
}

func (f *fakePage) Poll(_ context.Context, expr string, _, _ time.Duration) error {
	f.polled = append(f.polled, expr)
	if f.pollErr != nil {
		return f.pollErr(expr)
	}
	return nil
}

func (f *fakePage) ScrollTo(_ context.Context, expr string) error {
	f.scrolls = append(f.scrolls, expr)
	return f.scrollErr
}

func newTestOrchestrator(markers ...string) *Orchestrator {
	return New(Timeouts{
		Navigation:    time.Second,
		Selector:      time.Second,
		LoadEvent:     time.Second,
		NetworkSettle: time.Second,
		Fonts:         time.Second,
	}, markers, zap.NewNop())
}

func TestRunRemoteSuccess(t *testing.T) {
	page := &fakePage{navResult: NavResult{Status: 200, FinalURL: "https://docs.example.com/invoice"}}
	orch := newTestOrchestrator()

	outcome, err := orch.Run(context.Background(), page, Target{URL: "https://docs.example.com/invoice"},
		Spec{Selector: "#content", Strategy: StrategyNormal}, nil)

	require.NoError(t, err)
	assert.Equal(t, 200, outcome.Status)
	assert.Equal(t, "https://docs.example.com/invoice", outcome.FinalURL)
	assert.Empty(t, outcome.Warnings)
	assert.Equal(t, []string{"https://docs.example.com/invoice"}, page.navigated)
	assert.Equal(t, []string{"load", "networkIdle"}, page.lifecycle)
	assert.Len(t, page.scrolls, 2)
}

func TestRunInlineContent(t *testing.T) {
	page := &fakePage{}
	orch := newTestOrchestrator()

	outcome, err := orch.Run(context.Background(), page, Target{HTML: "<html><body>hi</body></html>"},
		Spec{Strategy: StrategyNormal}, nil)

	require.NoError(t, err)
	assert.Empty(t, page.navigated)
	assert.Len(t, page.content, 1)
	assert.Zero(t, outcome.Status)
}

func TestRunNavigationStatusFails(t *testing.T) {
	page := &fakePage{navResult: NavResult{Status: 404, FinalURL: "https://docs.example.com/missing"}}
	orch := newTestOrchestrator()

	outcome, err := orch.Run(context.Background(), page, Target{URL: "https://docs.example.com/missing"},
		Spec{Strategy: StrategyNormal}, nil)

	require.Nil(t, outcome)
	var nerr *NavigationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, 404, nerr.Status)
	assert.Equal(t, "https://docs.example.com/missing", nerr.FinalURL)
	assert.Empty(t, page.lifecycle, "no readiness checks after failed navigation")
}

func TestRunNavigationNetworkError(t *testing.T) {
	page := &fakePage{navErr: errors.New("net::ERR_CONNECTION_REFUSED")}
	orch := newTestOrchestrator()

	_, err := orch.Run(context.Background(), page, Target{URL: "https://docs.example.com"},
		Spec{Strategy: StrategyNormal}, nil)

	var nerr *NavigationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "https://docs.example.com", nerr.Target)
}

func TestRunAuthRedirectFailsNavigation(t *testing.T) {
	page := &fakePage{navResult: NavResult{Status: 200, FinalURL: "https://sso.example.com/login?next=%2Finvoice"}}
	orch := newTestOrchestrator("/login", "/auth")

	outcome, err := orch.Run(context.Background(), page, Target{URL: "https://docs.example.com/invoice"},
		Spec{Strategy: StrategyNormal}, nil)

	require.Nil(t, outcome)
	require.ErrorIs(t, err, ErrAuthRedirect)
	var nerr *NavigationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "https://sso.example.com/login?next=%2Finvoice", nerr.FinalURL)
}

func TestRunMarkerInQueryDoesNotMatch(t *testing.T) {
	page := &fakePage{navResult: NavResult{Status: 200, FinalURL: "https://docs.example.com/page?return=/login"}}
	orch := newTestOrchestrator("/login")

	_, err := orch.Run(context.Background(), page, Target{URL: "https://docs.example.com/page"},
		Spec{Strategy: StrategyNormal}, nil)

	require.NoError(t, err)
}

func TestRunSoftFailuresBecomeWarnings(t *testing.T) {
	page := &fakePage{
		navResult: NavResult{Status: 200, FinalURL: "https://docs.example.com"},
		lifecycleErr: map[string]error{
			"load":        errors.New("load never fired"),
			"networkIdle": errors.New("socket held open"),
		},
		pollErr: func(string) error { return errors.New("predicate stuck") },
	}
	orch := newTestOrchestrator()

	var diagnosed []Stage
	var lastWarnings []Warning
	diagnose := func(_ context.Context, stage Stage, warnings []Warning) {
		diagnosed = append(diagnosed, stage)
		lastWarnings = warnings
	}

	outcome, err := orch.Run(context.Background(), page, Target{URL: "https://docs.example.com"},
		Spec{Selector: "#content", Strategy: StrategyNormal}, diagnose)

	require.NoError(t, err, "soft failures must not abort the run")
	stages := make([]Stage, 0, len(outcome.Warnings))
	for _, w := range outcome.Warnings {
		stages = append(stages, w.Stage)
	}
	assert.Contains(t, stages, StageDocumentLoading)
	assert.Contains(t, stages, StageNetworkSettling)
	assert.Contains(t, stages, StageFontsReady)
	assert.Contains(t, stages, StageImagesReady)
	assert.Contains(t, stages, StageSizeStable)
	assert.Equal(t, stages, diagnosed, "each warning triggers one diagnostic snapshot")
	assert.Equal(t, outcome.Warnings, lastWarnings, "the final snapshot carries every warning so far")
}

func TestRunEagerSkipsImagesAndVisibility(t *testing.T) {
	page := &fakePage{navResult: NavResult{Status: 200}}
	orch := newTestOrchestrator()

	_, err := orch.Run(context.Background(), page, Target{URL: "https://docs.example.com"},
		Spec{Selector: "#content", Strategy: StrategyEager}, nil)

	require.NoError(t, err)
	require.Len(t, page.selectors, 1)
	assert.False(t, page.selectors[0].visible, "eager waits for attachment only")
	assert.NotContains(t, page.polled, imagesCompleteExpr)
}

func TestRunStrictWaitsVisibleAndImages(t *testing.T) {
	page := &fakePage{navResult: NavResult{Status: 200}}
	orch := newTestOrchestrator()

	_, err := orch.Run(context.Background(), page, Target{URL: "https://docs.example.com"},
		Spec{Selector: "#content", Strategy: StrategyStrict}, nil)

	require.NoError(t, err)
	require.Len(t, page.selectors, 1)
	assert.True(t, page.selectors[0].visible)
	assert.Contains(t, page.polled, imagesCompleteExpr)
}

func TestRunEmptySelectorSkipsElementStages(t *testing.T) {
	page := &fakePage{navResult: NavResult{Status: 200}}
	orch := newTestOrchestrator()

	_, err := orch.Run(context.Background(), page, Target{URL: "https://docs.example.com"},
		Spec{Strategy: StrategyNormal}, nil)

	require.NoError(t, err)
	assert.Empty(t, page.selectors)
	for _, expr := range page.polled {
		assert.NotContains(t, expr, "querySelector", "no height check without a selector")
	}
}

func TestRunSurfacesExpiredContext(t *testing.T) {
	page := &fakePage{navResult: NavResult{Status: 200}}
	orch := newTestOrchestrator()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := orch.Run(ctx, page, Target{URL: "https://docs.example.com"},
		Spec{Selector: "#content", Strategy: StrategyNormal}, nil)

	require.Nil(t, outcome)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, page.lifecycle, "checks are skipped once the deadline is gone")
}

func TestParseStrategy(t *testing.T) {
	assert.Equal(t, StrategyStrict, ParseStrategy("strict"))
	assert.Equal(t, StrategyEager, ParseStrategy("eager"))
	assert.Equal(t, StrategyNormal, ParseStrategy("normal"))
	assert.Equal(t, StrategyNormal, ParseStrategy(""))
	assert.Equal(t, StrategyNormal, ParseStrategy("bogus"))
}
