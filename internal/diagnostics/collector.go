package diagnostics

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/pressproof/render-node/internal/storage"
)

const (
	collectTimeout  = 10 * time.Second
	reportURLExpiry = 24 * time.Hour
)

// Page is the surface the collector needs to snapshot a tab.
type Page interface {
	Screenshot(ctx context.Context, timeout time.Duration) ([]byte, error)
	HTML(ctx context.Context, timeout time.Duration) (string, error)
}

// Capture identifies the request whose page is being snapshotted.
type Capture struct {
	ID       string
	Target   string
	FinalURL string
	Status   int
	Strategy string
}

// Collector snapshots the page whenever a readiness stage degrades.
// Collection is strictly best effort: every failure is logged and
// swallowed so diagnostics can never break a capture.
type Collector struct {
	store   storage.ArtifactStore
	builder *Builder
	logger  *zap.Logger
}

func NewCollector(store storage.ArtifactStore, logger *zap.Logger) *Collector {
	return &Collector{
		store:   store,
		builder: NewBuilder(),
		logger:  logger,
	}
}

// Collect stores a screenshot, the current document, and a JSON report
// for a degraded stage. It uses its own timeout so a wedged page
// cannot stall the request beyond the collection budget.
func (c *Collector) Collect(ctx context.Context, page Page, capture Capture, stage string, warnings []string) {
	if c.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()

	log := c.logger.With(
		zap.String("capture_id", capture.ID),
		zap.String("stage", stage))

	var screenshot []byte
	if data, err := page.Screenshot(ctx, collectTimeout); err != nil {
		log.Warn("diagnostic screenshot failed", zap.Error(err))
	} else {
		screenshot = data
	}

	var html []byte
	if doc, err := page.HTML(ctx, collectTimeout); err != nil {
		log.Warn("diagnostic dom extraction failed", zap.Error(err))
	} else {
		html = []byte(doc)
	}

	report := c.builder.Build(BuildInput{
		CaptureID:      capture.ID,
		Target:         capture.Target,
		FinalURL:       capture.FinalURL,
		Status:         capture.Status,
		Strategy:       capture.Strategy,
		Stage:          stage,
		Warnings:       warnings,
		CollectedAtUTC: time.Now().UTC(),
		ScreenshotData: screenshot,
		HTMLData:       html,
	})

	prefix := stage + "-"
	if len(screenshot) > 0 {
		if err := c.store.Store(ctx, capture.ID, prefix+"screenshot.png", "image/png", screenshot); err != nil {
			log.Warn("failed to store diagnostic screenshot", zap.Error(err))
		}
	}
	if len(html) > 0 {
		if err := c.store.Store(ctx, capture.ID, prefix+"dom.html", "text/html; charset=utf-8", html); err != nil {
			log.Warn("failed to store diagnostic dom", zap.Error(err))
		}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Warn("failed to encode diagnostic report", zap.Error(err))
		return
	}
	if err := c.store.Store(ctx, capture.ID, prefix+"report.json", "application/json", data); err != nil {
		log.Warn("failed to store diagnostic report", zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.Int("document_length", report.DocumentLength),
		zap.Int("warnings", len(warnings)),
	}
	if url, err := c.store.URL(ctx, capture.ID, prefix+"report.json", reportURLExpiry); err != nil {
		log.Warn("failed to build diagnostic report url", zap.Error(err))
	} else {
		fields = append(fields, zap.String("report_url", url))
	}
	log.Info("diagnostics collected", fields...)
}
