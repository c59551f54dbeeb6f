package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pressproof/render-node/internal/browser"
	"github.com/pressproof/render-node/internal/capture"
	"github.com/pressproof/render-node/internal/diagnostics"
	"github.com/pressproof/render-node/internal/readiness"
	"github.com/pressproof/render-node/internal/resolver"
	"github.com/pressproof/render-node/pkg/models"
	"github.com/pressproof/render-node/pkg/shared"
)

const (
	viewportWidth  = 1920
	viewportHeight = 1080
)

func (s *Server) renderPDF(c *gin.Context) {
	var req models.RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, models.ErrorResponse{Error: "invalid request body"})
		return
	}

	format := capture.FormatPDF
	switch req.Debug {
	case "":
	case "screenshot":
		format = capture.FormatScreenshot
	case "html":
		format = capture.FormatHTML
	default:
		c.JSON(400, models.ErrorResponse{Error: fmt.Sprintf("unsupported debug mode %q", req.Debug)})
		return
	}

	s.execute(c, &req, format, format == capture.FormatPDF)
}

func (s *Server) renderGrab(c *gin.Context) {
	var req models.RenderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, models.ErrorResponse{Error: "invalid request body"})
		return
	}

	format, err := capture.ParseFormat(req.Format)
	if err != nil || format == capture.FormatPDF {
		c.JSON(400, models.ErrorResponse{Error: fmt.Sprintf("unsupported format %q", req.Format)})
		return
	}

	s.execute(c, &req, format, false)
}

// execute runs the full pipeline for one request: resolve, admit,
// open a page, orchestrate readiness, capture, respond. The page is
// closed on every exit path.
func (s *Server) execute(c *gin.Context, req *models.RenderRequest, format capture.Format, attachment bool) {
	target, err := s.resolver.Resolve(req)
	if err != nil {
		var verr *shared.ValidationError
		if errors.As(err, &verr) {
			c.JSON(400, models.ErrorResponse{Error: verr.Message, Target: req.URL})
			return
		}
		c.JSON(400, models.ErrorResponse{Error: err.Error(), Target: req.URL})
		return
	}

	if s.sem != nil {
		if !s.sem.TryAcquire(1) {
			c.JSON(503, models.ErrorResponse{Error: "capture capacity exhausted"})
			return
		}
		defer s.sem.Release(1)
	}

	captureID := uuid.New().String()
	log := s.logger.With(
		zap.String("capture_id", captureID),
		zap.String("format", string(format)))

	timeout := s.cfg.RequestCeiling
	if req.TimeoutMs > 0 {
		if requested := time.Duration(req.TimeoutMs) * time.Millisecond; requested < timeout {
			timeout = requested
		}
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	page, err := s.pages.NewPage(ctx, log)
	if err != nil {
		log.Error("failed to open page", zap.Error(err))
		c.JSON(500, models.ErrorResponse{Error: "browser unavailable"})
		return
	}
	defer page.Close()

	// Diagnostics run concurrently with later readiness steps; the
	// wait keeps the page alive until the last snapshot finishes.
	var diagWG sync.WaitGroup
	defer diagWG.Wait()

	if err := page.SetViewport(ctx, viewportWidth, viewportHeight); err != nil {
		log.Warn("failed to set viewport", zap.Error(err))
	}
	if err := page.SetExtraHeaders(ctx, req.ExtraHeaders); err != nil {
		log.Warn("failed to set extra headers", zap.Error(err))
	}

	strategy := readiness.ParseStrategy(req.ReadyStrategy)
	selector := resolver.NormalizeSelector(req.WaitForSelector, s.resolver.SelectorFallback)

	settle := s.cfg.SettleDelay
	if req.Delay > 0 {
		settle = time.Duration(req.Delay) * time.Millisecond
	}

	orch := readiness.New(readiness.Timeouts{
		Navigation:    s.cfg.NavigationTimeout,
		Selector:      s.selectorTimeout(strategy),
		LoadEvent:     s.cfg.LoadEventTimeout,
		NetworkSettle: s.cfg.NetworkSettleTimeout,
		Fonts:         s.cfg.FontsTimeout,
	}, s.cfg.AuthRedirectMarkers, log)

	diagnose := func(ctx context.Context, stage readiness.Stage, warnings []readiness.Warning) {
		if s.collector == nil {
			return
		}
		messages := make([]string, 0, len(warnings))
		for _, w := range warnings {
			messages = append(messages, fmt.Sprintf("%s: %v", w.Stage, w.Err))
		}
		diagWG.Add(1)
		go func() {
			defer diagWG.Done()
			s.collector.Collect(ctx, page, diagnostics.Capture{
				ID:       captureID,
				Target:   req.URL,
				Status:   page.Status(),
				Strategy: string(strategy),
			}, string(stage), messages)
		}()
	}

	outcome, err := orch.Run(ctx, page, readiness.Target{URL: target.URL, HTML: target.HTML}, readiness.Spec{
		Selector:    selector,
		Strategy:    strategy,
		SettleDelay: settle,
	}, diagnose)
	if err != nil {
		s.renderError(c, log, err)
		return
	}

	media := req.Media
	if media == "" && format == capture.FormatPDF {
		media = "print"
	}

	result, err := s.executor.Execute(ctx, page, format, capture.Options{
		Media: media,
		PDF:   browser.PDFOptions{PrintBackground: true},
	})
	if err != nil {
		log.Error("capture failed", zap.Error(err))
		c.JSON(500, models.ErrorResponse{Error: "capture failed"})
		return
	}

	log.Info("render complete",
		zap.String("final_url", outcome.FinalURL),
		zap.Int("status", outcome.Status),
		zap.Int("warnings", len(outcome.Warnings)),
		zap.Int("bytes", len(result.Data)))

	c.Header("X-Capture-Id", captureID)
	if attachment {
		c.Header("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", shared.SanitizeFilename(req.FileName)))
	}
	c.Data(200, result.ContentType, result.Data)
}

func (s *Server) renderError(c *gin.Context, log *zap.Logger, err error) {
	var nerr *readiness.NavigationError
	if errors.As(err, &nerr) {
		log.Warn("navigation failed",
			zap.String("target", nerr.Target),
			zap.Int("status", nerr.Status),
			zap.String("final_url", nerr.FinalURL),
			zap.Error(err))
		c.JSON(502, models.ErrorResponse{
			Error:    "navigation failed",
			Target:   nerr.Target,
			Status:   nerr.Status,
			FinalURL: nerr.FinalURL,
		})
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn("render deadline exceeded", zap.Error(err))
		c.JSON(504, models.ErrorResponse{Error: "render deadline exceeded"})
		return
	}

	log.Error("render failed", zap.Error(err))
	c.JSON(500, models.ErrorResponse{Error: "render failed"})
}

func (s *Server) selectorTimeout(strategy readiness.Strategy) time.Duration {
	switch strategy {
	case readiness.StrategyStrict:
		return s.cfg.SelectorTimeoutStrict
	case readiness.StrategyEager:
		return s.cfg.SelectorTimeoutEager
	default:
		return s.cfg.SelectorTimeoutNormal
	}
}
