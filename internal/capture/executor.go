package capture

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pressproof/render-node/internal/browser"
)

// Format selects the artifact produced from a settled page.
type Format string

const (
	FormatPDF        Format = "pdf"
	FormatScreenshot Format = "screenshot"
	FormatHTML       Format = "html"
)

// ParseFormat validates a client-provided format string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatPDF, FormatScreenshot, FormatHTML:
		return Format(s), nil
	case "":
		return FormatHTML, nil
	default:
		return "", &Error{Op: "parse", Err: fmt.Errorf("unsupported format %q", s)}
	}
}

// Error marks a failure in the capture step itself, after the page
// had already settled.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Page is the surface the executor needs from a browser tab.
type Page interface {
	EmulateMedia(ctx context.Context, media string) error
	Screenshot(ctx context.Context, timeout time.Duration) ([]byte, error)
	HTML(ctx context.Context, timeout time.Duration) (string, error)
	PDF(ctx context.Context, opts browser.PDFOptions, timeout time.Duration) ([]byte, error)
}

// Options tune a single capture.
type Options struct {
	Media string
	PDF   browser.PDFOptions
}

// Result is the captured artifact plus the content type to serve it
// with.
type Result struct {
	Data        []byte
	ContentType string
}

// Executor turns a settled page into a response artifact.
type Executor struct {
	timeout time.Duration
	logger  *zap.Logger
}

func NewExecutor(timeout time.Duration, logger *zap.Logger) *Executor {
	return &Executor{timeout: timeout, logger: logger}
}

// Execute produces the requested artifact. Media emulation failures
// degrade the rendering but do not abort the capture.
func (e *Executor) Execute(ctx context.Context, page Page, format Format, opts Options) (*Result, error) {
	if opts.Media != "" {
		if err := page.EmulateMedia(ctx, opts.Media); err != nil {
			e.logger.Warn("media emulation failed", zap.String("media", opts.Media), zap.Error(err))
		}
	}

	start := time.Now()
	defer func() {
		e.logger.Info("capture finished",
			zap.String("format", string(format)),
			zap.Duration("elapsed", time.Since(start)))
	}()

	switch format {
	case FormatPDF:
		data, err := page.PDF(ctx, opts.PDF, e.timeout)
		if err != nil {
			return nil, &Error{Op: "pdf", Err: err}
		}
		return &Result{Data: data, ContentType: "application/pdf"}, nil

	case FormatScreenshot:
		data, err := page.Screenshot(ctx, e.timeout)
		if err != nil {
			return nil, &Error{Op: "screenshot", Err: err}
		}
		return &Result{Data: data, ContentType: "image/png"}, nil

	case FormatHTML:
		html, err := page.HTML(ctx, e.timeout)
		if err != nil {
			return nil, &Error{Op: "html", Err: err}
		}
		return &Result{Data: []byte(html), ContentType: "text/html; charset=utf-8"}, nil

	default:
		return nil, &Error{Op: "execute", Err: fmt.Errorf("unsupported format %q", format)}
	}
}
