package api

import (
	"context"

	"go.uber.org/zap"

	"github.com/pressproof/render-node/internal/browser"
	"github.com/pressproof/render-node/internal/capture"
	"github.com/pressproof/render-node/internal/diagnostics"
	"github.com/pressproof/render-node/internal/readiness"
)

// Page is everything the handlers need from one browser tab. A live
// *browser.PageSession satisfies it; tests inject close-tracking fakes.
type Page interface {
	readiness.Page
	capture.Page
	diagnostics.Page

	SetViewport(ctx context.Context, width, height int64) error
	SetExtraHeaders(ctx context.Context, headers map[string]string) error
	Status() int
	Close() error
}

// PageOpener allocates a tab per request.
type PageOpener interface {
	NewPage(ctx context.Context, logger *zap.Logger) (Page, error)
}

type managerOpener struct {
	manager *browser.Manager
}

func (o managerOpener) NewPage(ctx context.Context, logger *zap.Logger) (Page, error) {
	page, err := o.manager.NewPage(ctx, logger)
	if err != nil {
		return nil, err
	}
	return page, nil
}
