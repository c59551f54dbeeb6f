package diagnostics

import (
	"time"

	"github.com/pressproof/render-node/pkg/shared"
)

type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

type BuildInput struct {
	CaptureID      string
	Target         string
	FinalURL       string
	Status         int
	Strategy       string
	Stage          string
	Warnings       []string
	CollectedAtUTC time.Time
	ScreenshotData []byte
	HTMLData       []byte
}

// Report describes the page state at the moment a readiness stage
// degraded, alongside hashes of the artifacts stored next to it.
type Report struct {
	CaptureID      string    `json:"capture_id"`
	Target         string    `json:"target"`
	FinalURL       string    `json:"final_url"`
	Status         int       `json:"status"`
	Strategy       string    `json:"strategy"`
	Stage          string    `json:"stage"`
	Warnings       []string  `json:"warnings"`
	CollectedAtUTC time.Time `json:"collected_at_utc"`
	DocumentLength int       `json:"document_length"`
	Hashes         struct {
		ScreenshotSHA256 string `json:"screenshot_sha256"`
		DOMSHA256        string `json:"dom_sha256"`
	} `json:"hashes"`
}

func (b *Builder) Build(input BuildInput) *Report {
	report := &Report{
		CaptureID:      input.CaptureID,
		Target:         input.Target,
		FinalURL:       input.FinalURL,
		Status:         input.Status,
		Strategy:       input.Strategy,
		Stage:          input.Stage,
		Warnings:       input.Warnings,
		CollectedAtUTC: input.CollectedAtUTC,
		DocumentLength: len(input.HTMLData),
	}
	report.Hashes.ScreenshotSHA256 = shared.SHA256Hex(input.ScreenshotData)
	report.Hashes.DOMSHA256 = shared.SHA256Hex(input.HTMLData)
	return report
}
