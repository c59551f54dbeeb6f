package models

import "encoding/json"

// RenderRequest is the JSON body accepted by POST /pdf and POST /grab.
// Exactly one of URL or HTML must be set.
type RenderRequest struct {
	URL     string `json:"url"`
	HTML    string `json:"html"`
	BaseURL string `json:"baseUrl"`

	FileName string `json:"fileName"`

	// Media is the emulated CSS media type: "screen" or "print".
	Media string `json:"media"`

	// WaitForSelector accepts a string, an array of candidate strings,
	// or an object with a "selector" or "value" field. It is normalized
	// to a single canonical selector before orchestration begins.
	WaitForSelector json.RawMessage `json:"waitForSelector"`

	ExtraHeaders map[string]string `json:"extraHeaders"`

	// TimeoutMs bounds the whole request; clamped by the operator's
	// configured ceiling.
	TimeoutMs int `json:"timeoutMs"`

	// Delay overrides the post-scroll settle delay, in milliseconds.
	Delay int `json:"delay"`

	// ReadyStrategy is "strict", "normal" or "eager".
	ReadyStrategy string `json:"readyStrategy"`

	// Format applies to /grab only: "html" or "screenshot".
	Format string `json:"format"`

	// Debug short-circuits /pdf to return a "screenshot" or "html"
	// artifact instead of a PDF.
	Debug string `json:"debug"`
}

// ErrorResponse is the JSON error envelope. Context carries safe,
// caller-facing fields only; internal details stay in server logs.
type ErrorResponse struct {
	Error    string `json:"error"`
	Target   string `json:"target,omitempty"`
	Status   int    `json:"status,omitempty"`
	FinalURL string `json:"finalUrl,omitempty"`
}
