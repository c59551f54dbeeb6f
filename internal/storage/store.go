package storage

import (
	"context"
	"time"
)

// ArtifactStore persists diagnostic artifacts gathered around a
// capture. Implementations must be safe for concurrent use.
type ArtifactStore interface {
	// Store writes one named artifact for a capture.
	Store(ctx context.Context, captureID, name, contentType string, data []byte) error
	// URL returns a retrieval link for a stored artifact, valid for
	// at least expiry.
	URL(ctx context.Context, captureID, name string, expiry time.Duration) (string, error)
}
