package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)

	err = store.Store(context.Background(), "cap-1", "navigating-report.json", "application/json", []byte(`{"ok":true}`))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "cap-1", "navigating-report.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	url, err := store.URL(context.Background(), "cap-1", "navigating-report.json", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(dir, "cap-1", "navigating-report.json"), url)
}
