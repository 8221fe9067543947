package thumb

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not really a jpeg"), 0o644))
	return path
}

func TestDeriveKeyDeterministic(t *testing.T) {
	src := writeSource(t)
	opts := Options{Width: 100, Height: 100, Format: "jpeg", Fit: FitCover}

	first := DeriveKey(src, opts)
	second := DeriveKey(src, opts)
	assert.Equal(t, first, second)
	assert.Len(t, first, 32) // 128-bit hex
}

func TestDeriveKeySensitivity(t *testing.T) {
	src := writeSource(t)
	base := Options{Width: 100, Height: 100, Format: "jpeg", Fit: FitCover}
	baseKey := DeriveKey(src, base)

	variants := map[string]Options{
		"width":  {Width: 101, Height: 100, Format: "jpeg", Fit: FitCover},
		"height": {Width: 100, Height: 101, Format: "jpeg", Fit: FitCover},
		"format": {Width: 100, Height: 100, Format: "png", Fit: FitCover},
		"fit":    {Width: 100, Height: 100, Format: "jpeg", Fit: FitContain},
	}
	for name, opts := range variants {
		assert.NotEqual(t, baseKey, DeriveKey(src, opts), "changing %s must change the key", name)
	}
}

func TestDeriveKeyTracksModTime(t *testing.T) {
	src := writeSource(t)
	opts := Options{Width: 100, Height: 100, Format: "jpeg", Fit: FitCover}

	before := DeriveKey(src, opts)
	newTime := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(src, newTime, newTime))
	after := DeriveKey(src, opts)

	assert.NotEqual(t, before, after)
}

func TestDeriveKeyMissingSourceStillProducesKey(t *testing.T) {
	opts := Options{Width: 100, Height: 100, Format: "jpeg", Fit: FitCover}

	key := DeriveKey("/does/not/exist.jpg", opts)
	assert.Len(t, key, 32)
}
