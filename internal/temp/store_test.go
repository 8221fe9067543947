package temp

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readChunk(t *testing.T, s *Store, sessionID uuid.UUID, idx int) []byte {
	t.Helper()
	f, err := s.OpenChunk(sessionID, idx)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

func TestWriteChunkDuplicateKeepsWinner(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	id := uuid.New()

	written, sum, err := s.WriteChunk(id, 0, strings.NewReader("first payload"))
	require.NoError(t, err)
	assert.Equal(t, int64(len("first payload")), written)
	assert.Len(t, sum, 64)

	_, _, err = s.WriteChunk(id, 0, strings.NewReader("second payload"))
	require.ErrorIs(t, err, ErrChunkExists)

	// The first writer's bytes survive the duplicate.
	assert.Equal(t, []byte("first payload"), readChunk(t, s, id, 0))

	// No temp residue either way.
	entries, err := os.ReadDir(filepath.Dir(s.ChunkPath(id, 0)))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".partial"), e.Name())
	}
}

func TestWriteChunkConcurrentDuplicates(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	id := uuid.New()

	const writers = 8
	const size = 64 * 1024

	// Distinct payload per writer so a torn mix of two writers is
	// detectable in the stored bytes.
	payloads := make([][]byte, writers)
	for i := range payloads {
		payloads[i] = bytes.Repeat([]byte{byte('a' + i)}, size)
	}

	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = s.WriteChunk(id, 3, bytes.NewReader(payloads[i]))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrChunkExists)
		}
	}
	assert.Equal(t, 1, winners)

	got := readChunk(t, s, id, 3)
	require.Len(t, got, size)
	for _, b := range got {
		require.Equal(t, got[0], b, "stored chunk mixes bytes from two writers")
	}
}

func TestMissingIndices(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	id := uuid.New()

	_, _, err = s.WriteChunk(id, 1, strings.NewReader("mid"))
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2}, s.Missing(id, 3))
	assert.True(t, s.HasChunk(id, 1))
	assert.False(t, s.HasChunk(id, 0))
}
