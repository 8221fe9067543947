package temp

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrChunkExists indicates another writer materialized this chunk first.
var ErrChunkExists = errors.New("chunk already stored")

// Store persists in-flight chunks on disk before finalization. Chunks are
// partitioned per session id, so sessions never contend with each other.
type Store struct {
	basePath string
}

// NewStore creates a Store rooted at basePath.
func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Store{basePath: basePath}, nil
}

// ChunkPath returns the on-disk location for a chunk.
func (s *Store) ChunkPath(sessionID uuid.UUID, chunkIndex int) string {
	return filepath.Join(s.basePath, sessionID.String(), fmt.Sprintf("chunk-%05d", chunkIndex))
}

// HasChunk reports whether the chunk already arrived.
func (s *Store) HasChunk(sessionID uuid.UUID, chunkIndex int) bool {
	_, err := os.Stat(s.ChunkPath(sessionID, chunkIndex))
	return err == nil
}

// WriteChunk copies the incoming chunk reader to disk and computes its
// checksum. Each writer spools into its own temp file, so a retried chunk
// racing the original can never truncate or tear its bytes. Exactly one
// writer materializes the chunk; every other racer gets ErrChunkExists.
func (s *Store) WriteChunk(sessionID uuid.UUID, chunkIndex int, data io.Reader) (int64, string, error) {
	chunkPath := s.ChunkPath(sessionID, chunkIndex)
	if err := os.MkdirAll(filepath.Dir(chunkPath), 0o755); err != nil {
		return 0, "", err
	}

	file, err := os.CreateTemp(filepath.Dir(chunkPath), fmt.Sprintf("chunk-%05d-*.partial", chunkIndex))
	if err != nil {
		return 0, "", err
	}
	tmpPath := file.Name()

	hasher := sha256.New()
	w := io.MultiWriter(file, hasher)
	written, err := io.Copy(w, data)
	if err != nil {
		file.Close()
		_ = os.Remove(tmpPath)
		return 0, "", err
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, "", err
	}

	// Link, not rename: link fails if the chunk already exists, which is
	// how the losing duplicate is detected without clobbering the winner.
	if err := os.Link(tmpPath, chunkPath); err != nil {
		_ = os.Remove(tmpPath)
		if os.IsExist(err) {
			return 0, "", ErrChunkExists
		}
		return 0, "", err
	}
	_ = os.Remove(tmpPath)

	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

// OpenChunk opens a chunk for reading during assembly.
func (s *Store) OpenChunk(sessionID uuid.UUID, chunkIndex int) (*os.File, error) {
	return os.Open(s.ChunkPath(sessionID, chunkIndex))
}

// Missing returns the chunk indices not yet present on disk.
func (s *Store) Missing(sessionID uuid.UUID, totalChunks int) []int {
	missing := make([]int, 0)
	for i := 0; i < totalChunks; i++ {
		if !s.HasChunk(sessionID, i) {
			missing = append(missing, i)
		}
	}
	return missing
}

// RemoveSession deletes all temporary files associated with the session.
func (s *Store) RemoveSession(sessionID uuid.UUID) error {
	return os.RemoveAll(filepath.Join(s.basePath, sessionID.String()))
}
