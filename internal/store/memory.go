package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"nasdrive-backend/internal/domain"
)

// MemoryStore keeps session and file records in process memory. Session
// state is deliberately not resumable across restarts; this store is used
// in tests and in diskless single-box deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]domain.UploadSession
	files    map[uuid.UUID]domain.FileEntity
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]domain.UploadSession),
		files:    make(map[uuid.UUID]domain.FileEntity),
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() {}

func (s *MemoryStore) CreateSession(_ context.Context, u *domain.UploadSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	rec := *u
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.sessions[u.ID] = rec
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID uuid.UUID) (*domain.UploadSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := rec
	return &out, nil
}

func (s *MemoryStore) UpdateSessionStatus(_ context.Context, sessionID uuid.UUID, status domain.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	s.sessions[sessionID] = rec
	return nil
}

func (s *MemoryStore) ClaimSession(_ context.Context, sessionID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return false, ErrSessionNotFound
	}
	if rec.Status != domain.SessionPending && rec.Status != domain.SessionReceiving {
		return false, nil
	}
	rec.Status = domain.SessionAssembling
	rec.UpdatedAt = time.Now().UTC()
	s.sessions[sessionID] = rec
	return true, nil
}

func (s *MemoryStore) AdvanceSessionProgress(_ context.Context, sessionID uuid.UUID, chunkSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if rec.ReceivedChunks < rec.TotalChunks {
		rec.ReceivedChunks++
		rec.ReceivedBytes += chunkSize
		rec.Status = domain.SessionReceiving
		rec.UpdatedAt = time.Now().UTC()
		s.sessions[sessionID] = rec
	}
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) ListExpiredSessions(_ context.Context, idleSince time.Time) ([]domain.UploadSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.UploadSession
	for _, rec := range s.sessions {
		if rec.UpdatedAt.Before(idleSince) &&
			(rec.Status == domain.SessionPending ||
				rec.Status == domain.SessionReceiving ||
				rec.Status == domain.SessionAssembling) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertFile(_ context.Context, f *domain.FileEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := *f
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.files[f.ID] = rec
	return nil
}

func (s *MemoryStore) GetFile(_ context.Context, fileID uuid.UUID) (*domain.FileEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.files[fileID]
	if !ok {
		return nil, ErrFileNotFound
	}
	out := rec
	return &out, nil
}

func (s *MemoryStore) ListFiles(_ context.Context, userID uuid.UUID, limit, offset int) ([]domain.FileEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []domain.FileEntity
	for _, rec := range s.files {
		if rec.UserID == userID {
			all = append(all, rec)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) DeleteFile(_ context.Context, fileID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, fileID)
	return nil
}
