package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"nasdrive-backend/internal/domain"
)

// Store defines persistence behavior for upload sessions and file entities.
type Store interface {
	CreateSession(ctx context.Context, s *domain.UploadSession) error
	GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.UploadSession, error)
	UpdateSessionStatus(ctx context.Context, sessionID uuid.UUID, status domain.SessionStatus) error

	// ClaimSession atomically moves a pending or receiving session to
	// assembling. Exactly one concurrent caller observes true.
	ClaimSession(ctx context.Context, sessionID uuid.UUID) (bool, error)
	AdvanceSessionProgress(ctx context.Context, sessionID uuid.UUID, chunkSize int64) error
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
	ListExpiredSessions(ctx context.Context, idleSince time.Time) ([]domain.UploadSession, error)

	InsertFile(ctx context.Context, f *domain.FileEntity) error
	GetFile(ctx context.Context, fileID uuid.UUID) (*domain.FileEntity, error)
	ListFiles(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.FileEntity, error)
	DeleteFile(ctx context.Context, fileID uuid.UUID) error

	Close()
}
