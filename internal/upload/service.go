package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nasdrive-backend/internal/config"
	"nasdrive-backend/internal/domain"
	"nasdrive-backend/internal/observability"
	"nasdrive-backend/internal/storage"
	"nasdrive-backend/internal/store"
	"nasdrive-backend/internal/temp"
)

var (
	// ErrInvalidRequest indicates a rejected init payload.
	ErrInvalidRequest = errors.New("invalid upload request")

	// ErrSessionComplete indicates a chunk arrived for a finished session.
	ErrSessionComplete = errors.New("upload session already complete")

	// ErrSessionFailed indicates the session previously failed and cannot
	// accept more chunks.
	ErrSessionFailed = errors.New("upload session failed")

	// ErrChunkOutOfRange indicates a chunk index outside [0, totalChunks).
	ErrChunkOutOfRange = errors.New("chunk index out of range")

	// ErrSessionIncomplete indicates finalize was called before every
	// chunk arrived.
	ErrSessionIncomplete = errors.New("upload session incomplete")

	// ErrAssembly indicates an I/O failure while concatenating chunks.
	// One automatic retry happens before this surfaces.
	ErrAssembly = errors.New("chunk assembly failed")
)

// Service orchestrates the chunked upload lifecycle between the session
// store, the temp chunk spool, and the storage root.
type Service struct {
	cfg       *config.Config
	store     store.Store
	tempStore *temp.Store
	files     *storage.Root
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewService constructs a Service instance. metrics may be nil in tests.
func NewService(cfg *config.Config, st store.Store, tempStore *temp.Store, files *storage.Root, metrics *observability.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		store:     st,
		tempStore: tempStore,
		files:     files,
		metrics:   metrics,
		logger:    logger,
	}
}

// Init creates a new upload session and returns its token. The destination
// is containment-checked before any row is written.
func (s *Service) Init(ctx context.Context, userID uuid.UUID, req domain.InitRequest) (*domain.InitResponse, error) {
	if strings.TrimSpace(req.FileName) == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidRequest)
	}
	if req.Size < 0 {
		return nil, fmt.Errorf("%w: file size must not be negative", ErrInvalidRequest)
	}
	if req.TotalChunks < 1 {
		return nil, fmt.Errorf("%w: total chunks must be at least 1", ErrInvalidRequest)
	}
	if s.cfg.MaxUploadBytes > 0 && req.Size > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: file size exceeds max limit (%d bytes)", ErrInvalidRequest, s.cfg.MaxUploadBytes)
	}

	// Resolve sees the raw target so ".." segments are not collapsed
	// away before containment is checked.
	target := normalizeTarget(req.Path)
	if _, err := s.files.Resolve(target + "/" + filepath.Base(req.FileName)); err != nil {
		return nil, err
	}

	sessionID := uuid.New()
	session := &domain.UploadSession{
		ID:             sessionID,
		UserID:         userID,
		Filename:       filepath.Base(req.FileName),
		MimeType:       mimeForName(req.FileName),
		TargetPath:     target,
		Status:         domain.SessionPending,
		TotalChunks:    req.TotalChunks,
		TotalSizeBytes: req.Size,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
	}
	s.logger.Info("upload session created",
		zap.String("session", sessionID.String()),
		zap.String("file", session.Filename),
		zap.Int("chunks", session.TotalChunks))

	chunkSize := s.cfg.DefaultChunkSizeBytes
	if req.TotalChunks > 0 && req.Size > 0 {
		chunkSize = (req.Size + int64(req.TotalChunks) - 1) / int64(req.TotalChunks)
	}
	return &domain.InitResponse{
		SessionID:   sessionID.String(),
		TotalChunks: req.TotalChunks,
		ChunkSize:   chunkSize,
	}, nil
}

// ReceiveChunk spools one chunk to temporary storage and updates progress.
// Chunks may arrive in any order; resubmitting an already-received index is
// an idempotent no-op that returns current progress.
func (s *Service) ReceiveChunk(ctx context.Context, sessionID uuid.UUID, chunkIndex int, data io.Reader) (*domain.ChunkResult, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch session.Status {
	case domain.SessionComplete, domain.SessionAssembling:
		return nil, ErrSessionComplete
	case domain.SessionFailed:
		return nil, ErrSessionFailed
	}
	if chunkIndex < 0 || chunkIndex >= session.TotalChunks {
		return nil, fmt.Errorf("%w: %d of %d", ErrChunkOutOfRange, chunkIndex, session.TotalChunks)
	}

	if s.tempStore.HasChunk(sessionID, chunkIndex) {
		return &domain.ChunkResult{
			Received:   session.ReceivedChunks,
			Total:      session.TotalChunks,
			IsComplete: session.ReceivedChunks == session.TotalChunks,
		}, nil
	}

	written, _, err := s.tempStore.WriteChunk(sessionID, chunkIndex, data)
	if errors.Is(err, temp.ErrChunkExists) {
		// Lost the race to a concurrent duplicate. Only the winner advances
		// progress; report whatever the session shows now.
		current, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return &domain.ChunkResult{
			Received:   current.ReceivedChunks,
			Total:      current.TotalChunks,
			IsComplete: current.ReceivedChunks == current.TotalChunks,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.store.AdvanceSessionProgress(ctx, sessionID, written); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ChunksReceived.Inc()
	}

	received := session.ReceivedChunks + 1
	return &domain.ChunkResult{
		Received:   received,
		Total:      session.TotalChunks,
		IsComplete: received == session.TotalChunks,
	}, nil
}

// Status returns current progress plus the chunk indices still missing, so
// a client can resume after a dropped connection.
func (s *Service) Status(ctx context.Context, sessionID uuid.UUID) (*domain.StatusResponse, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &domain.StatusResponse{
		SessionID: session.ID.String(),
		Status:    session.Status,
		Received:  session.ReceivedChunks,
		Total:     session.TotalChunks,
		Missing:   s.tempStore.Missing(sessionID, session.TotalChunks),
	}, nil
}

// Finalize concatenates chunks in index order into the destination file,
// registers the FileEntity, and cleans up the session. An I/O failure
// during concatenation is retried once; the second failure marks the
// session failed and keeps the chunks on disk for inspection.
func (s *Service) Finalize(ctx context.Context, sessionID uuid.UUID) (*domain.FileEntity, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch session.Status {
	case domain.SessionComplete, domain.SessionAssembling:
		return nil, ErrSessionComplete
	case domain.SessionFailed:
		return nil, ErrSessionFailed
	}
	if session.ReceivedChunks != session.TotalChunks {
		return nil, fmt.Errorf("%w: received %d/%d chunks", ErrSessionIncomplete, session.ReceivedChunks, session.TotalChunks)
	}

	// The claim is a compare-and-set; only one concurrent Finalize gets to
	// assemble and register the file.
	claimed, err := s.store.ClaimSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrSessionComplete
	}

	destPath := path.Join(session.TargetPath, session.Filename)

	size, checksum, err := s.assemble(session, destPath)
	if err != nil {
		s.logger.Warn("assembly failed, retrying once",
			zap.String("session", sessionID.String()), zap.Error(err))
		size, checksum, err = s.assemble(session, destPath)
	}
	if err != nil {
		_ = s.store.UpdateSessionStatus(ctx, sessionID, domain.SessionFailed)
		return nil, fmt.Errorf("%w: %v", ErrAssembly, err)
	}

	entity := &domain.FileEntity{
		ID:        uuid.New(),
		UserID:    session.UserID,
		Name:      session.Filename,
		Path:      destPath,
		SizeBytes: size,
		MimeType:  session.MimeType,
		Kind:      domain.KindForName(session.Filename),
		Checksum:  checksum,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertFile(ctx, entity); err != nil {
		return nil, err
	}

	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		s.logger.Warn("failed to delete finished session", zap.Error(err))
	}
	if err := s.tempStore.RemoveSession(sessionID); err != nil {
		s.logger.Warn("failed to remove temp chunks", zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.UploadsFinalized.Inc()
	}
	s.logger.Info("upload finalized",
		zap.String("file", entity.ID.String()),
		zap.String("path", destPath),
		zap.Int64("bytes", size))

	return entity, nil
}

// Abort cancels an in-progress upload and removes temporary data.
func (s *Service) Abort(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status == domain.SessionComplete {
		return ErrSessionComplete
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	return s.tempStore.RemoveSession(sessionID)
}

// SweepExpired reclaims sessions with no chunk activity past the
// configured timeout: temp chunks are removed and the session marked
// failed. Returns how many sessions were reclaimed.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.SessionTimeout)
	expired, err := s.store.ListExpiredSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, session := range expired {
		if err := s.tempStore.RemoveSession(session.ID); err != nil {
			s.logger.Warn("failed to remove temp chunks for expired session",
				zap.String("session", session.ID.String()), zap.Error(err))
		}
		if err := s.store.UpdateSessionStatus(ctx, session.ID, domain.SessionFailed); err != nil {
			s.logger.Warn("failed to mark expired session",
				zap.String("session", session.ID.String()), zap.Error(err))
			continue
		}
		if s.metrics != nil {
			s.metrics.SessionsExpired.Inc()
		}
	}
	return len(expired), nil
}

// RunSweeper periodically reclaims abandoned sessions until ctx is done.
func (s *Service) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SweepExpired(ctx); err != nil {
				s.logger.Error("session sweep failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Info("reclaimed expired sessions", zap.Int("count", n))
			}
		}
	}
}

func (s *Service) assemble(session *domain.UploadSession, destPath string) (int64, string, error) {
	readers := make([]io.Reader, 0, session.TotalChunks)
	files := make([]io.Closer, 0, session.TotalChunks)
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	for i := 0; i < session.TotalChunks; i++ {
		chunk, err := s.tempStore.OpenChunk(session.ID, i)
		if err != nil {
			return 0, "", fmt.Errorf("open chunk %d: %w", i, err)
		}
		files = append(files, chunk)
		readers = append(readers, chunk)
	}

	hasher := sha256.New()
	size, err := s.files.WriteAtomic(destPath, io.TeeReader(io.MultiReader(readers...), hasher))
	if err != nil {
		return 0, "", err
	}
	if session.TotalSizeBytes > 0 && size != session.TotalSizeBytes {
		return 0, "", fmt.Errorf("assembled %d bytes, expected %d", size, session.TotalSizeBytes)
	}
	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

func normalizeTarget(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func mimeForName(name string) string {
	if m := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); m != "" {
		return m
	}
	return "application/octet-stream"
}
