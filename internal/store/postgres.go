package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nasdrive-backend/internal/domain"
)

// PostgresStore implements Store using a PostgreSQL database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database using the provided connection
// string and applies pending migrations.
func NewPostgresStore(ctx context.Context, conn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(conn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) CreateSession(ctx context.Context, u *domain.UploadSession) error {
	query := `
		INSERT INTO upload_sessions (
			id, user_id, filename, mime_type, target_path, status,
			total_chunks, total_size_bytes, received_chunks, received_bytes,
			created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,0,0,now(),now()
		)
	`
	_, err := s.pool.Exec(ctx, query,
		u.ID, u.UserID, u.Filename, u.MimeType, u.TargetPath, string(u.Status),
		u.TotalChunks, u.TotalSizeBytes,
	)
	return err
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.UploadSession, error) {
	query := `
		SELECT id, user_id, filename, mime_type, target_path, status,
		       total_chunks, total_size_bytes, received_chunks, received_bytes,
		       created_at, updated_at
		FROM upload_sessions
		WHERE id = $1
	`
	row := s.pool.QueryRow(ctx, query, sessionID)
	var u domain.UploadSession
	var status string
	err := row.Scan(
		&u.ID,
		&u.UserID,
		&u.Filename,
		&u.MimeType,
		&u.TargetPath,
		&status,
		&u.TotalChunks,
		&u.TotalSizeBytes,
		&u.ReceivedChunks,
		&u.ReceivedBytes,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Status = domain.SessionStatus(status)
	return &u, nil
}

func (s *PostgresStore) UpdateSessionStatus(ctx context.Context, sessionID uuid.UUID, status domain.SessionStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE upload_sessions SET status=$2, updated_at=now() WHERE id=$1
	`, sessionID, string(status))
	return err
}

func (s *PostgresStore) ClaimSession(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE upload_sessions
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status IN ($3, $4)
	`, sessionID, string(domain.SessionAssembling),
		string(domain.SessionPending), string(domain.SessionReceiving))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) AdvanceSessionProgress(ctx context.Context, sessionID uuid.UUID, chunkSize int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE upload_sessions
		SET received_chunks = received_chunks + 1,
		    received_bytes = received_bytes + $2,
		    status = $3,
		    updated_at = now()
		WHERE id = $1 AND received_chunks < total_chunks
	`, sessionID, chunkSize, string(domain.SessionReceiving))
	return err
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM upload_sessions WHERE id=$1`, sessionID)
	return err
}

func (s *PostgresStore) ListExpiredSessions(ctx context.Context, idleSince time.Time) ([]domain.UploadSession, error) {
	query := `
		SELECT id, user_id, filename, mime_type, target_path, status,
		       total_chunks, total_size_bytes, received_chunks, received_bytes,
		       created_at, updated_at
		FROM upload_sessions
		WHERE updated_at < $1 AND status IN ($2, $3, $4)
	`
	rows, err := s.pool.Query(ctx, query, idleSince,
		string(domain.SessionPending), string(domain.SessionReceiving),
		string(domain.SessionAssembling))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.UploadSession
	for rows.Next() {
		var u domain.UploadSession
		var status string
		if err := rows.Scan(
			&u.ID, &u.UserID, &u.Filename, &u.MimeType, &u.TargetPath, &status,
			&u.TotalChunks, &u.TotalSizeBytes, &u.ReceivedChunks, &u.ReceivedBytes,
			&u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, err
		}
		u.Status = domain.SessionStatus(status)
		sessions = append(sessions, u)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) InsertFile(ctx context.Context, f *domain.FileEntity) error {
	query := `
		INSERT INTO files (id, user_id, name, path, size_bytes, mime_type, kind, checksum, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
	`
	_, err := s.pool.Exec(ctx, query,
		f.ID, f.UserID, f.Name, f.Path, f.SizeBytes, f.MimeType, string(f.Kind), f.Checksum,
	)
	return err
}

func (s *PostgresStore) GetFile(ctx context.Context, fileID uuid.UUID) (*domain.FileEntity, error) {
	query := `
		SELECT id, user_id, name, path, size_bytes, mime_type, kind, checksum, created_at
		FROM files
		WHERE id = $1
	`
	row := s.pool.QueryRow(ctx, query, fileID)
	var f domain.FileEntity
	var kind string
	err := row.Scan(&f.ID, &f.UserID, &f.Name, &f.Path, &f.SizeBytes, &f.MimeType, &kind, &f.Checksum, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	f.Kind = domain.MediaKind(kind)
	return &f, nil
}

func (s *PostgresStore) ListFiles(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.FileEntity, error) {
	query := `
		SELECT id, user_id, name, path, size_bytes, mime_type, kind, checksum, created_at
		FROM files
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []domain.FileEntity
	for rows.Next() {
		var f domain.FileEntity
		var kind string
		if err := rows.Scan(&f.ID, &f.UserID, &f.Name, &f.Path, &f.SizeBytes, &f.MimeType, &kind, &f.Checksum, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Kind = domain.MediaKind(kind)
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *PostgresStore) DeleteFile(ctx context.Context, fileID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM files WHERE id=$1`, fileID)
	return err
}
