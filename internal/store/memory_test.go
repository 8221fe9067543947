package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nasdrive-backend/internal/domain"
)

func TestMemoryClaimSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	session := &domain.UploadSession{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Filename:    "claim.bin",
		TargetPath:  "/incoming",
		Status:      domain.SessionReceiving,
		TotalChunks: 1,
	}
	require.NoError(t, s.CreateSession(ctx, session))

	claimed, err := s.ClaimSession(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim loses; the status already moved on.
	claimed, err = s.ClaimSession(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionAssembling, got.Status)

	_, err = s.ClaimSession(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
