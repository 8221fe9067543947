package upload

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nasdrive-backend/internal/config"
	"nasdrive-backend/internal/domain"
	"nasdrive-backend/internal/storage"
	"nasdrive-backend/internal/store"
	"nasdrive-backend/internal/temp"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore, *storage.Root) {
	t.Helper()

	cfg := &config.Config{
		DefaultChunkSizeBytes: 1024,
		MaxChunkSizeBytes:     4 * 1024 * 1024,
		MaxUploadBytes:        64 * 1024 * 1024,
		SessionTimeout:        time.Hour,
		SweepInterval:         time.Minute,
	}

	db := store.NewMemoryStore()
	tempStore, err := temp.NewStore(t.TempDir())
	require.NoError(t, err)
	files, err := storage.NewRoot(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, files.EnsureLayout())

	return NewService(cfg, db, tempStore, files, nil, nil), db, files
}

func initSession(t *testing.T, svc *Service, name string, size int64, totalChunks int) uuid.UUID {
	t.Helper()
	res, err := svc.Init(context.Background(), uuid.New(), domain.InitRequest{
		FileName:    name,
		Size:        size,
		TotalChunks: totalChunks,
		Path:        "/incoming",
	})
	require.NoError(t, err)
	id, err := uuid.Parse(res.SessionID)
	require.NoError(t, err)
	return id
}

func readStored(t *testing.T, files *storage.Root, virtual string) []byte {
	t.Helper()
	reader, err := files.Open(virtual)
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	return data
}

func TestInitValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	user := uuid.New()

	_, err := svc.Init(ctx, user, domain.InitRequest{FileName: "", Size: 1, TotalChunks: 1})
	assert.Error(t, err)

	_, err = svc.Init(ctx, user, domain.InitRequest{FileName: "a.txt", Size: -1, TotalChunks: 1})
	assert.Error(t, err)

	_, err = svc.Init(ctx, user, domain.InitRequest{FileName: "a.txt", Size: 1, TotalChunks: 0})
	assert.Error(t, err)
}

func TestInitRejectsPathTraversal(t *testing.T) {
	svc, db, _ := newTestService(t)

	_, err := svc.Init(context.Background(), uuid.New(), domain.InitRequest{
		FileName:    "passwd",
		Size:        10,
		TotalChunks: 1,
		Path:        "/../../etc",
	})
	require.ErrorIs(t, err, storage.ErrPathTraversal)

	// No session row may exist after the rejection.
	expired, err := db.ListExpiredSessions(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestChunkOrderPermutations(t *testing.T) {
	chunks := [][]byte{
		[]byte("alpha-alpha-alpha"),
		[]byte("bravo"),
		[]byte("charlie-charlie"),
	}
	var want []byte
	for _, c := range chunks {
		want = append(want, c...)
	}

	orders := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}
	for _, order := range orders {
		svc, _, files := newTestService(t)
		ctx := context.Background()
		id := initSession(t, svc, "perm.bin", int64(len(want)), len(chunks))

		for _, idx := range order {
			_, err := svc.ReceiveChunk(ctx, id, idx, bytes.NewReader(chunks[idx]))
			require.NoError(t, err)
		}

		entity, err := svc.Finalize(ctx, id)
		require.NoError(t, err, "order %v", order)
		assert.Equal(t, want, readStored(t, files, entity.Path), "order %v", order)
	}
}

func TestDuplicateChunkIsIdempotent(t *testing.T) {
	svc, _, files := newTestService(t)
	ctx := context.Background()

	payload := [][]byte{[]byte("first"), []byte("second")}
	total := int64(len(payload[0]) + len(payload[1]))
	id := initSession(t, svc, "dup.bin", total, 2)

	res, err := svc.ReceiveChunk(ctx, id, 0, bytes.NewReader(payload[0]))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Received)

	// Resubmit the same index; progress must not advance.
	res, err = svc.ReceiveChunk(ctx, id, 0, bytes.NewReader(payload[0]))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Received)

	res, err = svc.ReceiveChunk(ctx, id, 1, bytes.NewReader(payload[1]))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Received)
	assert.True(t, res.IsComplete)

	entity, err := svc.Finalize(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, append(payload[0], payload[1]...), readStored(t, files, entity.Path))
}

// gatedReader parks each caller on its first Read so a test can hold
// several submissions mid-copy at the same time.
type gatedReader struct {
	data    io.Reader
	entered chan<- struct{}
	release <-chan struct{}
	once    sync.Once
}

func (g *gatedReader) Read(p []byte) (int, error) {
	g.once.Do(func() {
		g.entered <- struct{}{}
		<-g.release
	})
	return g.data.Read(p)
}

func TestConcurrentDuplicateChunkSubmissions(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("z"), 32*1024)
	id := initSession(t, svc, "race.bin", int64(len(payload)*2), 2)

	entered := make(chan struct{}, 2)
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]*domain.ChunkResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reader := &gatedReader{data: bytes.NewReader(payload), entered: entered, release: release}
			results[i], errs[i] = svc.ReceiveChunk(ctx, id, 0, reader)
		}(i)
	}

	// Both submissions are now mid-copy, past any pre-write existence check.
	<-entered
	<-entered
	close(release)
	wg.Wait()

	// The duplicate must come back as progress, never as an error.
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, 2, res.Total)
	}

	// Progress advanced exactly once.
	session, err := db.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, session.ReceivedChunks)

	// The stored chunk is one writer's bytes, not a torn mix.
	chunk, err := svc.tempStore.OpenChunk(id, 0)
	require.NoError(t, err)
	defer chunk.Close()
	stored, err := io.ReadAll(chunk)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)
}

func TestConcurrentFinalizeRegistersOneFile(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id := initSession(t, svc, "once.bin", 4, 2)

	_, err := svc.ReceiveChunk(ctx, id, 0, bytes.NewReader([]byte("ab")))
	require.NoError(t, err)
	_, err = svc.ReceiveChunk(ctx, id, 1, bytes.NewReader([]byte("cd")))
	require.NoError(t, err)

	var wg sync.WaitGroup
	entities := make([]*domain.FileEntity, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entities[i], errs[i] = svc.Finalize(ctx, id)
		}(i)
	}
	wg.Wait()

	successes := 0
	for i := range errs {
		if errs[i] == nil {
			successes++
			require.NotNil(t, entities[i])
		} else {
			assert.Nil(t, entities[i])
		}
	}
	assert.Equal(t, 1, successes, "exactly one finalize may register the file")
}

func TestChunkIndexBounds(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id := initSession(t, svc, "bounds.bin", 4, 2)

	_, err := svc.ReceiveChunk(ctx, id, -1, bytes.NewReader([]byte("xx")))
	assert.ErrorIs(t, err, ErrChunkOutOfRange)

	_, err = svc.ReceiveChunk(ctx, id, 2, bytes.NewReader([]byte("xx")))
	assert.ErrorIs(t, err, ErrChunkOutOfRange)
}

func TestChunkUnknownSession(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ReceiveChunk(context.Background(), uuid.New(), 0, bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestFinalizeIncomplete(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id := initSession(t, svc, "partial.bin", 10, 3)

	_, err := svc.ReceiveChunk(ctx, id, 0, bytes.NewReader([]byte("12345")))
	require.NoError(t, err)

	_, err = svc.Finalize(ctx, id)
	assert.ErrorIs(t, err, ErrSessionIncomplete)
}

func TestEndToEndLargeUploadOutOfOrder(t *testing.T) {
	svc, db, files := newTestService(t)
	ctx := context.Background()

	// 5MB in 3 chunks: 2MB, 2MB, 1MB, arriving 2, 0, 1.
	const mb = 1024 * 1024
	original := make([]byte, 5*mb)
	_, err := rand.Read(original)
	require.NoError(t, err)
	chunks := [][]byte{original[:2*mb], original[2*mb : 4*mb], original[4*mb:]}

	id := initSession(t, svc, "large.bin", int64(len(original)), 3)

	for _, idx := range []int{2, 0, 1} {
		res, err := svc.ReceiveChunk(ctx, id, idx, bytes.NewReader(chunks[idx]))
		require.NoError(t, err)
		assert.Equal(t, 3, res.Total)
	}

	entity, err := svc.Finalize(ctx, id)
	require.NoError(t, err)

	wantSum := sha256.Sum256(original)
	assert.Equal(t, hex.EncodeToString(wantSum[:]), entity.Checksum)
	assert.Equal(t, int64(len(original)), entity.SizeBytes)
	assert.Equal(t, original, readStored(t, files, entity.Path))

	// Session record is gone after a successful finalize.
	_, err = svc.Status(ctx, id)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	// File row is queryable.
	got, err := db.GetFile(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaOther, got.Kind)
}

func TestStatusReportsMissingChunks(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id := initSession(t, svc, "resume.bin", 9, 3)

	_, err := svc.ReceiveChunk(ctx, id, 1, bytes.NewReader([]byte("mid")))
	require.NoError(t, err)

	status, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionReceiving, status.Status)
	assert.Equal(t, 1, status.Received)
	assert.Equal(t, []int{0, 2}, status.Missing)
}

func TestAbortRemovesSession(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id := initSession(t, svc, "gone.bin", 4, 2)

	_, err := svc.ReceiveChunk(ctx, id, 0, bytes.NewReader([]byte("ab")))
	require.NoError(t, err)

	require.NoError(t, svc.Abort(ctx, id))

	_, err = svc.Status(ctx, id)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestSweepExpiredMarksFailed(t *testing.T) {
	svc, db, _ := newTestService(t)
	svc.cfg.SessionTimeout = -time.Second // everything is instantly expired
	ctx := context.Background()
	id := initSession(t, svc, "stale.bin", 4, 2)

	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	session, err := db.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionFailed, session.Status)

	// A failed session accepts no further chunks.
	_, err = svc.ReceiveChunk(ctx, id, 0, bytes.NewReader([]byte("ab")))
	assert.ErrorIs(t, err, ErrSessionFailed)
}

func TestMediaKindDetection(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	id := initSession(t, svc, "movie.mp4", 3, 1)
	_, err := svc.ReceiveChunk(ctx, id, 0, bytes.NewReader([]byte("abc")))
	require.NoError(t, err)

	entity, err := svc.Finalize(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaVideo, entity.Kind)
	assert.Equal(t, "video/mp4", entity.MimeType)

	got, err := db.GetFile(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaVideo, got.Kind)
}
