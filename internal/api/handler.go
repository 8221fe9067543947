package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"nasdrive-backend/internal/config"
	"nasdrive-backend/internal/domain"
	"nasdrive-backend/internal/storage"
	"nasdrive-backend/internal/store"
	"nasdrive-backend/internal/thumb"
	"nasdrive-backend/internal/upload"
)

// Handler wires HTTP routes to the upload service and the thumbnail queue.
type Handler struct {
	cfg     *config.Config
	uploads *upload.Service
	thumbs  *thumb.Queue
	store   store.Store
	files   *storage.Root
	metrics http.Handler
	logger  *zap.Logger
}

// NewHandler creates a Handler instance. metricsHandler may be nil.
func NewHandler(cfg *config.Config, uploads *upload.Service, thumbs *thumb.Queue, st store.Store, files *storage.Root, metricsHandler http.Handler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg:     cfg,
		uploads: uploads,
		thumbs:  thumbs,
		store:   st,
		files:   files,
		metrics: metricsHandler,
		logger:  logger,
	}
}

// Router returns a configured chi router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-User-Id", "X-Session-Id", "X-Chunk-Index"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/upload", func(r chi.Router) {
			r.Post("/init", h.withAuth(h.handleInit))
			r.Post("/chunk", h.withAuth(h.handleChunk))
			r.Post("/{sessionID}/finalize", h.withAuth(h.handleFinalize))
			r.Post("/{sessionID}/abort", h.withAuth(h.handleAbort))
			r.Get("/{sessionID}", h.withAuth(h.handleStatus))
		})
		r.Route("/files", func(r chi.Router) {
			r.Get("/{fileID}", h.withAuth(h.handleFileMeta))
			r.Get("/{fileID}/download", h.withAuth(h.handleDownload))
			r.Get("/{fileID}/thumbnail", h.withAuth(h.handleThumbnail))
		})
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request, user uuid.UUID) {
	var req domain.InitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	res, err := h.uploads.Init(r.Context(), user, req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleChunk accepts the raw chunk as the request body. The session id
// and chunk index travel in headers so the payload stays untouched binary.
func (h *Handler) handleChunk(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	sessionID, err := uuid.Parse(r.Header.Get("X-Session-Id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	chunkIdxStr := r.Header.Get("X-Chunk-Index")
	if chunkIdxStr == "" {
		writeError(w, http.StatusBadRequest, "missing X-Chunk-Index header")
		return
	}
	chunkIdx, err := strconv.Atoi(chunkIdxStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chunk index")
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.cfg.MaxChunkSizeBytes)
	result, err := h.uploads.ReceiveChunk(r.Context(), sessionID, chunkIdx, body)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	entity, err := h.uploads.Finalize(r.Context(), sessionID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fileId":   entity.ID.String(),
		"path":     entity.Path,
		"name":     entity.Name,
		"size":     entity.SizeBytes,
		"checksum": entity.Checksum,
	})
}

func (h *Handler) handleAbort(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	if err := h.uploads.Abort(r.Context(), sessionID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	status, err := h.uploads.Status(r.Context(), sessionID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleFileMeta(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	entity, ok := h.lookupFile(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"fileId":   entity.ID.String(),
		"name":     entity.Name,
		"path":     entity.Path,
		"size":     entity.SizeBytes,
		"mimeType": entity.MimeType,
		"kind":     entity.Kind,
		"checksum": entity.Checksum,
		"created":  entity.CreatedAt,
	})
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	entity, ok := h.lookupFile(w, r)
	if !ok {
		return
	}
	reader, err := h.files.Open(entity.Path)
	if err != nil {
		writeError(w, http.StatusNotFound, "stored file missing")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", entity.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(entity.SizeBytes, 10))
	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Warn("download interrupted",
			zap.String("file", entity.ID.String()), zap.Error(err))
	}
}

func (h *Handler) handleThumbnail(w http.ResponseWriter, r *http.Request, _ uuid.UUID) {
	entity, ok := h.lookupFile(w, r)
	if !ok {
		return
	}
	sourcePath, err := h.files.Resolve(entity.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := thumb.Options{
		Width:   queryInt(r, "width"),
		Height:  queryInt(r, "height"),
		Format:  r.URL.Query().Get("format"),
		Quality: queryInt(r, "quality"),
		Fit:     thumb.Fit(r.URL.Query().Get("fit")),
	}.Normalize()

	cachePath, err := h.thumbs.Request(r.Context(), sourcePath, opts)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	switch opts.Format {
	case "png":
		w.Header().Set("Content-Type", "image/png")
	default:
		w.Header().Set("Content-Type", "image/jpeg")
	}
	http.ServeFile(w, r, cachePath)
}

func (h *Handler) lookupFile(w http.ResponseWriter, r *http.Request) (*domain.FileEntity, bool) {
	fileID, err := uuid.Parse(chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid file id")
		return nil, false
	}
	entity, err := h.store.GetFile(r.Context(), fileID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return nil, false
	}
	return entity, true
}

// statusFor maps the service error taxonomy onto HTTP status codes. This
// is the only place that translation happens.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrSessionNotFound),
		errors.Is(err, store.ErrFileNotFound),
		errors.Is(err, thumb.ErrSourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, upload.ErrSessionComplete):
		return http.StatusConflict
	case errors.Is(err, storage.ErrPathTraversal),
		errors.Is(err, upload.ErrInvalidRequest),
		errors.Is(err, upload.ErrChunkOutOfRange),
		errors.Is(err, upload.ErrSessionIncomplete),
		errors.Is(err, upload.ErrSessionFailed):
		return http.StatusBadRequest
	case errors.Is(err, thumb.ErrTranscode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, upload.ErrAssembly):
		return http.StatusInternalServerError
	default:
		// Anything outside the taxonomy is an unexpected failure, not
		// client input.
		return http.StatusInternalServerError
	}
}

type authedHandler func(http.ResponseWriter, *http.Request, uuid.UUID)

func (h *Handler) withAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" || apiKey != h.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		userIDHeader := r.Header.Get("X-User-Id")
		if userIDHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing user id")
			return
		}
		userID, err := uuid.Parse(userIDHeader)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid user id")
			return
		}
		next(w, r, userID)
	}
}

func queryInt(r *http.Request, key string) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return 0
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
