package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionStatus captures lifecycle of an upload session. Transitions only
// move forward: pending -> receiving -> assembling -> complete | failed.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionReceiving  SessionStatus = "receiving"
	SessionAssembling SessionStatus = "assembling"
	SessionComplete   SessionStatus = "complete"
	SessionFailed     SessionStatus = "failed"
)

// MediaKind classifies a stored file by what its extension suggests.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaOther    MediaKind = "other"
)

// UploadSession represents a chunked upload in progress.
type UploadSession struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Filename       string
	MimeType       string
	TargetPath     string
	Status         SessionStatus
	TotalChunks    int
	TotalSizeBytes int64
	ReceivedChunks int
	ReceivedBytes  int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FileEntity is the durable record written after a successful finalize.
type FileEntity struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Name      string
	Path      string
	SizeBytes int64
	MimeType  string
	Kind      MediaKind
	Checksum  string
	CreatedAt time.Time
}

// InitRequest contains payload from the client during initialization.
type InitRequest struct {
	FileName    string `json:"filename"`
	Size        int64  `json:"size"`
	TotalChunks int    `json:"totalChunks"`
	Path        string `json:"path"`
}

// InitResponse describes upload session info returned to the client.
type InitResponse struct {
	SessionID   string `json:"sessionId"`
	TotalChunks int    `json:"totalChunks"`
	ChunkSize   int64  `json:"chunkSize"`
}

// ChunkResult is returned after each chunk is processed.
type ChunkResult struct {
	Received   int  `json:"received"`
	Total      int  `json:"total"`
	IsComplete bool `json:"isComplete"`
}

// StatusResponse exposes upload progress for resume/polling. Missing lists
// the chunk indices the client still needs to send.
type StatusResponse struct {
	SessionID string        `json:"sessionId"`
	Status    SessionStatus `json:"status"`
	Received  int           `json:"received"`
	Total     int           `json:"total"`
	Missing   []int         `json:"missing"`
}

// KindForName maps a file name to a MediaKind by extension.
func KindForName(name string) MediaKind {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return MediaOther
	}
	switch strings.ToLower(name[idx+1:]) {
	case "jpg", "jpeg", "png", "gif", "webp", "bmp", "tif", "tiff", "heic":
		return MediaImage
	case "mp4", "mov", "mkv", "webm", "avi", "wmv", "m4v", "mpg", "mpeg", "3gp", "ts", "flv":
		return MediaVideo
	case "mp3", "wav", "flac", "ogg", "opus", "aac", "m4a", "wma":
		return MediaAudio
	case "pdf", "txt", "md", "doc", "docx", "xls", "xlsx", "ppt", "pptx", "odt", "csv":
		return MediaDocument
	default:
		return MediaOther
	}
}
