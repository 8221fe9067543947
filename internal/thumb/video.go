package thumb

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"
	"time"

	"github.com/disintegration/imaging"
)

// frameOffset is how far into playback the representative frame is taken.
const frameOffset = 1 * time.Second

// FrameExtractor pulls a single still frame out of a video container.
// Implementations are injectable so tests can force the failure path.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, sourcePath string, offset time.Duration) (image.Image, error)
}

// FFmpegExtractor shells out to ffmpeg for frame extraction. Every
// invocation runs under its own deadline so a wedged subprocess cannot pin
// a worker slot forever.
type FFmpegExtractor struct {
	Bin     string
	Timeout time.Duration
}

// NewFFmpegExtractor creates an extractor for the given ffmpeg binary.
func NewFFmpegExtractor(bin string, timeout time.Duration) *FFmpegExtractor {
	if bin == "" {
		bin = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FFmpegExtractor{Bin: bin, Timeout: timeout}
}

func (e *FFmpegExtractor) ExtractFrame(ctx context.Context, sourcePath string, offset time.Duration) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	args := []string{
		"-ss", fmt.Sprintf("%.3f", offset.Seconds()),
		"-i", sourcePath,
		"-frames:v", "1",
		"-f", "image2",
		"-vcodec", "mjpeg",
		"pipe:1",
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.Bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %v: %s", err, firstLine(stderr.Bytes()))
	}

	frame, err := imaging.Decode(bytes.NewReader(stdout.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("decode extracted frame: %w", err)
	}
	return frame, nil
}

func firstLine(b []byte) []byte {
	if idx := bytes.IndexByte(b, '\n'); idx >= 0 {
		return b[:idx]
	}
	return b
}
