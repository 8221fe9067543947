package thumb

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"nasdrive-backend/internal/domain"
	"nasdrive-backend/internal/observability"
)

// Queue bounds the number of concurrently running transcode operations
// while serving overlapping requests for cached derivatives.
//
// A cache hit never touches the worker pool. On a miss, requests for the
// same cache key converge on one in-flight job via singleflight; distinct
// keys wait on a weighted semaphore in FIFO order, so at most `workers`
// transcodes run at any instant.
type Queue struct {
	cacheDir  string
	extractor FrameExtractor
	slots     *semaphore.Weighted
	group     singleflight.Group
	logger    *zap.Logger
	metrics   *observability.Metrics

	jobsQueued atomic.Int64
}

// NewQueue constructs a Queue with the given worker limit. metrics may be
// nil in tests that do not observe it.
func NewQueue(cacheDir string, workers int, extractor FrameExtractor, metrics *observability.Metrics, logger *zap.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		cacheDir:  cacheDir,
		extractor: extractor,
		slots:     semaphore.NewWeighted(int64(workers)),
		logger:    logger,
		metrics:   metrics,
	}
}

// EnsureLayout creates the cache directory. Call once at startup.
func (q *Queue) EnsureLayout() error {
	return os.MkdirAll(q.cacheDir, 0o755)
}

// JobsQueued reports how many transcode jobs have ever been enqueued.
// Cache hits do not count.
func (q *Queue) JobsQueued() int64 {
	return q.jobsQueued.Load()
}

// CachePath returns where the rendering for key would live.
func (q *Queue) CachePath(key string, opts Options) string {
	opts = opts.Normalize()
	return filepath.Join(q.cacheDir, key+"."+opts.Format)
}

// Request returns the path of a cached rendering of sourcePath, generating
// it first if needed. The call suspends until its job completes; other
// callers are never blocked by it.
func (q *Queue) Request(ctx context.Context, sourcePath string, opts Options) (string, error) {
	opts = opts.Normalize()

	if _, err := os.Stat(sourcePath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrSourceNotFound, sourcePath)
	}

	key := DeriveKey(sourcePath, opts)
	cachePath := q.CachePath(key, opts)

	if _, err := os.Stat(cachePath); err == nil {
		if q.metrics != nil {
			q.metrics.ThumbCacheHits.Inc()
		}
		return cachePath, nil
	}

	result, err, _ := q.group.Do(key, func() (interface{}, error) {
		q.jobsQueued.Add(1)
		if q.metrics != nil {
			q.metrics.ThumbJobsQueued.Inc()
		}

		if err := q.slots.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer q.slots.Release(1)
		if q.metrics != nil {
			q.metrics.ThumbJobsRunning.Inc()
			defer q.metrics.ThumbJobsRunning.Dec()
		}

		// A previous holder of this key may have finished while we waited.
		if _, err := os.Stat(cachePath); err == nil {
			return cachePath, nil
		}

		if err := q.transcode(ctx, sourcePath, cachePath, opts); err != nil {
			if q.metrics != nil {
				q.metrics.ThumbJobsFailed.Inc()
			}
			return nil, err
		}
		return cachePath, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (q *Queue) transcode(ctx context.Context, sourcePath, cachePath string, opts Options) error {
	var img image.Image

	switch domain.KindForName(sourcePath) {
	case domain.MediaVideo:
		frame, err := q.extractor.ExtractFrame(ctx, sourcePath, frameOffset)
		if err != nil {
			// Any video failure yields the placeholder, never an error.
			q.logger.Warn("frame extraction failed, rendering placeholder",
				zap.String("source", sourcePath), zap.Error(err))
			if q.metrics != nil {
				q.metrics.ThumbPlaceholders.Inc()
			}
			img = renderPlaceholder(opts.Width, opts.Height, "VIDEO")
		} else {
			img = renderFit(frame, opts)
		}
	default:
		rendered, err := renderImage(sourcePath, opts)
		if err != nil {
			return err
		}
		img = rendered
	}

	return writeAtomic(cachePath, img, opts)
}

// writeAtomic encodes img next to cachePath and renames it into place, so
// a reader never observes a partially written cache file.
func writeAtomic(cachePath string, img image.Image, opts Options) error {
	tmpPath := cachePath + ".partial"
	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if err := encode(file, img, opts); err != nil {
		file.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, cachePath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
