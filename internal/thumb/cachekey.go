package thumb

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// DeriveKey computes a stable identifier for one specific rendering of one
// specific source file. The source's modification time is part of the
// digest, so touching the file invalidates every cached rendering of it
// without an explicit invalidation step.
//
// If the source cannot be stat'ed the key is salted with the current wall
// clock: caching is forgone for that one request instead of blocking it.
func DeriveKey(sourcePath string, opts Options) string {
	opts = opts.Normalize()

	var stamp int64
	if info, err := os.Stat(sourcePath); err == nil {
		stamp = info.ModTime().UnixNano()
	} else {
		stamp = time.Now().UnixNano()
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%dx%d:%s:%s",
		sourcePath, stamp, opts.Width, opts.Height, opts.Format, opts.Fit)))

	// 128 bits is plenty for collision resistance here.
	return hex.EncodeToString(sum[:16])
}
