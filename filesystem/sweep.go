package filesystem

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// TempSuffix marks files that are still being written and are renamed into place once complete.
const TempSuffix = ".tmp"

// SweepTemporaryFiles removes files in dir ending in TempSuffix that were last modified
// more than maxAge ago. Such files are left behind when the process stops mid-upload.
// It returns the number of files removed.
func SweepTemporaryFiles(ctx context.Context, fs Filesystem, dir string, maxAge time.Duration) (int, error) {
	files, err := fs.ListFiles(dir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		if !strings.HasSuffix(file.Path, TempSuffix) || file.ModTime.After(cutoff) {
			continue
		}

		if err := fs.DeleteFile(file.Path); err != nil {
			slog.Error("removing stale temporary file error", "path", file.Path, "error", err)
			continue
		}
		removed++
	}

	return removed, nil
}
