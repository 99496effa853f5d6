package cache

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
)

// RetainRecentFiles keeps the most recent `keep` files (by mtime) under
// dir matching glob and deletes the rest. Errors removing an individual
// file are logged, not returned — a filesystem stall on one file must
// never abort cleanup of the others.
func RetainRecentFiles(dir, glob string, keep int) {
	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		log.Printf("retention: glob %s in %s: %v", glob, dir, err)
		return
	}

	type entry struct {
		path  string
		mtime int64
		size  int64
	}
	entries := make([]entry, 0, len(matches))
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		entries = append(entries, entry{path: m, mtime: fi.ModTime().UnixNano(), size: fi.Size()})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].mtime > entries[j].mtime })

	if len(entries) <= keep {
		return
	}
	for _, e := range entries[keep:] {
		if err := os.Remove(e.path); err != nil {
			log.Printf("retention: failed to remove %s: %v", e.path, err)
			continue
		}
		log.Printf("retention: removed %s (%s)", e.path, humanize.Bytes(uint64(e.size)))
	}
}

// RetainRecentFilesAsync runs RetainRecentFiles on a short-lived goroutine
// so the caller is never blocked by a filesystem stall (e.g. a network
// mount backing the capture directory).
func RetainRecentFilesAsync(dir, glob string, keep int) {
	go RetainRecentFiles(dir, glob, keep)
}
