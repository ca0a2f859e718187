// Package janitor implements StorageJanitor: a background task that
// caps on-disk recording storage and sweeps orphaned files. See spec
// §4.7. Grounded on
// original_source/video-feed/videofeed/recorder.py's
// `_storage_cleanup_loop`/`_cleanup_old_recordings` (hourly tick,
// oldest-20 eviction down to 80% of the cap) translated to Go's
// ticker-driven background-goroutine idiom used across the pack for
// periodic maintenance tasks.
package janitor

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sentineld/internal/catalogue"
)

// Catalogue is the subset of *catalogue.Catalogue the janitor depends on.
type Catalogue interface {
	OldestRetained(n int) ([]catalogue.Row, error)
	MarkEvicted(id int64) error
	RetainedFilePaths() (map[string]struct{}, error)
}

// Janitor periodically caps storage under RecordingsDir and sweeps
// orphaned files.
type Janitor struct {
	catalogue       Catalogue
	recordingsDir   string
	maxStorageBytes int64
	interval        time.Duration
	orphanAge       time.Duration
}

// Config configures a Janitor.
type Config struct {
	Catalogue       Catalogue
	RecordingsDir   string
	MaxStorageBytes int64
	Interval        time.Duration // default 1 hour
	OrphanAge       time.Duration // default 10 minutes
}

// New builds a Janitor.
func New(cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.OrphanAge <= 0 {
		cfg.OrphanAge = 10 * time.Minute
	}
	return &Janitor{
		catalogue:       cfg.Catalogue,
		recordingsDir:   cfg.RecordingsDir,
		maxStorageBytes: cfg.MaxStorageBytes,
		interval:        cfg.Interval,
		orphanAge:       cfg.OrphanAge,
	}
}

// Run blocks, ticking at Interval until ctx is canceled. Meant to be
// run in its own goroutine by the Supervisor.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Tick()
		}
	}
}

// Tick performs one maintenance pass: eviction then orphan sweep
// (spec §4.7).
func (j *Janitor) Tick() {
	if err := j.evict(); err != nil {
		log.Printf("[janitor] eviction pass failed: %v", err)
	}
	if err := j.sweepOrphans(); err != nil {
		log.Printf("[janitor] orphan sweep failed: %v", err)
	}
}

// evict implements spec §4.7 steps 1-4: evict oldest retained rows
// while total size exceeds the cap, stopping once under 80% of it.
func (j *Janitor) evict() error {
	if j.maxStorageBytes <= 0 {
		return nil
	}

	total, err := dirSize(j.recordingsDir)
	if err != nil {
		return err
	}
	if total <= j.maxStorageBytes {
		return nil
	}

	lowWater := int64(0.8 * float64(j.maxStorageBytes))

	for total > lowWater {
		oldest, err := j.catalogue.OldestRetained(20)
		if err != nil {
			return err
		}
		if len(oldest) == 0 {
			break // nothing left to evict
		}

		for _, row := range oldest {
			sz := fileSize(row.FilePath) + fileSize(row.ThumbnailPath)
			if err := os.Remove(row.FilePath); err != nil && !os.IsNotExist(err) {
				log.Printf("[janitor] evict %s: %v", row.FilePath, err)
			}
			if row.ThumbnailPath != "" {
				if err := os.Remove(row.ThumbnailPath); err != nil && !os.IsNotExist(err) {
					log.Printf("[janitor] evict thumbnail %s: %v", row.ThumbnailPath, err)
				}
			}
			if err := j.catalogue.MarkEvicted(row.ID); err != nil {
				log.Printf("[janitor] mark evicted id=%d: %v", row.ID, err)
			}
			total -= sz
			if total <= lowWater {
				break
			}
		}
	}
	return nil
}

// mediaExtensions are the only file types the orphan sweep will ever
// remove (spec §6's path-validation extension set). This keeps the
// sweep off the catalogue database and any other non-media file that
// happens to live under recordingsDir.
var mediaExtensions = map[string]struct{}{
	".mp4":  {},
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webm": {},
}

// sweepOrphans implements spec §4.7's orphan sweep: any media file
// under recordingsDir older than orphanAge that no retained row
// references is deleted.
func (j *Janitor) sweepOrphans() error {
	retained, err := j.catalogue.RetainedFilePaths()
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-j.orphanAge)

	return filepath.WalkDir(j.recordingsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := mediaExtensions[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil // never touch the catalogue db or its -wal/-shm sidecars
		}
		if _, ok := retained[path]; ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil // too young, may still be an in-progress recording
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("[janitor] orphan sweep remove %s: %v", path, err)
		}
		return nil
	})
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func fileSize(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
