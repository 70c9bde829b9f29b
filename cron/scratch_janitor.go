// Package cron hosts the scheduled maintenance jobs.
package cron

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"packclip/config"
)

// scratchSubdirs are the scratch roots the clip pipeline allocates under
// TempVideoDir. Keep in sync with the processor's directory layout.
var scratchSubdirs = []string{"raw", "merged", "output"}

// StartScratchJanitor schedules an hourly sweep that removes scratch
// directories older than the configured age. Jobs clean up after
// themselves; this catches directories leaked by a crash midway through a
// job. Returns the scheduler so the caller can stop it on shutdown.
func StartScratchJanitor(cfg *config.Config) *cron.Cron {
	maxAge := time.Duration(cfg.ScratchMaxAgeHours) * time.Hour

	schedule := cron.New()
	_, err := schedule.AddFunc("@hourly", func() {
		CleanScratchDirs(cfg.TempVideoDir, maxAge)
	})
	if err != nil {
		log.Printf("Error scheduling scratch janitor: %v", err)
		return schedule
	}

	schedule.Start()
	log.Printf("Scratch janitor started (max age %s)", maxAge)
	return schedule
}

// CleanScratchDirs removes per-job scratch directories whose last
// modification is older than maxAge.
func CleanScratchDirs(tempVideoDir string, maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, sub := range scratchSubdirs {
		root := filepath.Join(tempVideoDir, sub)
		entries, err := os.ReadDir(root)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Printf("Scratch janitor: failed to read %s: %v", root, err)
			}
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			if err := os.RemoveAll(dir); err != nil {
				log.Printf("Scratch janitor: failed to remove %s: %v", dir, err)
				continue
			}
			removed++
		}
	}

	if removed > 0 {
		log.Printf("Scratch janitor removed %d stale scratch directories", removed)
	}
}
