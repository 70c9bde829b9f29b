// Package worker drives clip-extraction jobs: one Processor runs the
// pipeline for a single packing item, the batch loop and job queue feed it.
package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"packclip/clip"
	"packclip/config"
	"packclip/database"
	"packclip/nvr"
	"packclip/storage"
	"packclip/transcode"
)

// NVRClient is the recorder surface the pipeline needs: a segment search
// and a segment download.
type NVRClient interface {
	Search(ctx context.Context, start, end time.Time) ([]nvr.Segment, error)
	Download(ctx context.Context, playbackURI, destPath string) error
}

// ClipUploader pushes a finished clip to object storage and removes
// objects that never got a database record.
type ClipUploader interface {
	UploadClip(localPath, key string) (string, error)
	DeleteObject(key string) error
}

// Processor runs the clip-extraction pipeline for packing items
type Processor struct {
	cfg      *config.Config
	db       database.Database
	uploader ClipUploader

	// Pipeline stages, swappable in tests
	newNVRClient func(camCfg database.CameraConfig) NVRClient
	merge        func(segmentPaths []string, mergedPath string) error
	cut          func(mergedPath, outputPath string, startOffset, duration float64, exactCut bool) error
	checkDisk    func(path string, minBytes uint64) error
}

// NewProcessor creates a processor wired to the real pipeline stages
func NewProcessor(cfg *config.Config, db database.Database, uploader ClipUploader) *Processor {
	p := &Processor{
		cfg:       cfg,
		db:        db,
		uploader:  uploader,
		merge:     transcode.MergeSegments,
		cut:       transcode.CutClip,
		checkDisk: storage.CheckDiskSpace,
	}
	p.newNVRClient = func(camCfg database.CameraConfig) NVRClient {
		return nvr.NewClient(nvr.ClientConfig{
			BaseURL:     camCfg.BaseURL,
			Username:    camCfg.Username,
			Password:    camCfg.Password,
			TrackID:     cfg.TrackID,
			InsecureTLS: camCfg.InsecureTLS,
			Concurrency: cfg.DownloadConcurrency,
		})
	}
	return p
}

// ProcessItem runs the full pipeline for one packing item and records the
// outcome. batchItemID is empty when running outside a batch (manual
// trigger). Returns true on success. Errors never escape: they become an
// ERROR transition on the packing item plus, under a batch, a FAILED batch
// item carrying the message.
func (p *Processor) ProcessItem(ctx context.Context, item *database.PackingItem, batchItemID string) bool {
	if batchItemID != "" {
		if err := p.db.MarkBatchItemProcessing(batchItemID); err != nil {
			log.Printf("Warning: failed to mark batch item %s processing: %v", batchItemID, err)
		}
	}

	if err := p.extractClip(ctx, item); err != nil {
		// Cancellation is shutdown, not a defect in the item: keep its READY
		// status so the next run picks it up, and record the interruption on
		// the batch bookkeeping only.
		if ctx.Err() != nil {
			log.Printf("Shutdown interrupted packing item %s, leaving it ready for the next run", item.ID)
			if batchItemID != "" {
				if dbErr := p.db.MarkBatchItemFailed(batchItemID, "worker shut down mid-item"); dbErr != nil {
					log.Printf("Warning: failed to mark batch item %s failed: %v", batchItemID, dbErr)
				}
			}
			return false
		}

		log.Printf("Failed to process packing item %s: %v", item.ID, err)
		if batchItemID != "" {
			if dbErr := p.db.MarkBatchItemFailed(batchItemID, err.Error()); dbErr != nil {
				log.Printf("Warning: failed to mark batch item %s failed: %v", batchItemID, dbErr)
			}
		}
		if dbErr := p.db.UpdatePackingItemStatus(item.ID, database.PackingError); dbErr != nil {
			log.Printf("Warning: failed to mark packing item %s as error: %v", item.ID, dbErr)
		}
		return false
	}

	if batchItemID != "" {
		if err := p.db.MarkBatchItemSuccess(batchItemID); err != nil {
			log.Printf("Warning: failed to mark batch item %s success: %v", batchItemID, err)
		}
	}
	log.Printf("Successfully processed packing item %s", item.ID)
	return true
}

// ProcessItemByID looks an item up and runs it outside any batch record.
// Used by the manual-trigger queue.
func (p *Processor) ProcessItemByID(ctx context.Context, packingItemID string) bool {
	item, err := p.db.GetPackingItem(packingItemID)
	if err != nil {
		log.Printf("Failed to load packing item %s: %v", packingItemID, err)
		return false
	}
	if item == nil {
		log.Printf("Packing item %s not found", packingItemID)
		return false
	}
	if item.Status != database.PackingReadyForBatch {
		log.Printf("Packing item %s is not ready for processing (status: %s)", packingItemID, item.Status)
		return false
	}
	return p.ProcessItem(ctx, item, "")
}

// extractClip performs validate -> disk check -> scratch dirs -> search ->
// download -> merge -> trim -> upload -> record. Scratch directories are
// removed whatever the outcome.
func (p *Processor) extractClip(ctx context.Context, item *database.PackingItem) error {
	var scratchDirs []string
	defer func() { p.cleanupScratch(scratchDirs) }()

	if item.StartTime == nil || item.EndTime == nil {
		return fmt.Errorf("%w: packing item %s has no time window", clip.ErrValidation, item.ID)
	}
	start := item.StartTime.UTC()
	end := item.EndTime.UTC()
	if err := clip.ValidateWindow(start, end); err != nil {
		return err
	}

	camCfg, err := p.db.GetCameraConfig(item.CameraID)
	if err != nil {
		return err
	}

	// Refuse to start downloading onto a nearly full disk.
	if err := p.checkDisk(p.cfg.TempVideoDir, storage.MinFreeBytes); err != nil {
		return err
	}

	// Scratch dirs are namespaced by camera and item so concurrent jobs
	// never collide on disk.
	tag := fmt.Sprintf("%s_%s", item.CameraID, item.ID)
	rawDir := filepath.Join(p.cfg.TempVideoDir, "raw", tag)
	mergedDir := filepath.Join(p.cfg.TempVideoDir, "merged", tag)
	outputDir := filepath.Join(p.cfg.TempVideoDir, "output", tag)
	scratchDirs = []string{rawDir, mergedDir, outputDir}
	for _, dir := range scratchDirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create scratch directory %s: %v", dir, err)
		}
	}

	client := p.newNVRClient(*camCfg)

	segments, err := client.Search(ctx, start, end)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return fmt.Errorf("%w: camera %s has no footage for %s - %s", clip.ErrNoSegments,
			item.CameraID, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	downloader := clip.NewDownloader(client, p.cfg.DownloadConcurrency)
	downloaded, err := downloader.Fetch(ctx, segments, rawDir)
	if err != nil {
		return err
	}

	segmentPaths := make([]string, len(downloaded))
	for i, seg := range downloaded {
		segmentPaths[i] = seg.Path
	}
	mergedPath := filepath.Join(mergedDir, "merged.mp4")
	if err := p.merge(segmentPaths, mergedPath); err != nil {
		return err
	}

	reference := downloaded[0].Start
	if start.Before(reference) {
		log.Printf("Requested start %s predates first segment %s, clamping offset to 0",
			start.Format(time.RFC3339), reference.Format(time.RFC3339))
	}
	startOffset := clip.StartOffset(reference, start)
	duration := clip.WindowDuration(start, end)

	finalPath := filepath.Join(outputDir, "final.mp4")
	if err := p.cut(mergedPath, finalPath, startOffset, duration, p.cfg.ExactCut); err != nil {
		return err
	}

	key := fmt.Sprintf("clips/%s/%s.mp4", item.CameraID, tag)
	locator, err := p.uploader.UploadClip(finalPath, key)
	if err != nil {
		return err
	}

	if err := p.recordClip(item, locator, finalPath, duration); err != nil {
		// The object exists but nothing references it: delete it so a retry
		// of the item does not leave orphans behind.
		if delErr := p.uploader.DeleteObject(key); delErr != nil {
			log.Printf("Warning: failed to delete orphaned clip %s: %v", key, delErr)
		}
		return err
	}

	return p.db.UpdatePackingItemStatus(item.ID, database.PackingClipGenerated)
}

// recordClip persists the mini clip record for an uploaded object
func (p *Processor) recordClip(item *database.PackingItem, locator, finalPath string, duration float64) error {
	info, err := os.Stat(finalPath)
	if err != nil {
		return fmt.Errorf("failed to stat final clip: %v", err)
	}

	return p.db.CreateMiniClip(database.MiniClip{
		ID:            uuid.NewString(),
		PackingItemID: item.ID,
		CameraID:      item.CameraID,
		StoragePath:   locator,
		DurationSec:   int(duration),
		FilesizeBytes: info.Size(),
		GeneratedAt:   time.Now().UTC(),
	})
}

// cleanupScratch removes job scratch directories. Failures are logged and
// never escalate: cleanup must not mask the job's primary outcome.
func (p *Processor) cleanupScratch(dirs []string) {
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("Warning: failed to clean up %s: %v", dir, err)
		}
	}
}
