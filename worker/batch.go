package worker

import (
	"context"
	"log"
	"time"
)

// RunBatchLoop polls for ready packing items on the configured interval and
// processes each poll's findings as one batch. Blocks until ctx is
// cancelled; an in-flight item always finishes before the loop exits.
func (p *Processor) RunBatchLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.BatchIntervalSeconds) * time.Second
	log.Printf("Batch loop started (interval %s, batch size %d)", interval, p.cfg.BatchSize)

	for {
		p.ProcessBatch(ctx)

		select {
		case <-ctx.Done():
			log.Println("Batch loop stopped")
			return
		case <-time.After(interval):
		}
	}
}

// ProcessBatch fetches up to BatchSize ready items and processes them
// sequentially under a single batch job record. A poll that finds nothing
// is a no-op.
func (p *Processor) ProcessBatch(ctx context.Context) {
	items, err := p.db.GetReadyPackingItems(p.cfg.BatchSize)
	if err != nil {
		log.Printf("Failed to fetch ready packing items: %v", err)
		return
	}
	if len(items) == 0 {
		return
	}

	log.Printf("Starting batch with %d items", len(items))

	itemIDs := make([]string, len(items))
	for i, item := range items {
		itemIDs[i] = item.ID
	}

	// Job and all its PENDING items exist before any processing starts.
	job, batchItems, err := p.db.CreateBatchJob(itemIDs)
	if err != nil {
		log.Printf("Failed to create batch job: %v", err)
		return
	}

	successCount := 0
	failedCount := 0
	for i := range items {
		if ctx.Err() != nil {
			// Shutdown requested: the packing item keeps its READY status
			// and is picked up again next run; only the batch bookkeeping
			// records that this item never started.
			if err := p.db.MarkBatchItemFailed(batchItems[i].ID, "worker shut down before item started"); err != nil {
				log.Printf("Warning: failed to mark batch item %s failed: %v", batchItems[i].ID, err)
			}
			failedCount++
			continue
		}
		if p.ProcessItem(ctx, &items[i], batchItems[i].ID) {
			successCount++
		} else {
			failedCount++
		}
	}

	if err := p.db.FinishBatchJob(job.ID, successCount, failedCount); err != nil {
		log.Printf("Failed to finish batch job %s: %v", job.ID, err)
		return
	}
	log.Printf("Batch job %s completed: %d success, %d failed", job.ID, successCount, failedCount)
}
