package worker

import (
	"context"
	"log"
	"sync"
	"time"
)

// JobQueue is the FIFO of manually triggered packing items. Entries are
// deduplicated by packing item ID while queued or processing, so repeated
// triggers for the same item are rejected instead of piling up.
type JobQueue struct {
	mu      sync.Mutex
	queue   []string
	pending map[string]bool
}

// NewJobQueue creates an empty job queue
func NewJobQueue() *JobQueue {
	return &JobQueue{pending: make(map[string]bool)}
}

// Enqueue adds a packing item ID to the processing queue. Returns false
// when the item is already queued or currently being processed.
func (q *JobQueue) Enqueue(packingItemID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending[packingItemID] {
		return false
	}
	q.pending[packingItemID] = true
	q.queue = append(q.queue, packingItemID)
	log.Printf("Enqueued packing item %s for processing", packingItemID)
	return true
}

// Size returns how many items are waiting in the queue
func (q *JobQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

func (q *JobQueue) dequeue() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 {
		return "", false
	}
	id := q.queue[0]
	q.queue = q.queue[1:]
	return id, true
}

func (q *JobQueue) finish(packingItemID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, packingItemID)
}

// RunWorker processes queued jobs one at a time until ctx is cancelled.
// The idle wait is bounded at one second so shutdown latency is bounded by
// the poll granularity, never by a longer sleep.
func (q *JobQueue) RunWorker(ctx context.Context, p *Processor) {
	log.Println("Queue worker started")

	for {
		if ctx.Err() != nil {
			log.Println("Queue worker stopped")
			return
		}

		packingItemID, ok := q.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				log.Println("Queue worker stopped")
				return
			case <-time.After(time.Second):
			}
			continue
		}

		log.Printf("Processing queued job for packing item %s", packingItemID)
		if p.ProcessItemByID(ctx, packingItemID) {
			log.Printf("Successfully processed queued packing item %s", packingItemID)
		} else {
			log.Printf("Failed to process queued packing item %s", packingItemID)
		}
		q.finish(packingItemID)
	}
}
