package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"packclip/config"
	"packclip/database"
	"packclip/nvr"
)

// mockDB implements database.Database in memory and records state
// transitions for assertions.
type mockDB struct {
	cameras      map[string]*database.CameraConfig
	items        map[string]*database.PackingItem
	clips        []database.MiniClip
	clipErr      error
	batchJobs    map[string]*database.BatchJob
	batchItems   map[string]*database.BatchItem
	finishCalls  []finishCall
	getCameraErr error
}

type finishCall struct {
	jobID   string
	success int
	failed  int
}

func newMockDB() *mockDB {
	return &mockDB{
		cameras:    make(map[string]*database.CameraConfig),
		items:      make(map[string]*database.PackingItem),
		batchJobs:  make(map[string]*database.BatchJob),
		batchItems: make(map[string]*database.BatchItem),
	}
}

func (m *mockDB) CreateCamera(cam database.Camera) error { return nil }

func (m *mockDB) GetCamera(id string) (*database.Camera, error) { return nil, nil }

func (m *mockDB) GetCameraConfig(id string) (*database.CameraConfig, error) {
	if m.getCameraErr != nil {
		return nil, m.getCameraErr
	}
	cfg, ok := m.cameras[id]
	if !ok {
		return nil, fmt.Errorf("%w: camera %s", database.ErrNotFound, id)
	}
	return cfg, nil
}

func (m *mockDB) CreatePackingItem(item database.PackingItem) error {
	m.items[item.ID] = &item
	return nil
}

func (m *mockDB) GetPackingItem(id string) (*database.PackingItem, error) {
	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	copied := *item
	return &copied, nil
}

func (m *mockDB) GetReadyPackingItems(limit int) ([]database.PackingItem, error) {
	var ready []database.PackingItem
	for _, item := range m.items {
		if item.Status == database.PackingReadyForBatch && len(ready) < limit {
			ready = append(ready, *item)
		}
	}
	return ready, nil
}

func (m *mockDB) UpdatePackingItemStatus(id string, status database.PackingStatus) error {
	item, ok := m.items[id]
	if !ok {
		return fmt.Errorf("%w: packing item %s", database.ErrNotFound, id)
	}
	item.Status = status
	return nil
}

func (m *mockDB) CreateMiniClip(clip database.MiniClip) error {
	if m.clipErr != nil {
		return m.clipErr
	}
	m.clips = append(m.clips, clip)
	return nil
}

func (m *mockDB) GetMiniClipByPackingItem(packingItemID string) (*database.MiniClip, error) {
	for i := range m.clips {
		if m.clips[i].PackingItemID == packingItemID {
			return &m.clips[i], nil
		}
	}
	return nil, nil
}

func (m *mockDB) CreateBatchJob(packingItemIDs []string) (*database.BatchJob, []database.BatchItem, error) {
	job := &database.BatchJob{
		ID:         fmt.Sprintf("job-%d", len(m.batchJobs)+1),
		StartedAt:  time.Now().UTC(),
		Status:     database.BatchRunning,
		TotalItems: len(packingItemIDs),
	}
	m.batchJobs[job.ID] = job

	items := make([]database.BatchItem, 0, len(packingItemIDs))
	for i, itemID := range packingItemIDs {
		item := database.BatchItem{
			ID:            fmt.Sprintf("%s-item-%d", job.ID, i+1),
			BatchJobID:    job.ID,
			PackingItemID: itemID,
			Status:        database.ItemPending,
		}
		m.batchItems[item.ID] = &item
		items = append(items, item)
	}
	return job, items, nil
}

func (m *mockDB) GetBatchJob(id string) (*database.BatchJob, error) {
	return m.batchJobs[id], nil
}

func (m *mockDB) MarkBatchItemProcessing(batchItemID string) error {
	m.batchItems[batchItemID].Status = database.ItemProcessing
	return nil
}

func (m *mockDB) MarkBatchItemSuccess(batchItemID string) error {
	m.batchItems[batchItemID].Status = database.ItemSuccess
	return nil
}

func (m *mockDB) MarkBatchItemFailed(batchItemID string, errorMsg string) error {
	item := m.batchItems[batchItemID]
	item.Status = database.ItemFailed
	item.ErrorMessage = errorMsg
	return nil
}

func (m *mockDB) FinishBatchJob(batchJobID string, successCount, failedCount int) error {
	m.finishCalls = append(m.finishCalls, finishCall{batchJobID, successCount, failedCount})
	job := m.batchJobs[batchJobID]
	job.Status = database.DeriveBatchStatus(successCount, failedCount)
	job.SuccessItems = successCount
	job.FailedItems = failedCount
	return nil
}

func (m *mockDB) Close() error { return nil }

// fakeNVR serves canned segments and writes dummy segment files.
type fakeNVR struct {
	segments      []nvr.Segment
	searched      int
	searchErr     error
	blockDownload bool // Download waits for ctx cancellation
}

func (f *fakeNVR) Search(ctx context.Context, start, end time.Time) ([]nvr.Segment, error) {
	f.searched++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.segments, nil
}

func (f *fakeNVR) Download(ctx context.Context, playbackURI, destPath string) error {
	if f.blockDownload {
		<-ctx.Done()
		return ctx.Err()
	}
	return os.WriteFile(destPath, make([]byte, 2048), 0644)
}

type cutCall struct {
	startOffset float64
	duration    float64
	exactCut    bool
}

// newTestProcessor wires a Processor with in-memory stages. The cut stage
// still writes the output file so the final stat succeeds.
func newTestProcessor(t *testing.T, db *mockDB, nvrClient *fakeNVR) (*Processor, *[]string, *cutCall) {
	t.Helper()

	cfg := &config.Config{
		TempVideoDir:         t.TempDir(),
		DownloadConcurrency:  2,
		BatchSize:            10,
		BatchIntervalSeconds: 60,
		ExactCut:             false,
		TrackID:              "101",
	}

	var mergedPaths []string
	var lastCut cutCall

	p := &Processor{
		cfg:      cfg,
		db:       db,
		uploader: &fakeUploader{},
		newNVRClient: func(camCfg database.CameraConfig) NVRClient {
			return nvrClient
		},
		merge: func(segmentPaths []string, mergedPath string) error {
			mergedPaths = append(mergedPaths, segmentPaths...)
			return os.WriteFile(mergedPath, make([]byte, 4096), 0644)
		},
		cut: func(mergedPath, outputPath string, startOffset, duration float64, exactCut bool) error {
			lastCut = cutCall{startOffset, duration, exactCut}
			return os.WriteFile(outputPath, make([]byte, 4096), 0644)
		},
		checkDisk: func(path string, minBytes uint64) error { return nil },
	}
	return p, &mergedPaths, &lastCut
}

type fakeUploader struct {
	uploads []string
	deletes []string
	err     error
}

func (f *fakeUploader) UploadClip(localPath, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.uploads = append(f.uploads, key)
	return "s3://clips-bucket/" + key, nil
}

func (f *fakeUploader) DeleteObject(key string) error {
	f.deletes = append(f.deletes, key)
	return nil
}

func seedReadyItem(db *mockDB, id string, start, end time.Time) {
	db.cameras["cam-1"] = &database.CameraConfig{
		BaseURL:  "https://10.0.0.5",
		Username: "admin",
		Password: "secret",
	}
	db.items[id] = &database.PackingItem{
		ID:        id,
		Barcode:   "PKG-" + id,
		CameraID:  "cam-1",
		StartTime: &start,
		EndTime:   &end,
		Status:    database.PackingReadyForBatch,
	}
}

func TestProcessItemHappyPath(t *testing.T) {
	db := newMockDB()
	start := time.Date(2025, 6, 1, 8, 1, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)
	seedReadyItem(db, "item-1", start, end)

	// First segment starts 60s before the requested window
	fake := &fakeNVR{segments: []nvr.Segment{
		{PlaybackURI: "rtsp://a", Start: start.Add(-time.Minute)},
		{PlaybackURI: "rtsp://b", Start: start.Add(5 * time.Minute)},
	}}
	p, merged, lastCut := newTestProcessor(t, db, fake)

	item, _ := db.GetPackingItem("item-1")
	if !p.ProcessItem(context.Background(), item, "") {
		t.Fatal("Expected processing to succeed")
	}

	if db.items["item-1"].Status != database.PackingClipGenerated {
		t.Errorf("Expected CLIP_GENERATED, got %s", db.items["item-1"].Status)
	}
	if len(*merged) != 2 {
		t.Errorf("Expected 2 segments merged, got %d", len(*merged))
	}
	if lastCut.startOffset != 60 {
		t.Errorf("Expected start offset 60s, got %v", lastCut.startOffset)
	}
	if lastCut.duration != 600 {
		t.Errorf("Expected duration 600s, got %v", lastCut.duration)
	}

	if len(db.clips) != 1 {
		t.Fatalf("Expected 1 clip record, got %d", len(db.clips))
	}
	clip := db.clips[0]
	if clip.StoragePath != "s3://clips-bucket/clips/cam-1/cam-1_item-1.mp4" {
		t.Errorf("Unexpected storage path: %s", clip.StoragePath)
	}
	if clip.DurationSec != 600 {
		t.Errorf("Expected duration 600, got %d", clip.DurationSec)
	}
	if clip.FilesizeBytes != 4096 {
		t.Errorf("Expected file size 4096, got %d", clip.FilesizeBytes)
	}
}

func TestProcessItemNoFootage(t *testing.T) {
	db := newMockDB()
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	seedReadyItem(db, "item-1", start, start.Add(10*time.Minute))

	fake := &fakeNVR{} // empty segment list
	p, _, _ := newTestProcessor(t, db, fake)

	item, _ := db.GetPackingItem("item-1")
	if p.ProcessItem(context.Background(), item, "") {
		t.Fatal("Expected processing to fail without footage")
	}
	if db.items["item-1"].Status != database.PackingError {
		t.Errorf("Expected ERROR, got %s", db.items["item-1"].Status)
	}

	// Scratch directories must be cleaned up on failure too
	rawDir := filepath.Join(p.cfg.TempVideoDir, "raw", "cam-1_item-1")
	if _, err := os.Stat(rawDir); !os.IsNotExist(err) {
		t.Errorf("Expected scratch dir %s to be removed", rawDir)
	}
}

func TestProcessItemBatchBookkeeping(t *testing.T) {
	db := newMockDB()
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	seedReadyItem(db, "item-1", start, start.Add(10*time.Minute))

	fake := &fakeNVR{}
	p, _, _ := newTestProcessor(t, db, fake)

	job, batchItems, _ := db.CreateBatchJob([]string{"item-1"})
	item, _ := db.GetPackingItem("item-1")
	p.ProcessItem(context.Background(), item, batchItems[0].ID)

	recorded := db.batchItems[batchItems[0].ID]
	if recorded.Status != database.ItemFailed {
		t.Errorf("Expected FAILED batch item, got %s", recorded.Status)
	}
	if !strings.Contains(recorded.ErrorMessage, "no footage") {
		t.Errorf("Expected failure cause in error message, got %q", recorded.ErrorMessage)
	}
	if db.batchJobs[job.ID].Status != database.BatchRunning {
		t.Errorf("Batch job must stay RUNNING until finished explicitly")
	}
}

func TestProcessItemDiskFloorBlocksDownload(t *testing.T) {
	db := newMockDB()
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	seedReadyItem(db, "item-1", start, start.Add(10*time.Minute))

	fake := &fakeNVR{segments: []nvr.Segment{{PlaybackURI: "rtsp://a", Start: start}}}
	p, _, _ := newTestProcessor(t, db, fake)
	p.checkDisk = func(path string, minBytes uint64) error {
		return fmt.Errorf("insufficient disk space: 0.50 GB available")
	}

	item, _ := db.GetPackingItem("item-1")
	if p.ProcessItem(context.Background(), item, "") {
		t.Fatal("Expected processing to fail on the disk floor")
	}
	if fake.searched != 0 {
		t.Error("Expected no NVR search after failed disk check")
	}
	if db.items["item-1"].Status != database.PackingError {
		t.Errorf("Expected ERROR, got %s", db.items["item-1"].Status)
	}
}

func TestProcessItemMissingWindow(t *testing.T) {
	db := newMockDB()
	db.cameras["cam-1"] = &database.CameraConfig{BaseURL: "https://10.0.0.5"}
	db.items["item-1"] = &database.PackingItem{
		ID:       "item-1",
		CameraID: "cam-1",
		Status:   database.PackingReadyForBatch,
	}

	fake := &fakeNVR{}
	p, _, _ := newTestProcessor(t, db, fake)

	item, _ := db.GetPackingItem("item-1")
	if p.ProcessItem(context.Background(), item, "") {
		t.Fatal("Expected item without a time window to fail")
	}
	if fake.searched != 0 {
		t.Error("Expected validation to fail before any NVR call")
	}
}

func TestProcessItemShutdownMidItemKeepsItemReady(t *testing.T) {
	db := newMockDB()
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	seedReadyItem(db, "item-1", start, start.Add(10*time.Minute))

	fake := &fakeNVR{
		segments:      []nvr.Segment{{PlaybackURI: "rtsp://a", Start: start}},
		blockDownload: true,
	}
	p, _, _ := newTestProcessor(t, db, fake)

	job, batchItems, _ := db.CreateBatchJob([]string{"item-1"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	item, _ := db.GetPackingItem("item-1")
	if p.ProcessItem(ctx, item, batchItems[0].ID) {
		t.Fatal("Expected interrupted processing to report failure")
	}

	// The item itself is innocent: it must stay ready for the next run
	if db.items["item-1"].Status != database.PackingReadyForBatch {
		t.Errorf("Expected item to remain READY_FOR_BATCH, got %s", db.items["item-1"].Status)
	}

	recorded := db.batchItems[batchItems[0].ID]
	if recorded.Status != database.ItemFailed {
		t.Errorf("Expected FAILED batch item, got %s", recorded.Status)
	}
	if !strings.Contains(recorded.ErrorMessage, "shut down") {
		t.Errorf("Expected shutdown cause in error message, got %q", recorded.ErrorMessage)
	}
	if db.batchJobs[job.ID].Status != database.BatchRunning {
		t.Errorf("Batch job must stay RUNNING until finished explicitly")
	}
}

func TestProcessItemDeletesOrphanedUpload(t *testing.T) {
	db := newMockDB()
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	seedReadyItem(db, "item-1", start, start.Add(10*time.Minute))
	db.clipErr = fmt.Errorf("database is locked")

	fake := &fakeNVR{segments: []nvr.Segment{{PlaybackURI: "rtsp://a", Start: start}}}
	p, _, _ := newTestProcessor(t, db, fake)
	uploader := &fakeUploader{}
	p.uploader = uploader

	item, _ := db.GetPackingItem("item-1")
	if p.ProcessItem(context.Background(), item, "") {
		t.Fatal("Expected processing to fail when the clip record cannot be written")
	}

	if len(uploader.uploads) != 1 {
		t.Fatalf("Expected 1 upload, got %d", len(uploader.uploads))
	}
	if len(uploader.deletes) != 1 || uploader.deletes[0] != uploader.uploads[0] {
		t.Errorf("Expected the uploaded object to be deleted, got deletes %v", uploader.deletes)
	}
	if db.items["item-1"].Status != database.PackingError {
		t.Errorf("Expected ERROR, got %s", db.items["item-1"].Status)
	}
}

func TestProcessItemByID(t *testing.T) {
	db := newMockDB()
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	seedReadyItem(db, "item-1", start, start.Add(10*time.Minute))

	fake := &fakeNVR{segments: []nvr.Segment{{PlaybackURI: "rtsp://a", Start: start}}}
	p, _, _ := newTestProcessor(t, db, fake)

	if !p.ProcessItemByID(context.Background(), "item-1") {
		t.Error("Expected ready item to process")
	}
	if p.ProcessItemByID(context.Background(), "missing") {
		t.Error("Expected missing item to be rejected")
	}

	// Already processed: no longer READY_FOR_BATCH
	if p.ProcessItemByID(context.Background(), "item-1") {
		t.Error("Expected non-ready item to be rejected")
	}
}
