package database

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// PackingStatus represents the lifecycle state of a packing item
type PackingStatus string

const (
	PackingPending       PackingStatus = "PENDING"         // Packing in progress, clip window not final
	PackingReadyForBatch PackingStatus = "READY_FOR_BATCH" // Eligible for clip generation
	PackingClipGenerated PackingStatus = "CLIP_GENERATED"  // Clip produced and uploaded
	PackingError         PackingStatus = "ERROR"           // Clip generation failed, needs re-promotion
)

// BatchJobStatus represents the terminal state of one batch run
type BatchJobStatus string

const (
	BatchRunning        BatchJobStatus = "RUNNING"
	BatchSuccess        BatchJobStatus = "SUCCESS"
	BatchPartialSuccess BatchJobStatus = "PARTIAL_SUCCESS"
	BatchFailed         BatchJobStatus = "FAILED"
)

// BatchItemStatus represents the state of one item within a batch
type BatchItemStatus string

const (
	ItemPending    BatchItemStatus = "PENDING"
	ItemProcessing BatchItemStatus = "PROCESSING"
	ItemSuccess    BatchItemStatus = "SUCCESS"
	ItemFailed     BatchItemStatus = "FAILED"
)

// Camera is a stored NVR camera record. The password is encrypted at rest;
// use GetCameraConfig to obtain usable credentials.
type Camera struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	BaseURL           string    `json:"baseUrl"`
	Username          string    `json:"username"`
	EncryptedPassword string    `json:"-"`
	InsecureTLS       bool      `json:"insecureTls"` // Accept self-signed NVR certificates
	CreatedAt         time.Time `json:"createdAt"`
}

// CameraConfig is the immutable credential value resolved once per job.
// It is never persisted and its password must never be logged.
type CameraConfig struct {
	BaseURL     string
	Username    string
	Password    string
	InsecureTLS bool
}

// PackingItem is one clip-extraction work item tied to a requested time window
type PackingItem struct {
	ID        string        `json:"id"`
	Barcode   string        `json:"barcode"`
	CameraID  string        `json:"cameraId"`
	StartTime *time.Time    `json:"startTime"`
	EndTime   *time.Time    `json:"endTime"`
	Status    PackingStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// MiniClip is the produced clip artifact, one per packing item
type MiniClip struct {
	ID            string    `json:"id"`
	PackingItemID string    `json:"packingItemId"`
	CameraID      string    `json:"cameraId"`
	StoragePath   string    `json:"storagePath"` // Locator in object storage, e.g. s3://bucket/key
	DurationSec   int       `json:"durationSec"`
	FilesizeBytes int64     `json:"filesizeBytes"`
	GeneratedAt   time.Time `json:"generatedAt"`
}

// BatchJob is one execution of the polling batch loop
type BatchJob struct {
	ID           string         `json:"id"`
	StartedAt    time.Time      `json:"startedAt"`
	FinishedAt   *time.Time     `json:"finishedAt"`
	Status       BatchJobStatus `json:"status"`
	TotalItems   int            `json:"totalItems"`
	SuccessItems int            `json:"successItems"`
	FailedItems  int            `json:"failedItems"`
}

// BatchItem is the per-packing-item record inside a batch job
type BatchItem struct {
	ID            string          `json:"id"`
	BatchJobID    string          `json:"batchJobId"`
	PackingItemID string          `json:"packingItemId"`
	Status        BatchItemStatus `json:"status"`
	ErrorMessage  string          `json:"errorMessage"`
	StartedAt     *time.Time      `json:"startedAt"`
	FinishedAt    *time.Time      `json:"finishedAt"`
}

// Database defines the interface for durable worker state
type Database interface {
	// Camera operations
	CreateCamera(cam Camera) error
	GetCamera(id string) (*Camera, error)
	GetCameraConfig(id string) (*CameraConfig, error)

	// Packing item operations
	CreatePackingItem(item PackingItem) error
	GetPackingItem(id string) (*PackingItem, error)
	GetReadyPackingItems(limit int) ([]PackingItem, error)
	UpdatePackingItemStatus(id string, status PackingStatus) error

	// Mini clip operations
	CreateMiniClip(clip MiniClip) error
	GetMiniClipByPackingItem(packingItemID string) (*MiniClip, error)

	// Batch operations
	CreateBatchJob(packingItemIDs []string) (*BatchJob, []BatchItem, error)
	GetBatchJob(id string) (*BatchJob, error)
	MarkBatchItemProcessing(batchItemID string) error
	MarkBatchItemSuccess(batchItemID string) error
	MarkBatchItemFailed(batchItemID string, errorMsg string) error
	FinishBatchJob(batchJobID string, successCount, failedCount int) error

	// Helper operations
	Close() error
}
