package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB implements the Database interface using SQLite
type SQLiteDB struct {
	db            *sql.DB
	encryptionKey string
}

// NewSQLiteDB creates a new SQLite database instance. The encryption key is
// used to decrypt camera passwords stored at rest.
func NewSQLiteDB(dbPath, encryptionKey string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %v", err)
	}

	if err := initTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %v", err)
	}

	return &SQLiteDB{db: db, encryptionKey: encryptionKey}, nil
}

// initTables creates the necessary tables if they don't exist
func initTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cameras (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			base_url TEXT NOT NULL,
			username TEXT NOT NULL,
			encrypted_password TEXT NOT NULL,
			insecure_tls INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS packing_items (
			id TEXT PRIMARY KEY,
			barcode TEXT NOT NULL,
			camera_id TEXT NOT NULL,
			start_time TIMESTAMP,
			end_time TIMESTAMP,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_packing_items_status ON packing_items (status)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS mini_clips (
			id TEXT PRIMARY KEY,
			packing_item_id TEXT NOT NULL UNIQUE,
			camera_id TEXT NOT NULL,
			storage_path TEXT NOT NULL,
			duration_sec INTEGER DEFAULT 0,
			filesize_bytes INTEGER DEFAULT 0,
			generated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS batch_jobs (
			id TEXT PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			status TEXT NOT NULL,
			total_items INTEGER NOT NULL DEFAULT 0,
			success_items INTEGER NOT NULL DEFAULT 0,
			failed_items INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS batch_job_items (
			id TEXT PRIMARY KEY,
			batch_job_id TEXT NOT NULL,
			packing_item_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_batch_job_items_job ON batch_job_items (batch_job_id)
	`)
	return err
}

// CreateCamera inserts a new camera record
func (s *SQLiteDB) CreateCamera(cam Camera) error {
	if cam.CreatedAt.IsZero() {
		cam.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO cameras (id, name, base_url, username, encrypted_password, insecure_tls, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, cam.ID, cam.Name, cam.BaseURL, cam.Username, cam.EncryptedPassword, cam.InsecureTLS, cam.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create camera: %v", err)
	}
	return nil
}

// GetCamera retrieves a camera by ID
func (s *SQLiteDB) GetCamera(id string) (*Camera, error) {
	var cam Camera
	err := s.db.QueryRow(`
		SELECT id, name, base_url, username, encrypted_password, insecure_tls, created_at
		FROM cameras WHERE id = ?
	`, id).Scan(&cam.ID, &cam.Name, &cam.BaseURL, &cam.Username, &cam.EncryptedPassword, &cam.InsecureTLS, &cam.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %v", err)
	}
	return &cam, nil
}

// GetCameraConfig resolves camera credentials with the password decrypted.
// Returns ErrNotFound when the camera does not exist.
func (s *SQLiteDB) GetCameraConfig(id string) (*CameraConfig, error) {
	cam, err := s.GetCamera(id)
	if err != nil {
		return nil, err
	}
	if cam == nil {
		return nil, fmt.Errorf("%w: camera %s", ErrNotFound, id)
	}

	password, err := DecryptPassword(s.encryptionKey, cam.EncryptedPassword)
	if err != nil {
		return nil, fmt.Errorf("camera %s: %v", id, err)
	}

	return &CameraConfig{
		BaseURL:     cam.BaseURL,
		Username:    cam.Username,
		Password:    password,
		InsecureTLS: cam.InsecureTLS,
	}, nil
}

// CreatePackingItem inserts a new packing item record
func (s *SQLiteDB) CreatePackingItem(item PackingItem) error {
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO packing_items (id, barcode, camera_id, start_time, end_time, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.Barcode, item.CameraID, nullableTime(item.StartTime), nullableTime(item.EndTime),
		item.Status, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create packing item: %v", err)
	}
	return nil
}

// GetPackingItem retrieves a packing item by ID
func (s *SQLiteDB) GetPackingItem(id string) (*PackingItem, error) {
	row := s.db.QueryRow(`
		SELECT id, barcode, camera_id, start_time, end_time, status, created_at, updated_at
		FROM packing_items WHERE id = ?
	`, id)
	item, err := scanPackingItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get packing item: %v", err)
	}
	return item, nil
}

// GetReadyPackingItems returns up to limit items in READY_FOR_BATCH status,
// oldest first.
func (s *SQLiteDB) GetReadyPackingItems(limit int) ([]PackingItem, error) {
	rows, err := s.db.Query(`
		SELECT id, barcode, camera_id, start_time, end_time, status, created_at, updated_at
		FROM packing_items WHERE status = ? ORDER BY updated_at ASC LIMIT ?
	`, PackingReadyForBatch, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ready packing items: %v", err)
	}
	defer rows.Close()

	var items []PackingItem
	for rows.Next() {
		item, err := scanPackingItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan packing item: %v", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdatePackingItemStatus transitions one packing item's status
func (s *SQLiteDB) UpdatePackingItemStatus(id string, status PackingStatus) error {
	result, err := s.db.Exec(`
		UPDATE packing_items SET status = ?, updated_at = ? WHERE id = ?
	`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update packing item status: %v", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("%w: packing item %s", ErrNotFound, id)
	}
	return nil
}

// CreateMiniClip inserts the produced clip record
func (s *SQLiteDB) CreateMiniClip(clip MiniClip) error {
	if clip.ID == "" {
		clip.ID = uuid.NewString()
	}
	if clip.GeneratedAt.IsZero() {
		clip.GeneratedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO mini_clips (id, packing_item_id, camera_id, storage_path, duration_sec, filesize_bytes, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, clip.ID, clip.PackingItemID, clip.CameraID, clip.StoragePath, clip.DurationSec, clip.FilesizeBytes, clip.GeneratedAt)
	if err != nil {
		return fmt.Errorf("failed to create mini clip: %v", err)
	}
	return nil
}

// GetMiniClipByPackingItem retrieves the clip record for a packing item
func (s *SQLiteDB) GetMiniClipByPackingItem(packingItemID string) (*MiniClip, error) {
	var clip MiniClip
	err := s.db.QueryRow(`
		SELECT id, packing_item_id, camera_id, storage_path, duration_sec, filesize_bytes, generated_at
		FROM mini_clips WHERE packing_item_id = ?
	`, packingItemID).Scan(&clip.ID, &clip.PackingItemID, &clip.CameraID, &clip.StoragePath,
		&clip.DurationSec, &clip.FilesizeBytes, &clip.GeneratedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mini clip: %v", err)
	}
	return &clip, nil
}

// CreateBatchJob creates a batch job together with one PENDING item per
// packing item, all in a single transaction so processing never observes a
// half-created batch.
func (s *SQLiteDB) CreateBatchJob(packingItemIDs []string) (*BatchJob, []BatchItem, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin batch transaction: %v", err)
	}
	defer tx.Rollback()

	job := BatchJob{
		ID:         uuid.NewString(),
		StartedAt:  time.Now().UTC(),
		Status:     BatchRunning,
		TotalItems: len(packingItemIDs),
	}
	_, err = tx.Exec(`
		INSERT INTO batch_jobs (id, started_at, status, total_items)
		VALUES (?, ?, ?, ?)
	`, job.ID, job.StartedAt, job.Status, job.TotalItems)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create batch job: %v", err)
	}

	items := make([]BatchItem, 0, len(packingItemIDs))
	for _, itemID := range packingItemIDs {
		batchItem := BatchItem{
			ID:            uuid.NewString(),
			BatchJobID:    job.ID,
			PackingItemID: itemID,
			Status:        ItemPending,
		}
		_, err = tx.Exec(`
			INSERT INTO batch_job_items (id, batch_job_id, packing_item_id, status)
			VALUES (?, ?, ?, ?)
		`, batchItem.ID, batchItem.BatchJobID, batchItem.PackingItemID, batchItem.Status)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create batch item: %v", err)
		}
		items = append(items, batchItem)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit batch job: %v", err)
	}
	return &job, items, nil
}

// GetBatchJob retrieves a batch job by ID
func (s *SQLiteDB) GetBatchJob(id string) (*BatchJob, error) {
	var job BatchJob
	var finishedAt sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, started_at, finished_at, status, total_items, success_items, failed_items
		FROM batch_jobs WHERE id = ?
	`, id).Scan(&job.ID, &job.StartedAt, &finishedAt, &job.Status,
		&job.TotalItems, &job.SuccessItems, &job.FailedItems)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch job: %v", err)
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	return &job, nil
}

// MarkBatchItemProcessing marks a batch item as PROCESSING
func (s *SQLiteDB) MarkBatchItemProcessing(batchItemID string) error {
	return s.updateBatchItem(batchItemID, ItemProcessing, "", "started_at")
}

// MarkBatchItemSuccess marks a batch item as SUCCESS
func (s *SQLiteDB) MarkBatchItemSuccess(batchItemID string) error {
	return s.updateBatchItem(batchItemID, ItemSuccess, "", "finished_at")
}

// MarkBatchItemFailed marks a batch item as FAILED with the error message
func (s *SQLiteDB) MarkBatchItemFailed(batchItemID string, errorMsg string) error {
	return s.updateBatchItem(batchItemID, ItemFailed, errorMsg, "finished_at")
}

func (s *SQLiteDB) updateBatchItem(batchItemID string, status BatchItemStatus, errorMsg, timestampCol string) error {
	query := fmt.Sprintf(`
		UPDATE batch_job_items SET status = ?, error_message = ?, %s = ? WHERE id = ?
	`, timestampCol)
	_, err := s.db.Exec(query, status, errorMsg, time.Now().UTC(), batchItemID)
	if err != nil {
		return fmt.Errorf("failed to update batch item %s: %v", batchItemID, err)
	}
	return nil
}

// GetBatchItems returns the items of a batch job in insertion order
func (s *SQLiteDB) GetBatchItems(batchJobID string) ([]BatchItem, error) {
	rows, err := s.db.Query(`
		SELECT id, batch_job_id, packing_item_id, status, error_message, started_at, finished_at
		FROM batch_job_items WHERE batch_job_id = ? ORDER BY rowid ASC
	`, batchJobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch items: %v", err)
	}
	defer rows.Close()

	var items []BatchItem
	for rows.Next() {
		var item BatchItem
		var errorMsg sql.NullString
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.BatchJobID, &item.PackingItemID, &item.Status,
			&errorMsg, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch item: %v", err)
		}
		item.ErrorMessage = errorMsg.String
		if startedAt.Valid {
			item.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			item.FinishedAt = &finishedAt.Time
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// FinishBatchJob derives and stores the batch's terminal status from its
// success/failure counts.
func (s *SQLiteDB) FinishBatchJob(batchJobID string, successCount, failedCount int) error {
	status := DeriveBatchStatus(successCount, failedCount)
	_, err := s.db.Exec(`
		UPDATE batch_jobs SET status = ?, finished_at = ?, success_items = ?, failed_items = ? WHERE id = ?
	`, status, time.Now().UTC(), successCount, failedCount, batchJobID)
	if err != nil {
		return fmt.Errorf("failed to finish batch job %s: %v", batchJobID, err)
	}
	return nil
}

// DeriveBatchStatus maps success/failure counts to a terminal batch status:
// all-success -> SUCCESS, all-failure -> FAILED, mixed -> PARTIAL_SUCCESS.
func DeriveBatchStatus(successCount, failedCount int) BatchJobStatus {
	switch {
	case failedCount == 0:
		return BatchSuccess
	case successCount == 0:
		return BatchFailed
	default:
		return BatchPartialSuccess
	}
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPackingItem(row rowScanner) (*PackingItem, error) {
	var item PackingItem
	var startTime, endTime sql.NullTime
	err := row.Scan(&item.ID, &item.Barcode, &item.CameraID, &startTime, &endTime,
		&item.Status, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if startTime.Valid {
		item.StartTime = &startTime.Time
	}
	if endTime.Valid {
		item.EndTime = &endTime.Time
	}
	return &item, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
