package storage

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// ErrUpload is returned when an upload keeps failing after retries.
var ErrUpload = errors.New("upload failed")

// Number of attempts for the UploadClip retry loop
const maxUploadAttempts = 3

// R2Config holds configuration for S3-compatible storage (Cloudflare R2)
type R2Config struct {
	AccessKey string
	SecretKey string
	AccountID string
	Bucket    string
	Endpoint  string
	Region    string
	BaseURL   string // Public URL for file access, e.g. https://media.example.com
}

// R2Storage handles uploads to S3-compatible object storage
type R2Storage struct {
	config   R2Config
	session  *session.Session
	client   *s3.S3
	uploader *s3manager.Uploader

	// Injection points for tests
	put   func(localPath, key, contentType string) error
	sleep func(time.Duration)
}

// NewR2Storage creates a new R2Storage instance
func NewR2Storage(config R2Config) (*R2Storage, error) {
	if config.Region == "" {
		config.Region = "auto"
	}
	if config.Endpoint == "" && config.AccountID != "" {
		config.Endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", config.AccountID)
	}

	sess, err := session.NewSession(&aws.Config{
		Credentials: credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, ""),
		Endpoint:    aws.String(config.Endpoint),
		Region:      aws.String(config.Region),
		// Force path style addressing for compatibility with S3 API
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %v", err)
	}

	client := s3.New(sess)

	// 10 MB parts (must be >= 5 MB), sequential so only one HTTP connection
	// is active per upload.
	uploader := s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 1
	})

	r := &R2Storage{
		config:   config,
		session:  sess,
		client:   client,
		uploader: uploader,
		sleep:    time.Sleep,
	}
	r.put = r.putObject
	return r, nil
}

// UploadClip uploads a finished clip and returns its canonical locator
// (s3://bucket/key). Bounded retry with exponential backoff between
// attempts: 2s, 4s. Exhausting retries returns ErrUpload wrapping the last
// underlying cause.
func (r *R2Storage) UploadClip(localPath, key string) (string, error) {
	contentType := contentTypeFor(localPath)

	var lastErr error
	for attempt := 1; attempt <= maxUploadAttempts; attempt++ {
		log.Printf("Uploading %s to bucket %s (attempt %d/%d)", key, r.config.Bucket, attempt, maxUploadAttempts)

		lastErr = r.put(localPath, key, contentType)
		if lastErr == nil {
			locator := Locator(r.config.Bucket, key)
			log.Printf("Successfully uploaded %s", locator)
			return locator, nil
		}

		log.Printf("Upload attempt %d/%d failed for %s: %v", attempt, maxUploadAttempts, key, lastErr)
		if attempt < maxUploadAttempts {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			log.Printf("Retrying in %s...", backoff)
			r.sleep(backoff)
		}
	}
	return "", fmt.Errorf("%w: after %d attempts: %v", ErrUpload, maxUploadAttempts, lastErr)
}

func (r *R2Storage) putObject(localPath, key, contentType string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %v", localPath, err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to get file info: %v", err)
	}

	_, err = r.uploader.Upload(&s3manager.UploadInput{
		Bucket:      aws.String(r.config.Bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentType),
		Metadata: map[string]*string{
			"OriginalFileName": aws.String(filepath.Base(localPath)),
			"UploadedAt":       aws.String(time.Now().UTC().Format(time.RFC3339)),
			"FileSize":         aws.String(fmt.Sprintf("%d", fileInfo.Size())),
		},
	})
	return err
}

// DeleteObject deletes an object from the bucket
func (r *R2Storage) DeleteObject(key string) error {
	_, err := r.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(r.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %v", err)
	}
	return nil
}

// PublicURL returns the externally reachable URL for an uploaded key
func (r *R2Storage) PublicURL(key string) string {
	if r.config.BaseURL != "" {
		return fmt.Sprintf("%s/%s", strings.TrimRight(r.config.BaseURL, "/"), key)
	}
	return fmt.Sprintf("%s/%s/%s", r.config.Endpoint, r.config.Bucket, key)
}

// Locator builds the canonical storage locator persisted with clip records
func Locator(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// contentTypeFor maps a file extension to its upload content type
func contentTypeFor(localPath string) string {
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".mp4":
		return "video/mp4"
	case ".ts":
		return "video/mp2t"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
