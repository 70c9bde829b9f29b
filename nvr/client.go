// Package nvr implements the Hikvision ISAPI recording search and
// download protocol used by the clip pipeline.
package nvr

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/icholy/digest"
)

// ErrTransport is returned when the NVR cannot be reached or keeps
// answering with an error status after retries are exhausted.
var ErrTransport = errors.New("nvr transport failure")

const (
	searchPath   = "/ISAPI/ContentMgmt/search"
	downloadPath = "/ISAPI/ContentMgmt/download"

	// NVR timestamps look like "2025-01-02T15:04:05Z"; some firmwares drop
	// the trailing Z.
	timeLayout       = "2006-01-02T15:04:05Z"
	timeLayoutNoTZ   = "2006-01-02T15:04:05"
	maxSearchResults = 1000

	// Stream downloads to disk in bounded chunks to cap memory usage.
	downloadBufferSize = 256 * 1024
)

// Segment is one recorded chunk reported by the NVR for a time span
type Segment struct {
	PlaybackURI string
	Start       time.Time
	End         time.Time
}

// ClientConfig holds connection parameters for one NVR
type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	TrackID  string // Recording track to search, typically "101"

	// InsecureTLS accepts self-signed NVR certificates. Deliberate trust
	// trade-off: most recorders ship with certificates that never validate.
	InsecureTLS bool

	Timeout       time.Duration // Per-request timeout, default 60s
	RetryAttempts int           // Attempts for retryable HTTP errors, default 4
	Concurrency   int           // Sizes the connection pool for parallel downloads, default 5
}

// Client talks to a single NVR using HTTP digest auth
type Client struct {
	baseURL    string
	trackID    string
	httpClient *http.Client
}

// NewClient creates an NVR client for the given camera credentials
func NewClient(cfg ClientConfig) *Client {
	if cfg.TrackID == "" {
		cfg.TrackID = "101"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 4
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 5
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.Concurrency * 2
	transport.MaxIdleConnsPerHost = cfg.Concurrency
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		trackID: cfg.TrackID,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &retryTransport{
				next: &digest.Transport{
					Username:  cfg.Username,
					Password:  cfg.Password,
					Transport: transport,
				},
				attempts: cfg.RetryAttempts,
			},
		},
	}
}

// searchDescription is the CMSearchDescription request body
type searchDescription struct {
	XMLName    xml.Name `xml:"CMSearchDescription"`
	SearchID   string   `xml:"searchID"`
	TrackIDs   []string `xml:"trackIDList>trackID"`
	StartTime  string   `xml:"timeSpanList>timeSpan>startTime"`
	EndTime    string   `xml:"timeSpanList>timeSpan>endTime"`
	MaxResults int      `xml:"maxResults"`
}

// searchResult is the CMSearchResult response body. Field tags carry no
// namespace so the decoder accepts both namespace-qualified responses and
// the bare element names some firmwares emit.
type searchResult struct {
	XMLName      xml.Name          `xml:"CMSearchResult"`
	NumOfMatches int               `xml:"numOfMatches"`
	Items        []searchMatchItem `xml:"matchList>searchMatchItem"`
}

type searchMatchItem struct {
	StartTime   string `xml:"timeSpan>startTime"`
	EndTime     string `xml:"timeSpan>endTime"`
	PlaybackURI string `xml:"mediaSegmentDescriptor>playbackURI"`
}

// Search issues a recording search over [start, end) and returns the
// matching segments. An empty result is an empty slice, not an error.
func (c *Client) Search(ctx context.Context, start, end time.Time) ([]Segment, error) {
	desc := searchDescription{
		SearchID:   uuid.NewString(),
		TrackIDs:   []string{c.trackID},
		StartTime:  start.UTC().Format(timeLayout),
		EndTime:    end.UTC().Format(timeLayout),
		MaxResults: maxSearchResults,
	}
	body, err := xml.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %v", err)
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading search response: %v", ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: search returned %d: %s", ErrTransport, resp.StatusCode, truncate(string(raw), 200))
	}

	return parseSearchResult(raw)
}

// parseSearchResult decodes a CMSearchResult document into segments
func parseSearchResult(raw []byte) ([]Segment, error) {
	var result searchResult
	if err := xml.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %v", err)
	}

	segments := make([]Segment, 0, len(result.Items))
	for _, item := range result.Items {
		start, err := ParseNVRTime(item.StartTime)
		if err != nil {
			return nil, fmt.Errorf("segment has invalid start time %q: %v", item.StartTime, err)
		}
		seg := Segment{PlaybackURI: item.PlaybackURI, Start: start}
		if item.EndTime != "" {
			if end, err := ParseNVRTime(item.EndTime); err == nil {
				seg.End = end
			}
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// Download streams one segment to destPath, overwriting any partial file
// from an earlier attempt.
func (c *Client) Download(ctx context.Context, playbackURI, destPath string) error {
	query := url.Values{}
	query.Set("playbackURI", playbackURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+downloadPath+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: download %s: %v", ErrTransport, playbackURI, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: download %s returned %d", ErrTransport, playbackURI, resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %v", destPath, err)
	}

	buf := make([]byte, downloadBufferSize)
	if _, err := io.CopyBuffer(out, resp.Body, buf); err != nil {
		out.Close()
		os.Remove(destPath)
		return fmt.Errorf("%w: streaming %s: %v", ErrTransport, playbackURI, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finish writing %s: %v", destPath, err)
	}
	return nil
}

// ParseNVRTime parses a timestamp as reported by the NVR
func ParseNVRTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(timeLayoutNoTZ, value)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
