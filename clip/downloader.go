package clip

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"packclip/nvr"
)

// minSegmentBytes is the smallest file size accepted as a completed
// download. Smaller files are treated as partials and re-fetched.
const minSegmentBytes = 1024

// SegmentFetcher downloads one NVR segment to a local path
type SegmentFetcher interface {
	Download(ctx context.Context, playbackURI, destPath string) error
}

// DownloadedSegment is a fetched segment on local disk. The first element
// after sorting establishes the reference clock for offset computation.
type DownloadedSegment struct {
	Path  string
	Start time.Time
}

// Downloader fans segment downloads out across a bounded worker pool
type Downloader struct {
	fetcher     SegmentFetcher
	concurrency int
}

// NewDownloader creates a downloader with the given pool width
func NewDownloader(fetcher SegmentFetcher, concurrency int) *Downloader {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Downloader{fetcher: fetcher, concurrency: concurrency}
}

// Fetch downloads all segments into outDir and returns them sorted by
// segment start time regardless of completion order. Any single failure
// fails the whole call: a partial segment set must never reach the merge.
func (d *Downloader) Fetch(ctx context.Context, segments []nvr.Segment, outDir string) ([]DownloadedSegment, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %v", err)
	}

	results := make([]DownloadedSegment, len(segments))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			path := filepath.Join(outDir, SegmentFileName(seg.Start))

			// A previously completed download of plausible size is reused.
			// Size check only, not a content hash.
			if info, err := os.Stat(path); err == nil && info.Size() > minSegmentBytes {
				log.Printf("Segment %s already downloaded, skipping", filepath.Base(path))
				results[i] = DownloadedSegment{Path: path, Start: seg.Start}
				return nil
			}

			if err := d.fetcher.Download(ctx, seg.PlaybackURI, path); err != nil {
				return err
			}
			results[i] = DownloadedSegment{Path: path, Start: seg.Start}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(a, b int) bool {
		return results[a].Start.Before(results[b].Start)
	})
	return results, nil
}

// SegmentFileName derives the deterministic local filename for a segment,
// stable across retries so re-runs can skip completed downloads.
func SegmentFileName(start time.Time) string {
	return "raw_" + start.UTC().Format("20060102_150405") + ".mp4"
}
