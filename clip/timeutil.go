// Package clip holds the time-window arithmetic and the concurrent segment
// downloader feeding the merge step.
package clip

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidation is returned for bad or out-of-range clip time windows.
var ErrValidation = errors.New("invalid time window")

// ErrNoSegments is returned when the NVR has no footage for the window.
var ErrNoSegments = errors.New("no video segments found")

// MaxWindow is the largest clip span a single job may request.
const MaxWindow = 24 * time.Hour

// ValidateWindow checks that a requested clip window is usable:
// start strictly before end, span at most MaxWindow.
func ValidateWindow(start, end time.Time) error {
	if !start.Before(end) {
		return fmt.Errorf("%w: start %s must be before end %s",
			ErrValidation, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	if end.Sub(start) > MaxWindow {
		return fmt.Errorf("%w: span %s exceeds %s limit", ErrValidation, end.Sub(start), MaxWindow)
	}
	return nil
}

// StartOffset computes the trim offset in seconds from the reference clock
// (the first downloaded segment's start) to the requested start. A request
// starting before the first available segment clamps to zero: the clip then
// begins at the earliest footage instead of failing. Known approximation.
func StartOffset(reference, requestedStart time.Time) float64 {
	offset := requestedStart.Sub(reference).Seconds()
	if offset < 0 {
		return 0
	}
	return offset
}

// WindowDuration returns the requested clip length in seconds
func WindowDuration(start, end time.Time) float64 {
	return end.Sub(start).Seconds()
}
