// Package transcode wraps the ffmpeg invocations used by the clip
// pipeline: lossless concatenation and offset/duration trimming.
package transcode

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ErrTranscode is returned when ffmpeg exits non-zero.
var ErrTranscode = errors.New("ffmpeg failed")

// MergeSegments losslessly concatenates the input files, in order, into
// mergedPath using the concat demuxer with stream copy.
func MergeSegments(segmentPaths []string, mergedPath string) error {
	if len(segmentPaths) == 0 {
		return fmt.Errorf("%w: no segments to merge", ErrTranscode)
	}

	manifestPath := mergedPath + ".txt"
	if err := writeConcatManifest(segmentPaths, manifestPath); err != nil {
		return err
	}

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-c", "copy",
		mergedPath,
	}
	return runFFmpeg(args)
}

// CutClip extracts duration seconds starting at startOffset from mergedPath.
// With exactCut the clip is re-encoded for frame-accurate boundaries;
// otherwise a stream copy snaps the cut to the nearest keyframe.
func CutClip(mergedPath, outputPath string, startOffset, duration float64, exactCut bool) error {
	return runFFmpeg(buildCutArgs(mergedPath, outputPath, startOffset, duration, exactCut))
}

func buildCutArgs(mergedPath, outputPath string, startOffset, duration float64, exactCut bool) []string {
	args := []string{
		"-y",
		"-ss", formatSeconds(startOffset),
		"-i", mergedPath,
		"-t", formatSeconds(duration),
	}
	if exactCut {
		args = append(args, "-c:v", "libx264", "-preset", "fast", "-crf", "23", "-c:a", "aac")
	} else {
		args = append(args, "-c", "copy")
	}
	return append(args, outputPath)
}

// writeConcatManifest writes the concat demuxer input list, one
// `file '<path>'` line per segment in playback order.
func writeConcatManifest(segmentPaths []string, manifestPath string) error {
	var sb strings.Builder
	for _, path := range segmentPaths {
		fmt.Fprintf(&sb, "file '%s'\n", path)
	}
	if err := os.WriteFile(manifestPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write concat manifest: %v", err)
	}
	return nil
}

func runFFmpeg(args []string) error {
	cmd := exec.Command("ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: ffmpeg %s: %v: %s",
			ErrTranscode, strings.Join(args, " "), err, lastLines(stderr.String(), 5))
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// lastLines returns the trailing n lines of ffmpeg output, which is where
// the actual error lives.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
