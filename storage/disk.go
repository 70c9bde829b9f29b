package storage

import (
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/disk"
)

// ErrDiskSpace is returned when free space is below the working floor.
var ErrDiskSpace = errors.New("insufficient disk space")

// MinFreeBytes is the free-space floor required before committing to
// segment downloads (1 GiB).
const MinFreeBytes = 1 * 1024 * 1024 * 1024

// CheckDiskSpace verifies that the filesystem holding path has at least
// minBytes free. The path is created if it does not exist yet.
func CheckDiskSpace(path string, minBytes uint64) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %v", path, err)
	}

	usage, err := disk.Usage(path)
	if err != nil {
		return fmt.Errorf("failed to read disk usage for %s: %v", path, err)
	}

	if usage.Free < minBytes {
		return fmt.Errorf("%w: %.2f GB available, %.2f GB required",
			ErrDiskSpace, toGB(usage.Free), toGB(minBytes))
	}
	return nil
}

// DiskUsageInfo reports usage of the filesystem holding path, in GB
type DiskUsageInfo struct {
	TotalGB float64 `json:"total_gb"`
	UsedGB  float64 `json:"used_gb"`
	FreeGB  float64 `json:"free_gb"`
}

// GetDiskUsageInfo returns disk usage for health reporting
func GetDiskUsageInfo(path string) (*DiskUsageInfo, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read disk usage for %s: %v", path, err)
	}
	return &DiskUsageInfo{
		TotalGB: toGB(usage.Total),
		UsedGB:  toGB(usage.Used),
		FreeGB:  toGB(usage.Free),
	}, nil
}

func toGB(bytes uint64) float64 {
	return float64(bytes) / (1024 * 1024 * 1024)
}
