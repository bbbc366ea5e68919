package utils

import (
	"fmt"
	"syscall"
)

// DiskSpaceInfo contains information about disk space
type DiskSpaceInfo struct {
	TotalBytes     uint64
	FreeBytes      uint64
	AvailableBytes uint64
	UsedBytes      uint64
	UsedPercent    float64
}

// GetDiskSpace returns disk space information for a given path
func GetDiskSpace(path string) (*DiskSpaceInfo, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return nil, fmt.Errorf("failed to get disk space: %w", err)
	}

	totalBytes := stat.Blocks * uint64(stat.Bsize)
	freeBytes := stat.Bfree * uint64(stat.Bsize)
	availableBytes := stat.Bavail * uint64(stat.Bsize) // Available to non-root users
	usedBytes := totalBytes - freeBytes

	var usedPercent float64
	if totalBytes > 0 {
		usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	}

	return &DiskSpaceInfo{
		TotalBytes:     totalBytes,
		FreeBytes:      freeBytes,
		AvailableBytes: availableBytes,
		UsedBytes:      usedBytes,
		UsedPercent:    usedPercent,
	}, nil
}

// ErrInsufficientSpace is returned when a write would leave less than the reserve free.
type ErrInsufficientSpace struct {
	Path      string
	Needed    uint64
	Available uint64
}

func (e *ErrInsufficientSpace) Error() string {
	return fmt.Sprintf("insufficient disk space at %s: need %s, %s available",
		e.Path, FormatBytes(e.Needed), FormatBytes(e.Available))
}

// CheckDiskSpace verifies that writing size bytes under path keeps reserveBytes free.
func CheckDiskSpace(path string, size int64, reserveBytes uint64) error {
	info, err := GetDiskSpace(path)
	if err != nil {
		return err
	}

	needed := reserveBytes
	if size > 0 {
		needed += uint64(size)
	}
	if info.AvailableBytes < needed {
		return &ErrInsufficientSpace{Path: path, Needed: needed, Available: info.AvailableBytes}
	}
	return nil
}

// FormatBytes formats bytes into human-readable format
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
