package utils

import (
	"errors"
	"math"
	"testing"
)

func TestGetDiskSpace(t *testing.T) {
	info, err := GetDiskSpace(t.TempDir())
	if err != nil {
		t.Fatalf("GetDiskSpace() error: %v", err)
	}
	if info.TotalBytes == 0 {
		t.Error("TotalBytes should be positive")
	}
	if info.AvailableBytes > info.TotalBytes {
		t.Errorf("AvailableBytes %d > TotalBytes %d", info.AvailableBytes, info.TotalBytes)
	}
	if info.UsedPercent < 0 || info.UsedPercent > 100 {
		t.Errorf("UsedPercent = %f, want 0-100", info.UsedPercent)
	}
}

func TestGetDiskSpace_InvalidPath(t *testing.T) {
	if _, err := GetDiskSpace("/nonexistent/path/for/sure"); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestCheckDiskSpace(t *testing.T) {
	dir := t.TempDir()

	if err := CheckDiskSpace(dir, 1024, 0); err != nil {
		t.Errorf("CheckDiskSpace(1KB) error: %v", err)
	}

	err := CheckDiskSpace(dir, math.MaxInt64, 0)
	var spaceErr *ErrInsufficientSpace
	if !errors.As(err, &spaceErr) {
		t.Fatalf("CheckDiskSpace(huge) error = %v, want ErrInsufficientSpace", err)
	}
	if spaceErr.Path != dir {
		t.Errorf("Path = %q, want %q", spaceErr.Path, dir)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes uint64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{10 * 1024 * 1024, "10.0 MB"},
		{5 * 1024 * 1024 * 1024, "5.0 GB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.bytes); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}
