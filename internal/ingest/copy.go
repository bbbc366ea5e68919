package ingest

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// copyBufferSize matches the fingerprint read buffer.
const copyBufferSize = 8 * 1024

// CopyFunc copies the file at src to a new file at dst.
type CopyFunc func(dst, src string) error

// CopyFile copies src to dst through buffered reader and writer, syncs dst and
// carries over the access and modification times. dst must not exist.
func CopyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	reader := bufio.NewReaderSize(in, copyBufferSize)
	writer := bufio.NewWriterSize(out, copyBufferSize)

	if _, err := io.Copy(writer, reader); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy: %w", err)
	}
	if err := writer.Flush(); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to flush: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to sync: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to close destination: %w", err)
	}

	if err := os.Chtimes(dst, accessTime(info), info.ModTime()); err != nil {
		return fmt.Errorf("failed to preserve timestamps: %w", err)
	}
	return nil
}
