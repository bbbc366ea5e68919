package testutil

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
	repoMock "github.com/fjmerc/mediavault/internal/repository/mock"
)

// SampleFileRecord returns a photo record archived under 2024/03.
func SampleFileRecord() *models.FileRecord {
	capture := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	return &models.FileRecord{
		Fingerprint:      "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		FingerprintMode:  "full",
		OriginalFilename: "IMG_0001.JPG",
		FileSize:         2048,
		MediaKind:        models.MediaKindPhoto,
		ContentType:      "image/jpeg",
		CaptureTime:      &capture,
		Year:             2024,
		Month:            3,
		DestinationPath:  "/archive/2024/03_March/IMG_0001.JPG",
		SourceDevice:     "test-device",
		IngestionMethod:  models.MethodLocalCable,
	}
}

// SampleUploadSession returns an in_progress session of four chunks.
func SampleUploadSession() *models.UploadSession {
	return &models.UploadSession{
		SessionID:   "session-0001",
		Filename:    "VID_0001.MP4",
		TotalSize:   4096,
		TotalChunks: 4,
		DeviceID:    "phone",
	}
}

// NewMockRepositories bundles fresh in-memory repositories.
func NewMockRepositories() *repository.Repositories {
	return repoMock.NewRepositories()
}

// JPEG returns a small solid-colour JPEG without metadata.
func JPEG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// JPEGWithCaptureTime returns a JPEG carrying an EXIF DateTimeOriginal tag.
func JPEGWithCaptureTime(t testing.TB, captured time.Time) []byte {
	t.Helper()

	plain := JPEG(t, 8, 8)
	exifSeg := exifSegment(captured.Format("2006:01:02 15:04:05"))

	out := make([]byte, 0, len(plain)+len(exifSeg))
	out = append(out, plain[:2]...) // SOI
	out = append(out, exifSeg...)
	out = append(out, plain[2:]...)
	return out
}

// exifSegment builds an APP1 segment with IFD0 -> Exif IFD -> DateTimeOriginal.
func exifSegment(dateTime string) []byte {
	le := binary.LittleEndian
	var tiff bytes.Buffer

	// header
	tiff.WriteString("II")
	binary.Write(&tiff, le, uint16(42))
	binary.Write(&tiff, le, uint32(8))

	// IFD0 at 8: one entry, the Exif IFD pointer
	const exifIFDOffset = 8 + 2 + 12 + 4
	binary.Write(&tiff, le, uint16(1))
	binary.Write(&tiff, le, uint16(0x8769))
	binary.Write(&tiff, le, uint16(4)) // LONG
	binary.Write(&tiff, le, uint32(1))
	binary.Write(&tiff, le, uint32(exifIFDOffset))
	binary.Write(&tiff, le, uint32(0))

	// Exif IFD: DateTimeOriginal as 20-byte ASCII stored after the IFD
	const valueOffset = exifIFDOffset + 2 + 12 + 4
	value := append([]byte(dateTime), 0)
	binary.Write(&tiff, le, uint16(1))
	binary.Write(&tiff, le, uint16(0x9003))
	binary.Write(&tiff, le, uint16(2)) // ASCII
	binary.Write(&tiff, le, uint32(len(value)))
	binary.Write(&tiff, le, uint32(valueOffset))
	binary.Write(&tiff, le, uint32(0))
	tiff.Write(value)

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	seg := []byte{0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	return append(seg, payload...)
}
