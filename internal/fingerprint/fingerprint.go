// Package fingerprint computes content fingerprints used as deduplication keys.
//
// Two modes exist. Full mode hashes every byte with SHA-256. Fast mode hashes the
// decimal size followed by up to three fixed-size samples (head, middle, tail), which
// avoids reading multi-gigabyte videos in full. Fast mode is weaker: two files of the
// same size whose sampled regions match produce the same fingerprint even if they
// differ elsewhere. Fingerprints from different modes or sample sizes are not comparable.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strconv"
)

// Mode selects the fingerprinting algorithm.
type Mode string

const (
	ModeFull Mode = "full"
	ModeFast Mode = "fast"
)

const (
	// ReadBufferSize bounds memory use while streaming content through the hash.
	ReadBufferSize = 8 * 1024

	// DefaultSampleSize is the fast-mode sample length.
	DefaultSampleSize int64 = 1024 * 1024

	// Length is the hex length of every fingerprint.
	Length = sha256.Size * 2
)

// ErrInvalidMode is returned for a mode other than full or fast.
var ErrInvalidMode = errors.New("invalid fingerprint mode")

// Hasher computes fingerprints in one mode.
// The zero value hashes in full mode.
type Hasher struct {
	Mode       Mode
	SampleSize int64
}

// New returns a Hasher for mode. sampleSize is only used in fast mode; values
// <= 0 select DefaultSampleSize.
func New(mode Mode, sampleSize int64) (*Hasher, error) {
	switch mode {
	case "", ModeFull:
		mode = ModeFull
	case ModeFast:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &Hasher{Mode: mode, SampleSize: sampleSize}, nil
}

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModeFast:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

func (h *Hasher) mode() Mode {
	if h == nil || h.Mode == "" {
		return ModeFull
	}
	return h.Mode
}

func (h *Hasher) sampleSize() int64 {
	if h == nil || h.SampleSize <= 0 {
		return DefaultSampleSize
	}
	return h.SampleSize
}

// ModeName returns the effective mode as stored alongside fingerprints.
func (h *Hasher) ModeName() string {
	return string(h.mode())
}

// SumFile fingerprints the file at path.
func (h *Hasher) SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("cannot fingerprint directory %s", path)
	}

	return h.Sum(f, info.Size())
}

// SumBytes fingerprints an in-memory byte slice.
func (h *Hasher) SumBytes(b []byte) (string, error) {
	return h.Sum(bytes.NewReader(b), int64(len(b)))
}

// Sum fingerprints size bytes read from r.
// In fast mode, readers implementing io.ReaderAt are sampled with positioned reads;
// other readers are consumed sequentially with the skipped spans discarded.
func (h *Hasher) Sum(r io.Reader, size int64) (string, error) {
	if size < 0 {
		return "", fmt.Errorf("invalid size %d", size)
	}
	if h.mode() == ModeFast {
		return h.sumFast(r, size)
	}
	return sumFull(r)
}

func sumFull(r io.Reader) (string, error) {
	hasher := sha256.New()
	buf := make([]byte, ReadBufferSize)
	if _, err := io.CopyBuffer(hasher, readerOnly{r}, buf); err != nil {
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// SampleOffsets returns the start offsets fast mode reads for a file of size bytes.
func SampleOffsets(size, sample int64) []int64 {
	if size > 3*sample {
		return []int64{0, size/2 - sample/2, max(0, size-sample)}
	}
	return []int64{0}
}

func (h *Hasher) sumFast(r io.Reader, size int64) (string, error) {
	sample := h.sampleSize()
	hasher := sha256.New()
	hasher.Write([]byte(strconv.FormatInt(size, 10)))

	offsets := SampleOffsets(size, sample)

	if ra, ok := r.(io.ReaderAt); ok {
		for _, off := range offsets {
			if err := copySection(hasher, io.NewSectionReader(ra, off, sample)); err != nil {
				return "", err
			}
		}
		return hex.EncodeToString(hasher.Sum(nil)), nil
	}

	var pos int64
	for _, off := range offsets {
		if off > pos {
			if _, err := io.CopyN(io.Discard, r, off-pos); err != nil {
				return "", fmt.Errorf("failed to skip to offset %d: %w", off, err)
			}
			pos = off
		}
		n, err := io.CopyBuffer(hasher, io.LimitReader(r, sample), make([]byte, ReadBufferSize))
		if err != nil {
			return "", fmt.Errorf("failed to read sample at offset %d: %w", off, err)
		}
		pos += n
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func copySection(dst hash.Hash, src *io.SectionReader) error {
	if _, err := io.CopyBuffer(dst, src, make([]byte, ReadBufferSize)); err != nil {
		return fmt.Errorf("failed to read sample: %w", err)
	}
	return nil
}

// readerOnly hides WriterTo/ReaderFrom so CopyBuffer uses the bounded buffer.
type readerOnly struct {
	io.Reader
}

// Valid reports whether s looks like a fingerprint.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
