// Package ingest is the single entry point through which every file reaches the
// archive, whether it was read off a device or assembled from an upload.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fjmerc/mediavault/internal/device"
	"github.com/fjmerc/mediavault/internal/fingerprint"
	"github.com/fjmerc/mediavault/internal/metrics"
	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/placement"
	"github.com/fjmerc/mediavault/internal/repository"
	"github.com/fjmerc/mediavault/internal/storage"
	"github.com/fjmerc/mediavault/internal/utils"
)

// Source describes one file offered for ingestion.
type Source struct {
	Path     string
	Name     string // Original filename; defaults to the base name of Path
	DeviceID string
	Method   models.IngestionMethod
	ModTime  time.Time // Zero means read from the file

	// Fingerprint may carry a value the caller already computed with the same mode.
	Fingerprint string
}

// Result is the outcome of one Ingest call.
// Skipped results are successes: the content was already archived.
type Result struct {
	Success     bool
	Skipped     bool
	Fingerprint string
	Destination string
	Record      *models.FileRecord
	Err         error
}

// Config wires the coordinator's collaborators. Hasher, Resolver, Files and
// Media are required; the rest are optional.
type Config struct {
	Hasher   *fingerprint.Hasher
	Resolver *placement.Resolver
	Files    repository.FileRecordRepository
	Syncs    repository.SyncRecordRepository
	Media    *utils.MediaTypes
	Lister   device.Lister

	// Encryptor enables encrypt-at-rest copies under EncryptedRoot.
	Encryptor     *storage.Encryptor
	EncryptedRoot string

	// ThumbnailSize > 0 enables photo thumbnails under ThumbnailDir.
	ThumbnailDir  string
	ThumbnailSize int

	// Mirror receives a copy of each new file. Failures only log.
	Mirror storage.Mirror

	// MinFreeBytes is kept free on the archive filesystem.
	MinFreeBytes uint64

	// Copy replaces CopyFile, e.g. to inject faults in tests.
	Copy CopyFunc

	// Observer receives bulk run progress.
	Observer Observer
}

// Coordinator runs the ingestion pipeline.
type Coordinator struct {
	cfg Config
}

// NewCoordinator validates cfg and creates a Coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if cfg.Files == nil {
		return nil, fmt.Errorf("file record repository is required")
	}
	if cfg.Media == nil {
		return nil, fmt.Errorf("media types are required")
	}
	if cfg.Encryptor != nil && cfg.EncryptedRoot == "" {
		return nil, fmt.Errorf("encrypted root is required when encryption is enabled")
	}
	if cfg.Copy == nil {
		cfg.Copy = CopyFile
	}
	return &Coordinator{cfg: cfg}, nil
}

// Ingest fingerprints src, skips it when the content is already archived, and
// otherwise copies, verifies, optionally encrypts, and records it.
// The returned error equals Result.Err. ctx cancels the whole ingestion,
// including a copy in progress; callers that must let a started file finish
// pass a context without cancellation.
func (c *Coordinator) Ingest(ctx context.Context, src Source) (Result, error) {
	start := time.Now()
	res := c.ingest(ctx, src)

	method := string(src.Method)
	switch {
	case res.Err != nil:
		metrics.IngestFilesTotal.WithLabelValues(method, "failed").Inc()
		slog.Warn("ingest failed",
			"path", src.Path,
			"fingerprint", res.Fingerprint,
			"error", res.Err,
		)
	case res.Skipped:
		metrics.IngestFilesTotal.WithLabelValues(method, "skipped").Inc()
		slog.Debug("content already archived",
			"path", src.Path,
			"fingerprint", res.Fingerprint,
			"destination", res.Destination,
		)
	default:
		metrics.IngestFilesTotal.WithLabelValues(method, "ingested").Inc()
		metrics.IngestDuration.Observe(time.Since(start).Seconds())
		if res.Record != nil {
			metrics.IngestBytesTotal.Add(float64(res.Record.FileSize))
			metrics.IngestSizeBytes.Observe(float64(res.Record.FileSize))
		}
		slog.Info("file archived",
			"path", src.Path,
			"fingerprint", res.Fingerprint,
			"destination", res.Destination,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	return res, res.Err
}

func fail(res Result, err error) Result {
	res.Success = false
	res.Err = err
	return res
}

func (c *Coordinator) ingest(ctx context.Context, src Source) Result {
	var res Result

	if err := ctx.Err(); err != nil {
		return fail(res, err)
	}

	name := src.Name
	if name == "" {
		name = filepath.Base(src.Path)
	}
	name = utils.SanitizeFilename(name)

	info, err := os.Stat(src.Path)
	if err != nil {
		return fail(res, fmt.Errorf("%w: %v", ErrHashFailure, err))
	}
	if !info.Mode().IsRegular() {
		return fail(res, fmt.Errorf("%w: %s is not a regular file", ErrHashFailure, src.Path))
	}
	modTime := src.ModTime
	if modTime.IsZero() {
		modTime = info.ModTime()
	}

	// 1. fingerprint
	fp := src.Fingerprint
	if fp == "" {
		fp, err = c.cfg.Hasher.SumFile(src.Path)
		if err != nil {
			return fail(res, fmt.Errorf("%w: %v", ErrHashFailure, err))
		}
	}
	res.Fingerprint = fp

	// Claim before resolving: a worker holding the same content finishes first,
	// and only what it stored counts as a duplicate.
	if err := c.cfg.Resolver.Claim(ctx, fp); err != nil {
		return fail(res, err)
	}
	defer c.cfg.Resolver.Release(fp)

	// 2. dedup
	resolution, err := c.cfg.Resolver.Resolve(ctx, fp)
	if err != nil {
		return fail(res, fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	if !resolution.IsNew() {
		res.Success = true
		res.Skipped = true
		res.Destination = resolution.Existing.DestinationPath
		res.Record = resolution.Existing
		return res
	}

	kind, ok := c.cfg.Media.Kind(name)
	if !ok {
		kind, ok = utils.KindFromContent(src.Path)
		if !ok {
			return fail(res, fmt.Errorf("%w: %s", ErrUnsupportedMedia, name))
		}
	}

	date, captured := placement.EffectiveDate(src.Path, kind, modTime)

	if c.cfg.MinFreeBytes > 0 {
		if err := utils.CheckDiskSpace(c.cfg.Resolver.Root(), info.Size(), c.cfg.MinFreeBytes); err != nil {
			return fail(res, storage.NewStorageError("Ingest", c.cfg.Resolver.Root(), err))
		}
	}

	// 3. place and copy
	dest, err := c.cfg.Resolver.Destination(name, date)
	if err != nil {
		return fail(res, storage.NewStorageError("Destination", name, err))
	}
	defer c.cfg.Resolver.ReleaseDestination(dest)

	if err := c.cfg.Copy(dest, src.Path); err != nil {
		os.Remove(dest)
		return fail(res, storage.NewStorageError("Copy", dest, err))
	}
	res.Destination = dest

	// 4. verify
	copied, err := c.cfg.Hasher.SumFile(dest)
	if err != nil {
		return fail(res, fmt.Errorf("%w: %v", ErrHashFailure, err))
	}
	if copied != fp {
		return fail(res, fmt.Errorf("%w: %s fingerprints %s, source %s", ErrIntegrityFailure, dest, copied, fp))
	}

	rec := &models.FileRecord{
		Fingerprint:      fp,
		FingerprintMode:  c.cfg.Hasher.ModeName(),
		OriginalFilename: name,
		FileSize:         info.Size(),
		MediaKind:        kind,
		ContentType:      utils.DetectContentType(dest),
		Year:             date.Year(),
		Month:            int(date.Month()),
		DestinationPath:  dest,
		SourceDevice:     src.DeviceID,
		IngestionMethod:  src.Method,
	}
	if captured {
		t := date
		rec.CaptureTime = &t
	}

	// 5. encrypt
	if c.cfg.Encryptor != nil {
		encPath, err := c.encrypt(dest, date)
		if err != nil {
			c.removeArtifacts(rec)
			return fail(res, fmt.Errorf("%w: %v", ErrEncryptionFailure, err))
		}
		rec.EncryptedPath = &encPath
		rec.Encrypted = true
	}

	// 6. thumbnail
	if c.cfg.ThumbnailSize > 0 && kind == models.MediaKindPhoto {
		thumb := filepath.Join(placement.DatedDir(c.cfg.ThumbnailDir, date), fp+".jpg")
		if err := utils.CreateThumbnail(dest, thumb, c.cfg.ThumbnailSize); err != nil {
			slog.Warn("thumbnail skipped", "path", dest, "error", err)
		} else {
			rec.ThumbnailPath = &thumb
		}
	}

	// 7. record
	if err := c.cfg.Files.Create(ctx, rec); err != nil {
		c.removeArtifacts(rec)
		if errors.Is(err, repository.ErrDuplicateKey) {
			// Another process archived the same content between Resolve and Create.
			existing, gerr := c.cfg.Files.GetByFingerprint(ctx, fp)
			res.Success = true
			res.Skipped = true
			res.Destination = ""
			if gerr == nil && existing != nil {
				res.Destination = existing.DestinationPath
				res.Record = existing
			}
			return res
		}
		return fail(res, fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}

	// 8. mirror
	if c.cfg.Mirror != nil {
		c.mirror(ctx, rec)
	}

	res.Success = true
	res.Record = rec
	return res
}

func (c *Coordinator) encrypt(dest string, date time.Time) (string, error) {
	dir := placement.DatedDir(c.cfg.EncryptedRoot, date)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create encrypted directory: %w", err)
	}
	encPath := filepath.Join(dir, filepath.Base(dest)+".enc")
	if _, err := c.cfg.Encryptor.EncryptFile(dest, encPath); err != nil {
		os.Remove(encPath)
		return "", err
	}
	return encPath, nil
}

// mirror uploads the encrypted copy when there is one, else the plain copy.
func (c *Coordinator) mirror(ctx context.Context, rec *models.FileRecord) {
	local := rec.DestinationPath
	key, err := filepath.Rel(c.cfg.Resolver.Root(), rec.DestinationPath)
	if err != nil {
		slog.Warn("mirror skipped", "path", local, "error", err)
		return
	}
	if rec.EncryptedPath != nil {
		local = *rec.EncryptedPath
		key += ".enc"
	}

	location, err := c.cfg.Mirror.Upload(ctx, filepath.ToSlash(key), local)
	if err != nil {
		metrics.MirrorUploadsTotal.WithLabelValues("failure").Inc()
		slog.Warn("mirror upload failed", "path", local, "fingerprint", rec.Fingerprint, "error", err)
		return
	}
	metrics.MirrorUploadsTotal.WithLabelValues("success").Inc()
	slog.Debug("mirrored", "path", local, "location", location)
}

// removeArtifacts deletes the files written for rec before it was recorded.
func (c *Coordinator) removeArtifacts(rec *models.FileRecord) {
	paths := []string{rec.DestinationPath}
	if rec.EncryptedPath != nil {
		paths = append(paths, *rec.EncryptedPath)
	}
	if rec.ThumbnailPath != nil {
		paths = append(paths, *rec.ThumbnailPath)
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove artifact", "path", p, "error", err)
		}
	}
}

// Verify re-fingerprints the archived copy of rec with the record's own mode.
func (c *Coordinator) Verify(rec *models.FileRecord) (bool, error) {
	hasher := c.cfg.Hasher
	if rec.FingerprintMode != "" && rec.FingerprintMode != hasher.ModeName() {
		mode, err := fingerprint.ParseMode(rec.FingerprintMode)
		if err != nil {
			return false, err
		}
		hasher, err = fingerprint.New(mode, hasher.SampleSize)
		if err != nil {
			return false, err
		}
	}

	got, err := hasher.SumFile(rec.DestinationPath)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrHashFailure, err)
	}
	return got == rec.Fingerprint, nil
}
