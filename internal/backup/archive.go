package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fjmerc/mediavault/internal/ingest"
	"github.com/fjmerc/mediavault/internal/metrics"
	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/repository"
	"github.com/fjmerc/mediavault/internal/storage"
	"github.com/fjmerc/mediavault/internal/utils"
)

// verifyPageSize is how many records VerifyArchive loads at a time.
const verifyPageSize = 500

var (
	// ErrNoCopyAvailable is returned when neither the archived file, its
	// encrypted copy, nor a mirror copy can be read.
	ErrNoCopyAvailable = errors.New("no readable copy of archived file")

	// ErrRestoreMismatch is returned when restored content does not match the
	// record's fingerprint.
	ErrRestoreMismatch = errors.New("restored content does not match fingerprint")
)

// Verifier re-fingerprints an archived file with the record's own mode.
type Verifier interface {
	Verify(rec *models.FileRecord) (bool, error)
}

var _ Verifier = (*ingest.Coordinator)(nil)

// ArchiveConfig wires a Maintainer. Files, Verifier and ArchiveDir are required.
type ArchiveConfig struct {
	Files      repository.FileRecordRepository
	Syncs      repository.SyncRecordRepository
	Verifier   Verifier
	ArchiveDir string

	// Encryptor decrypts encrypted copies when the plain copy is gone.
	Encryptor *storage.Encryptor

	// Mirror is the last resort for restores.
	Mirror storage.Mirror
}

// Maintainer verifies, restores and deletes archived files.
type Maintainer struct {
	cfg ArchiveConfig
}

// NewMaintainer validates cfg and creates a Maintainer.
func NewMaintainer(cfg ArchiveConfig) (*Maintainer, error) {
	if cfg.Files == nil {
		return nil, fmt.Errorf("file record repository is required")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	if cfg.ArchiveDir == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	return &Maintainer{cfg: cfg}, nil
}

// VerifyOptions narrows VerifyArchive.
type VerifyOptions struct {
	// OnlyUnverified skips records that were verified before.
	OnlyUnverified bool

	// Repair restores missing plain copies from the encrypted tree or mirror.
	Repair bool

	// Limit > 0 stops after that many records.
	Limit int
}

// ArchiveProblem describes one record that failed verification.
type ArchiveProblem struct {
	ID          int64  `json:"id"`
	Fingerprint string `json:"fingerprint"`
	Path        string `json:"path"`
	Problem     string `json:"problem"`
}

// ArchiveReport is the result of VerifyArchive.
type ArchiveReport struct {
	Checked    int              `json:"checked"`
	Verified   int              `json:"verified"`
	Repaired   int              `json:"repaired"`
	Missing    int              `json:"missing"`
	Mismatched int              `json:"mismatched"`
	Errors     int              `json:"errors"`
	Problems   []ArchiveProblem `json:"problems,omitempty"`
	Duration   time.Duration    `json:"duration"`
}

// OK reports whether every checked record verified.
func (r *ArchiveReport) OK() bool {
	return r.Missing == 0 && r.Mismatched == 0 && r.Errors == 0
}

// VerifyArchive re-fingerprints archived files and stamps last_verified on
// each one that still matches. Problems are collected, not returned as errors;
// the error is reserved for repository failures and cancellation.
func (m *Maintainer) VerifyArchive(ctx context.Context, opts VerifyOptions) (*ArchiveReport, error) {
	start := time.Now()
	report := &ArchiveReport{}

	for offset := 0; ; offset += verifyPageSize {
		page, err := m.cfg.Files.List(ctx, repository.FileFilter{Limit: verifyPageSize, Offset: offset})
		if err != nil {
			return report, fmt.Errorf("failed to list file records: %w", err)
		}

		for i := range page {
			if err := ctx.Err(); err != nil {
				report.Duration = time.Since(start)
				return report, err
			}
			if opts.Limit > 0 && report.Checked >= opts.Limit {
				break
			}
			rec := &page[i]
			if opts.OnlyUnverified && rec.LastVerified != nil {
				continue
			}
			m.verifyOne(ctx, rec, opts.Repair, report)
		}

		if len(page) < verifyPageSize || (opts.Limit > 0 && report.Checked >= opts.Limit) {
			break
		}
	}

	report.Duration = time.Since(start)
	slog.Info("archive verification finished",
		"checked", report.Checked,
		"verified", report.Verified,
		"repaired", report.Repaired,
		"missing", report.Missing,
		"mismatched", report.Mismatched,
		"errors", report.Errors,
		"duration", report.Duration,
	)
	return report, nil
}

func (m *Maintainer) verifyOne(ctx context.Context, rec *models.FileRecord, repair bool, report *ArchiveReport) {
	report.Checked++
	problem := func(kind, result string) {
		report.Problems = append(report.Problems, ArchiveProblem{
			ID:          rec.ID,
			Fingerprint: rec.Fingerprint,
			Path:        rec.DestinationPath,
			Problem:     kind,
		})
		metrics.ArchiveVerificationsTotal.WithLabelValues(result).Inc()
	}

	if !utils.FileExists(rec.DestinationPath) {
		if !repair {
			report.Missing++
			problem("missing", "missing")
			return
		}
		if err := m.restore(ctx, rec, rec.DestinationPath); err != nil {
			slog.Warn("archived file missing and could not be repaired",
				"fingerprint", rec.Fingerprint,
				"path", rec.DestinationPath,
				"error", err,
			)
			report.Missing++
			problem("missing: "+err.Error(), "missing")
			return
		}
		report.Repaired++
		metrics.ArchiveVerificationsTotal.WithLabelValues("repaired").Inc()
		slog.Info("archived file repaired", "fingerprint", rec.Fingerprint, "path", rec.DestinationPath)
	}

	ok, err := m.cfg.Verifier.Verify(rec)
	switch {
	case err != nil:
		report.Errors++
		problem(err.Error(), "error")
		return
	case !ok:
		report.Mismatched++
		problem("fingerprint mismatch", "mismatch")
		slog.Error("archived file does not match its fingerprint",
			"fingerprint", rec.Fingerprint,
			"path", rec.DestinationPath,
		)
		return
	}

	report.Verified++
	metrics.ArchiveVerificationsTotal.WithLabelValues("verified").Inc()
	if err := m.cfg.Files.UpdateLastVerified(ctx, rec.ID, time.Now().UTC()); err != nil {
		slog.Warn("failed to record verification", "fingerprint", rec.Fingerprint, "error", err)
	}
}

// RestoreFile writes the content of the record holding fp to destination and
// checks it against the fingerprint. An empty destination restores the
// record's own archive path. Returns the path written.
func (m *Maintainer) RestoreFile(ctx context.Context, fp, destination string) (string, error) {
	rec, err := m.cfg.Files.GetByFingerprint(ctx, fp)
	if err != nil {
		return "", fmt.Errorf("failed to look up fingerprint: %w", err)
	}
	if rec == nil {
		return "", fmt.Errorf("%w: fingerprint %s", repository.ErrNotFound, fp)
	}

	if destination == "" {
		destination = rec.DestinationPath
		if utils.FileExists(destination) {
			return destination, nil
		}
	}
	if utils.FileExists(destination) {
		return "", fmt.Errorf("destination already exists: %s", destination)
	}

	if err := m.restore(ctx, rec, destination); err != nil {
		return "", err
	}

	slog.Info("restored archived file",
		"fingerprint", rec.Fingerprint,
		"original_filename", rec.OriginalFilename,
		"destination", destination,
	)
	return destination, nil
}

// restore copies the best available copy of rec to dest and verifies it.
func (m *Maintainer) restore(ctx context.Context, rec *models.FileRecord, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	var err error
	switch {
	case dest != rec.DestinationPath && utils.FileExists(rec.DestinationPath):
		err = ingest.CopyFile(dest, rec.DestinationPath)
	case rec.EncryptedPath != nil && m.cfg.Encryptor != nil && utils.FileExists(*rec.EncryptedPath):
		_, err = m.cfg.Encryptor.DecryptFile(*rec.EncryptedPath, dest)
	case m.cfg.Mirror != nil:
		err = m.fromMirror(ctx, rec, dest)
	default:
		return ErrNoCopyAvailable
	}
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to restore %s: %w", rec.Fingerprint, err)
	}

	check := *rec
	check.DestinationPath = dest
	ok, err := m.cfg.Verifier.Verify(&check)
	if err != nil {
		os.Remove(dest)
		return err
	}
	if !ok {
		os.Remove(dest)
		return ErrRestoreMismatch
	}
	return nil
}

// fromMirror downloads the mirrored object the coordinator uploaded for rec,
// decrypting it when the mirror holds the encrypted copy.
func (m *Maintainer) fromMirror(ctx context.Context, rec *models.FileRecord, dest string) error {
	key, err := filepath.Rel(m.cfg.ArchiveDir, rec.DestinationPath)
	if err != nil {
		return err
	}
	key = filepath.ToSlash(key)
	encrypted := rec.EncryptedPath != nil
	if encrypted {
		if m.cfg.Encryptor == nil {
			return fmt.Errorf("mirror holds an encrypted copy but no key is configured")
		}
		key += ".enc"
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}

	if encrypted {
		tmp, terr := os.CreateTemp(filepath.Dir(dest), ".mirror-*")
		if terr != nil {
			out.Close()
			return terr
		}
		defer os.Remove(tmp.Name())
		defer tmp.Close()

		if _, err = m.cfg.Mirror.Download(ctx, key, tmp); err == nil {
			if _, err = tmp.Seek(0, 0); err == nil {
				_, err = m.cfg.Encryptor.DecryptStream(out, tmp)
			}
		}
	} else {
		_, err = m.cfg.Mirror.Download(ctx, key, out)
	}

	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

// Delete removes a record and every file written for it: the archived copy,
// the encrypted copy and the thumbnail. Mirror copies are left in place.
func (m *Maintainer) Delete(ctx context.Context, id int64) (*models.FileRecord, error) {
	rec, err := m.cfg.Files.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	paths := []string{rec.DestinationPath}
	if rec.EncryptedPath != nil {
		paths = append(paths, *rec.EncryptedPath)
	}
	if rec.ThumbnailPath != nil {
		paths = append(paths, *rec.ThumbnailPath)
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}

	if err := m.cfg.Files.Delete(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to delete file record: %w", err)
	}

	slog.Info("archived file deleted", "id", id, "fingerprint", rec.Fingerprint, "path", rec.DestinationPath)
	return rec, nil
}

// Statistics combines archive, run history and disk figures.
type Statistics struct {
	Archive *models.ArchiveStats `json:"archive"`
	Sync    *models.SyncStats    `json:"sync,omitempty"`
	Disk    *utils.DiskSpaceInfo `json:"disk,omitempty"`
}

// Stats gathers Statistics. Disk figures are omitted when the archive
// filesystem cannot be queried.
func (m *Maintainer) Stats(ctx context.Context) (*Statistics, error) {
	archive, err := m.cfg.Files.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get archive stats: %w", err)
	}
	stats := &Statistics{Archive: archive}

	if m.cfg.Syncs != nil {
		sync, err := m.cfg.Syncs.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get sync stats: %w", err)
		}
		stats.Sync = sync
	}

	if disk, err := utils.GetDiskSpace(m.cfg.ArchiveDir); err == nil {
		stats.Disk = disk
	} else {
		slog.Debug("disk space unavailable", "path", m.cfg.ArchiveDir, "error", err)
	}
	return stats, nil
}
