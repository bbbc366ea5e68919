package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/fjmerc/mediavault/internal/app"
	"github.com/fjmerc/mediavault/internal/backup"
	"github.com/fjmerc/mediavault/internal/config"
	"github.com/fjmerc/mediavault/internal/repository"
	"github.com/fjmerc/mediavault/internal/utils"
)

// Version information
const (
	ToolVersion = "1.0.0"
	ToolName    = "MediaVault Archive Tool"
)

// loadConfig is replaced in tests
var loadConfig = config.Load

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if os.Args[1] == "-h" || os.Args[1] == "--help" || os.Args[1] == "help" {
		printUsage()
		os.Exit(0)
	}

	if os.Args[1] == "-v" || os.Args[1] == "--version" || os.Args[1] == "version" {
		fmt.Printf("%s v%s\n", ToolName, ToolVersion)
		os.Exit(0)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var errUnknownCommand = errors.New("unknown command")

func run(command string, args []string) error {
	switch command {
	case "verify":
		return runVerify(args)
	case "restore-file":
		return runRestoreFile(args)
	case "stats":
		return runStats(args)
	case "delete":
		return runDelete(args)
	case "backup":
		return runBackup(args)
	case "verify-backup":
		return runVerifyBackup(args)
	case "restore":
		return runRestore(args)
	case "list":
		return runList(args)
	case "prune":
		return runPrune(args)
	default:
		printUsage()
		return fmt.Errorf("%w: %s", errUnknownCommand, command)
	}
}

func printUsage() {
	fmt.Printf(`%s v%s

Maintains the MediaVault archive and its snapshots.

USAGE:
    mediavault-archive <command> [options]

ARCHIVE COMMANDS:
    verify          Re-fingerprint archived files against their records
    restore-file    Copy an archived file out by fingerprint
    stats           Show archive and sync statistics
    delete          Remove an archived file and its record

SNAPSHOT COMMANDS:
    backup          Snapshot the database, optionally with the archive
    verify-backup   Check a snapshot's manifest and checksums
    restore         Restore a snapshot
    list            List snapshots in a directory
    prune           Remove snapshots older than a number of days

FLAGS:
    -h, --help      Show this help message
    -v, --version   Show version information

Archive commands read the same environment as the server (DB_PATH,
ARCHIVE_DIR, ENCRYPTION_ENABLED, ...).

EXAMPLES:
    # Verify files that were never checked, restoring missing copies
    mediavault-archive verify --only-unverified --repair

    # Restore one file to a new location
    mediavault-archive restore-file --fingerprint 3f2a... --dest /tmp/photo.jpg

    # Full snapshot
    mediavault-archive backup --mode full --output /backups

    # Preview a restore
    mediavault-archive restore --backup /backups/backup-20240101-120000 --dry-run

    # Drop snapshots older than 30 days
    mediavault-archive prune --dir /backups --older-than-days 30

For more information on a command, run:
    mediavault-archive <command> --help
`, ToolName, ToolVersion)
}

// archiveFlags are shared by commands that open the archive
type archiveFlags struct {
	db      *string
	archive *string
	json    *bool
	quiet   *bool
}

func addArchiveFlags(fs *flag.FlagSet) archiveFlags {
	return archiveFlags{
		db:      fs.String("db", "", "SQLite database path (overrides DB_PATH)"),
		archive: fs.String("archive", "", "Archive directory (overrides ARCHIVE_DIR)"),
		json:    fs.Bool("json", false, "JSON output format"),
		quiet:   fs.Bool("quiet", false, "Minimal output"),
	}
}

func (f archiveFlags) validate() error {
	if *f.json && *f.quiet {
		return fmt.Errorf("cannot specify both --json and --quiet")
	}
	return nil
}

// openArchive loads configuration, applies flag overrides and wires the app
func openArchive(ctx context.Context, f archiveFlags) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if *f.db != "" {
		cfg.DBType = config.DatabaseTypeSQLite
		cfg.DBPath = *f.db
	}
	if *f.archive != "" {
		cfg.ArchiveDir = *f.archive
	}
	return app.Open(ctx, cfg, app.Options{})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runVerify handles the "verify" subcommand
func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	af := addArchiveFlags(fs)
	onlyUnverified := fs.Bool("only-unverified", false, "Skip files verified before")
	repair := fs.Bool("repair", false, "Restore missing copies from the encrypted tree or mirror")
	limit := fs.Int("limit", 0, "Stop after this many files (0 = all)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Verify archived files against their fingerprints.

USAGE:
    mediavault-archive verify [options]

OPTIONS:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := af.validate(); err != nil {
		return err
	}
	if *limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := openArchive(ctx, af)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Maintainer.VerifyArchive(ctx, backup.VerifyOptions{
		OnlyUnverified: *onlyUnverified,
		Repair:         *repair,
		Limit:          *limit,
	})
	if err != nil {
		return fmt.Errorf("verification aborted: %w", err)
	}

	if *af.json {
		if err := printJSON(report); err != nil {
			return err
		}
	} else if !*af.quiet {
		printVerifyReport(report)
	}

	if !report.OK() {
		return fmt.Errorf("archive verification failed")
	}
	return nil
}

// runRestoreFile handles the "restore-file" subcommand
func runRestoreFile(args []string) error {
	fs := flag.NewFlagSet("restore-file", flag.ContinueOnError)
	af := addArchiveFlags(fs)
	fingerprint := fs.String("fingerprint", "", "Fingerprint of the file to restore (required)")
	dest := fs.String("dest", "", "Destination path (default: the file's archive path)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Restore an archived file by fingerprint.

Without --dest a missing archive copy is rebuilt in place from the
encrypted tree or the mirror.

USAGE:
    mediavault-archive restore-file --fingerprint <fp> [options]

OPTIONS:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := af.validate(); err != nil {
		return err
	}
	if *fingerprint == "" {
		return fmt.Errorf("--fingerprint flag is required")
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := openArchive(ctx, af)
	if err != nil {
		return err
	}
	defer a.Close()

	path, err := a.Maintainer.RestoreFile(ctx, *fingerprint, *dest)
	if err != nil {
		return fmt.Errorf("failed to restore file: %w", err)
	}

	switch {
	case *af.json:
		return printJSON(map[string]any{"success": true, "fingerprint": *fingerprint, "path": path})
	case *af.quiet:
		fmt.Println(path)
	default:
		fmt.Printf("Restored %s to %s\n", *fingerprint, path)
	}
	return nil
}

// runStats handles the "stats" subcommand
func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	af := addArchiveFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Show archive, sync and disk statistics.

USAGE:
    mediavault-archive stats [options]

OPTIONS:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := af.validate(); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := openArchive(ctx, af)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.Maintainer.Stats(ctx)
	if err != nil {
		return err
	}

	if *af.json {
		return printJSON(stats)
	}
	if !*af.quiet {
		printStatistics(stats)
	}
	return nil
}

// runDelete handles the "delete" subcommand
func runDelete(args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	af := addArchiveFlags(fs)
	id := fs.Int64("id", 0, "File record ID (required)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Delete an archived file, its encrypted copy, its thumbnail and its record.

Mirror copies are kept.

USAGE:
    mediavault-archive delete --id <id> [options]

OPTIONS:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := af.validate(); err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("--id flag is required")
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := openArchive(ctx, af)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.Maintainer.Delete(ctx, *id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("no file record with id %d", *id)
		}
		return err
	}

	switch {
	case *af.json:
		return printJSON(rec)
	case !*af.quiet:
		fmt.Printf("Deleted %s (%s)\n", rec.DestinationPath, rec.Fingerprint)
	}
	return nil
}

// runBackup handles the "backup" subcommand
func runBackup(args []string) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)

	mode := fs.String("mode", "full", "Snapshot mode: database or full")
	outputDir := fs.String("output", "", "Output directory for snapshots (required)")
	dbPath := fs.String("db", os.Getenv("DB_PATH"), "Path to the SQLite database (default: DB_PATH)")
	archiveDir := fs.String("archive", os.Getenv("ARCHIVE_DIR"), "Archive directory, required for full mode (default: ARCHIVE_DIR)")
	encKey := fs.String("enckey", os.Getenv("ENCRYPTION_KEY"), "Encryption key for key fingerprinting (64 hex chars)")
	quiet := fs.Bool("quiet", false, "Minimal output")
	jsonOutput := fs.Bool("json", false, "JSON output format")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Create a snapshot.

USAGE:
    mediavault-archive backup [options]

OPTIONS:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
SNAPSHOT MODES:
    database    Metadata database only
    full        Database + every archived file
`)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *outputDir == "" {
		return fmt.Errorf("--output flag is required")
	}
	if *dbPath == "" {
		return fmt.Errorf("--db flag or DB_PATH is required")
	}
	backupMode := backup.BackupMode(*mode)
	if !backupMode.IsValid() {
		return fmt.Errorf("invalid mode: %s (must be database or full)", *mode)
	}

	opts := backup.CreateOptions{
		Mode:          backupMode,
		DBPath:        *dbPath,
		ArchiveDir:    *archiveDir,
		OutputDir:     *outputDir,
		EncryptionKey: *encKey,
		AppVersion:    ToolVersion,
	}
	if !*quiet && !*jsonOutput {
		opts.ProgressCallback = printStep
		fmt.Printf("Creating %s snapshot...\n\n", backupMode)
	}

	result, err := backup.Create(opts)

	if *jsonOutput {
		if encErr := printJSON(result); encErr != nil {
			return encErr
		}
		return err
	}
	if err != nil {
		return err
	}
	if *quiet {
		fmt.Println(result.BackupPath)
		return nil
	}
	fmt.Println()
	printBackupResult(result)
	return nil
}

// runVerifyBackup handles the "verify-backup" subcommand
func runVerifyBackup(args []string) error {
	fs := flag.NewFlagSet("verify-backup", flag.ContinueOnError)

	backupPath := fs.String("backup", "", "Path to snapshot directory (required)")
	quick := fs.Bool("quick", false, "Check presence only, skip checksums")
	quiet := fs.Bool("quiet", false, "Minimal output")
	jsonOutput := fs.Bool("json", false, "JSON output format")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Verify a snapshot.

USAGE:
    mediavault-archive verify-backup --backup <dir> [options]

OPTIONS:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *backupPath == "" {
		return fmt.Errorf("--backup flag is required")
	}

	var result *backup.VerifyResult
	if *quick {
		result = backup.QuickVerify(*backupPath)
	} else {
		result = backup.Verify(*backupPath)
	}

	if *jsonOutput {
		if err := printJSON(result); err != nil {
			return err
		}
	} else if !*quiet {
		printVerifyResult(result)
	}

	if !result.Valid {
		return fmt.Errorf("snapshot verification failed")
	}
	return nil
}

// runRestore handles the "restore" subcommand
func runRestore(args []string) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)

	backupPath := fs.String("backup", "", "Path to snapshot directory (required)")
	dbPath := fs.String("db", os.Getenv("DB_PATH"), "Database path to restore to (default: DB_PATH)")
	archiveDir := fs.String("archive", os.Getenv("ARCHIVE_DIR"), "Archive directory to restore to (default: ARCHIVE_DIR)")
	orphans := fs.String("orphans", "keep", "Records without an archived file: keep or remove")
	dryRun := fs.Bool("dry-run", false, "Preview without changing anything")
	force := fs.Bool("force", false, "Overwrite an existing database")
	encKey := fs.String("enckey", os.Getenv("ENCRYPTION_KEY"), "Encryption key to check against the snapshot")
	quiet := fs.Bool("quiet", false, "Minimal output")
	jsonOutput := fs.Bool("json", false, "JSON output format")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Restore a snapshot.

USAGE:
    mediavault-archive restore --backup <dir> [options]

OPTIONS:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
ORPHAN HANDLING:
    keep      Keep records whose file is missing; re-imports are skipped
    remove    Delete them so the content can be archived again
`)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *backupPath == "" {
		return fmt.Errorf("--backup flag is required")
	}
	if *dbPath == "" {
		return fmt.Errorf("--db flag or DB_PATH is required")
	}
	handling := backup.OrphanHandling(*orphans)
	if !handling.IsValid() {
		return fmt.Errorf("invalid orphans mode: %s (must be keep or remove)", *orphans)
	}

	opts := backup.RestoreOptions{
		InputDir:      *backupPath,
		DBPath:        *dbPath,
		ArchiveDir:    *archiveDir,
		HandleOrphans: handling,
		DryRun:        *dryRun,
		Force:         *force,
		EncryptionKey: *encKey,
	}
	if !*quiet && !*jsonOutput {
		opts.ProgressCallback = printStep
	}

	result, err := backup.Restore(opts)

	if *jsonOutput {
		if encErr := printJSON(result); encErr != nil {
			return encErr
		}
		return err
	}
	if !*quiet {
		printRestoreResult(result)
	}
	return err
}

// runList handles the "list" subcommand
func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)

	dir := fs.String("dir", "", "Directory containing snapshots (required)")
	jsonOutput := fs.Bool("json", false, "JSON output format")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `List snapshots.

USAGE:
    mediavault-archive list --dir <dir> [options]

OPTIONS:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return fmt.Errorf("--dir flag is required")
	}
	if _, err := os.Stat(*dir); err != nil {
		return fmt.Errorf("cannot access directory: %w", err)
	}

	backups, err := backup.ListBackups(*dir)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}

	if *jsonOutput {
		return printJSON(backups)
	}
	printBackupList(backups)
	return nil
}

// runPrune handles the "prune" subcommand
func runPrune(args []string) error {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)

	dir := fs.String("dir", "", "Directory containing snapshots (required)")
	days := fs.Int("older-than-days", 0, "Remove snapshots created more than this many days ago (required)")
	quiet := fs.Bool("quiet", false, "Minimal output")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Remove old snapshots.

Only directories named like "backup-YYYYMMDD-HHMMSS" are considered.

USAGE:
    mediavault-archive prune --dir <dir> --older-than-days <n>

OPTIONS:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return fmt.Errorf("--dir flag is required")
	}
	if *days <= 0 {
		return fmt.Errorf("--older-than-days must be positive")
	}

	cutoff := time.Now().AddDate(0, 0, -*days)
	removed, err := backup.PruneBackups(*dir, cutoff)
	if err != nil {
		return err
	}

	if *quiet {
		fmt.Println(strconv.Itoa(removed))
	} else {
		fmt.Printf("Removed %d snapshot(s) older than %s\n", removed, cutoff.Format("2006-01-02"))
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStep(current, total int, description string) {
	fmt.Printf("[%d/%d] %s\n", current, total, description)
}

const rule = "======================================================================"

// printVerifyReport displays an archive verification report
func printVerifyReport(r *backup.ArchiveReport) {
	fmt.Println(rule)
	if r.OK() {
		fmt.Println("ARCHIVE VERIFICATION PASSED")
	} else {
		fmt.Println("ARCHIVE VERIFICATION FAILED")
	}
	fmt.Println(rule)

	fmt.Printf("Checked:         %d\n", r.Checked)
	fmt.Printf("Verified:        %d\n", r.Verified)
	fmt.Printf("Repaired:        %d\n", r.Repaired)
	fmt.Printf("Missing:         %d\n", r.Missing)
	fmt.Printf("Mismatched:      %d\n", r.Mismatched)
	fmt.Printf("Errors:          %d\n", r.Errors)
	fmt.Printf("Duration:        %s\n", r.Duration.Round(time.Millisecond))

	if len(r.Problems) > 0 {
		fmt.Printf("\nProblems (%d):\n", len(r.Problems))
		for i, p := range r.Problems {
			if i >= 10 {
				fmt.Printf("  ... and %d more\n", len(r.Problems)-10)
				break
			}
			fmt.Printf("  - [%d] %s: %s\n", p.ID, p.Path, p.Problem)
		}
	}

	fmt.Println(rule)
}

// printStatistics displays archive statistics
func printStatistics(s *backup.Statistics) {
	fmt.Println(rule)
	fmt.Println("ARCHIVE STATISTICS")
	fmt.Println(rule)

	a := s.Archive
	fmt.Printf("Files:           %d (%d photos, %d videos)\n", a.TotalFiles, a.PhotoCount, a.VideoCount)
	fmt.Printf("Size:            %s\n", utils.FormatBytes(uint64(a.TotalBytes)))
	fmt.Printf("Encrypted:       %d\n", a.EncryptedCount)
	fmt.Printf("Unverified:      %d\n", a.UnverifiedCount)

	if len(a.ByMethod) > 0 {
		fmt.Println("\nBy method:")
		for method, n := range a.ByMethod {
			fmt.Printf("  %-16s %d\n", method, n)
		}
	}

	if s.Sync != nil {
		fmt.Println("\nSync runs:")
		fmt.Printf("  Total:         %d\n", s.Sync.TotalRuns)
		fmt.Printf("  Successful:    %d\n", s.Sync.SuccessfulRuns)
		fmt.Printf("  Partial:       %d\n", s.Sync.PartialRuns)
		fmt.Printf("  Failed:        %d\n", s.Sync.FailedRuns)
		if s.Sync.LastRunAt != nil {
			fmt.Printf("  Last run:      %s\n", s.Sync.LastRunAt.Format(time.RFC3339))
		}
	}

	if s.Disk != nil {
		fmt.Println("\nDisk:")
		fmt.Printf("  Available:     %s of %s (%.1f%% used)\n",
			utils.FormatBytes(s.Disk.AvailableBytes), utils.FormatBytes(s.Disk.TotalBytes), s.Disk.UsedPercent)
	}

	fmt.Println(rule)
}

// printBackupResult displays snapshot creation result
func printBackupResult(result *backup.BackupResult) {
	fmt.Println(rule)
	fmt.Println("SNAPSHOT CREATED SUCCESSFULLY")
	fmt.Println(rule)

	fmt.Printf("Snapshot Path:   %s\n", result.BackupPath)
	if m := result.Manifest; m != nil {
		fmt.Printf("Mode:            %s\n", m.Mode)
		fmt.Printf("Created At:      %s\n", m.CreatedAt.Format(time.RFC3339))
		fmt.Printf("File Records:    %d\n", m.Stats.FileRecordsCount)
		fmt.Printf("Database Size:   %s\n", utils.FormatBytes(uint64(m.Stats.DatabaseSizeBytes)))
		if m.Mode == backup.ModeFull {
			fmt.Printf("Archived Files:  %d\n", m.Stats.FilesBackedUp)
			fmt.Printf("Archive Size:    %s\n", utils.FormatBytes(uint64(m.Stats.FilesSizeBytes)))
		}
		fmt.Printf("Total Size:      %s\n", utils.FormatBytes(uint64(m.Stats.TotalSizeBytes)))
		if m.Encryption.Enabled && len(m.Encryption.KeyFingerprint) > 16 {
			fmt.Printf("Key Fingerprint: %s...\n", m.Encryption.KeyFingerprint[:16])
		}
		for _, w := range m.Warnings {
			fmt.Printf("Warning:         %s\n", w)
		}
	}
	fmt.Printf("Duration:        %s\n", result.DurationString)

	fmt.Println(rule)
}

// printRestoreResult displays restore result
func printRestoreResult(result *backup.RestoreResult) {
	fmt.Println(rule)
	switch {
	case !result.Success:
		fmt.Println("RESTORE FAILED")
	case result.DryRun:
		fmt.Println("RESTORE PREVIEW (DRY RUN)")
	default:
		fmt.Println("RESTORE COMPLETED SUCCESSFULLY")
	}
	fmt.Println(rule)

	if result.Error != "" {
		fmt.Printf("Error: %s\n", result.Error)
		return
	}

	fmt.Printf("Files Restored:  %d\n", result.FilesRestored)
	fmt.Printf("Duration:        %s\n", result.DurationString)

	if result.OrphansFound > 0 {
		fmt.Printf("\nOrphan Records:\n")
		fmt.Printf("  Found:   %d\n", result.OrphansFound)
		fmt.Printf("  Removed: %d\n", result.OrphansRemoved)
	}

	if len(result.Warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range result.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Println(rule)
}

// printVerifyResult displays snapshot verification result
func printVerifyResult(result *backup.VerifyResult) {
	fmt.Println(rule)
	if result.Valid {
		fmt.Println("SNAPSHOT VERIFICATION PASSED")
	} else {
		fmt.Println("SNAPSHOT VERIFICATION FAILED")
	}
	fmt.Println(rule)

	if result.Manifest != nil {
		fmt.Printf("Mode:            %s\n", result.Manifest.Mode)
		fmt.Printf("Created At:      %s\n", result.Manifest.CreatedAt.Format(time.RFC3339))
		fmt.Printf("App Version:     %s\n", result.Manifest.AppVersion)
	}

	fmt.Println("\nChecks:")
	fmt.Printf("  Manifest:      %s\n", boolToStatus(result.ManifestValid))
	fmt.Printf("  Database:      %s\n", boolToStatus(result.DatabaseValid))
	fmt.Printf("  Checksums:     %s\n", boolToStatus(result.ChecksumsValid))
	fmt.Printf("  Files:         %s\n", boolToStatus(result.FilesValid))

	if len(result.ChecksumMismatches) > 0 {
		fmt.Printf("\nChecksum Mismatches (%d):\n", len(result.ChecksumMismatches))
		for i, m := range result.ChecksumMismatches {
			if i >= 10 {
				fmt.Printf("  ... and %d more\n", len(result.ChecksumMismatches)-10)
				break
			}
			fmt.Printf("  - %s\n", m.File)
		}
	}

	if len(result.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, w := range result.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}

	fmt.Println(rule)
}

// printBackupList displays list of snapshots
func printBackupList(backups []backup.BackupInfo) {
	if len(backups) == 0 {
		fmt.Println("No snapshots found.")
		return
	}

	fmt.Println(rule)
	fmt.Println("AVAILABLE SNAPSHOTS")
	fmt.Println(rule)
	fmt.Printf("%-40s %-10s %-12s %s\n", "NAME", "MODE", "SIZE", "CREATED")
	fmt.Println("----------------------------------------------------------------------")

	for _, b := range backups {
		name := filepath.Base(b.Path)
		if len(name) > 38 {
			name = name[:35] + "..."
		}
		fmt.Printf("%-40s %-10s %-12s %s\n",
			name,
			b.Mode,
			utils.FormatBytes(uint64(b.TotalSizeBytes)),
			b.CreatedAt.Format("2006-01-02 15:04"),
		)
	}

	fmt.Println(rule)
	fmt.Printf("Total: %d snapshot(s)\n", len(backups))
}

func boolToStatus(b bool) string {
	if b {
		return "OK"
	}
	return "FAILED"
}
