package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/fjmerc/mediavault/internal/app"
	"github.com/fjmerc/mediavault/internal/config"
	"github.com/fjmerc/mediavault/internal/device"
	"github.com/fjmerc/mediavault/internal/ingest"
	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/utils"
)

// Version information
const (
	ToolVersion = "1.0.0"
	ToolName    = "MediaVault Import Tool"
)

// ImportOptions holds the command-line configuration
type ImportOptions struct {
	// Input mode (mutually exclusive)
	SourceFile string
	Directory  string

	DBPath     string
	ArchiveDir string

	Workers           int
	DeleteAfterVerify bool
	NoMirror          bool

	Quiet   bool
	JSON    bool
	Verbose bool
}

// FileResult is printed for single file imports
type FileResult struct {
	SourcePath  string `json:"source_path"`
	Success     bool   `json:"success"`
	Skipped     bool   `json:"skipped"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Destination string `json:"destination,omitempty"`
	Error       string `json:"error,omitempty"`
}

func main() {
	opts := &ImportOptions{}

	flag.StringVar(&opts.SourceFile, "source", "", "Path to a single media file")
	flag.StringVar(&opts.Directory, "directory", "", "Device mount root or plain directory to back up")
	flag.StringVar(&opts.DBPath, "db", "", "SQLite database path (overrides DB_PATH)")
	flag.StringVar(&opts.ArchiveDir, "archive", "", "Archive directory (overrides ARCHIVE_DIR)")
	flag.IntVar(&opts.Workers, "workers", 0, "Parallel ingest workers (overrides INGEST_WORKERS)")
	flag.BoolVar(&opts.DeleteAfterVerify, "delete-after-verify", false, "Remove source files once their archived copy verifies")
	flag.BoolVar(&opts.NoMirror, "no-mirror", false, "Skip the S3 mirror even when configured")
	flag.BoolVar(&opts.Quiet, "quiet", false, "Minimal output for scripting")
	flag.BoolVar(&opts.JSON, "json", false, "JSON output format")
	flag.BoolVar(&opts.Verbose, "verbose", false, "Log every file")
	version := flag.Bool("version", false, "Show version information")

	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", ToolName, ToolVersion)
		os.Exit(0)
	}

	if err := validateOptions(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\nUse -h for usage information.\n", err)
		os.Exit(2)
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg, opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var bar *progressBar
	if !opts.Quiet && !opts.JSON && term.IsTerminal(int(os.Stderr.Fd())) {
		bar = newProgressBar(os.Stderr)
	}

	appOpts := app.Options{NoMirror: opts.NoMirror}
	if bar != nil {
		appOpts.Observer = bar.update
	}

	a, err := app.Open(ctx, cfg, appOpts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if opts.SourceFile != "" {
		result := importFile(ctx, a, opts.SourceFile)
		switch {
		case opts.JSON:
			printJSON(result)
		case !opts.Quiet:
			printFileResult(result)
		}
		if !result.Success {
			os.Exit(1)
		}
		return
	}

	rec, err := importDirectory(ctx, a, opts)
	if bar != nil {
		bar.finish()
	}
	if rec != nil {
		switch {
		case opts.JSON:
			printJSON(rec)
		case !opts.Quiet:
			printSummary(rec)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if rec.FilesFailed > 0 {
		os.Exit(1)
	}
}

// validateOptions checks that exactly one input mode is set
func validateOptions(opts *ImportOptions) error {
	if opts.SourceFile == "" && opts.Directory == "" {
		return fmt.Errorf("either -source or -directory must be specified")
	}
	if opts.SourceFile != "" && opts.Directory != "" {
		return fmt.Errorf("cannot specify both -source and -directory")
	}
	if opts.SourceFile != "" && opts.DeleteAfterVerify {
		return fmt.Errorf("-delete-after-verify only applies to -directory imports")
	}
	if opts.Workers < 0 {
		return fmt.Errorf("-workers must not be negative")
	}
	if opts.JSON && opts.Quiet {
		return fmt.Errorf("cannot specify both -json and -quiet")
	}
	return nil
}

func applyOverrides(cfg *config.Config, opts *ImportOptions) {
	if opts.DBPath != "" {
		cfg.DBType = config.DatabaseTypeSQLite
		cfg.DBPath = opts.DBPath
	}
	if opts.ArchiveDir != "" {
		cfg.ArchiveDir = opts.ArchiveDir
	}
	if opts.Workers > 0 {
		cfg.IngestWorkers = opts.Workers
	}
}

func importFile(ctx context.Context, a *app.App, path string) *FileResult {
	result := &FileResult{SourcePath: path}

	info, err := os.Stat(path)
	if err != nil {
		result.Error = fmt.Sprintf("cannot access source file: %v", err)
		return result
	}
	if info.IsDir() {
		result.Error = "source is a directory, use -directory"
		return result
	}

	res, err := a.Coordinator.Ingest(ctx, ingest.Source{
		Path:     path,
		DeviceID: "import-tool",
		Method:   models.MethodLocalCable,
	})
	result.Fingerprint = res.Fingerprint
	result.Destination = res.Destination
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.Skipped = res.Skipped
	return result
}

// sourceDevice treats dir as a device mount when it has a media folder, and
// otherwise as a folder of media files.
func sourceDevice(dir string) (models.DeviceInfo, error) {
	dev, err := device.Detect(dir)
	if err == nil {
		return *dev, nil
	}
	if !errors.Is(err, device.ErrNoMediaFolder) {
		return models.DeviceInfo{}, err
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return models.DeviceInfo{}, fmt.Errorf("failed to resolve directory: %w", err)
	}
	name := filepath.Base(abs)
	return models.DeviceInfo{
		ID:       device.DeviceID(abs, name),
		Name:     name,
		Root:     abs,
		DCIMPath: abs,
		LastSeen: time.Now().UTC(),
	}, nil
}

func importDirectory(ctx context.Context, a *app.App, opts *ImportOptions) (*models.SyncRecord, error) {
	dev, err := sourceDevice(opts.Directory)
	if err != nil {
		return nil, err
	}

	return a.Coordinator.Run(ctx, ingest.RunOptions{
		Device:            dev,
		Kind:              models.SyncManual,
		Workers:           a.Config.IngestWorkers,
		DeleteAfterVerify: opts.DeleteAfterVerify,
	})
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}

func printFileResult(r *FileResult) {
	switch {
	case !r.Success:
		fmt.Printf("FAILED   %s: %s\n", r.SourcePath, r.Error)
	case r.Skipped:
		fmt.Printf("SKIPPED  %s (already archived as %s)\n", r.SourcePath, r.Destination)
	default:
		fmt.Printf("ARCHIVED %s -> %s\n", r.SourcePath, r.Destination)
	}
	if r.Fingerprint != "" {
		fmt.Printf("         fingerprint %s\n", r.Fingerprint)
	}
}

func printSummary(rec *models.SyncRecord) {
	outcome := "unknown"
	if rec.Outcome != nil {
		outcome = string(*rec.Outcome)
	}

	fmt.Println()
	fmt.Println("Import Summary")
	fmt.Println(strings.Repeat("=", 40))
	fmt.Printf("Run ID:     %s\n", rec.RunID)
	fmt.Printf("Outcome:    %s\n", outcome)
	fmt.Printf("Processed:  %d\n", rec.FilesProcessed)
	fmt.Printf("Archived:   %d\n", rec.FilesIngested)
	fmt.Printf("Skipped:    %d (already archived)\n", rec.FilesSkipped)
	fmt.Printf("Failed:     %d\n", rec.FilesFailed)
	fmt.Printf("Size:       %s\n", utils.FormatBytes(uint64(rec.BytesProcessed)))
	fmt.Printf("Duration:   %s\n", rec.Duration.Round(time.Millisecond))

	if len(rec.FailedFiles) > 0 {
		fmt.Println()
		fmt.Println("Failed files:")
		for _, f := range rec.FailedFiles {
			fmt.Printf("  %s: %s\n", f.Path, f.Error)
		}
	}
}

// progressBar redraws a single status line on a terminal
type progressBar struct {
	w     io.Writer
	fd    int
	last  time.Time
	drawn bool
}

func newProgressBar(f *os.File) *progressBar {
	return &progressBar{w: f, fd: int(f.Fd())}
}

func (b *progressBar) update(p ingest.Progress) {
	now := time.Now()
	if p.ProcessedFiles < p.TotalFiles && now.Sub(b.last) < 100*time.Millisecond {
		return
	}
	b.last = now

	width := 80
	if w, _, err := term.GetSize(b.fd); err == nil && w > 0 {
		width = w
	}
	fmt.Fprint(b.w, "\r"+renderProgress(p, width, now))
	b.drawn = true
}

func (b *progressBar) finish() {
	if b.drawn {
		fmt.Fprintln(b.w)
	}
}

// renderProgress formats one progress line no wider than width
func renderProgress(p ingest.Progress, width int, now time.Time) string {
	eta := "--"
	if d := p.ETA(now); d >= 0 {
		eta = d.Round(time.Second).String()
	}
	stats := fmt.Sprintf(" %3.0f%% %d/%d new:%d dup:%d err:%d eta %s ",
		p.Percentage(), p.ProcessedFiles, p.TotalFiles,
		p.IngestedFiles, p.SkippedFiles, p.FailedFiles, eta)

	barWidth := width - len(stats) - 3
	if barWidth > 40 {
		barWidth = 40
	}
	line := stats
	if barWidth >= 10 {
		filled := 0
		if p.TotalFiles > 0 {
			filled = barWidth * p.ProcessedFiles / p.TotalFiles
		}
		line = "[" + strings.Repeat("#", filled) + strings.Repeat(" ", barWidth-filled) + "]" + stats
	}

	if room := width - len(line) - 1; room > 8 && p.CurrentFile != "" {
		name := p.CurrentFile
		if len(name) > room {
			name = "..." + name[len(name)-room+3:]
		}
		line += name
	}
	if len(line) > width-1 && width > 1 {
		line = line[:width-1]
	}
	// pad to clear leftovers of a longer previous line
	if pad := width - 1 - len(line); pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	return line
}
