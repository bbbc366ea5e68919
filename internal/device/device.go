// Package device finds media on mounted phones and cameras.
package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fjmerc/mediavault/internal/models"
	"github.com/fjmerc/mediavault/internal/utils"
)

// ErrNoMediaFolder is returned by Detect when a root has no recognised media folder.
var ErrNoMediaFolder = fmt.Errorf("no DCIM folder found")

// mediaFolders are searched under a device root, in order. The first existing one
// becomes the device's DCIM path.
var mediaFolders = []string{
	"DCIM",
	filepath.Join("Internal Storage", "DCIM"),
	"Camera",
	"Pictures",
	"Photos",
	"Videos",
	"Movies",
}

// Candidate is one media file found on a device.
type Candidate struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
	Kind    models.MediaKind
}

// Lister enumerates the media files of a device.
type Lister interface {
	ListCandidateFiles(ctx context.Context, dev models.DeviceInfo) ([]Candidate, error)
}

// DeviceID derives a stable id from the mount root and volume name.
func DeviceID(root, name string) string {
	sum := sha256.Sum256([]byte(root + name))
	return hex.EncodeToString(sum[:])[:16]
}

// Detect builds the DeviceInfo for a mount root. The device name is the base
// name of root.
func Detect(root string) (*models.DeviceInfo, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device root: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat device root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("device root %s is not a directory", abs)
	}

	dcim := ""
	for _, folder := range mediaFolders {
		p := filepath.Join(abs, folder)
		if fi, err := os.Stat(p); err == nil && fi.IsDir() {
			dcim = p
			break
		}
	}
	if dcim == "" {
		return nil, fmt.Errorf("%w under %s", ErrNoMediaFolder, abs)
	}

	name := filepath.Base(abs)
	return &models.DeviceInfo{
		ID:       DeviceID(abs, name),
		Name:     name,
		Root:     abs,
		DCIMPath: dcim,
		LastSeen: time.Now().UTC(),
	}, nil
}

// DirLister walks the media folders of a mounted device.
type DirLister struct {
	media *utils.MediaTypes
}

var _ Lister = (*DirLister)(nil)

// NewDirLister creates a lister that keeps files classified as media.
func NewDirLister(media *utils.MediaTypes) *DirLister {
	return &DirLister{media: media}
}

// ListCandidateFiles returns every media file below the device's media folders,
// sorted by path. Hidden files and directories are skipped.
func (l *DirLister) ListCandidateFiles(ctx context.Context, dev models.DeviceInfo) ([]Candidate, error) {
	roots := l.roots(dev)
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoMediaFolder, dev.Root)
	}

	seen := make(map[string]bool)
	var out []Candidate

	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			name := d.Name()
			if strings.HasPrefix(name, ".") && path != root {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() || seen[path] {
				return nil
			}

			kind, ok := l.media.Kind(name)
			if !ok {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}

			seen[path] = true
			out = append(out, Candidate{
				Path:    path,
				Name:    name,
				Size:    info.Size(),
				ModTime: info.ModTime(),
				Kind:    kind,
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", root, err)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// roots returns the existing media folders of dev, without nesting duplicates.
func (l *DirLister) roots(dev models.DeviceInfo) []string {
	var roots []string
	add := func(p string) {
		for _, r := range roots {
			if p == r || strings.HasPrefix(p, r+string(filepath.Separator)) {
				return
			}
		}
		if fi, err := os.Stat(p); err == nil && fi.IsDir() {
			roots = append(roots, p)
		}
	}

	if dev.DCIMPath != "" {
		add(dev.DCIMPath)
	}
	if dev.Root != "" {
		for _, folder := range mediaFolders {
			add(filepath.Join(dev.Root, folder))
		}
	}
	return roots
}
