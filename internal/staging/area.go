// Package staging keeps rasterized page images on local disk, keyed by
// scope and page number, and serves them under a URL prefix.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lllllllleong/pagetranslationflow/internal/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// URLPrefix is the path under which staged images are served.
const URLPrefix = "/images"

var (
	// ErrScopeActive is returned when purging a scope that a run still uses.
	ErrScopeActive = errors.New("staging scope is in use")
	// ErrInvalidPath is returned for paths outside the staging area.
	ErrInvalidPath = errors.New("invalid staged image path")
)

// Preserver lists image paths that must survive sweeps.
type Preserver interface {
	PreservedPaths(ctx context.Context) ([]string, error)
}

// Area is a directory of per-scope page images.
type Area struct {
	root   string
	mu     sync.Mutex
	active map[string]int
}

// NewArea creates the staging root if needed.
func NewArea(root string) (*Area, error) {
	if root == "" {
		return nil, fmt.Errorf("staging root must be provided")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging root %s: %w", root, err)
	}
	return &Area{root: root, active: make(map[string]int)}, nil
}

// Root returns the directory backing the area.
func (a *Area) Root() string {
	return a.root
}

// NewScope returns a fresh scope name.
func NewScope() string {
	return uuid.NewString()
}

// PageName is the file name of a page inside its scope.
func PageName(pageNumber int) string {
	return fmt.Sprintf("page_%03d.jpg", pageNumber)
}

// PagePath is the servable path of a staged page.
func PagePath(scope string, pageNumber int) string {
	return path.Join(URLPrefix, scope, PageName(pageNumber))
}

func validScope(scope string) bool {
	return scope != "" && scope != "." && scope != ".." && !strings.ContainsAny(scope, `/\`)
}

// Acquire marks scope as in use. Calls nest.
func (a *Area) Acquire(scope string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active[scope]++
}

// Release undoes one Acquire.
func (a *Area) Release(scope string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active[scope] <= 1 {
		delete(a.active, scope)
		return
	}
	a.active[scope]--
}

// Active reports whether scope is in use.
func (a *Area) Active(scope string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active[scope] > 0
}

// Save writes a page image and returns its servable path.
func (a *Area) Save(scope string, pageNumber int, image []byte) (string, error) {
	if !validScope(scope) {
		return "", fmt.Errorf("%w: scope %q", ErrInvalidPath, scope)
	}
	dir := filepath.Join(a.root, scope)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create scope dir: %w", err)
	}
	file := filepath.Join(dir, PageName(pageNumber))
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, image, 0o644); err != nil {
		return "", fmt.Errorf("failed to write page image: %w", err)
	}
	if err := os.Rename(tmp, file); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize page image: %w", err)
	}
	return PagePath(scope, pageNumber), nil
}

// Resolve maps a servable path to its file on disk.
func (a *Area) Resolve(imagePath string) (string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+imagePath), URLPrefix+"/")
	parts := strings.Split(rel, "/")
	if len(parts) != 2 || !validScope(parts[0]) || !strings.HasSuffix(parts[1], ".jpg") {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, imagePath)
	}
	return filepath.Join(a.root, parts[0], parts[1]), nil
}

// ScopeOf returns the scope segment of a servable path.
func ScopeOf(imagePath string) string {
	rel := strings.TrimPrefix(path.Clean("/"+imagePath), URLPrefix+"/")
	scope, _, found := strings.Cut(rel, "/")
	if !found {
		return ""
	}
	return scope
}

// Load reads a staged image by servable path.
func (a *Area) Load(imagePath string) ([]byte, error) {
	file, err := a.Resolve(imagePath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read staged image %s: %w", imagePath, err)
	}
	return data, nil
}

// Purge removes every image in scope unless the scope is active.
func (a *Area) Purge(scope string) error {
	if !validScope(scope) {
		return fmt.Errorf("%w: scope %q", ErrInvalidPath, scope)
	}
	if a.Active(scope) {
		return ErrScopeActive
	}
	return os.RemoveAll(filepath.Join(a.root, scope))
}

// Sweep deletes images older than maxAge, skipping active scopes and any
// path the preserver reports. It returns the number of files removed.
func (a *Area) Sweep(ctx context.Context, maxAge time.Duration, preserver Preserver) (int, error) {
	preserved := make(map[string]bool)
	if preserver != nil {
		paths, err := preserver.PreservedPaths(ctx)
		if err != nil {
			// Never sweep without the preserved set.
			return 0, fmt.Errorf("failed to list preserved images, sweep skipped: %w", err)
		}
		for _, p := range paths {
			preserved[path.Clean("/"+p)] = true
		}
	}

	entries, err := os.ReadDir(a.root)
	if err != nil {
		return 0, fmt.Errorf("failed to read staging root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	var removed atomic.Int64
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(4)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		scope := entry.Name()
		if a.Active(scope) {
			slog.Debug("Skipping active staging scope.", "scope", scope)
			continue
		}
		eg.Go(func() error {
			n, err := a.sweepScope(gctx, scope, cutoff, preserved)
			removed.Add(int64(n))
			return err
		})
	}
	err = eg.Wait()

	n := int(removed.Load())
	metrics.StagingFilesSwept.Add(float64(n))
	if n > 0 {
		slog.Info("Staging sweep complete.", "removed", n, "maxAge", maxAge.String())
	}
	return n, err
}

func (a *Area) sweepScope(ctx context.Context, scope string, cutoff time.Time, preserved map[string]bool) (int, error) {
	dir := filepath.Join(a.root, scope)
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read scope %s: %w", scope, err)
	}
	removed, kept := 0, 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		info, err := f.Info()
		if err != nil || f.IsDir() {
			kept++
			continue
		}
		if preserved[path.Join(URLPrefix, scope, f.Name())] || info.ModTime().After(cutoff) {
			kept++
			continue
		}
		if err := os.Remove(filepath.Join(dir, f.Name())); err != nil {
			slog.Warn("Failed to remove stale staged image.", "scope", scope, "file", f.Name(), "error", err)
			kept++
			continue
		}
		removed++
	}
	if kept == 0 && !a.Active(scope) {
		_ = os.Remove(dir)
	}
	return removed, nil
}

// RunSweeper sweeps every interval until ctx is done.
func (a *Area) RunSweeper(ctx context.Context, interval, maxAge time.Duration, preserver Preserver) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Sweep(ctx, maxAge, preserver); err != nil {
				slog.Warn("Staging sweep failed.", "error", err)
			}
		}
	}
}
