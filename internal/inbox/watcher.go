// Package inbox watches a drop directory for suspect images and scans each
// one for a known watermark.
package inbox

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/starford/tracemark/internal/attribution"
	"github.com/starford/tracemark/internal/storage"
)

// Scanner attributes the file at path.
type Scanner interface {
	ScanPath(ctx context.Context, path string) (attribution.Result, error)
}

// Callback is invoked once per scanned file.
type Callback func(path string, res attribution.Result, err error)

// settleDelay is how long a file must go without write events before it is
// scanned, so partially copied files are not fingerprinted.
const settleDelay = 250 * time.Millisecond

// sweepWorkers bounds concurrent scans during a sweep.
const sweepWorkers = 4

// Sweep scans every image already present under root.
func Sweep(ctx context.Context, root string, scanner Scanner, logger *slog.Logger, cb Callback) error {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && storage.IsImage(d.Name()) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(sweepWorkers)
	for _, p := range paths {
		g.Go(func() error {
			scanOne(gCtx, p, scanner, logger, cb)
			return nil
		})
	}
	return g.Wait()
}

// Watch sweeps root, then processes file events until ctx is cancelled.
// Directories created at runtime are added to the watch list and swept.
func Watch(ctx context.Context, root string, scanner Scanner, logger *slog.Logger, cb Callback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	logger.Info("inbox: watching", slog.String("root", root))

	if err := Sweep(ctx, root, scanner, logger, cb); err != nil {
		logger.Warn("inbox: initial sweep failed", slog.String("error", err.Error()))
	}

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(settleDelay / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("inbox: stopped")
			return nil

		case now := <-ticker.C:
			for p, last := range pending {
				if now.Sub(last) < settleDelay {
					continue
				}
				delete(pending, p)
				scanOne(ctx, p, scanner, logger, cb)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("inbox: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					if sweepErr := Sweep(ctx, ev.Name, scanner, logger, cb); sweepErr != nil {
						logger.Warn("inbox: sweep new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", sweepErr.Error()))
					}
					continue
				}
			}

			if !storage.IsImage(ev.Name) {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending[ev.Name] = time.Now()
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				delete(pending, ev.Name)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("inbox: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

func scanOne(ctx context.Context, path string, scanner Scanner, logger *slog.Logger, cb Callback) {
	res, err := scanner.ScanPath(ctx, path)
	if err != nil {
		logger.Warn("inbox: scan failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	if cb != nil {
		cb(path, res, err)
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
