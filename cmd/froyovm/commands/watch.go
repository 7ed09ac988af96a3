package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/froyovm/pkg/config"
	"github.com/openfroyo/froyovm/pkg/policy"
	"github.com/openfroyo/froyovm/pkg/telemetry"
)

const watchDebounce = 300 * time.Millisecond

// scopeWatch tracks the scope files and CUE package directories whose
// changes trigger a re-validation. Parent directories are watched so editors
// that replace files by rename are noticed.
type scopeWatch struct {
	files map[string]bool
	dirs  map[string]bool
}

func newScopeWatch(watcher *fsnotify.Watcher, paths []string) (*scopeWatch, error) {
	sw := &scopeWatch{files: map[string]bool{}, dirs: map[string]bool{}}
	added := map[string]bool{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		dir := filepath.Dir(abs)
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			sw.dirs[abs] = true
			dir = abs
		} else {
			sw.files[abs] = true
		}
		if added[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		added[dir] = true
	}
	return sw, nil
}

func (sw *scopeWatch) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	name, err := filepath.Abs(ev.Name)
	if err != nil {
		return false
	}
	return sw.files[name] || sw.dirs[filepath.Dir(name)]
}

// watchAndValidate validates once and again after every change to a scope or
// policy file, until ctx is cancelled.
func watchAndValidate(ctx context.Context, out io.Writer, loader *config.Loader, engine *policy.Engine, opts validateOptions) error {
	logger := telemetry.FromContext(ctx)
	metrics := telemetry.MetricsFromContext(ctx)

	if tel != nil {
		stopMetrics, err := tel.Metrics.StartMetricsServer()
		if err != nil {
			return err
		}
		defer func() { _ = stopMetrics(context.Background()) }()
	}

	paths, err := scopePaths()
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	scopes, err := newScopeWatch(watcher, paths)
	if err != nil {
		return err
	}

	rerun := make(chan string, 1)
	trigger := func(reason string) {
		select {
		case rerun <- reason:
		default:
		}
	}

	if len(opts.policyPaths) > 0 {
		policyLoader := policy.NewLoader(componentLogger("policy"))
		err := policyLoader.Watch(ctx, opts.policyPaths, func(policies []policy.Policy) error {
			if err := engine.Replace(ctx, policies); err != nil {
				return err
			}
			trigger("policies")
			return nil
		})
		if err != nil {
			return err
		}
		defer func() { _ = policyLoader.StopWatching() }()
	}

	validate := func() {
		if _, err := runValidation(ctx, out, loader, engine, opts); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}

	validate()
	logger.Infof("watching %d scope(s) for changes", len(paths))

	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !scopes.relevant(ev) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			name := ev.Name
			debounce = time.AfterFunc(watchDebounce, func() { trigger(name) })

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("watcher error")

		case reason := <-rerun:
			metrics.RecordWatchRevalidation()
			logger.WithField("changed", reason).Info("re-validating")
			validate()
		}
	}
}
