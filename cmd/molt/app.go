// # cmd/molt/app.go
package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"

	"molt/internal/config"
	"molt/internal/data/history"
	"molt/internal/degrade"
	"molt/internal/ledger"
	"molt/internal/pipeline"
	"molt/internal/shared/util"
	"molt/internal/watcher"
)

// FileResult pairs one unit's pipeline outcome with its path.
type FileResult struct {
	Path     string
	Changed  bool
	Result   pipeline.UnitResult
	Duration time.Duration
}

// Summary aggregates one run over a set of units.
type Summary struct {
	Files    int
	Complete int
	Partial  int
	Failed   int
	Duration time.Duration
	Results  []FileResult
}

type App struct {
	Config *config.Config
	driver *pipeline.Driver
	store  *history.Store
	tier   degrade.Tier

	write      bool
	writeMu    sync.Mutex
	limiter    *util.Limiter
	teaProgram *tea.Program
}

func NewApp(cfg *config.Config, write bool) (*App, error) {
	tier, err := degrade.ParseTier(cfg.Tier)
	if err != nil {
		return nil, err
	}

	driver := pipeline.NewDriver(pipeline.Options{
		Unit:    cfg.UnitConfig(),
		Tier:    tier,
		TierSet: cfg.Tier != "",
	})

	app := &App{
		Config:  cfg,
		driver:  driver,
		tier:    tier,
		write:   write,
		limiter: util.NewLimiter(cfg.Watch.EventsPerSecond, cfg.Watch.Burst),
	}

	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		app.store = store
	}

	return app, nil
}

func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("failed to close history store", "error", err)
		}
	}
}

// DiscoverFiles walks the configured paths and returns every file matching
// the include patterns, minus the excluded ones. A path naming a file
// directly bypasses the include filter.
func (a *App) DiscoverFiles(paths []string) ([]string, error) {
	includeGlobs, err := compileGlobs(a.Config.Include)
	if err != nil {
		return nil, fmt.Errorf("invalid include pattern: %w", err)
	}
	dirGlobs, err := compileGlobs(a.Config.Exclude.Dirs)
	if err != nil {
		return nil, fmt.Errorf("invalid exclude dir pattern: %w", err)
	}
	fileGlobs, err := compileGlobs(a.Config.Exclude.Files)
	if err != nil {
		return nil, fmt.Errorf("invalid exclude file pattern: %w", err)
	}

	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			base := filepath.Base(path)
			if d.IsDir() {
				for _, g := range dirGlobs {
					if g.Match(base) {
						return filepath.SkipDir
					}
				}
				return nil
			}

			if a.Config.Backup.Enabled && strings.HasSuffix(base, a.Config.Backup.Suffix) {
				return nil
			}

			matched := false
			for _, g := range includeGlobs {
				if g.Match(base) {
					matched = true
					break
				}
			}
			if !matched {
				return nil
			}
			for _, g := range fileGlobs {
				if g.Match(base) {
					return nil
				}
			}

			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}

// RunOnce transforms every file once, bounded by the configured worker count.
// Unit failures are reported in the summary, not returned as errors; only an
// unreadable working set aborts the run.
func (a *App) RunOnce(ctx context.Context, files []string) (Summary, error) {
	start := time.Now()

	results := make([]FileResult, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers())

	for i, path := range files {
		g.Go(func() error {
			unitStart := time.Now()
			source, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}

			res := a.driver.TransformUnit(ctx, source)
			fr := FileResult{
				Path:     path,
				Result:   res,
				Duration: time.Since(unitStart),
			}
			fr.Changed = res.Status != pipeline.StatusFailed && res.Output != string(source)

			if a.write && fr.Changed {
				if err := a.writeUnit(path, source, res.Output); err != nil {
					return err
				}
			}

			results[i] = fr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	summary := Summary{Files: len(files), Duration: time.Since(start), Results: results}
	for _, fr := range results {
		switch fr.Result.Status {
		case pipeline.StatusComplete:
			summary.Complete++
		case pipeline.StatusPartial:
			summary.Partial++
		case pipeline.StatusFailed:
			summary.Failed++
			slog.Error("unit failed", "path", fr.Path, "error", fr.Result.Err)
		}
	}

	a.recordRun(start, summary)

	if a.teaProgram != nil {
		a.teaProgram.Send(updateMsg{summary: summary})
	}

	return summary, nil
}

// writeUnit backs up the original, then writes the transformed source. The
// mutex keeps watch-mode re-runs from interleaving backup and write.
func (a *App) writeUnit(path string, original []byte, output string) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	info, err := os.Stat(path)
	perm := fs.FileMode(0o644)
	if err == nil {
		perm = info.Mode().Perm()
	}

	if a.Config.Backup.Enabled {
		if err := os.WriteFile(path+a.Config.Backup.Suffix, original, perm); err != nil {
			return fmt.Errorf("backup %s: %w", path, err)
		}
	}
	if err := util.WriteFileWithDirs(path, []byte(output), perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (a *App) recordRun(start time.Time, summary Summary) {
	if a.store == nil {
		return
	}

	units := make([]history.UnitRecord, 0, len(summary.Results))
	for _, fr := range summary.Results {
		rec := history.UnitRecord{Path: fr.Path, Status: string(fr.Result.Status)}
		for _, e := range fr.Result.Ledger {
			switch e.Outcome {
			case ledger.OutcomeApplied:
				rec.Applied++
			case ledger.OutcomeSkipped:
				rec.Skipped++
			case ledger.OutcomeFellBack:
				rec.FellBack++
			}
		}
		units = append(units, rec)
	}

	runID, err := a.store.SaveRun(history.Run{
		Started:  start,
		Finished: time.Now().UTC(),
		Tier:     a.tier.String(),
		Files:    summary.Files,
		Complete: summary.Complete,
		Partial:  summary.Partial,
		Failed:   summary.Failed,
	}, units)
	if err != nil {
		slog.Warn("failed to record run history", "error", err)
		return
	}
	slog.Debug("run recorded", "run_id", runID)
}

func (a *App) StartWatcher(ctx context.Context) error {
	w, err := watcher.NewWatcher(
		a.Config.Watch.Debounce,
		a.Config.Include,
		a.Config.Exclude.Dirs,
		a.Config.Exclude.Files,
		func(paths []string) { a.handleChanges(ctx, paths) },
	)
	if err != nil {
		return err
	}
	// Note: we don't close here, it should run forever
	return w.Watch(a.Config.Paths)
}

func (a *App) handleChanges(ctx context.Context, paths []string) {
	if !a.limiter.Allow(1) {
		slog.Debug("change burst throttled", "count", len(paths))
		return
	}

	existing := paths[:0]
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return
	}
	sort.Strings(existing)

	slog.Info("detected changes", "count", len(existing))
	summary, err := a.RunOnce(ctx, existing)
	if err != nil {
		slog.Error("re-run failed", "error", err)
		return
	}
	if a.teaProgram == nil {
		a.PrintSummary(summary)
	}
}

func (a *App) workers() int {
	if a.Config.Performance.Workers > 0 {
		return a.Config.Performance.Workers
	}
	return runtime.NumCPU()
}

func (a *App) PrintSummary(summary Summary) {
	fmt.Println(strings.Repeat("-", 40))
	mode := "preview"
	if a.write {
		mode = "write"
	}
	fmt.Printf("Transformed %d files in %v (%s mode, %s tier)\n",
		summary.Files, summary.Duration.Round(time.Millisecond), mode, a.tier)

	fmt.Printf("%s  %s  %s\n",
		completeStyle.Render(fmt.Sprintf("%d complete", summary.Complete)),
		partialStyle.Render(fmt.Sprintf("%d partial", summary.Partial)),
		failedStyle.Render(fmt.Sprintf("%d failed", summary.Failed)))

	for _, fr := range summary.Results {
		switch fr.Result.Status {
		case pipeline.StatusFailed:
			fmt.Printf("   %s %s: %v\n", failedStyle.Render("✗"), fr.Path, fr.Result.Err)
		case pipeline.StatusPartial:
			fmt.Printf("   %s %s\n", partialStyle.Render("~"), fr.Path)
			for _, e := range fr.Result.Ledger {
				if e.Outcome == ledger.OutcomeFellBack {
					fmt.Printf("      %s %s: %s\n", e.Location, e.Family, e.Reason)
				}
			}
		}
	}
	if footer := a.historyFooter(); footer != "" {
		fmt.Print(footer)
	}
	fmt.Println(strings.Repeat("-", 40))
}

// historyFooter renders the recent-runs tail of the summary, newest first.
// Empty when no history store is configured.
func (a *App) historyFooter() string {
	if a.store == nil {
		return ""
	}
	runs, err := a.store.RecentRuns(5)
	if err != nil {
		slog.Warn("failed to load run history", "error", err)
		return ""
	}
	if len(runs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Recent runs:\n")
	for _, r := range runs {
		fmt.Fprintf(&b, "   %s  %s tier  %d files: %d complete, %d partial, %d failed\n",
			r.Started.Format("2006-01-02 15:04:05"), r.Tier,
			r.Files, r.Complete, r.Partial, r.Failed)
	}
	return b.String()
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}
