// Package scanner walks a filesystem subtree and dispatches per-file
// hashing to a bounded worker pool, honoring inherited IGNORE entries and
// the dotfile exclusion rule. Directory traversal itself is serialized;
// only hashing runs on workers.
package scanner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/projg2/gemato-go/internal/digest"
	"github.com/projg2/gemato-go/internal/pathutil"
)

// IgnoreFunc reports whether a tree-relative path should be excluded from
// the scan, the caller's view of inherited IGNORE entries.
type IgnoreFunc func(treePath string) bool

// Result is one scanned file's outcome: either a digest set and size, or
// an error specific to that path. A scan error on one file never aborts
// the rest of the walk.
type Result struct {
	Path    string
	Size    int64
	Digests digest.Set
	Err     error
}

// Options configures a Scan.
type Options struct {
	// Root is the filesystem directory the scan starts from.
	Root string
	// Algorithms is the set of hash algorithms computed per file.
	Algorithms []digest.Algorithm
	// Ignore reports whether a tree-relative path (and everything
	// beneath it, if it names a directory) is excluded from the scan.
	Ignore IgnoreFunc
	// Workers bounds scanning parallelism. Zero means
	// runtime.GOMAXPROCS(0).
	Workers int
	// DetectRaces watches every directory visited for concurrent
	// modification and fails the scan with a RaceError if one is
	// observed before the scan completes, rather than silently
	// returning digests for a tree that changed underneath it.
	DetectRaces bool
}

type job struct {
	absPath  string
	treePath string
}

// Scan walks opts.Root, honoring Ignore and the dotfile rule, and
// returns one Result per regular file encountered, sorted by
// tree-relative path. Symlinks that resolve outside the tree are
// reported as errors rather than followed.
func Scan(ctx context.Context, opts Options) ([]Result, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var rw *raceWatcher
	if opts.DetectRaces {
		var err error
		rw, err = newRaceWatcher()
		if err != nil {
			return nil, err
		}
	}

	jobs := make(chan job, workers*4)
	results := make(chan Result, workers*4)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			worker(ctx, jobs, results, opts.Algorithms)
		}()
	}

	walkErrCh := make(chan error, 1)
	go func() {
		defer close(jobs)
		walkErrCh <- walk(ctx, opts.Root, opts.Ignore, rw, jobs, results)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var out []Result
	for r := range results {
		out = append(out, r)
	}
	walkErr := <-walkErrCh

	if rw != nil {
		if changed := rw.close(); len(changed) > 0 {
			return nil, RaceError{Paths: changed}
		}
	}
	if walkErr != nil {
		return nil, walkErr
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// walk performs the serialized directory traversal, sending one job per
// regular file found to jobs. It never descends into a directory the
// ignore function excludes, and skips dotfiles at every level. A
// symlink that resolves outside the tree is reported directly on
// results rather than dispatched for hashing.
func walk(ctx context.Context, root string, ignore IgnoreFunc, rw *raceWatcher, jobs chan<- job, results chan<- Result) error {
	return walkDir(ctx, root, root, "", ignore, rw, jobs, results)
}

func walkDir(ctx context.Context, root, absDir, treeDir string, ignore IgnoreFunc, rw *raceWatcher, jobs chan<- job, results chan<- Result) error {
	if rw != nil {
		rw.watch(absDir)
	}
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if len(name) > 0 && name[0] == '.' {
			continue
		}
		treePath := pathutil.Join(treeDir, name)
		if ignore != nil && ignore(treePath) {
			continue
		}
		absPath := filepath.Join(absDir, name)

		info, err := entry.Info()
		if err != nil {
			results <- Result{Path: treePath, Err: err}
			continue
		}

		switch {
		case info.IsDir():
			if err := walkDir(ctx, root, absPath, treePath, ignore, rw, jobs, results); err != nil {
				return err
			}
		case info.Mode()&os.ModeSymlink != 0:
			if err := checkSymlinkWithinTree(root, absPath); err != nil {
				results <- Result{Path: treePath, Err: err}
				continue
			}
			select {
			case jobs <- job{absPath: absPath, treePath: treePath}:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			select {
			case jobs <- job{absPath: absPath, treePath: treePath}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// checkSymlinkWithinTree resolves a symlink and rejects it if it escapes
// the tree root; such links are still reported to the caller as per-path
// errors, never silently skipped.
func checkSymlinkWithinTree(root, absPath string) error {
	target, err := os.Readlink(absPath)
	if err != nil {
		return err
	}
	resolved := target
	if !filepath.IsAbs(target) {
		resolved = filepath.Join(filepath.Dir(absPath), target)
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return err
	}
	if rel == ".." || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return pathutil.ErrTraversal{Path: target}
	}
	return nil
}

func worker(ctx context.Context, jobs <-chan job, results chan<- Result, algorithms []digest.Algorithm) {
	for j := range jobs {
		select {
		case <-ctx.Done():
			results <- Result{Path: j.treePath, Err: ctx.Err()}
			continue
		default:
		}
		results <- hashFile(j, algorithms)
	}
}

func hashFile(j job, algorithms []digest.Algorithm) Result {
	f, err := os.Open(j.absPath)
	if err != nil {
		return Result{Path: j.treePath, Err: err}
	}
	defer f.Close()

	sums, size, err := digest.Multiplex(f, algorithms...)
	if err != nil {
		return Result{Path: j.treePath, Err: err}
	}
	return Result{Path: j.treePath, Size: size, Digests: sums}
}
