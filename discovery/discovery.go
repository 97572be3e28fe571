// Package discovery locates the solution or project files a C# workspace
// should be opened with.
package discovery

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/teranos/roslyn-wrapper/errors"
	"github.com/teranos/roslyn-wrapper/logger"
	"go.uber.org/zap"
)

// DefaultMaxDepth is how many directory levels below a root are searched.
const DefaultMaxDepth = 4

// DefaultSkipDirs are never descended into.
var DefaultSkipDirs = []string{".git", ".vs", "node_modules", "bin", "obj"}

var (
	solutionExts = map[string]bool{".sln": true, ".slnx": true}
	projectExts  = map[string]bool{".csproj": true, ".vbproj": true}
)

// Target is what the language server should load. At most one of Solution
// and Projects is set; both empty means nothing was found.
type Target struct {
	Solution string
	Projects []string
}

// Empty reports whether discovery found nothing.
func (t Target) Empty() bool {
	return t.Solution == "" && len(t.Projects) == 0
}

// IsSolution reports whether the target is a single solution file.
func (t Target) IsSolution() bool {
	return t.Solution != ""
}

// Options bounds a search.
type Options struct {
	MaxDepth int
	SkipDirs []string
}

// Finder searches a read-only view of a filesystem.
type Finder struct {
	fs       afero.Fs
	maxDepth int
	skip     map[string]bool
	logger   *zap.SugaredLogger
}

// New returns a Finder over fs. Writes through the Finder's view of fs fail.
func New(fs afero.Fs, opts Options) *Finder {
	skipDirs := opts.SkipDirs
	if skipDirs == nil {
		skipDirs = DefaultSkipDirs
	}
	skip := make(map[string]bool, len(skipDirs))
	for _, d := range skipDirs {
		skip[strings.ToLower(d)] = true
	}
	return &Finder{
		fs:       afero.NewReadOnlyFs(fs),
		maxDepth: opts.MaxDepth,
		skip:     skip,
		logger:   logger.ComponentLogger("discovery"),
	}
}

// NewOS returns a Finder over the host filesystem.
func NewOS(opts Options) *Finder {
	return New(afero.NewOsFs(), opts)
}

type match struct {
	path  string
	depth int
}

// Find searches every root and selects a target. The shallowest solution
// wins, ties broken by path order. Without a solution every project found is
// returned, sorted. Roots that do not exist are skipped.
func (f *Finder) Find(ctx context.Context, roots []string) (Target, error) {
	start := time.Now()

	var solutions []match
	projects := make(map[string]bool)

	seenRoots := make(map[string]bool, len(roots))
	for _, root := range roots {
		root = filepath.Clean(root)
		if seenRoots[root] {
			continue
		}
		seenRoots[root] = true

		err := afero.Walk(f.fs, root, func(path string, info os.FileInfo, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				// Unreadable entries are skipped, not fatal
				f.logger.Debugw("skipping unreadable entry", logger.FieldPath, path, logger.FieldError, err)
				return nil
			}

			depth := depthBelow(root, path)
			if info.IsDir() {
				if path != root && (f.skip[strings.ToLower(info.Name())] || depth > f.maxDepth) {
					return filepath.SkipDir
				}
				return nil
			}

			// A file's depth is that of the directory containing it
			depth--
			ext := strings.ToLower(filepath.Ext(info.Name()))
			switch {
			case solutionExts[ext]:
				solutions = append(solutions, match{path: path, depth: depth})
			case projectExts[ext]:
				projects[path] = true
			}
			return nil
		})
		if err != nil {
			return Target{}, errors.Wrapf(err, "discovery under %s interrupted", root)
		}
	}

	target := selectTarget(solutions, projects)
	f.logger.Debugw("discovery finished",
		logger.FieldCount, len(roots),
		"solution", target.Solution,
		"projects", len(target.Projects),
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return target, nil
}

func selectTarget(solutions []match, projects map[string]bool) Target {
	if len(solutions) > 0 {
		sort.Slice(solutions, func(i, j int) bool {
			if solutions[i].depth != solutions[j].depth {
				return solutions[i].depth < solutions[j].depth
			}
			return solutions[i].path < solutions[j].path
		})
		return Target{Solution: solutions[0].path}
	}
	if len(projects) == 0 {
		return Target{}
	}
	paths := make([]string, 0, len(projects))
	for p := range projects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return Target{Projects: paths}
}

// depthBelow counts path components between root and path. root itself is 0.
func depthBelow(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
