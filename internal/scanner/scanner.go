// Package scanner discovers candidate log files under a root path using
// include/exclude glob patterns, grouping rotated siblings into families.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/coffersTech/logsearchd/internal/model"
)

// DefaultIncludeGlobs mirrors original_source/src/scanner.rs's defaults.
var DefaultIncludeGlobs = []string{"**/*.log", "**/*.log.gz", "**/*.gz"}

var rotationSuffix = regexp.MustCompile(`\.(\d+)(\.gz)?$`)

// Scan resolves cfg into the matching files in canonical (lexicographic
// path) order, plus any per-file stat failures. A failure resolving an
// individual entry never aborts the whole scan.
//
// When cfg.FilePaths is non-empty, it bypasses directory walking
// entirely and describes exactly those paths (spec.md §3 scan config),
// ignoring RootPath/IncludeGlobs/ExcludeGlobs.
func Scan(cfg model.FileScanConfig) (model.ScanResult, error) {
	if len(cfg.FilePaths) > 0 {
		return scanExplicitPaths(cfg.FilePaths)
	}

	root := cfg.RootPath
	if root == "" {
		return model.ScanResult{}, fmt.Errorf("scan: root_path is required")
	}
	info, err := os.Stat(root)
	if err != nil {
		return model.ScanResult{}, fmt.Errorf("scan: stat root: %w", err)
	}
	if !info.IsDir() {
		return model.ScanResult{}, fmt.Errorf("scan: root_path %q is not a directory", root)
	}

	include := cfg.IncludeGlobs
	if len(include) == 0 {
		include = DefaultIncludeGlobs
	}
	exclude := cfg.ExcludeGlobs

	result := model.ScanResult{FailedFiles: map[string]string{}}

	rootResolved, rrErr := filepath.EvalSymlinks(root)
	if rrErr != nil {
		rootResolved = root
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			result.FailedFiles[path] = err.Error()
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			resolved, rerr := filepath.EvalSymlinks(path)
			if rerr != nil {
				result.FailedFiles[path] = rerr.Error()
				return nil
			}
			rinfo, serr := os.Stat(resolved)
			if serr != nil {
				result.FailedFiles[path] = serr.Error()
				return nil
			}
			if rinfo.IsDir() {
				return nil // refuse to follow symlinked directories
			}
			// spec.md §4.1: a symlink to a file outside the root is
			// dropped with a file_denied entry, never scanned as if it
			// were in-root.
			if !isUnderRoot(rootResolved, resolved) {
				result.FailedFiles[path] = "file_denied"
				return nil
			}
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			result.FailedFiles[path] = relErr.Error()
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !matchesAny(include, rel, path) {
			return nil
		}
		if matchesAny(exclude, rel, path) {
			return nil
		}

		fi, statErr := d.Info()
		if statErr != nil {
			result.FailedFiles[path] = statErr.Error()
			return nil
		}

		result.Files = append(result.Files, model.FileInfo{
			Path:       path,
			FamilyID:   familyID(path),
			SizeBytes:  fi.Size(),
			ModTime:    fi.ModTime(),
			Compressed: strings.HasSuffix(path, ".gz"),
		})
		return nil
	})
	if walkErr != nil {
		return result, fmt.Errorf("scan: walk %s: %w", root, walkErr)
	}

	sortByPath(result.Files)
	return result, nil
}

// scanExplicitPaths stats exactly the given paths, skipping glob walking
// entirely (spec.md §3's optional scan.file_paths bypass).
func scanExplicitPaths(paths []string) (model.ScanResult, error) {
	result := model.ScanResult{FailedFiles: map[string]string{}}
	for _, path := range paths {
		fi, err := os.Stat(path)
		if err != nil {
			result.FailedFiles[path] = err.Error()
			continue
		}
		if fi.IsDir() {
			result.FailedFiles[path] = "is a directory"
			continue
		}
		result.Files = append(result.Files, model.FileInfo{
			Path:       path,
			FamilyID:   familyID(path),
			SizeBytes:  fi.Size(),
			ModTime:    fi.ModTime(),
			Compressed: strings.HasSuffix(path, ".gz"),
		})
	}
	sortByPath(result.Files)
	return result, nil
}

// sortByPath orders files lexicographically by path — spec.md §4.1's
// canonical scan order and the tie-break for cursor resumption across
// files. family_id is still computed and attached per file for grouping
// in responses; it is deliberately not a sort key.
func sortByPath(files []model.FileInfo) {
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
}

// isUnderRoot reports whether resolved (an already-symlink-resolved path)
// is rootResolved itself or a descendant of it.
func isUnderRoot(rootResolved, resolved string) bool {
	rootResolved = filepath.Clean(rootResolved)
	resolved = filepath.Clean(resolved)
	if resolved == rootResolved {
		return true
	}
	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchesAny(globs []string, rel, abs string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(g, abs); ok {
			return true
		}
	}
	return false
}

// familyID strips a trailing rotation suffix (".N" or ".N.gz") from a
// path's base name, so "app.log", "app.log.1", "app.log.2.gz" all share
// the family "app.log" (Open Question decision, see DESIGN.md).
func familyID(path string) string {
	base := filepath.Base(path)
	if m := rotationSuffix.FindStringIndex(base); m != nil {
		base = base[:m[0]]
	}
	return base
}

