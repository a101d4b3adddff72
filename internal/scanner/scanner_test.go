package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coffersTech/logsearchd/internal/model"
)

func writeFile(t *testing.T, dir, rel string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte("x\n"), 0o644))
}

func TestScanDefaultGlobsAndFamilies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.log")
	writeFile(t, dir, "app.log.1")
	writeFile(t, dir, "app.log.2.gz")
	writeFile(t, dir, "nested/svc.log")
	writeFile(t, dir, "notes.txt")

	res, err := Scan(model.FileScanConfig{RootPath: dir})
	require.NoError(t, err)
	require.Len(t, res.Files, 4)

	families := map[string]int{}
	for _, f := range res.Files {
		families[f.FamilyID]++
	}
	require.Equal(t, 3, families["app.log"])
	require.Equal(t, 1, families["svc.log"])
}

func TestScanRotationOrdering(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.log.2.gz")
	writeFile(t, dir, "app.log")
	writeFile(t, dir, "app.log.1")

	// A bare ".1" suffix is not covered by DefaultIncludeGlobs.
	res, err := Scan(model.FileScanConfig{RootPath: dir, IncludeGlobs: []string{"**/*.log", "**/*.log.*"}})
	require.NoError(t, err)
	require.Len(t, res.Files, 3)
	require.Equal(t, "app.log", filepath.Base(res.Files[0].Path))
	require.Equal(t, "app.log.1", filepath.Base(res.Files[1].Path))
	require.Equal(t, "app.log.2.gz", filepath.Base(res.Files[2].Path))
}

func TestScanOrderingIsLexicographicAcrossFamilies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a/app.log")
	writeFile(t, dir, "a/app.log.1")
	writeFile(t, dir, "b/app.log")

	// A bare ".1" suffix is not covered by DefaultIncludeGlobs.
	res, err := Scan(model.FileScanConfig{RootPath: dir, IncludeGlobs: []string{"**/*.log", "**/*.log.*"}})
	require.NoError(t, err)
	require.Len(t, res.Files, 3)

	var got []string
	for _, f := range res.Files {
		rel, _ := filepath.Rel(dir, f.Path)
		got = append(got, filepath.ToSlash(rel))
	}
	// Lexicographic by full path: a/app.log < a/app.log.1 < b/app.log.
	// A family-grouped order would instead put a/app.log.1 and b/app.log
	// in the opposite relative order since they're different families.
	require.Equal(t, []string{"a/app.log", "a/app.log.1", "b/app.log"}, got)
}

func TestScanFilePathsBypassesWalk(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.log")
	writeFile(t, dir, "other.txt")
	explicit := filepath.Join(dir, "other.txt")

	res, err := Scan(model.FileScanConfig{FilePaths: []string{explicit}})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	require.Equal(t, explicit, res.Files[0].Path)
}

func TestScanFilePathsRecordsMissingFileAsFailure(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "nope.log")

	res, err := Scan(model.FileScanConfig{FilePaths: []string{missing}})
	require.NoError(t, err)
	require.Empty(t, res.Files)
	require.Contains(t, res.FailedFiles, missing)
}

func TestScanExcludeOverridesInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.log")
	writeFile(t, dir, "skip.log")

	res, err := Scan(model.FileScanConfig{
		RootPath:     dir,
		ExcludeGlobs: []string{"**/skip.log"},
	})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	require.Equal(t, "keep.log", filepath.Base(res.Files[0].Path))
}

func TestScanSymlinkOutsideRootIsDeniedNotFollowed(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, outside, "secret.log")

	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.log"), filepath.Join(root, "link.log")))
	writeFile(t, root, "in_root.log")

	res, err := Scan(model.FileScanConfig{RootPath: root})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)
	require.Equal(t, "in_root.log", filepath.Base(res.Files[0].Path))
	require.Equal(t, "file_denied", res.FailedFiles[filepath.Join(root, "link.log")])
}

func TestScanSymlinkInsideRootIsFollowed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "real.log")
	require.NoError(t, os.Symlink(filepath.Join(root, "real.log"), filepath.Join(root, "alias.log")))

	res, err := Scan(model.FileScanConfig{RootPath: root})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)
}

func TestScanMissingRoot(t *testing.T) {
	_, err := Scan(model.FileScanConfig{RootPath: filepath.Join(t.TempDir(), "does-not-exist")})
	require.Error(t, err)
}
