package workspace_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"worldsmith/internal/workspace"
)

func TestStageDirsCreatesFreshPair(t *testing.T) {
	workDir := t.TempDir()
	dirs, err := workspace.StageDirs(workDir, "foggy-harbor-1700000000", "panorama")
	if err != nil {
		t.Fatalf("StageDirs: %v", err)
	}
	for _, dir := range []string{dirs.In, dirs.Out} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("%s is not a directory", dir)
		}
	}
	if dirs.Root != filepath.Join(workDir, "foggy-harbor-1700000000") {
		t.Fatalf("unexpected root %s", dirs.Root)
	}
}

func TestStageDirsResetsLeftovers(t *testing.T) {
	workDir := t.TempDir()
	dirs, err := workspace.StageDirs(workDir, "run-1", "compose")
	if err != nil {
		t.Fatalf("StageDirs: %v", err)
	}
	leftover := filepath.Join(dirs.Out, "partial.ply")
	if err := os.WriteFile(leftover, []byte("partial"), 0o644); err != nil {
		t.Fatalf("write leftover: %v", err)
	}

	if _, err := workspace.StageDirs(workDir, "run-1", "compose"); err != nil {
		t.Fatalf("StageDirs again: %v", err)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Fatalf("leftover survived reset: %v", err)
	}
}

func TestStageDirsValidatesInputs(t *testing.T) {
	if _, err := workspace.StageDirs("", "run", "stage"); err == nil {
		t.Fatal("expected error for empty work dir")
	}
	if _, err := workspace.StageDirs(t.TempDir(), "", "stage"); err == nil {
		t.Fatal("expected error for empty run id")
	}
	if _, err := workspace.StageDirs(t.TempDir(), "run", ""); err == nil {
		t.Fatal("expected error for empty stage")
	}
}

func TestCleanRun(t *testing.T) {
	workDir := t.TempDir()
	dirs, err := workspace.StageDirs(workDir, "run-9", "panorama")
	if err != nil {
		t.Fatalf("StageDirs: %v", err)
	}
	if err := workspace.CleanRun(workDir, "run-9"); err != nil {
		t.Fatalf("CleanRun: %v", err)
	}
	if _, err := os.Stat(dirs.Root); !os.IsNotExist(err) {
		t.Fatalf("run dir survived cleanup: %v", err)
	}
	if err := workspace.CleanRun(workDir, "run-9"); err != nil {
		t.Fatalf("CleanRun on missing dir: %v", err)
	}
}

func TestCleanStaleRemovesOldRuns(t *testing.T) {
	workDir := t.TempDir()

	old := filepath.Join(workDir, "old-run-100")
	fresh := filepath.Join(workDir, "fresh-run-200")
	for _, dir := range []string{old, fresh} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	result := workspace.CleanStale(workDir, 24*time.Hour, nil)
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", result.Errors)
	}
	if len(result.Removed) != 1 || result.Removed[0] != old {
		t.Fatalf("unexpected removals: %v", result.Removed)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh run removed: %v", err)
	}
}

func TestCleanStaleMissingWorkDir(t *testing.T) {
	result := workspace.CleanStale(filepath.Join(t.TempDir(), "absent"), time.Hour, nil)
	if len(result.Removed) != 0 || len(result.Errors) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestListDirectories(t *testing.T) {
	workDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(workDir, "run-a"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workDir, "run-a", "f.bin"), make([]byte, 128), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workDir, "stray-file"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	dirs, err := workspace.ListDirectories(workDir)
	if err != nil {
		t.Fatalf("ListDirectories: %v", err)
	}
	if len(dirs) != 1 {
		t.Fatalf("expected 1 directory, got %d", len(dirs))
	}
	if dirs[0].Name != "run-a" || dirs[0].Size != 128 {
		t.Fatalf("unexpected dir info: %+v", dirs[0])
	}
}
