// Package workspace manages the local scratch directories a run uses while a
// stage executes. Every stage gets a fresh in/out pair under the run's
// directory and the whole run directory is removed when the stage finishes,
// so artifacts live in object storage and never accumulate on local disk.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Dirs are the scratch paths for one stage execution.
type Dirs struct {
	// Root is the run's directory under the work dir.
	Root string
	// In receives staged-in artifacts from object storage.
	In string
	// Out collects artifacts the engine writes before stage-out.
	Out string
}

// StageDirs creates fresh input and output directories for one stage of one
// run. A leftover output directory from an earlier attempt is removed first
// so partial results never leak into stage-out.
func StageDirs(workDir, runID, stage string) (Dirs, error) {
	workDir = strings.TrimSpace(workDir)
	if workDir == "" {
		return Dirs{}, fmt.Errorf("work dir required")
	}
	if runID == "" {
		return Dirs{}, fmt.Errorf("run id required")
	}
	if stage == "" {
		return Dirs{}, fmt.Errorf("stage name required")
	}

	root := filepath.Join(workDir, runID)
	stageRoot := filepath.Join(root, stage)
	dirs := Dirs{
		Root: root,
		In:   filepath.Join(stageRoot, "in"),
		Out:  filepath.Join(stageRoot, "out"),
	}
	if err := os.RemoveAll(stageRoot); err != nil && !os.IsNotExist(err) {
		return Dirs{}, fmt.Errorf("reset stage dir: %w", err)
	}
	for _, dir := range []string{dirs.In, dirs.Out} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Dirs{}, fmt.Errorf("create stage dir %s: %w", dir, err)
		}
	}
	return dirs, nil
}

// CleanRun removes the run's whole scratch directory.
func CleanRun(workDir, runID string) error {
	if strings.TrimSpace(workDir) == "" || runID == "" {
		return nil
	}
	if err := os.RemoveAll(filepath.Join(workDir, runID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clean run dir: %w", err)
	}
	return nil
}
