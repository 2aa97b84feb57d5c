package deps

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// CheckEngine reports the world engine binary the generation stages will
// execute. A bare name resolves through PATH; a configured path is checked
// directly, so a stale absolute path surfaces here instead of mid-run.
func CheckEngine(engineCommand string) Status {
	result := Status{
		Name:        "World engine",
		Description: "Runs the panorama, layer, and mesh stages",
	}

	binary := strings.TrimSpace(engineCommand)
	if binary == "" {
		result.Detail = "engine binary not configured"
		return result
	}
	result.Command = binary

	resolved, err := exec.LookPath(binary)
	if err != nil {
		if info, statErr := os.Stat(binary); statErr == nil && !isExecutable(info) {
			result.Detail = fmt.Sprintf("%s is not executable", binary)
			return result
		}
		result.Detail = fmt.Sprintf("binary %q not found", binary)
		return result
	}

	result.Command = resolved
	result.Available = true
	return result
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
