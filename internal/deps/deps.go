// Package deps checks the external tools worldsmith shells out to, so
// status output can say what is missing before a run fails on it.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement defines an external dependency worldsmith relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// GPURequirements lists the optional GPU tooling surfaced in status output.
// The generation stages fail without a visible GPU, but the daemon itself
// runs fine on a host that only serves the catalog.
func GPURequirements() []Requirement {
	return []Requirement{
		{
			Name:        "NVIDIA driver",
			Command:     "nvidia-smi",
			Description: "GPU visibility for the generation stages",
			Optional:    true,
		},
	}
}
