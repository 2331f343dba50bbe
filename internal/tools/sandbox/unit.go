package sandbox

import (
	"fmt"
	"time"

	"github.com/haasonsaas/toolrunner/internal/tools/policy"
)

// Resource limits applied to every isolation unit.
const (
	UnitMemory    = "512m"
	UnitCPUs      = "1"
	UnitPidsLimit = 128
	// WorkspaceMount is where the host workspace appears inside the unit.
	WorkspaceMount = "/workspace"
)

// UnitSpec describes one isolation unit.
type UnitSpec struct {
	RequestID string
	Tool      string
	Image     string
	// JobBinary is the toolrunner executable inside the image.
	JobBinary string
	// Network is "none" or the name of the restricted network.
	Network       string
	HostWorkspace string
	FSMode        policy.FSMode
	TimeoutS      int
	// Request is the encoded JobRequest.
	Request string
}

// NetworkFor picks the unit network for a policy: the restricted network when
// the policy has an allowlist, otherwise no network at all.
func NetworkFor(p policy.EffectivePolicy, restricted string) string {
	if p.NetMode == policy.NetAllowlist && len(p.NetAllow) > 0 && restricted != "" {
		return restricted
	}
	return "none"
}

// UsesStdin reports whether the request is too large for the command line.
func (s UnitSpec) UsesStdin() bool {
	return len(s.Request) > MaxArgRequestBytes
}

// WaitBudget is the longest the launcher waits for the unit to exit.
func (s UnitSpec) WaitBudget() time.Duration {
	timeout := policy.Clamp(s.TimeoutS, policy.MinTimeoutS, policy.MaxTimeoutS)
	return time.Duration(timeout+policy.UnitGraceS) * time.Second
}

// CreateArgs builds the docker create argument list.
func (s UnitSpec) CreateArgs() []string {
	network := s.Network
	if network == "" {
		network = "none"
	}
	args := []string{
		"create",
		"--label", "toolrunner.request_id=" + s.RequestID,
		"--label", "toolrunner.tool=" + s.Tool,
		"--read-only",
		"--tmpfs", "/tmp",
		"--security-opt", "no-new-privileges:true",
		"--cap-drop", "ALL",
		"--pids-limit", fmt.Sprintf("%d", UnitPidsLimit),
		"--memory", UnitMemory,
		"--memory-swap", UnitMemory, // No swap
		"--cpus", UnitCPUs,
		"--network", network,
		"-v", fmt.Sprintf("%s:%s:%s", s.HostWorkspace, WorkspaceMount, MountMode(s.FSMode)),
		"-w", WorkspaceMount,
		"--env", "PYTHONUNBUFFERED=1",
	}
	request := s.Request
	if s.UsesStdin() {
		args = append(args, "--interactive")
		request = StdinRequest
	}
	args = append(args, "--entrypoint", s.JobBinary, s.Image, "job", "--request="+request)
	return args
}
