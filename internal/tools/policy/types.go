// Package policy is the validation core shared by every trust tier.
//
// The edge authorizer, the runner and the job executor each call into this
// package independently; none of them trusts a decision made by another tier.
// Everything here is pure: no filesystem, network or process access.
package policy

import (
	"slices"
	"sort"
)

// Tool names accepted by the pipeline.
const (
	ToolFileRead  = "file_read"
	ToolFileWrite = "file_write"
	ToolShellExec = "shell_exec"
)

// FSMode controls how the workspace is mounted into the isolation unit.
type FSMode string

const (
	FSReadOnly  FSMode = "ro"
	FSReadWrite FSMode = "rw"
)

// NetMode controls whether the isolation unit gets any network at all.
type NetMode string

const (
	NetNone      NetMode = "none"
	NetAllowlist NetMode = "allowlist"
)

// Limits shared by all tiers.
const (
	MaxOutputBytes     = 80_000
	MaxErrorBytes      = 500
	MaxUnitOutputBytes = 200_000
	DefaultReadBytes   = 200_000
	MaxReadBytes       = 2_000_000
	MaxWriteBytes      = 2_000_000
	DefaultTimeoutS    = 10
	MinTimeoutS        = 1
	MaxTimeoutS        = 60
	// UnitGraceS is added to the tool timeout when waiting on the unit.
	UnitGraceS = 5
)

var allowedTools = []string{ToolFileRead, ToolFileWrite, ToolShellExec}

// Keep this tight. Expand only with explicit review.
var allowedBinaries = map[string]bool{
	"curl":    true,
	"python3": true,
	"python":  true,
	"pytest":  true,
}

var shellInterpreters = map[string]bool{
	"sh":   true,
	"bash": true,
	"zsh":  true,
	"fish": true,
}

var internalHosts = map[string]bool{
	"ollama":      true,
	"rag-service": true,
}

// EffectivePolicy is the server-derived permission set for one invocation.
type EffectivePolicy struct {
	FSMode   FSMode   `json:"fs_mode" cbor:"fs_mode"`
	NetMode  NetMode  `json:"net_mode" cbor:"net_mode"`
	NetAllow []string `json:"net_allow" cbor:"net_allow"`
	TimeoutS int      `json:"timeout_s" cbor:"timeout_s"`
}

// Allows reports whether host is in the policy's network allowlist.
func (p EffectivePolicy) Allows(host string) bool {
	return p.NetMode == NetAllowlist && slices.Contains(p.NetAllow, host)
}

// IsAllowedTool reports whether tool is one of the known tools.
func IsAllowedTool(tool string) bool {
	return slices.Contains(allowedTools, tool)
}

// AllowedTools returns the sorted tool allowlist.
func AllowedTools() []string {
	out := slices.Clone(allowedTools)
	sort.Strings(out)
	return out
}

// IsAllowedBinary reports whether name may be executed by shell_exec.
func IsAllowedBinary(name string) bool {
	return allowedBinaries[name]
}

// IsShellInterpreter reports whether name is a shell that is always denied.
func IsShellInterpreter(name string) bool {
	return shellInterpreters[name]
}

// IsInternalHost reports whether host is on the static internal-services allowlist.
func IsInternalHost(host string) bool {
	return internalHosts[host]
}

// InternalHosts returns the sorted internal-services allowlist.
func InternalHosts() []string {
	out := make([]string, 0, len(internalHosts))
	for host := range internalHosts {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}
