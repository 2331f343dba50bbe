package policy

import (
	"bytes"
	"encoding/json"
	"slices"
	"sort"
)

// ForEdge validates a request's arguments at the edge and derives the
// policy it will be forwarded with. The result depends only on tool and
// args; nothing the caller says about policy is consulted.
func ForEdge(tool string, args Args) (EffectivePolicy, error) {
	if !IsAllowedTool(tool) {
		return EffectivePolicy{}, Forbidden("tool_not_allowed", "tool not allowed")
	}
	if err := ValidateArgs(tool, args); err != nil {
		return EffectivePolicy{}, err
	}

	switch tool {
	case ToolFileRead:
		if err := checkPathArg(args); err != nil {
			return EffectivePolicy{}, err
		}
		return fileReadPolicy(), nil

	case ToolFileWrite:
		if err := checkPathArg(args); err != nil {
			return EffectivePolicy{}, err
		}
		content, ok := args.String("content")
		if !ok {
			return EffectivePolicy{}, BadRequest("invalid_content", "invalid content")
		}
		if len(content) > MaxWriteBytes {
			return EffectivePolicy{}, &Error{Kind: KindTooLarge, Code: "content_too_large", Detail: "content too large"}
		}
		return fileWritePolicy(), nil

	case ToolShellExec:
		cmd, err := args.Command()
		if err != nil {
			return EffectivePolicy{}, err
		}
		if err := ValidateCommand(cmd); err != nil {
			return EffectivePolicy{}, err
		}
		p := EffectivePolicy{
			FSMode:   FSReadOnly,
			NetMode:  NetNone,
			NetAllow: []string{},
			TimeoutS: ClampTimeout(args["timeout_s"], DefaultTimeoutS),
		}
		if cmd[0] == "curl" {
			host, err := CurlTarget(cmd)
			if err != nil {
				return EffectivePolicy{}, err
			}
			if !IsInternalHost(host) {
				return EffectivePolicy{}, Forbidden("net_denied", "curl host not allowed")
			}
			p.NetMode = NetAllowlist
			p.NetAllow = []string{host}
		}
		return p, nil
	}
	return EffectivePolicy{}, Forbidden("tool_not_allowed", "tool not allowed")
}

func checkPathArg(args Args) error {
	path, ok := args.String("path")
	if !ok {
		return BadRequest("invalid_path", "invalid path")
	}
	_, err := SafeRelPath(path)
	return err
}

// ForRunner re-derives the policy at the runner tier. The declared policy
// only ever narrows what the tool's fixed profile allows: file tools ignore
// it entirely, and for shell_exec only internal hosts survive.
func ForRunner(tool string, declared json.RawMessage) (EffectivePolicy, error) {
	switch tool {
	case ToolFileRead:
		return fileReadPolicy(), nil
	case ToolFileWrite:
		return fileWritePolicy(), nil
	case ToolShellExec:
	default:
		return EffectivePolicy{}, Forbidden("tool_not_allowed", "tool not allowed")
	}

	raw := decodeDeclared(declared)
	p := EffectivePolicy{
		FSMode:   FSReadOnly,
		NetMode:  NetNone,
		NetAllow: []string{},
		TimeoutS: ClampTimeout(raw["timeout_s"], DefaultTimeoutS),
	}
	if mode, _ := raw["net_mode"].(string); mode == string(NetAllowlist) {
		hosts, err := internalHostList(raw["net_allow"])
		if err != nil {
			return EffectivePolicy{}, err
		}
		if len(hosts) > 0 {
			p.NetMode = NetAllowlist
			p.NetAllow = hosts
		}
	}
	return p, nil
}

// Normalize is the job-side view of a received policy: unknown modes fall
// back to the restrictive value, the timeout is clamped and every allowed
// host must be internal.
func Normalize(p EffectivePolicy) (EffectivePolicy, error) {
	out := EffectivePolicy{
		FSMode:   FSReadOnly,
		NetMode:  NetNone,
		NetAllow: []string{},
		TimeoutS: Clamp(p.TimeoutS, MinTimeoutS, MaxTimeoutS),
	}
	if p.TimeoutS == 0 {
		out.TimeoutS = DefaultTimeoutS
	}
	if p.FSMode == FSReadWrite {
		out.FSMode = FSReadWrite
	}
	if p.NetMode == NetAllowlist {
		out.NetMode = NetAllowlist
	}
	for _, host := range p.NetAllow {
		if !IsInternalHost(host) {
			return EffectivePolicy{}, Forbidden("net_allow_forbidden", "forbidden net_allow")
		}
	}
	out.NetAllow = sortedUnique(p.NetAllow)
	return out, nil
}

func fileReadPolicy() EffectivePolicy {
	return EffectivePolicy{FSMode: FSReadOnly, NetMode: NetNone, NetAllow: []string{}, TimeoutS: DefaultTimeoutS}
}

func fileWritePolicy() EffectivePolicy {
	return EffectivePolicy{FSMode: FSReadWrite, NetMode: NetNone, NetAllow: []string{}, TimeoutS: DefaultTimeoutS}
}

func decodeDeclared(declared json.RawMessage) map[string]any {
	trimmed := bytes.TrimSpace(declared)
	if len(trimmed) == 0 {
		return map[string]any{}
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return map[string]any{}
	}
	return raw
}

func internalHostList(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, Forbidden("net_allow_forbidden", "forbidden net_allow")
	}
	hosts := make([]string, 0, len(list))
	for _, item := range list {
		host, ok := item.(string)
		if !ok || !IsInternalHost(host) {
			return nil, Forbidden("net_allow_forbidden", "forbidden net_allow")
		}
		hosts = append(hosts, host)
	}
	return sortedUnique(hosts), nil
}

func sortedUnique(in []string) []string {
	out := slices.Clone(in)
	sort.Strings(out)
	out = slices.Compact(out)
	if out == nil {
		out = []string{}
	}
	return out
}
