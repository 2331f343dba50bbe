package config

import (
	"fmt"
	"os"
)

// AllowlistScope is the only scope type the allowlist file lists.
const AllowlistScope = "telegram"

// Pair is one permitted (agent, chat) combination.
type Pair struct {
	Agent  string
	ChatID string
}

// Allowlist is the static set of agent and chat pairs the guard accepts.
// It is loaded once and never changes; a restart picks up edits.
type Allowlist struct {
	pairs map[Pair]struct{}
}

// LoadAllowlist reads the allowlist file at path. The file has the form
//
//	{"telegram": [{"agent": "assistant", "chat_id": "1001"}]}
//
// and may be JSON, JSON5 or YAML (by extension). Rows that are not objects
// with string agent and chat_id are skipped. A file that cannot be read or
// parsed is an error.
func LoadAllowlist(path string) (*Allowlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read allowlist: %w", err)
	}
	raw, err := parseRawBytes(data, path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse allowlist: %w", err)
	}
	return NewAllowlist(rows(raw[AllowlistScope])...), nil
}

// NewAllowlist builds an allowlist from pairs.
func NewAllowlist(pairs ...Pair) *Allowlist {
	set := make(map[Pair]struct{}, len(pairs))
	for _, p := range pairs {
		if p.Agent == "" || p.ChatID == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return &Allowlist{pairs: set}
}

func rows(v any) []Pair {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Pair, 0, len(list))
	for _, row := range list {
		entry, ok := row.(map[string]any)
		if !ok {
			continue
		}
		agent, ok := entry["agent"].(string)
		if !ok {
			continue
		}
		chatID, ok := entry["chat_id"].(string)
		if !ok {
			continue
		}
		out = append(out, Pair{Agent: agent, ChatID: chatID})
	}
	return out
}

// Allowed reports whether agent may act in chatID. Matching is exact.
func (a *Allowlist) Allowed(agent, chatID string) bool {
	if a == nil {
		return false
	}
	_, ok := a.pairs[Pair{Agent: agent, ChatID: chatID}]
	return ok
}

// Len returns the number of pairs.
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.pairs)
}
