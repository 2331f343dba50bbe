package models

import "encoding/json"

// ScopeTypeTelegram is the only scope type the workspace layout knows about.
const ScopeTypeTelegram = "telegram"

// Scope identifies the conversation a tool call is made for. It determines
// which workspace directory the call is confined to.
type Scope struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id,omitempty"`
}

// RunRequest is the body of POST /run at both service tiers.
//
// Policy is opaque on the wire: the edge tier discards whatever the caller
// sent and the runner tier re-derives a clamped policy from it.
type RunRequest struct {
	RequestID string          `json:"request_id,omitempty"`
	Agent     string          `json:"agent"`
	Scope     Scope           `json:"scope"`
	Tool      string          `json:"tool"`
	Args      json.RawMessage `json:"args,omitempty"`
	Policy    json.RawMessage `json:"policy,omitempty"`
}

// ArtifactType describes what an artifact path points at.
type ArtifactType string

const (
	ArtifactText ArtifactType = "text"
	ArtifactFile ArtifactType = "file"
)

// Artifact points at a file produced by a tool call. It carries no content.
type Artifact struct {
	Path string       `json:"path"`
	Type ArtifactType `json:"type"`
}

// RunResponse is the result of one tool call. Error is non-nil iff OK is false.
type RunResponse struct {
	RequestID string     `json:"request_id"`
	OK        bool       `json:"ok"`
	Stdout    string     `json:"stdout"`
	Stderr    string     `json:"stderr"`
	Artifacts []Artifact `json:"artifacts"`
	Error     *string    `json:"error"`
}

// ErrorMessage returns the error string or "" when the call succeeded.
func (r *RunResponse) ErrorMessage() string {
	if r == nil || r.Error == nil {
		return ""
	}
	return *r.Error
}

// ErrorDetail is the body of every non-2xx response.
type ErrorDetail struct {
	Detail string `json:"detail"`
}
