package policy

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/toolrunner/pkg/models"
)

var (
	agentPattern     = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)
	scopeTypePattern = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)
	// Telegram chat ids are signed integers; the wider set keeps the
	// workspace key a single path element.
	chatIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// ValidateAgent checks the agent identifier shape.
func ValidateAgent(agent string) error {
	if !agentPattern.MatchString(agent) {
		return BadRequest("invalid_agent", "invalid agent")
	}
	return nil
}

// ValidateScope checks the scope shape and that it maps to a workspace key.
func ValidateScope(scope models.Scope) error {
	if !scopeTypePattern.MatchString(scope.Type) {
		return BadRequest("invalid_scope", "invalid scope.type")
	}
	_, err := WorkspaceKey(scope)
	return err
}

// WorkspaceKey derives the per-scope workspace directory name.
func WorkspaceKey(scope models.Scope) (string, error) {
	if scope.Type != models.ScopeTypeTelegram {
		return "", BadRequest("invalid_scope", "unsupported scope.type")
	}
	if scope.ChatID == "" {
		return "", BadRequest("invalid_scope", "scope.chat_id is required for telegram scope")
	}
	if !chatIDPattern.MatchString(scope.ChatID) {
		return "", BadRequest("invalid_scope", "invalid scope.chat_id")
	}
	return "group_" + scope.ChatID, nil
}

// SafeRelPath validates a workspace-relative path before it is joined to
// any root. Containment after symlink resolution is checked separately by
// the tier that owns the filesystem.
func SafeRelPath(rel string) (string, error) {
	if rel == "" {
		return "", BadRequest("invalid_path", "path required")
	}
	if strings.ContainsRune(rel, 0) {
		return "", BadRequest("invalid_path", "invalid path")
	}
	if strings.HasPrefix(rel, "/") || strings.HasPrefix(rel, `\`) {
		return "", Forbidden("denied", "absolute paths are not allowed")
	}
	for _, segment := range strings.FieldsFunc(rel, func(r rune) bool { return r == '/' || r == '\\' }) {
		if segment == ".." {
			return "", Forbidden("denied", "path traversal blocked")
		}
	}
	return rel, nil
}
