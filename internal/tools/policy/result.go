package policy

import (
	"encoding/json"

	"github.com/haasonsaas/toolrunner/pkg/models"
)

// DefaultFailure is reported when a failed result carries no error string.
const DefaultFailure = "failed"

// BuildResponse turns a decoded, untrusted result object into a bounded
// RunResponse. The call is only successful when the object says so and the
// process that produced it exited cleanly.
func BuildResponse(requestID string, obj map[string]any, exitCode int) models.RunResponse {
	ok, _ := obj["ok"].(bool)
	ok = ok && exitCode == 0

	resp := models.RunResponse{
		RequestID: requestID,
		OK:        ok,
		Stdout:    Truncate(textField(obj["stdout"]), MaxOutputBytes),
		Stderr:    Truncate(textField(obj["stderr"]), MaxOutputBytes),
		Artifacts: FilterArtifacts(obj["artifacts"]),
	}
	if !ok {
		msg := Truncate(textField(obj["error"]), MaxErrorBytes)
		if msg == "" {
			msg = DefaultFailure
		}
		resp.Error = &msg
	}
	return resp
}

// Failure builds a failed response with a bounded error string.
func Failure(requestID, msg string) models.RunResponse {
	msg = Truncate(SanitizeUTF8([]byte(msg)), MaxErrorBytes)
	if msg == "" {
		msg = DefaultFailure
	}
	return models.RunResponse{
		RequestID: requestID,
		Artifacts: []models.Artifact{},
		Error:     &msg,
	}
}

// FilterArtifacts keeps only well-formed {path, type} entries.
func FilterArtifacts(v any) []models.Artifact {
	out := []models.Artifact{}
	list, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		path, ok := entry["path"].(string)
		if !ok || path == "" {
			continue
		}
		kind, _ := entry["type"].(string)
		switch models.ArtifactType(kind) {
		case models.ArtifactText, models.ArtifactFile:
			out = append(out, models.Artifact{Path: SanitizeUTF8([]byte(path)), Type: models.ArtifactType(kind)})
		}
	}
	return out
}

func textField(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
