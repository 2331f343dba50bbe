package job

import (
	"errors"

	"github.com/haasonsaas/toolrunner/internal/tools/policy"
	"github.com/haasonsaas/toolrunner/pkg/models"
)

// Failure codes reported in Result.Error, with the process exit status each
// one maps to. Codes carrying a reason are written as "code:reason".
const (
	CodeMissingRequest    = "missing_request"
	CodeToolNotAllowed    = "tool_not_allowed"
	CodeNetAllowForbidden = "net_allow_forbidden"
	CodeWriteDenied       = "write_denied"
	CodeInvalidContent    = "invalid_content"
	CodeInvalidCmd        = "invalid_cmd"
	CodeShellDenied       = "shell_denied"
	CodeBinaryDenied      = "binary_denied"
	CodeNetDenied         = "net_denied"
	CodeNetPolicyDenied   = "net_policy_denied"
	CodeTimeout           = "timeout"
	CodeExecutionError    = "execution_error"
	CodeDenied            = "denied"
	CodeNotFound          = "not_found"
	CodeJobError          = "job_error"
	CodeRequestTooLarge   = "request_too_large"
)

var exitCodes = map[string]int{
	CodeMissingRequest:    2,
	CodeToolNotAllowed:    3,
	CodeNetAllowForbidden: 4,
	CodeWriteDenied:       5,
	CodeInvalidContent:    6,
	CodeInvalidCmd:        7,
	CodeShellDenied:       8,
	CodeBinaryDenied:      9,
	CodeNetDenied:         10,
	CodeNetPolicyDenied:   11,
	CodeTimeout:           12,
	CodeExecutionError:    13,
	CodeDenied:            14,
	CodeNotFound:          15,
	CodeJobError:          16,
	CodeRequestTooLarge:   17,
}

// ExitCode returns the process exit status for a failure code.
func ExitCode(code string) int {
	if n, ok := exitCodes[code]; ok {
		return n
	}
	return exitCodes[CodeJobError]
}

// Result is the single JSON object the job writes to stdout.
type Result struct {
	OK        bool              `json:"ok"`
	Stdout    string            `json:"stdout"`
	Stderr    string            `json:"stderr"`
	Artifacts []models.Artifact `json:"artifacts,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// failure pairs a failure code with an optional caller-safe reason.
type failure struct {
	code   string
	reason string
}

func (f *failure) Error() string {
	if f.reason != "" {
		return f.code + ":" + f.reason
	}
	return f.code
}

func fail(code string) *failure { return &failure{code: code} }

func failWithReason(code, reason string) *failure {
	return &failure{code: code, reason: policy.Truncate(reason, 200)}
}

// classify maps an error from the file tools onto a failure code.
func classify(err error) *failure {
	var f *failure
	if errors.As(err, &f) {
		return f
	}
	var pe *policy.Error
	if errors.As(err, &pe) {
		switch {
		case pe.Code == CodeInvalidContent:
			return fail(CodeInvalidContent)
		case pe.Kind == policy.KindNotFound:
			return fail(CodeNotFound)
		case pe.Kind == policy.KindForbidden, pe.Kind == policy.KindBadRequest:
			return fail(CodeDenied)
		}
	}
	return fail(CodeJobError)
}
