package sandbox

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/haasonsaas/toolrunner/internal/tools/policy"
)

// MaxArgRequestBytes bounds an encoded request passed on the unit's command
// line. Linux limits a single argv string to 128 KiB; larger requests are
// streamed over the unit's stdin instead.
const MaxArgRequestBytes = 64 << 10

// StdinRequest is the --request value telling the job to read its request
// from stdin.
const StdinRequest = "-"

// MaxStdinRequestBytes bounds an encoded request streamed over stdin. A /run
// body is at most 16 MiB; base64 adds a third and CBOR framing a few bytes.
const MaxStdinRequestBytes = 24 << 20

// JobRequest is the single opaque argument handed to the job executor.
type JobRequest struct {
	Tool   string                 `cbor:"tool"`
	Args   json.RawMessage        `cbor:"args"`
	Policy policy.EffectivePolicy `cbor:"policy"`
}

// ErrInvalidJobRequest is returned for requests that cannot be decoded.
var ErrInvalidJobRequest = errors.New("invalid job request")

// encMode uses Core Deterministic Encoding: the same request always
// produces the same bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("sandbox: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("sandbox: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeJobRequest serializes req as unpadded base64url CBOR.
func EncodeJobRequest(req JobRequest) (string, error) {
	data, err := encMode.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode job request: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeJobRequest reverses EncodeJobRequest. Surrounding whitespace is
// ignored so the value can be read straight from stdin.
func DecodeJobRequest(encoded string) (JobRequest, error) {
	var req JobRequest
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return req, ErrInvalidJobRequest
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidJobRequest, err)
	}
	if err := decMode.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidJobRequest, err)
	}
	if req.Tool == "" {
		return req, fmt.Errorf("%w: missing tool", ErrInvalidJobRequest)
	}
	return req, nil
}
