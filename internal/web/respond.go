// Package web holds the HTTP plumbing shared by the guard and runner
// services: JSON responses, middleware and server lifecycle.
package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haasonsaas/toolrunner/internal/tools/policy"
	"github.com/haasonsaas/toolrunner/pkg/models"
)

// MaxBodyBytes bounds every /run request body.
const MaxBodyBytes = 16 << 20

// WriteJSON writes payload with status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	// Best-effort: the client may have disconnected.
	_ = enc.Encode(payload)
}

// Marshal encodes v as compact JSON without HTML escaping, including inside
// json.RawMessage values. Escaping '<', '>' and '&' would grow forwarded file
// content six-fold per character.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// WriteError writes err as a rejection. Classified errors keep their status
// and caller-safe message; anything else becomes an opaque 500.
func WriteError(w http.ResponseWriter, err error) {
	var pe *policy.Error
	if errors.As(err, &pe) {
		WriteJSON(w, pe.Kind.HTTPStatus(), models.ErrorDetail{Detail: pe.Message()})
		return
	}
	WriteJSON(w, http.StatusInternalServerError, models.ErrorDetail{Detail: "internal error"})
}

// DecodeBody decodes a JSON request body into v, bounded by MaxBodyBytes.
func DecodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &policy.Error{Kind: policy.KindTooLarge, Code: "body_too_large", Detail: "request body too large"}
		}
		return policy.BadRequest("invalid_json", "invalid json")
	}
	return nil
}
