package policy

import (
	"errors"
	"testing"
)

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		cmd  []string
		code string
	}{
		{cmd: []string{"python3", "-c", "print(1)"}},
		{cmd: []string{"pytest", "-q"}},
		{cmd: nil, code: "invalid_cmd"},
		{cmd: []string{"sh", "-c", "id"}, code: "shell_denied"},
		{cmd: []string{"bash"}, code: "shell_denied"},
		{cmd: []string{"zsh"}, code: "shell_denied"},
		{cmd: []string{"fish"}, code: "shell_denied"},
		{cmd: []string{"rm", "-rf", "/"}, code: "binary_denied"},
		{cmd: []string{"/usr/bin/python3"}, code: "binary_denied"},
	}
	for _, tt := range tests {
		err := ValidateCommand(tt.cmd)
		if tt.code == "" {
			if err != nil {
				t.Fatalf("%v: unexpected error %v", tt.cmd, err)
			}
			continue
		}
		var pe *Error
		if !errors.As(err, &pe) || pe.Code != tt.code {
			t.Fatalf("%v: expected %s, got %v", tt.cmd, tt.code, err)
		}
	}
}

func TestCurlTarget(t *testing.T) {
	tests := []struct {
		name string
		cmd  []string
		host string
		kind Kind
	}{
		{name: "bare", cmd: []string{"curl", "http://ollama:11434/api/tags"}, host: "ollama"},
		{name: "flags before", cmd: []string{"curl", "-fsS", "-m", "5", "http://RAG-Service/q"}, host: "rag-service"},
		{name: "flags after", cmd: []string{"curl", "https://ollama/", "-s", "-m", "3"}, host: "ollama"},
		{name: "no url", cmd: []string{"curl", "-s"}, kind: KindBadRequest},
		{name: "only curl", cmd: []string{"curl"}, kind: KindBadRequest},
		{name: "m without seconds", cmd: []string{"curl", "http://ollama/", "-m"}, kind: KindBadRequest},
		{name: "m with junk", cmd: []string{"curl", "-m", "soon", "http://ollama/"}, kind: KindBadRequest},
		{name: "m fractional", cmd: []string{"curl", "-m", "2.5", "http://ollama/"}, host: "ollama"},
		{name: "m zero", cmd: []string{"curl", "-m", "0", "http://ollama/"}, kind: KindBadRequest},
		{name: "m negative", cmd: []string{"curl", "-m", "-1", "http://ollama/"}, kind: KindBadRequest},
		{name: "m infinite", cmd: []string{"curl", "-m", "Inf", "http://ollama/"}, kind: KindBadRequest},
		{name: "m nan", cmd: []string{"curl", "-m", "NaN", "http://ollama/"}, kind: KindBadRequest},
		{name: "output flag", cmd: []string{"curl", "-o", "/tmp/x", "http://ollama/"}, kind: KindForbidden},
		{name: "data flag", cmd: []string{"curl", "-d", "@secret", "http://ollama/"}, kind: KindForbidden},
		{name: "long flag", cmd: []string{"curl", "--upload-file", "x", "http://ollama/"}, kind: KindForbidden},
		{name: "second url", cmd: []string{"curl", "http://ollama/", "http://evil.example/"}, kind: KindForbidden},
		{name: "file scheme", cmd: []string{"curl", "file:///etc/passwd"}, kind: KindForbidden},
		{name: "missing host", cmd: []string{"curl", "http:///path"}, kind: KindBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, err := CurlTarget(tt.cmd)
			if tt.kind != "" {
				if got := KindOf(err); got != tt.kind {
					t.Fatalf("kind = %s (%v), want %s", got, err, tt.kind)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if host != tt.host {
				t.Fatalf("host = %q, want %q", host, tt.host)
			}
		})
	}
}

func TestCheckCurl(t *testing.T) {
	allow := EffectivePolicy{NetMode: NetAllowlist, NetAllow: []string{"ollama"}}
	if err := CheckCurl([]string{"curl", "-s", "http://ollama/"}, allow); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}
	if err := CheckCurl([]string{"curl", "http://rag-service/"}, allow); !IsDenied(err) {
		t.Fatalf("expected host outside allowlist to be denied, got %v", err)
	}
	none := EffectivePolicy{NetMode: NetNone}
	if err := CheckCurl([]string{"curl", "http://ollama/"}, none); !IsDenied(err) {
		t.Fatalf("expected net none to deny, got %v", err)
	}
}
