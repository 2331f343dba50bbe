package policy

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

// curl flags that cannot redirect output, upload data or change the target.
var curlFlags = map[string]bool{
	"-f":   true,
	"-s":   true,
	"-S":   true,
	"-fsS": true,
	"-m":   true,
}

// ValidateCommand applies the binary rules to a shell_exec argument vector.
// Interpreters are rejected before the allowlist is consulted so that the
// answer never depends on how the allowlist evolves.
func ValidateCommand(cmd []string) error {
	if len(cmd) == 0 {
		return BadRequest("invalid_cmd", "invalid cmd")
	}
	if IsShellInterpreter(cmd[0]) {
		return Forbidden("shell_denied", "shell denied")
	}
	if !IsAllowedBinary(cmd[0]) {
		return Forbidden("binary_denied", "binary denied")
	}
	return nil
}

type curlState int

const (
	curlExpectArg curlState = iota
	curlExpectSeconds
	curlAfterURL
)

// CurlTarget walks a curl argument vector token by token and returns the
// lower-cased hostname of its single URL. Unknown flags fail closed, and a
// second URL anywhere in the vector is rejected.
func CurlTarget(cmd []string) (string, error) {
	if len(cmd) < 2 {
		return "", BadRequest("invalid_cmd", "curl requires a URL")
	}

	var host string
	state := curlExpectArg
	for _, tok := range cmd[1:] {
		if state == curlExpectSeconds {
			if !validSeconds(tok) {
				return "", BadRequest("invalid_cmd", "curl -m requires seconds")
			}
			if host == "" {
				state = curlExpectArg
			} else {
				state = curlAfterURL
			}
			continue
		}

		if strings.HasPrefix(tok, "-") {
			if !curlFlags[tok] {
				return "", Forbidden("net_denied", "curl flag not allowed: "+tok)
			}
			if tok == "-m" {
				state = curlExpectSeconds
			}
			continue
		}

		if state == curlAfterURL {
			return "", Forbidden("net_denied", "curl accepts a single URL")
		}
		parsed, err := parseCurlURL(tok)
		if err != nil {
			return "", err
		}
		host = parsed
		state = curlAfterURL
	}

	if state == curlExpectSeconds {
		return "", BadRequest("invalid_cmd", "curl -m requires seconds")
	}
	if host == "" {
		return "", BadRequest("invalid_cmd", "curl URL missing")
	}
	return host, nil
}

// validSeconds accepts what curl takes for -m: a positive, finite number of
// seconds, fractions included.
func validSeconds(tok string) bool {
	secs, err := strconv.ParseFloat(tok, 64)
	return err == nil && secs > 0 && !math.IsInf(secs, 0)
}

func parseCurlURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", Forbidden("net_denied", "curl URL must be http(s) with hostname")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", Forbidden("net_denied", "only http/https URLs are allowed")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", BadRequest("invalid_cmd", "URL hostname missing")
	}
	return host, nil
}

// CheckCurl enforces the network policy for a curl command: the policy must
// be in allowlist mode and the URL host must be on its allowlist.
func CheckCurl(cmd []string, p EffectivePolicy) error {
	host, err := CurlTarget(cmd)
	if err != nil {
		return err
	}
	if p.NetMode != NetAllowlist {
		return Forbidden("net_denied", "network denied by policy")
	}
	if !p.Allows(host) {
		return Forbidden("net_denied", "host not allowed by policy: "+host)
	}
	return nil
}
