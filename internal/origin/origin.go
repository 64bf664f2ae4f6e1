// Package origin implements the browser Origin checks applied to the
// coordinator's HTTP and WebSocket endpoints.
package origin

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates a browser Origin header and returns it in canonical
// scheme://host[:port] form, plus the host[:port] portion for same-host
// comparisons. Default ports are stripped. The special value "null" is
// returned as-is.
func Normalize(originHeader string) (normalized string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = canonicalHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Allowed reports whether the normalized origin may access the given request
// host.
//
// When allowedOrigins is non-empty, each entry must be "*" or a normalized
// origin string. Otherwise the default policy is same-host only: the origin's
// host[:port] must match the request's Host header, treating default ports as
// equivalent. Scheme is intentionally not compared because the coordinator
// may sit behind a TLS-terminating proxy.
func Allowed(normalized, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == normalized {
				return true
			}
		}
		return false
	}

	var scheme string
	switch {
	case strings.HasPrefix(normalized, "http://"):
		scheme = "http"
	case strings.HasPrefix(normalized, "https://"):
		scheme = "https"
	default:
		// "null" cannot match a host-based request.
		return false
	}

	reqHost, ok := canonicalHost(strings.ToLower(strings.TrimSpace(requestHost)), scheme)
	if !ok {
		return false
	}
	return originHost == reqHost
}

// canonicalHost lowercases the hostname, brackets IPv6 literals, and strips
// the scheme's default port.
func canonicalHost(authority, scheme string) (string, bool) {
	if authority == "" {
		return "", false
	}

	hostname := authority
	rawPort := ""
	if h, p, err := net.SplitHostPort(authority); err == nil {
		hostname, rawPort = h, p
	} else if strings.HasPrefix(authority, "[") {
		// Bracketed IPv6 literal without a port.
		if !strings.HasSuffix(authority, "]") {
			return "", false
		}
		hostname = authority[1 : len(authority)-1]
	} else if strings.Contains(authority, ":") {
		// Unbracketed IPv6 literals are not valid in the authority component.
		return "", false
	}

	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}
