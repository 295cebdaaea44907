package clientip

import (
	"net"
	"net/http"
	"strings"
)

// DefaultHeaders are consulted in order before falling back to RemoteAddr.
var DefaultHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

// GetIP returns the client address of r using DefaultHeaders.
func GetIP(r *http.Request) string {
	return resolve(r, DefaultHeaders)
}

// resolve returns the first valid address found in headers, then the TCP
// peer. Comma-separated headers yield their first valid entry.
func resolve(r *http.Request, headers []string) string {
	for _, h := range headers {
		value := r.Header.Get(h)
		if value == "" {
			continue
		}
		for ip := range strings.SplitSeq(value, ",") {
			if parsed := parseIP(ip); parsed != "" {
				return parsed
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return parseIP(r.RemoteAddr)
	}
	return parseIP(host)
}

// parseIP returns the normalized form of ipStr, or "" if it is not an IP.
func parseIP(ipStr string) string {
	ip := net.ParseIP(strings.TrimSpace(ipStr))
	if ip == nil {
		return ""
	}
	return ip.String()
}
