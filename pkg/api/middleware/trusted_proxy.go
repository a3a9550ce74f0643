package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ParseTrustedProxies parses CIDR ranges or bare IPs
func ParseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	var networks []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy IP %q", entry)
			}
			if ip.To4() != nil {
				entry += "/32"
			} else {
				entry += "/128"
			}
		}

		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy CIDR %q: %w", entry, err)
		}
		networks = append(networks, network)
	}
	return networks, nil
}

// IsTrustedProxyIn checks if the given remote address is in the provided networks
func IsTrustedProxyIn(remoteAddr string, trustedNetworks []*net.IPNet) bool {
	if len(trustedNetworks) == 0 {
		return false
	}

	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, network := range trustedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns a ClientIDFunc keyed by client address. Forwarding headers
// are only believed when the connection comes from a trusted proxy.
func ClientIP(trustedNetworks []*net.IPNet) ClientIDFunc {
	return func(r *http.Request) string {
		if IsTrustedProxyIn(r.RemoteAddr, trustedNetworks) {
			if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
				return ip.String()
			}
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
					return ip.String()
				}
			}
		}

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}
