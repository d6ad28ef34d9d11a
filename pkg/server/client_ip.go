package server

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// clientIP returns the remote address of req for logs, honoring forwarding
// headers only from trusted proxies.
func (r *Registry) clientIP(req *http.Request) string {
	ip := clientIPFromRequest(req, r.trusted)
	if ip == nil {
		return ""
	}
	return ip.String()
}

func clientIPFromRequest(r *http.Request, trusted *proxyMatcher) net.IP {
	remote := parseHostIP(r.RemoteAddr)
	if remote == nil || !trusted.IsTrusted(remote) {
		return remote
	}

	forwarded := parseForwardedFor(r.Header.Get("Forwarded"))
	if len(forwarded) == 0 {
		forwarded = parseXForwardedFor(r.Header.Get("X-Forwarded-For"))
	}
	if len(forwarded) == 0 {
		return remote
	}

	// The right-most untrusted hop is the client.
	for i := len(forwarded) - 1; i >= 0; i-- {
		if !trusted.IsTrusted(forwarded[i]) {
			return forwarded[i]
		}
	}
	return forwarded[0]
}

func parseForwardedFor(header string) []net.IP {
	var out []net.IP
	for _, element := range strings.Split(header, ",") {
		for _, pair := range strings.Split(element, ";") {
			key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "for") {
				continue
			}
			if ip := parseHostIP(value); ip != nil {
				out = append(out, ip)
			}
		}
	}
	return out
}

func parseXForwardedFor(header string) []net.IP {
	var out []net.IP
	for _, part := range strings.Split(header, ",") {
		if ip := parseHostIP(part); ip != nil {
			out = append(out, ip)
		}
	}
	return out
}

// parseHostIP parses an address that may carry quotes, a port, brackets or
// a zone.
func parseHostIP(value string) net.IP {
	host := strings.Trim(strings.TrimSpace(value), "\"")
	if host == "" || strings.EqualFold(host, "unknown") {
		return nil
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if zone := strings.Index(host, "%"); zone != -1 {
		host = host[:zone]
	}
	return net.ParseIP(host)
}

type proxyMatcher struct {
	ips  map[string]struct{}
	nets []*net.IPNet
}

func newProxyMatcher(entries []string, logger *slog.Logger) *proxyMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	m := &proxyMatcher{ips: make(map[string]struct{})}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
		case strings.Contains(entry, "/"):
			_, network, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn("invalid trusted proxy CIDR", "entry", entry, "error", err)
				continue
			}
			m.nets = append(m.nets, network)
		default:
			ip := net.ParseIP(entry)
			if ip == nil {
				logger.Warn("invalid trusted proxy IP", "entry", entry)
				continue
			}
			m.ips[ip.String()] = struct{}{}
		}
	}
	if len(m.ips) == 0 && len(m.nets) == 0 {
		return nil
	}
	return m
}

// IsTrusted reports whether ip belongs to a trusted proxy. A nil matcher
// trusts nothing.
func (m *proxyMatcher) IsTrusted(ip net.IP) bool {
	if m == nil || ip == nil {
		return false
	}
	if _, ok := m.ips[ip.String()]; ok {
		return true
	}
	for _, network := range m.nets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
