package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// TrustedRealIP resolves the client address behind a reverse proxy.
// X-Real-IP and X-Forwarded-For are honored only when the connection peer
// is one of the configured proxy networks; otherwise the socket address
// stands, so a direct client cannot spoof its way around the per-IP import
// rate limits. With no proxies configured the middleware is a no-op.
func TrustedRealIP(trustedCIDRs []string) func(http.Handler) http.Handler {
	proxies := parseProxyNets(trustedCIDRs)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer := remoteIP(r.RemoteAddr)
			if proxies.contains(peer) {
				if client := forwardedClientIP(r.Header); client != nil {
					r.RemoteAddr = client.String()
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forwardedClientIP picks the forwarded client address from proxy headers.
// X-Real-IP wins over X-Forwarded-For; in the forwarded chain only the
// first hop is the original client. An unparseable header yields nil.
func forwardedClientIP(h http.Header) net.IP {
	if v := strings.TrimSpace(h.Get("X-Real-IP")); v != "" {
		return net.ParseIP(v)
	}
	if v := h.Get("X-Forwarded-For"); v != "" {
		first, _, _ := strings.Cut(v, ",")
		return net.ParseIP(strings.TrimSpace(first))
	}
	return nil
}

type proxyNets []*net.IPNet

// parseProxyNets parses the configured proxy list once at startup. Entries
// may be CIDRs or bare addresses; bad entries are logged and dropped rather
// than failing the server.
func parseProxyNets(cidrs []string) proxyNets {
	var nets proxyNets
	for _, entry := range cidrs {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, network, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, network)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			nets = append(nets, singleHostNet(ip))
			continue
		}
		slog.Warn("ignoring invalid trusted proxy entry", "entry", entry)
	}
	return nets
}

func (p proxyNets) contains(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, network := range p {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// singleHostNet wraps one address as a /32 or /128 network.
func singleHostNet(ip net.IP) *net.IPNet {
	bits := 128
	if ip.To4() != nil {
		bits = 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
}

// remoteIP extracts the address from host:port or a bare address.
func remoteIP(addr string) net.IP {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(addr)
}
