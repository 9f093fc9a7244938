package utils

import (
	"net"
	"net/http"
	"strings"
)

// IsAllowedIP checking if the IP address enters the allowed CIDR subnetwork
func IsAllowedIP(ip string, allowedCIDRs []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}

	for _, cidr := range allowedCIDRs {
		if !strings.Contains(cidr, "/") {
			if allowed := net.ParseIP(cidr); allowed != nil && allowed.Equal(parsed) {
				return true
			}
			continue
		}
		_, netblock, err := net.ParseCIDR(cidr)
		if err != nil {
			// Skip invalid CIDR
			continue
		}
		if netblock.Contains(parsed) {
			return true
		}
	}
	return false
}

// ClientIP returns the address of the client that opened the request.
// Forwarding headers count only when the direct peer is a trusted proxy; the
// right-most X-Forwarded-For hop outside trustedProxies is the client. With
// no trusted proxies the connection's remote address is used as is.
func ClientIP(r *http.Request, trustedProxies []string) string {
	peer := remoteHost(r)
	if len(trustedProxies) == 0 || !IsAllowedIP(peer, trustedProxies) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if net.ParseIP(hop) == nil {
				// an unparsable hop means the chain past it can't be trusted
				return peer
			}
			if !IsAllowedIP(hop, trustedProxies) {
				return hop
			}
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" && net.ParseIP(xr) != nil {
		return xr
	}
	return peer
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
