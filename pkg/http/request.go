package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Headers carrying client-side risk signals
const (
	HeaderDeviceFingerprint = "X-Device-Fingerprint"
	HeaderGeolocation       = "X-Geolocation"
)

// Signal headers longer than this are treated as absent
const maxSignalLen = 512

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// ClientSignals are the request properties the risk engine scores
type ClientSignals struct {
	IPAddress         string
	UserAgent         string
	DeviceFingerprint *string
	Geolocation       *string
}

// ExtractSignals collects the client address and the optional risk headers
func ExtractSignals(r *http.Request, config *IPConfig) ClientSignals {
	return ClientSignals{
		IPAddress:         ExtractClientIP(r, config),
		UserAgent:         r.Header.Get("User-Agent"),
		DeviceFingerprint: OptionalHeader(r, HeaderDeviceFingerprint),
		Geolocation:       OptionalHeader(r, HeaderGeolocation),
	}
}

// ExtractClientIP returns the address the risk engine and rate limiter attribute the request to.
// Forwarding headers are honoured only when the peer is a trusted proxy. X-Forwarded-For is
// walked right to left and the first hop outside the trusted ranges wins, so a client cannot
// pick its own address by prepending entries.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remote := remoteAddr(r)
	if config == nil || len(config.TrustedProxies) == 0 {
		return remote
	}

	trusted := parsePrefixes(config.TrustedProxies)
	peer, err := netip.ParseAddr(remote)
	if err != nil || !containsAddr(trusted, peer) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			if !containsAddr(trusted, hop) {
				return hop.Unmap().String()
			}
		}
	}

	if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return xri.Unmap().String()
	}

	return remote
}

// OptionalHeader returns a pointer to the trimmed header value, or nil when absent, blank or
// implausibly long
func OptionalHeader(r *http.Request, name string) *string {
	v := strings.TrimSpace(r.Header.Get(name))
	if v == "" || len(v) > maxSignalLen {
		return nil
	}
	return &v
}

func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().String()
	}
	return host
}

// parsePrefixes skips malformed ranges; an all-invalid list trusts nobody
func parsePrefixes(cidrs []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		if p, err := netip.ParsePrefix(strings.TrimSpace(c)); err == nil {
			out = append(out, p.Masked())
		}
	}
	return out
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
