package httpcontext

import (
	"fmt"
	"net"
	"strings"

	"github.com/valyala/fasthttp"
)

// TrustedProxies is the set of peers allowed to report the client address in
// X-Forwarded-For. A nil set trusts nobody.
type TrustedProxies struct {
	nets []*net.IPNet
}

// ParseTrustedProxies accepts IP addresses and CIDR ranges; empty entries are skipped.
func ParseTrustedProxies(entries []string) (*TrustedProxies, error) {
	p := &TrustedProxies{}
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("trusted proxy %q is not an IP address", raw)
			}
			bits := 8 * net.IPv6len
			if v4 := ip.To4(); v4 != nil {
				ip, bits = v4, 8*net.IPv4len
			}
			p.nets = append(p.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		p.nets = append(p.nets, ipNet)
	}
	return p, nil
}

// Trusts reports whether ip belongs to a trusted proxy.
func (p *TrustedProxies) Trusts(ip net.IP) bool {
	if p == nil || ip == nil {
		return false
	}
	for _, n := range p.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP returns the socket peer unless that peer is a trusted proxy. Then
// X-Forwarded-For is walked from the right and the first hop that is not itself
// a trusted proxy is the client.
func (p *TrustedProxies) ClientIP(ctx *fasthttp.RequestCtx) string {
	peer := RemoteIP(ctx)
	if !p.Trusts(net.ParseIP(peer)) {
		return peer
	}
	fwd := string(ctx.Request.Header.Peek(fasthttp.HeaderXForwardedFor))
	if fwd == "" {
		return peer
	}
	hops := strings.Split(fwd, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		ip := net.ParseIP(hop)
		if ip == nil {
			// A malformed hop ends the trusted chain.
			return peer
		}
		if !p.Trusts(ip) {
			return ip.String()
		}
		peer = ip.String()
	}
	return peer
}

// RemoteIP is the host part of the socket address.
func RemoteIP(ctx *fasthttp.RequestCtx) string {
	addr := ctx.RemoteAddr()
	if addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil || host == "" {
		return addr.String()
	}
	return host
}
