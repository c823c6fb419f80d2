package routed

import (
	"net"
	"strings"

	"github.com/routed/routed/router"
)

// trustedProxies resolves the real client address and scheme from forwarded
// headers, but only when the direct peer is inside a trusted CIDR.
type trustedProxies struct {
	nets []*net.IPNet
}

func newTrustedProxies(cidrs []string) (*trustedProxies, error) {
	tp := &trustedProxies{}
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		// Bare addresses are treated as host routes.
		if !strings.Contains(cidr, "/") {
			if strings.Contains(cidr, ":") {
				cidr += "/128"
			} else {
				cidr += "/32"
			}
		}
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, err
		}
		tp.nets = append(tp.nets, ipnet)
	}
	return tp, nil
}

func (tp *trustedProxies) trusted(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, n := range tp.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// resolve sets the context's client IP and scheme from X-Forwarded-For and
// X-Forwarded-Proto. Forwarded entries are walked right to left; the first
// hop outside the trusted set is the client.
func (tp *trustedProxies) resolve(c *router.Context) {
	if len(tp.nets) == 0 {
		return
	}
	peerHost, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		peerHost = c.Request.RemoteAddr
	}
	if !tp.trusted(net.ParseIP(peerHost)) {
		return
	}

	if xff := c.Request.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			ip := net.ParseIP(hop)
			if ip == nil {
				break
			}
			if !tp.trusted(ip) {
				c.SetClientIP(hop)
				break
			}
			// Every hop trusted: fall back to the leftmost entry.
			if i == 0 {
				c.SetClientIP(hop)
			}
		}
	}

	if proto := c.Request.Header.Get("X-Forwarded-Proto"); proto == "https" || proto == "http" {
		c.SetScheme(proto)
	}
}
