package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller's address. With trustedProxies = 0 only the
// socket address counts and X-Forwarded-For is ignored. Otherwise the
// rightmost trustedProxies hops of X-Forwarded-For plus the socket are taken
// to be our own proxies, and the hop just left of them is the client.
func ClientIP(r *http.Request, trustedProxies int) string {
	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}

	ip := remote
	if trustedProxies > 0 {
		var hops []string
		for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
		hops = append(hops, remote)
		ip = hops[max(len(hops)-1-trustedProxies, 0)]
	}
	if ip == "" {
		return "unknown"
	}
	return ip
}

// ClientKey identifies a caller by socket address and User-Agent. The result
// is a 16 hex character digest so raw addresses never reach the store.
func ClientKey(r *http.Request) string {
	return clientKey(ClientIP(r, 0), r.UserAgent())
}

// AddressKey digests ip alone. It keys the login budget, which headers must
// not be able to reset.
func AddressKey(ip string) string {
	return digest(ip)
}

func clientKey(ip, userAgent string) string {
	return digest(ip + ":" + userAgent)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
