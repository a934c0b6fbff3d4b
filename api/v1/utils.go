package v1

import (
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// getClientIP resolves the originating client address, preferring
// reverse-proxy headers over the socket peer. Private and loopback
// addresses are skipped so geo enrichment sees the public hop.
func getClientIP(c *fiber.Ctx) string {
	if ip := firstPublicIP(strings.Split(c.Get("X-Forwarded-For"), ",")); ip != "" {
		return ip
	}

	for _, header := range []string{"X-Real-IP", "CF-Connecting-IP", "True-Client-IP"} {
		if value := c.Get(header); value != "" {
			if ip := firstPublicIP([]string{value}); ip != "" {
				return ip
			}
		}
	}

	if remoteAddr := c.Context().RemoteAddr().String(); remoteAddr != "" {
		host, _, err := net.SplitHostPort(remoteAddr)
		if err != nil {
			host = remoteAddr
		}
		if parsed := net.ParseIP(host); parsed != nil && !isPrivateIP(parsed) {
			return host
		}
	}

	if ip := c.IP(); ip != "" {
		if parsed := net.ParseIP(strings.TrimSpace(ip)); parsed != nil && !isPrivateIP(parsed) {
			return ip
		}
	}

	return ""
}

func firstPublicIP(candidates []string) string {
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		parsed := net.ParseIP(candidate)
		if parsed != nil && !isPrivateIP(parsed) {
			return candidate
		}
	}
	return ""
}

func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
