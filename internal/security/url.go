// Package security checks outbound destinations configured by operators.
package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// URLPolicy decides which outbound URLs are acceptable.
type URLPolicy struct {
	// AllowPrivate permits loopback, private and link-local hosts. Useful
	// when the receiver runs next to the wizard.
	AllowPrivate bool
}

// CheckWebhookURL validates rawURL under the default policy, which rejects
// internal network destinations.
func CheckWebhookURL(rawURL string) error {
	return URLPolicy{}.Check(rawURL)
}

// Check rejects non-http(s) URLs and, unless AllowPrivate is set, hosts on
// internal networks. Hostnames are not resolved.
func (p URLPolicy) Check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL must have a host")
	}
	if p.AllowPrivate {
		return nil
	}

	switch strings.ToLower(host) {
	case "localhost", "localhost.localdomain":
		return fmt.Errorf("requests to localhost are not allowed")
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	if reason := blockedReason(ip); reason != "" {
		return fmt.Errorf("requests to %s addresses are not allowed", reason)
	}
	return nil
}

func blockedReason(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return "loopback"
	case ip.IsPrivate():
		return "private network"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		// includes the cloud metadata endpoint 169.254.169.254
		return "link-local"
	case ip.IsUnspecified():
		return "unspecified"
	}
	return ""
}
