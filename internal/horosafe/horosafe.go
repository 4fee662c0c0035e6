// Package horosafe holds the input guards used wherever a page ID or target
// URL arrives from outside the process (config, MCP tools, HTTP paths).
package horosafe

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a page ID would escape its base directory.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrSSRF is returned when a target URL points at a private or loopback address.
var ErrSSRF = errors.New("horosafe: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a target URL is not http or https.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// ValidatePageID accepts IDs made of letters, digits, '_', '-' and '.',
// at most 128 characters, and never "." or "..".
func ValidatePageID(id string) error {
	if id == "" {
		return fmt.Errorf("horosafe: page id must not be empty")
	}
	if len(id) > 128 {
		return fmt.Errorf("horosafe: page id too long (max 128)")
	}
	if id == "." || id == ".." {
		return ErrPathTraversal
	}
	for _, r := range id {
		if !isIDChar(r) {
			return fmt.Errorf("horosafe: invalid character %q in page id", r)
		}
	}
	return nil
}

// ShotPath returns dir/<pageID><ext> after checking the ID and that the
// result stays under dir.
func ShotPath(dir, pageID, ext string) (string, error) {
	if err := ValidatePageID(pageID); err != nil {
		return "", err
	}
	base := filepath.Clean(dir)
	p := filepath.Join(base, pageID+ext)
	if filepath.Dir(p) != base {
		return "", ErrPathTraversal
	}
	return p, nil
}

// ValidateTarget checks that rawURL is http(s) with a host. Unless
// allowPrivate is set, hosts resolving to loopback, link-local or private
// addresses are rejected.
func ValidateTarget(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("horosafe: URL has no host")
	}
	if allowPrivate {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrSSRF
		}
		return nil
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		// Unresolvable now; navigation will fail on its own.
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrSSRF
		}
	}
	return nil
}

func isIDChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
