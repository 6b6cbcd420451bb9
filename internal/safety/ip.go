package safety

import (
	"strconv"
	"strings"
)

// privateIPv6Prefixes identifies private/link-local IPv6 ranges.
var privateIPv6Prefixes = []string{"fe80:", "fec0:", "fc", "fd"}

func normalizeHostname(hostname string) string {
	normalized := strings.TrimSpace(hostname)
	normalized = strings.ToLower(normalized)
	normalized = strings.TrimSuffix(normalized, ".")

	if strings.HasPrefix(normalized, "[") && strings.HasSuffix(normalized, "]") {
		normalized = normalized[1 : len(normalized)-1]
	}

	return normalized
}

func parseIPv4(address string) ([4]byte, bool) {
	var result [4]byte
	parts := strings.Split(address, ".")
	if len(parts) != 4 {
		return result, false
	}
	for i, part := range parts {
		value, err := strconv.Atoi(part)
		if err != nil || value < 0 || value > 255 {
			return result, false
		}
		result[i] = byte(value)
	}
	return result, true
}

// isPrivateIPv4 covers 0.0.0.0/8, 10.0.0.0/8, 127.0.0.0/8, 169.254.0.0/16,
// 172.16.0.0/12, 192.168.0.0/16, and 100.64.0.0/10 (carrier-grade NAT).
func isPrivateIPv4(parts [4]byte) bool {
	o1, o2 := parts[0], parts[1]
	switch {
	case o1 == 0, o1 == 10, o1 == 127:
		return true
	case o1 == 169 && o2 == 254:
		return true
	case o1 == 172 && o2 >= 16 && o2 <= 31:
		return true
	case o1 == 192 && o2 == 168:
		return true
	case o1 == 100 && o2 >= 64 && o2 <= 127:
		return true
	default:
		return false
	}
}

// IsPrivateIPAddress reports whether address (IPv4 or IPv6, possibly
// IPv4-mapped) refers to a private/internal network.
func IsPrivateIPAddress(address string) bool {
	normalized := normalizeHostname(address)
	if normalized == "" {
		return false
	}

	if strings.HasPrefix(normalized, "::ffff:") {
		mapped := normalized[len("::ffff:"):]
		if ipv4, ok := parseIPv4(mapped); ok {
			return isPrivateIPv4(ipv4)
		}
	}

	if strings.Contains(normalized, ":") {
		if normalized == "::" || normalized == "::1" {
			return true
		}
		for _, prefix := range privateIPv6Prefixes {
			if strings.HasPrefix(normalized, prefix) {
				return true
			}
		}
		return false
	}

	ipv4, ok := parseIPv4(normalized)
	if !ok {
		return false
	}
	return isPrivateIPv4(ipv4)
}

// blockedHostnames are always refused regardless of DNS resolution.
var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

var dangerousSuffixes = []string{".localhost", ".local", ".internal"}

// IsBlockedHostname reports whether hostname is explicitly blocked or
// carries a dangerous suffix that typically indicates an internal resource.
func IsBlockedHostname(hostname string) bool {
	normalized := normalizeHostname(hostname)
	if normalized == "" {
		return false
	}
	if blockedHostnames[normalized] {
		return true
	}
	for _, suffix := range dangerousSuffixes {
		if strings.HasSuffix(normalized, suffix) {
			return true
		}
	}
	return false
}
