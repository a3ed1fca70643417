package utils

import (
	"net"
	"net/http"
	"strings"
)

// ClientIdentifier holds a typed value that can either be an IP address or a device ID.
// Peer is the IP of the TCP peer; unlike Value no request header can set it.
type ClientIdentifier struct {
	Type  ClientIDType
	Value string
	Peer  string
}

// Key renders the identifier for use in rate-limit keys.
func (c ClientIdentifier) Key() string {
	if c.Value == "" {
		return c.Type.String() + ":unknown"
	}
	return c.Type.String() + ":" + c.Value
}

// GetClientPlatform reads the "X-Platform" header and returns an enum.
// Defaults to "web" if empty or invalid.
func GetClientPlatform(r *http.Request) PlatformType {
	raw := strings.ToLower(r.Header.Get("X-Platform"))
	if raw == "" {
		return PlatformWeb
	}
	if p, err := ParsePlatform(raw); err == nil {
		return p
	}
	return PlatformWeb
}

// GetClientIdentifier returns the device ID for mobile clients that send
// one, otherwise the best-effort client IP.
func GetClientIdentifier(r *http.Request, platform PlatformType) ClientIdentifier {
	peer := peerIP(r)
	if IsMobile(platform) {
		if deviceID := r.Header.Get("X-Device-ID"); deviceID != "" {
			return ClientIdentifier{Type: ClientIDTypeDeviceID, Value: deviceID, Peer: peer}
		}
	}
	return ClientIdentifier{Type: ClientIDTypeIP, Value: detectIP(r), Peer: peer}
}

func peerIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && isValidIP(ip) {
		return ip
	}
	return ""
}

// detectIP extracts the best IP address from typical headers or RemoteAddr.
func detectIP(r *http.Request) string {
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		for _, ip := range strings.Split(forwardedFor, ",") {
			cleanIP := strings.TrimSpace(ip)
			if isValidIP(cleanIP) {
				return cleanIP
			}
		}
	}

	if cfIP := r.Header.Get("CF-Connecting-IP"); cfIP != "" && isValidIP(cfIP) {
		return cfIP
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" && isValidIP(realIP) {
		return realIP
	}

	return peerIP(r)
}

func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
