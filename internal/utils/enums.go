package utils

import "fmt"

// PlatformType is the client platform named by the X-Platform header.
type PlatformType string

const (
	PlatformWeb     PlatformType = "web"
	PlatformAndroid PlatformType = "android"
	PlatformIOS     PlatformType = "ios"
)

func (p PlatformType) String() string { return string(p) }

// ParsePlatform accepts "web", "android" or "ios".
func ParsePlatform(s string) (PlatformType, error) {
	switch p := PlatformType(s); p {
	case PlatformWeb, PlatformAndroid, PlatformIOS:
		return p, nil
	}
	return "", fmt.Errorf("invalid platform: %q", s)
}

// IsMobile reports whether the platform can supply a stable device ID.
func IsMobile(platform PlatformType) bool {
	return platform == PlatformAndroid || platform == PlatformIOS
}

// ClientIDType says what a ClientIdentifier's value holds. The string form
// is the rate-limit key prefix and matches the session token claim name.
type ClientIDType string

const (
	ClientIDTypeIP       ClientIDType = "ip"
	ClientIDTypeDeviceID ClientIDType = "device_id"
)

func (c ClientIDType) String() string { return string(c) }
