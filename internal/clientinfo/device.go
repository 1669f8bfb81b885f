// Package clientinfo derives best-effort visitor metadata from an HTTP request.
// Nothing here is allowed to fail a wizard operation; unknown values read "Unknown".
package clientinfo

import (
	"net"
	"net/http"
	"regexp"
	"strings"
)

// Unknown is reported for any attribute that could not be determined.
const Unknown = "Unknown"

// UserAgentPreviewLength bounds how much of the user agent ends up in messages.
const UserAgentPreviewLength = 100

var (
	mobilePattern = regexp.MustCompile(`Mobile|Android|iPhone|iPad`)
	tabletPattern = regexp.MustCompile(`Tablet|iPad`)
)

// Device is the coarse classification of a user agent.
type Device struct {
	Kind    string `json:"device"`
	Browser string `json:"browser"`
	OS      string `json:"os"`
}

// Metadata is the visitor context attached to outbound messages.
type Metadata struct {
	IP         string `json:"ip"`
	UserAgent  string `json:"user_agent"`
	Device     Device `json:"device"`
	Geo        string `json:"geo,omitempty"`
	NewSession bool   `json:"new_session"`
	PageURL    string `json:"page_url,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
}

// UserAgentPreview returns the first UserAgentPreviewLength runes of the user agent.
func (m Metadata) UserAgentPreview() string {
	runes := []rune(m.UserAgent)
	if len(runes) <= UserAgentPreviewLength {
		return m.UserAgent
	}
	return string(runes[:UserAgentPreviewLength])
}

// Classify maps a user agent to device kind, browser and OS.
// Checks run in a fixed order, so a Chromium Edge agent reports Chrome.
func Classify(ua string) Device {
	d := Device{Kind: "Desktop", Browser: Unknown, OS: Unknown}
	switch {
	case mobilePattern.MatchString(ua):
		d.Kind = "Mobile"
	case tabletPattern.MatchString(ua):
		d.Kind = "Tablet"
	}

	switch {
	case strings.Contains(ua, "Chrome"):
		d.Browser = "Chrome"
	case strings.Contains(ua, "Firefox"):
		d.Browser = "Firefox"
	case strings.Contains(ua, "Safari"):
		d.Browser = "Safari"
	case strings.Contains(ua, "Edge"):
		d.Browser = "Edge"
	}

	switch {
	case strings.Contains(ua, "Windows"):
		d.OS = "Windows"
	case strings.Contains(ua, "Mac"):
		d.OS = "macOS"
	case strings.Contains(ua, "Linux"):
		d.OS = "Linux"
	case strings.Contains(ua, "Android"):
		d.OS = "Android"
	case strings.Contains(ua, "iOS"):
		d.OS = "iOS"
	}
	return d
}

// ClientIP returns the caller address. chi's RealIP middleware has already
// rewritten RemoteAddr from X-Real-IP / X-Forwarded-For when present.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return Unknown
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
