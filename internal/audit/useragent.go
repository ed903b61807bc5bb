package audit

import "strings"

// UnknownDevice is returned for an absent or empty user-agent header.
const UnknownDevice = "Desconocido"

// ClassifyUserAgent translates a raw user-agent header into a readable
// "Browser en OS" label. Matching is substring based and order sensitive:
// Edge ships the Chrome marker and Chrome ships the Safari marker, so the
// more specific engines are tested first.
func ClassifyUserAgent(ua string) string {
	if ua == "" {
		return UnknownDevice
	}

	os := "OS Desconocido"
	switch {
	case strings.Contains(ua, "Windows NT 10.0"):
		os = "Windows 10/11"
	case strings.Contains(ua, "Windows NT 6.1"):
		os = "Windows 7"
	case strings.Contains(ua, "Macintosh"):
		os = "macOS"
	case strings.Contains(ua, "Android"):
		os = "Android"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		os = "iOS"
	case strings.Contains(ua, "Linux"):
		os = "Linux"
	}

	browser := "Navegador Desconocido"
	switch {
	case strings.Contains(ua, "Edg/"):
		browser = "Microsoft Edge"
	case strings.Contains(ua, "Chrome") && !strings.Contains(ua, "Edg/"):
		browser = "Google Chrome"
	case strings.Contains(ua, "Firefox/"):
		browser = "Mozilla Firefox"
	case strings.Contains(ua, "Safari/") && !strings.Contains(ua, "Chrome"):
		browser = "Apple Safari"
	}

	return browser + " en " + os
}
