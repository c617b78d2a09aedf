// Package useragent classifies request User-Agent headers into the browser,
// operating system and device buckets shown on the stats dashboard.
package useragent

import (
	"strings"

	"github.com/mssola/useragent"
)

// Unknown is reported for any dimension that cannot be determined.
const Unknown = "Unknown"

// Device types.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// Client is the classification of one User-Agent string.
type Client struct {
	Browser    string
	OS         string
	DeviceType string
	IsBot      bool
}

// Signatures that mark automated clients not flagged by the parser itself,
// including the command line tools people use to scrape paper downloads.
var botSignatures = []string{
	"bot", "crawler", "spider", "crawl", "slurp", "archiver",
	"curl/", "wget/", "python-requests", "go-http-client", "headless",
	"uptimerobot", "pingdom", "statuscake",
}

var tabletSignatures = []string{"ipad", "tablet", "kindle", "playbook", "silk"}

// Parse classifies a User-Agent header value.
func Parse(uaString string) Client {
	if strings.TrimSpace(uaString) == "" {
		return Client{Browser: Unknown, OS: Unknown, DeviceType: DeviceUnknown}
	}

	ua := useragent.New(uaString)
	lower := strings.ToLower(uaString)

	if ua.Bot() || containsAny(lower, botSignatures...) {
		return Client{Browser: Unknown, OS: Unknown, DeviceType: DeviceBot, IsBot: true}
	}

	name, _ := ua.Browser()
	c := Client{
		Browser: normalizeBrowser(name),
		OS:      normalizeOS(ua.OS(), lower),
	}
	switch {
	case containsAny(lower, tabletSignatures...):
		c.DeviceType = DeviceTablet
	case ua.Mobile():
		c.DeviceType = DeviceMobile
	default:
		c.DeviceType = DeviceDesktop
	}
	return c
}

// IsBot reports whether uaString belongs to an automated client.
func IsBot(uaString string) bool {
	return Parse(uaString).IsBot
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func normalizeBrowser(name string) string {
	switch strings.ToLower(name) {
	case "chrome", "google chrome":
		return "Chrome"
	case "firefox", "mozilla firefox":
		return "Firefox"
	case "safari", "mobile safari":
		return "Safari"
	case "edge", "microsoft edge":
		return "Edge"
	case "opera", "opera mini":
		return "Opera"
	case "ie", "internet explorer", "msie":
		return "Internet Explorer"
	case "samsung browser", "samsungbrowser":
		return "Samsung Browser"
	case "":
		return Unknown
	default:
		return name
	}
}

func normalizeOS(osInfo, lowerUA string) string {
	osLower := strings.ToLower(osInfo)
	switch {
	case strings.Contains(lowerUA, "iphone") || strings.Contains(lowerUA, "ipad") || strings.Contains(osLower, "ios"):
		return "iOS"
	case strings.Contains(osLower, "android"):
		return "Android"
	case strings.Contains(osLower, "windows"):
		return "Windows"
	case strings.Contains(osLower, "mac os") || strings.Contains(lowerUA, "macintosh"):
		return "macOS"
	case strings.Contains(lowerUA, "cros "):
		return "Chrome OS"
	case strings.Contains(osLower, "linux"):
		return "Linux"
	case osInfo == "":
		return Unknown
	default:
		return osInfo
	}
}
