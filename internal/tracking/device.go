package tracking

import "strings"

// detectDevice buckets a user agent into mobile, tablet or desktop.
func detectDevice(ua string) string {
	ua = strings.ToLower(ua)
	if ua == "" {
		return ""
	}
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return "tablet"
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return "mobile"
	}
	return "desktop"
}
