// Package classify derives registrable hosts and coarse resource categories
// from URLs and inspector type hints. It holds no state.
package classify

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// RegistrableHost reduces a URL to its registrable domain (eTLD+1).
// IP literals and hosts without a known public suffix are returned as-is,
// lowercased and stripped of port. Unparseable input yields "".
func RegistrableHost(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return etld1
}

// Origin reduces a URL to its scheme://host[:port] origin, or "" when the
// URL has no network origin.
func Origin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	return scheme + "://" + strings.ToLower(u.Host)
}

// ThirdParty reports whether domain belongs to a different registrable host
// than the page. An unknown page host marks nothing third-party: the
// conservative default never over-reports.
func ThirdParty(domain, pageHost string) bool {
	if pageHost == "" || domain == "" {
		return false
	}
	return domain != pageHost
}

// Category maps an inspector resource type hint, with the mime type as a
// fallback, to a coarse resource category.
func Category(resourceType, mimeType string) string {
	switch strings.ToLower(resourceType) {
	case "document":
		return "document"
	case "stylesheet":
		return "stylesheet"
	case "script":
		return "script"
	case "image":
		return "image"
	case "font":
		return "font"
	case "media":
		return "media"
	case "xhr", "fetch", "eventsource", "websocket":
		return "fetch"
	case "manifest", "prefetch", "ping", "other", "":
		return categoryFromMime(mimeType)
	default:
		return categoryFromMime(mimeType)
	}
}

func categoryFromMime(mimeType string) string {
	mime := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mime, "text/html"):
		return "document"
	case strings.HasPrefix(mime, "text/css"):
		return "stylesheet"
	case strings.Contains(mime, "javascript") || strings.Contains(mime, "ecmascript"):
		return "script"
	case strings.HasPrefix(mime, "image/"):
		return "image"
	case strings.HasPrefix(mime, "font/") || strings.Contains(mime, "font"):
		return "font"
	case strings.HasPrefix(mime, "audio/") || strings.HasPrefix(mime, "video/"):
		return "media"
	case strings.Contains(mime, "json") || strings.Contains(mime, "xml"):
		return "fetch"
	default:
		return "other"
	}
}
