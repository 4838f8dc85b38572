package discovery

import (
	"net/url"
	"strings"
)

// NormalizeURL reduces a URL to scheme://host/path for visited-set
// deduplication: query and fragment are dropped, a trailing slash is
// stripped except on the bare root, and the host is lowercased. The
// function is idempotent.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if path != "/" {
		path = strings.TrimRight(path, "/")
	}
	return u.Scheme + "://" + u.Host + path
}

// ResolveLink makes href absolute against the page it appeared on.
func ResolveLink(pageURL, href string) (string, bool) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return abs.String(), true
}

// SameHost reports whether two URLs share a host, treating a leading
// "www." as insignificant.
func SameHost(a, b string) bool {
	return hostOf(a) == hostOf(b)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}

// IsPDFURL reports whether the URL path ends in .pdf.
func IsPDFURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.HasSuffix(strings.ToLower(raw), ".pdf")
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}
