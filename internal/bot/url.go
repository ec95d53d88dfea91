package bot

import "strings"

// ResolveBaseURL picks the backend base URL. An environment-provided host wins;
// otherwise the URL is the page host plus the fixed path prefix.
func ResolveBaseURL(envHost, pageHost, prefix string) string {
	if h := strings.TrimSpace(envHost); h != "" {
		if !strings.Contains(h, "://") {
			h = "http://" + h
		}
		return strings.TrimRight(h, "/")
	}
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	host := strings.TrimRight(pageHost, "/")
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return host + strings.TrimRight(prefix, "/")
}
