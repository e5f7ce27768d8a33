package publisher

import (
	"regexp"
	"strings"
)

var scriptBlock = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)

// SanitizeHTML strips embedded script blocks.
func SanitizeHTML(content string) string {
	return scriptBlock.ReplaceAllString(content, "")
}

var imageRef = regexp.MustCompile(`src="([^"]*)"|src='([^']*)'|\]\(([^)\s]+)\)`)

// RewriteImageRefs points src attributes and markdown image targets at the
// uploaded URL. A target matches when it equals a known filename or its last
// path segment does. Every reference is rewritten at most once.
func RewriteImageRefs(content string, urls map[string]string) string {
	if len(urls) == 0 {
		return content
	}
	return imageRef.ReplaceAllStringFunc(content, func(ref string) string {
		m := imageRef.FindStringSubmatch(ref)
		target, markdown := m[1]+m[2], false
		if m[3] != "" {
			target, markdown = m[3], true
		}
		url := uploadedURL(target, urls)
		if url == "" {
			return ref
		}
		if markdown {
			return "](" + url + ")"
		}
		return `src="` + url + `"`
	})
}

func uploadedURL(target string, urls map[string]string) string {
	if url := urls[target]; url != "" {
		return url
	}
	base := target[strings.LastIndex(target, "/")+1:]
	if base == "" || base == target {
		return ""
	}
	return urls[base]
}
