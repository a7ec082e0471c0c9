package reply

import (
	"regexp"
	"strings"
)

var (
	codeFence   = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n(.*?)\\n?```$")
	bodyContent = regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body\s*>`)
	headElement = regexp.MustCompile(`(?is)<head[^>]*>.*?</head\s*>`)
	docWrappers = regexp.MustCompile(`(?i)<!doctype[^>]*>|</?html[^>]*>|</?body[^>]*>`)
)

// NormalizeHTML returns the body fragment of a model-written reply:
// a surrounding markdown code fence is removed, and any document
// wrapper (doctype, html, head, body) is stripped. The markup inside
// the body is returned unchanged.
func NormalizeHTML(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFence.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	if m := bodyContent.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	s = headElement.ReplaceAllString(s, "")
	s = docWrappers.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
