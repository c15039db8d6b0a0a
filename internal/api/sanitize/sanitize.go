package sanitize

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce     sync.Once
	markdownPolicy *bluemonday.Policy
	strictPolicy   *bluemonday.Policy
)

// Text strips every tag from a single-line value such as a title. Entities
// are decoded again so the stored text is plain.
func Text(input string) string {
	value := strings.TrimSpace(input)
	if value == "" {
		return ""
	}
	loadPolicies()
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(value)))
}

// Markdown keeps user-generated-content markup and drops scripts, event
// handlers and unknown elements.
func Markdown(input string) string {
	value := strings.TrimSpace(input)
	if value == "" {
		return ""
	}
	loadPolicies()
	return markdownPolicy.Sanitize(value)
}

func loadPolicies() {
	policyOnce.Do(func() {
		policy := bluemonday.UGCPolicy()
		policy.AllowElements("p", "pre", "code", "blockquote")
		markdownPolicy = policy
		strictPolicy = bluemonday.StrictPolicy()
	})
}
