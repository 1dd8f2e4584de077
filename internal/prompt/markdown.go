package prompt

import (
	"regexp"
	"strings"
)

var (
	reHeader = regexp.MustCompile(`#{1,6}\s`)
	reLink   = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)

	emphasis = strings.NewReplacer("****", "", "**", "", "*", "", "`", "")
)

// CleanMarkdown strips emphasis markers, backticks and headers, replaces
// links with their text and trims surrounding whitespace.
func CleanMarkdown(s string) string {
	s = emphasis.Replace(s)
	s = reHeader.ReplaceAllString(s, "")
	s = reLink.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}
