package transcript

import (
	"html"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	cuePattern     = regexp.MustCompile(`\[(?i:music|applause|laughter|laughs|inaudible|silence|cheering|noise|background music|foreign)\]`)
	chevronPattern = regexp.MustCompile(`>>+`)
	speakerPattern = regexp.MustCompile(`(?m)(^|\s)[A-Z][A-Z .'-]{1,30}:\s`)
)

// Clean normalizes raw caption text into a single paragraph. Entities are
// decoded twice because caption XML often double-escapes them.
func Clean(raw string) string {
	s := html.UnescapeString(html.UnescapeString(raw))
	s = norm.NFC.String(s)
	s = cuePattern.ReplaceAllString(s, " ")
	s = chevronPattern.ReplaceAllString(s, " ")
	s = speakerPattern.ReplaceAllString(s, "$1")
	return strings.Join(strings.Fields(s), " ")
}
