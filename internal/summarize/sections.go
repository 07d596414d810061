package summarize

import (
	"strings"

	"github.com/sells-group/sightline/internal/model"
)

// ParseSections splits markdown on level-two headings. Text before the
// first heading becomes a section with an empty heading.
func ParseSections(md string) []model.Section {
	var (
		out     []model.Section
		heading string
		body    []string
		started bool
	)
	flush := func() {
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if heading != "" || text != "" {
			out = append(out, model.Section{Heading: heading, Body: text})
		}
	}

	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") && !strings.HasPrefix(trimmed, "### ") {
			if started || len(body) > 0 {
				flush()
			}
			heading = strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))
			body = body[:0]
			started = true
			continue
		}
		body = append(body, line)
	}
	flush()
	return out
}

// KeyPoints returns the bullets of the "Key Points" (or "Key Takeaways")
// section.
func KeyPoints(sections []model.Section) []string {
	for _, s := range sections {
		h := strings.ToLower(s.Heading)
		if h != "key points" && h != "key takeaways" {
			continue
		}
		return bullets(s.Body)
	}
	return nil
}

func bullets(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "), strings.HasPrefix(line, "• "):
			_, rest, _ := strings.Cut(line, " ")
			out = append(out, strings.TrimSpace(rest))
		case len(line) > 2 && line[0] >= '0' && line[0] <= '9':
			if i := strings.IndexAny(line, ".)"); i > 0 && i < 4 {
				out = append(out, strings.TrimSpace(line[i+1:]))
			}
		}
	}
	return out
}
