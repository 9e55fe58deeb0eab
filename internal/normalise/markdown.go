// Package normalise derives document structure from markdown text.
// Upstream exports usually carry an explicit heading map; when they do
// not, these helpers reconstruct one so heading-aware chunking still
// applies.
package normalise

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
)

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// Sections scans markdown for ATX headings and returns them as an
// ordered heading map. Headings inside fenced code blocks are ignored.
func Sections(body string) []domain.Section {
	var sections []domain.Section
	inFence := false
	offset := 0

	for _, line := range strings.SplitAfter(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		} else if !inFence {
			if m := headingPattern.FindStringSubmatch(strings.TrimRight(line, "\n")); m != nil {
				sections = append(sections, domain.Section{
					Heading: strings.TrimSpace(m[2]),
					Level:   len(m[1]),
					Offset:  offset,
				})
			}
		}
		offset += len(line)
	}
	return sections
}

// Title returns the first H1 heading, falling back to a cleaned-up
// form of the URL's last path element.
func Title(body, url string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "#"))
		}
	}

	name := filepath.Base(strings.TrimRight(url, "/"))
	if ext := filepath.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	return strings.TrimSpace(name)
}
