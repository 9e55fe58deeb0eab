package chunker

import "strings"

// blockKind classifies a top-level content block.
type blockKind int

const (
	blockText blockKind = iota
	blockHeading
	blockCode
	blockTable
)

// block is a contiguous region of one content kind.
type block struct {
	kind  blockKind
	start int // offset within the document body
	end   int
	// lang is the fence language tag for code blocks.
	lang string
}

// line is a single physical line with its offset.
type line struct {
	text  string
	start int
	end   int // exclusive, without the newline
}

// splitLines scans text into lines with absolute offsets.
func splitLines(text string, base int) []line {
	var lines []line
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, line{text: text[start:i], start: base + start, end: base + i})
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, line{text: text[start:], start: base + start, end: base + len(text)})
	}
	return lines
}

// isFence reports whether a line opens or closes a code fence and
// returns the language tag for an opener.
func isFence(s string) (bool, string) {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~") {
		return true, strings.TrimSpace(t[3:])
	}
	return false, ""
}

// isTableRow reports whether a line looks like a markdown table row.
func isTableRow(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "|") && strings.Count(t, "|") >= 2
}

// isHeading reports whether a line is a markdown heading.
func isHeading(s string) bool {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "#") {
		return false
	}
	rest := strings.TrimLeft(t, "#")
	return rest == "" || strings.HasPrefix(rest, " ")
}

// isBlank reports whether a line holds only whitespace.
func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// parseBlocks splits a segment into typed blocks: fenced code, tables,
// headings and plain text. Block spans are extended through trailing
// separator whitespace so that spans tile the segment without gaps.
func parseBlocks(text string, base int) []block {
	lines := splitLines(text, base)
	var blocks []block

	i := 0
	for i < len(lines) {
		ln := lines[i]

		if isBlank(ln.text) {
			i++
			continue
		}

		if fence, lang := isFence(ln.text); fence {
			start := ln.start
			end := ln.end
			j := i + 1
			for j < len(lines) {
				end = lines[j].end
				if closing, _ := isFence(lines[j].text); closing {
					break
				}
				j++
			}
			blocks = append(blocks, block{kind: blockCode, start: start, end: end, lang: lang})
			i = j + 1
			continue
		}

		if isTableRow(ln.text) {
			start := ln.start
			end := ln.end
			j := i
			for j < len(lines) && isTableRow(lines[j].text) {
				end = lines[j].end
				j++
			}
			blocks = append(blocks, block{kind: blockTable, start: start, end: end})
			i = j
			continue
		}

		if isHeading(ln.text) {
			blocks = append(blocks, block{kind: blockHeading, start: ln.start, end: ln.end})
			i++
			continue
		}

		// Plain text: accumulate until the next special block.
		start := ln.start
		end := ln.end
		j := i
		for j < len(lines) {
			t := lines[j].text
			if isHeading(t) || isTableRow(t) {
				break
			}
			if fence, _ := isFence(t); fence {
				break
			}
			if !isBlank(t) {
				end = lines[j].end
			}
			j++
		}
		blocks = append(blocks, block{kind: blockText, start: start, end: end})
		i = j
	}

	// Extend spans through separator whitespace so spans tile the
	// segment; coverage accounting depends on this.
	for k := 0; k < len(blocks); k++ {
		if k+1 < len(blocks) {
			blocks[k].end = blocks[k+1].start
		} else {
			blocks[k].end = base + len(text)
		}
	}

	return blocks
}

// paragraphRange is a paragraph span within a text block.
type paragraphRange struct {
	start int
	end   int
}

// splitParagraphs splits a text region at blank lines and list-item
// starts, returning absolute spans that tile the region.
func splitParagraphs(text string, base int) []paragraphRange {
	lines := splitLines(text, base)
	var paras []paragraphRange

	cur := -1
	flush := func(end int) {
		if cur >= 0 {
			paras = append(paras, paragraphRange{start: cur, end: end})
			cur = -1
		}
	}

	for _, ln := range lines {
		if isBlank(ln.text) {
			flush(ln.start)
			continue
		}
		if isListItem(ln.text) {
			flush(ln.start)
		}
		if cur < 0 {
			cur = ln.start
		}
	}
	flush(base + len(text))

	// Tile the region so paragraph spans account for separator lines.
	for k := 0; k+1 < len(paras); k++ {
		paras[k].end = paras[k+1].start
	}
	if n := len(paras); n > 0 {
		paras[n-1].end = base + len(text)
	}

	return paras
}

// isListItem reports whether a line starts a bullet or numbered item.
func isListItem(s string) bool {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "- ") || strings.HasPrefix(t, "* ") || strings.HasPrefix(t, "+ ") {
		return true
	}
	i := 0
	for i < len(t) && t[i] >= '0' && t[i] <= '9' {
		i++
	}
	return i > 0 && i+1 < len(t) && (t[i] == '.' || t[i] == ')') && t[i+1] == ' '
}

// splitSentenceRanges splits a text region at sentence terminators,
// returning absolute spans that tile the region.
func splitSentenceRanges(text string, base int) []paragraphRange {
	var out []paragraphRange
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?', '\n':
			end := i + 1
			if strings.TrimSpace(text[start:end]) != "" {
				out = append(out, paragraphRange{start: base + start, end: base + end})
			} else if len(out) > 0 {
				out[len(out)-1].end = base + end
			}
			start = end
		}
	}
	if start < len(text) && strings.TrimSpace(text[start:]) != "" {
		out = append(out, paragraphRange{start: base + start, end: base + len(text)})
	} else if len(out) > 0 {
		out[len(out)-1].end = base + len(text)
	}
	return out
}
