package chunker

import (
	"regexp"
	"strings"
	"time"

	"github.com/lodestone-kb/lodestone/internal/core/domain"
	"github.com/lodestone-kb/lodestone/internal/core/ports/driven"
)

// fitBlock reduces one block to pieces that fit the hard token cap,
// applying the splitting cascade for the block's content kind.
func (c *Chunker) fitBlock(doc *domain.Document, b block, fromSectionMap bool) ([]piece, error) {
	text := strings.TrimRight(doc.BodyText[b.start:b.end], " \t\n")
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	whole := c.wholeStrategy(fromSectionMap)
	tokens := c.tokenizer.CountTokens(text)

	switch b.kind {
	case blockHeading:
		if tokens <= c.hardMax {
			return []piece{{text: text, start: b.start, end: b.end, ctype: domain.ChunkTypeHeading, strategy: whole, tokens: tokens}}, nil
		}
		// A heading line larger than the cap goes through the prose
		// cascade like any oversized text.
		return c.splitProse(doc.DocID, doc.BodyText, b), nil

	case blockCode:
		if tokens <= c.hardMax {
			return []piece{{text: text, start: b.start, end: b.end, ctype: domain.ChunkTypeCode, strategy: whole, tokens: tokens}}, nil
		}
		return c.splitCode(doc.DocID, text, b), nil

	case blockTable:
		if tokens <= c.hardMax {
			return []piece{{text: text, start: b.start, end: b.end, ctype: domain.ChunkTypeTable, strategy: whole, tokens: tokens}}, nil
		}
		return c.splitTable(doc.DocID, text, b), nil

	default:
		if tokens <= c.hardMax {
			return []piece{{text: text, start: b.start, end: b.end, ctype: domain.ChunkTypeParagraph, strategy: whole, tokens: tokens}}, nil
		}
		return c.splitProse(doc.DocID, doc.BodyText, b), nil
	}
}

// wholeStrategy labels an unsplit block: heading when the enclosing
// segment came from the section map, none otherwise.
func (c *Chunker) wholeStrategy(fromSectionMap bool) domain.SplitStrategy {
	if fromSectionMap {
		return domain.SplitHeading
	}
	return domain.SplitNone
}

// proseBudget leaves headroom for the overlap prefix added to
// continuation pieces.
func (c *Chunker) proseBudget() int {
	return c.hardMax - c.overlap
}

// splitProse applies paragraph, then sentence, then token-window
// splitting to an oversized text block, and copies overlap context
// across the resulting boundaries.
func (c *Chunker) splitProse(docID, body string, b block) []piece {
	budget := c.proseBudget()
	var pieces []piece

	// Use the untrimmed region so paragraph spans tile the block.
	for _, para := range splitParagraphs(body[b.start:b.end], b.start) {
		text := strings.TrimRight(body[para.start:para.end], " \t\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		tokens := c.tokenizer.CountTokens(text)
		if tokens <= budget {
			pieces = append(pieces, piece{text: text, start: para.start, end: para.end, ctype: domain.ChunkTypeParagraph, strategy: domain.SplitParagraph, tokens: tokens})
			continue
		}

		for _, sent := range splitSentenceRanges(body[para.start:para.end], para.start) {
			stext := strings.TrimRight(body[sent.start:sent.end], " \t\n")
			if strings.TrimSpace(stext) == "" {
				continue
			}
			stokens := c.tokenizer.CountTokens(stext)
			if stokens <= budget {
				pieces = append(pieces, piece{text: stext, start: sent.start, end: sent.end, ctype: domain.ChunkTypeSentence, strategy: domain.SplitSentence, tokens: stokens})
				continue
			}
			pieces = append(pieces, c.windowPieces(docID, stext, sent.start, sent.end, budget)...)
		}
	}

	c.applyOverlap(pieces)
	return pieces
}

// windowPieces slices text at word boundaries into token windows.
func (c *Chunker) windowPieces(docID, text string, start, end, budget int) []piece {
	words := splitWords(text, start)
	if len(words) == 0 {
		return nil
	}

	var pieces []piece
	i := 0
	for i < len(words) {
		running := 0
		j := i
		for j < len(words) {
			wt := c.tokenizer.CountTokens(words[j].text) + 1
			if running+wt > budget && j > i {
				break
			}
			running += wt
			j++
		}

		pstart := words[i].start
		pend := words[j-1].end
		ptext := text[pstart-start : pend-start]

		// Verify against the real count; shrink when the per-word
		// estimate undershot.
		tokens := c.tokenizer.CountTokens(ptext)
		for tokens > budget && j-1 > i {
			j--
			pend = words[j-1].end
			ptext = text[pstart-start : pend-start]
			tokens = c.tokenizer.CountTokens(ptext)
		}

		if tokens > budget {
			// A single indivisible word run: last-resort truncation.
			pieces = append(pieces, c.truncatePiece(docID, ptext, pstart, pend, budget))
			i = j
			continue
		}

		pieces = append(pieces, piece{text: ptext, start: pstart, end: pend, ctype: domain.ChunkTypeTokenWindow, strategy: domain.SplitTokenWindow, tokens: tokens})
		i = j
	}

	// Extend the final span through any trailing text.
	if n := len(pieces); n > 0 && pieces[n-1].end < end {
		pieces[n-1].end = end
	}
	return pieces
}

// truncatePiece binary-searches the longest prefix that fits the budget
// and emits a force-truncate signal. The span still accounts for the
// whole region so coverage reporting stays honest.
func (c *Chunker) truncatePiece(docID, text string, start, end, budget int) piece {
	lo, hi := 1, len(text)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.tokenizer.CountTokens(text[:mid]) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	kept := text[:lo]
	c.sink.Emit(driven.Event{
		Component: "chunker",
		Name:      "chunk.force_truncate",
		Level:     driven.LevelWarn,
		Fields:    map[string]any{"doc_id": docID, "dropped_chars": len(text) - lo},
		At:        time.Now().UTC(),
	})

	return piece{
		text:     kept,
		start:    start,
		end:      end,
		ctype:    domain.ChunkTypeTokenWindow,
		strategy: domain.SplitForceTruncate,
		tokens:   c.tokenizer.CountTokens(kept),
	}
}

// applyOverlap copies the trailing overlap tokens of each piece into
// the next piece. Never applied to a lone piece.
func (c *Chunker) applyOverlap(pieces []piece) {
	if c.overlap == 0 || len(pieces) < 2 {
		return
	}

	for i := 1; i < len(pieces); i++ {
		headroom := c.hardMax - pieces[i].tokens - 1
		limit := c.overlap
		if headroom < limit {
			limit = headroom
		}
		if limit <= 0 {
			continue
		}

		suffix := c.tailTokens(pieces[i-1].text, limit)
		if suffix == "" {
			continue
		}
		pieces[i].text = suffix + "\n" + pieces[i].text
		pieces[i].tokens = c.tokenizer.CountTokens(pieces[i].text)
	}
}

// tailTokens returns the largest word-aligned suffix of text whose
// token count stays within maxTokens.
func (c *Chunker) tailTokens(text string, maxTokens int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	total := 0
	i := len(words)
	for i > 0 {
		wt := c.tokenizer.CountTokens(words[i-1]) + 1
		if total+wt > maxTokens {
			break
		}
		total += wt
		i--
	}
	if i == len(words) {
		return ""
	}
	return strings.Join(words[i:], " ")
}

// splitCode regroups an oversized fenced block into line groups, each
// wrapped in the original fence with its language tag. A single line
// over the budget is replaced by a digest.
func (c *Chunker) splitCode(docID, text string, b block) []piece {
	lines := splitLines(text, b.start)

	lang := b.lang
	open := "```"
	if lang != "" {
		open += lang
	}
	closeFence := "```"

	// Strip the original fences; groups get their own.
	body := lines
	if len(body) > 0 {
		if fence, _ := isFence(body[0].text); fence {
			body = body[1:]
		}
	}
	if len(body) > 0 {
		if fence, _ := isFence(body[len(body)-1].text); fence {
			body = body[:len(body)-1]
		}
	}

	fenceTokens := c.tokenizer.CountTokens(open+"\n"+closeFence) + 1

	var pieces []piece
	i := 0
	for i < len(body) {
		running := fenceTokens
		j := i
		for j < len(body) {
			lt := c.tokenizer.CountTokens(body[j].text) + 1
			if running+lt > c.hardMax {
				// When j == i a single line alone exceeds the cap and
				// falls through to the digest path below.
				break
			}
			running += lt
			j++
		}

		if j == i {
			digest := codeDigest(lang, body[i].text)
			c.sink.Emit(driven.Event{
				Component: "chunker",
				Name:      "code.digest",
				Level:     driven.LevelWarn,
				Fields:    map[string]any{"doc_id": docID, "line_chars": len(body[i].text)},
				At:        time.Now().UTC(),
			})
			pieces = append(pieces, piece{
				text:     digest,
				start:    body[i].start,
				end:      body[i].end,
				ctype:    domain.ChunkTypeCode,
				strategy: domain.SplitCodeLines,
				tokens:   c.tokenizer.CountTokens(digest),
			})
			i++
			continue
		}

		var sb strings.Builder
		sb.WriteString(open)
		sb.WriteByte('\n')
		for k := i; k < j; k++ {
			sb.WriteString(body[k].text)
			sb.WriteByte('\n')
		}
		sb.WriteString(closeFence)
		ptext := sb.String()

		pieces = append(pieces, piece{
			text:     ptext,
			start:    body[i].start,
			end:      body[j-1].end,
			ctype:    domain.ChunkTypeCode,
			strategy: domain.SplitCodeLines,
			tokens:   c.tokenizer.CountTokens(ptext),
		})
		i = j
	}

	// Account the fence lines to the first and last groups.
	if n := len(pieces); n > 0 {
		pieces[0].start = b.start
		pieces[n-1].end = b.end
	}
	return pieces
}

// symbolPattern extracts identifier-like tokens for code digests.
var symbolPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]{2,}`)

// maxDigestSymbols bounds the digest length.
const maxDigestSymbols = 12

// codeDigest summarises oversized code as its language plus top symbols.
// The raw content stays available to the embedding layer via the store.
func codeDigest(lang, code string) string {
	if lang == "" {
		lang = "code"
	}

	seen := make(map[string]bool)
	var symbols []string
	for _, sym := range symbolPattern.FindAllString(code, -1) {
		if seen[sym] {
			continue
		}
		seen[sym] = true
		symbols = append(symbols, sym)
		if len(symbols) == maxDigestSymbols {
			break
		}
	}

	return "[" + lang + " digest] " + strings.Join(symbols, " ")
}

// splitTable regroups an oversized table into row groups. Every group
// repeats the header (and separator) rows, and rows are never cut
// mid-cell.
func (c *Chunker) splitTable(docID, text string, b block) []piece {
	rows := splitLines(text, b.start)
	if len(rows) == 0 {
		return nil
	}

	header := rows[0].text
	dataStart := 1
	if len(rows) > 1 && isSeparatorRow(rows[1].text) {
		header += "\n" + rows[1].text
		dataStart = 2
	}
	headerTokens := c.tokenizer.CountTokens(header) + 1

	data := rows[dataStart:]
	if len(data) == 0 {
		tokens := c.tokenizer.CountTokens(text)
		return []piece{{text: text, start: b.start, end: b.end, ctype: domain.ChunkTypeTable, strategy: domain.SplitTableRows, tokens: tokens}}
	}

	var pieces []piece
	i := 0
	for i < len(data) {
		running := headerTokens
		j := i
		for j < len(data) {
			rt := c.tokenizer.CountTokens(data[j].text) + 1
			if running+rt > c.hardMax && j > i {
				break
			}
			running += rt
			j++
		}

		var sb strings.Builder
		sb.WriteString(header)
		sb.WriteByte('\n')
		for k := i; k < j; k++ {
			sb.WriteString(data[k].text)
			if k < j-1 {
				sb.WriteByte('\n')
			}
		}
		ptext := sb.String()
		tokens := c.tokenizer.CountTokens(ptext)

		if tokens > c.hardMax {
			// A single row larger than the cap: truncate the row text
			// rather than cutting mid-cell silently.
			pieces = append(pieces, c.truncatePiece(docID, ptext, data[i].start, data[j-1].end, c.hardMax))
			i = j
			continue
		}

		pieces = append(pieces, piece{
			text:     ptext,
			start:    data[i].start,
			end:      data[j-1].end,
			ctype:    domain.ChunkTypeTable,
			strategy: domain.SplitTableRows,
			tokens:   tokens,
		})
		i = j
	}

	// The header rows are accounted to the first group's span.
	if n := len(pieces); n > 0 {
		pieces[0].start = b.start
		pieces[n-1].end = b.end
	}
	return pieces
}

// isSeparatorRow matches the |---|---| row under a markdown header.
func isSeparatorRow(s string) bool {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "|") {
		return false
	}
	for _, r := range t {
		switch r {
		case '|', '-', ':', ' ':
		default:
			return false
		}
	}
	return strings.Contains(t, "-")
}

// word is a whitespace-delimited token with its absolute offsets.
type word struct {
	start int
	end   int
	text  string
}

// splitWords scans text into words with absolute offsets.
func splitWords(text string, base int) []word {
	var words []word
	start := -1
	for i := 0; i < len(text); i++ {
		sp := text[i] == ' ' || text[i] == '\t' || text[i] == '\n' || text[i] == '\r'
		if sp {
			if start >= 0 {
				words = append(words, word{start: base + start, end: base + i, text: text[start:i]})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, word{start: base + start, end: base + len(text), text: text[start:]})
	}
	return words
}
