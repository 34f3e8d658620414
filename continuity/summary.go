package continuity

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"

	"lovelore/story"
)

// SummaryHeading starts every non-empty summary.
const SummaryHeading = "PREVIOUS CHAPTER SUMMARY:"

// maxEndingParagraphs is how much of the last narration survives into the summary.
const maxEndingParagraphs = 3

var markdown = goldmark.New()

// FormatPreviousChapterSummary reduces the tail of a chapter to the last user
// action and the final paragraphs of the last narration.
func FormatPreviousChapterSummary(msgs []story.Message) string {
	if len(msgs) == 0 {
		return ""
	}

	var lastUser, lastAssistant *story.Message
	for i := len(msgs) - 1; i >= 0 && (lastUser == nil || lastAssistant == nil); i-- {
		switch msgs[i].Role {
		case story.RoleUser:
			if lastUser == nil {
				lastUser = &msgs[i]
			}
		case story.RoleAssistant:
			if lastAssistant == nil {
				lastAssistant = &msgs[i]
			}
		}
	}

	var sb strings.Builder
	sb.WriteString(SummaryHeading)
	if lastUser != nil && strings.TrimSpace(lastUser.Content) != "" {
		sb.WriteString("\nThe reader's last action: ")
		sb.WriteString(lastUser.Content)
	}
	if lastAssistant != nil {
		paras := Paragraphs(lastAssistant.Content)
		if len(paras) > maxEndingParagraphs {
			paras = paras[len(paras)-maxEndingParagraphs:]
		}
		if len(paras) > 0 {
			sb.WriteString("\nHow the chapter ended:\n")
			sb.WriteString(strings.Join(paras, "\n\n"))
		}
	}
	return sb.String()
}

// Paragraphs splits narration into its top-level markdown blocks, each copied
// verbatim from the source. Thematic breaks and blank blocks are dropped.
func Paragraphs(s string) []string {
	src := []byte(s)
	doc := markdown.Parser().Parse(gmtext.NewReader(src))

	var out []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		start, stop, ok := blockSpan(n)
		if !ok {
			continue
		}
		if p := strings.TrimSpace(string(src[start:stop])); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// blockSpan finds the source range of a block; container blocks have no
// lines of their own, so their block children are used.
func blockSpan(n ast.Node) (start, stop int, ok bool) {
	if n.Type() != ast.TypeBlock {
		return 0, 0, false
	}
	if lines := n.Lines(); lines.Len() > 0 {
		return lines.At(0).Start, lines.At(lines.Len() - 1).Stop, true
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		s, e, cok := blockSpan(c)
		if !cok {
			continue
		}
		if !ok || s < start {
			start = s
		}
		if !ok || e > stop {
			stop = e
		}
		ok = true
	}
	return start, stop, ok
}
