package bookpipe

import (
	"bytes"
	"strings"
	"unicode"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// sanitizePolicy strips scripts, styles, and event handlers from chapter
// markup before text extraction. Built once; bluemonday policies are safe
// for concurrent use.
var sanitizePolicy = bluemonday.UGCPolicy()

// htmlToNodes converts one HTML/XHTML chapter document into canonical nodes.
// The markup is sanitized, converted to markdown to flatten presentational
// tags while keeping heading structure, then parsed line-wise. Returns the
// nodes and the document title (from <title> or the first heading).
func (p *Pipeline) htmlToNodes(data []byte) ([]Node, string) {
	docTitle := htmlDocTitle(data)

	clean := sanitizePolicy.SanitizeBytes(data)
	md, err := htmltomarkdown.ConvertString(string(clean))
	if err != nil || strings.TrimSpace(md) == "" {
		// Fallback: plain text extraction, one paragraph.
		text := normalizeWhitespace(collectText(data))
		if text == "" {
			return nil, docTitle
		}
		return []Node{{Kind: KindParagraph, Text: text}}, docTitle
	}

	return markdownToNodes(md), docTitle
}

// markdownToNodes parses markdown into heading and paragraph nodes.
// ATX headings (#, ##, ...) become heading nodes; blank lines separate
// paragraphs; everything else accumulates into the current paragraph.
func markdownToNodes(md string) []Node {
	var nodes []Node
	var current strings.Builder

	flush := func() {
		text := normalizeWhitespace(current.String())
		if text != "" {
			nodes = append(nodes, Node{Kind: KindParagraph, Text: text})
		}
		current.Reset()
	}

	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "#") {
			flush()
			level := 0
			for _, ch := range trimmed {
				if ch == '#' {
					level++
				} else {
					break
				}
			}
			if level > 6 {
				level = 6
			}
			title := strings.TrimSpace(strings.Trim(trimmed, "# "))
			if title != "" {
				nodes = append(nodes, Node{
					Kind:  KindHeading,
					Level: level,
					Title: title,
					Text:  title,
				})
			}
			continue
		}

		if trimmed == "" {
			flush()
			continue
		}

		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(trimmed)
	}
	flush()

	return nodes
}

// htmlDocTitle returns the <title> text, or the first <h1>, or "".
func htmlDocTitle(data []byte) string {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	if t := findElementText(doc, atom.Title); t != "" {
		return t
	}
	return findElementText(doc, atom.H1)
}

func findElementText(n *html.Node, a atom.Atom) string {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return normalizeWhitespace(collectNodeText(n))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findElementText(c, a); t != "" {
			return t
		}
	}
	return ""
}

// collectText extracts all visible text from raw HTML bytes.
func collectText(data []byte) string {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	return collectNodeText(doc)
}

// collectNodeText extracts visible text from a node subtree, skipping
// script and style content.
func collectNodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// normalizeWhitespace collapses all whitespace runs to single spaces.
func normalizeWhitespace(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		} else {
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}
