package textutil

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// HTMLToText flattens stored rich-text (editor HTML) to plain text.
// Input that fails to parse is returned normalized as-is.
func HTMLToText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return Normalize(src)
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && isBlock(node.Data) {
			buf.WriteString("\n")
		}
	}
	walk(doc)
	return NormalizeLines(buf.String())
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "br", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6", "tr", "blockquote":
		return true
	}
	return false
}

// Normalize collapses all whitespace runs to single spaces.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	return strings.Join(strings.Fields(text), " ")
}

// NormalizeLines collapses whitespace inside lines and drops empty lines,
// keeping paragraph order.
func NormalizeLines(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = Normalize(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// Preview shortens text to at most n runes, marking the cut with an ellipsis.
func Preview(text string, n int) string {
	text = Normalize(text)
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:n])) + "…"
}
