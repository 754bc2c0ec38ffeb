package fill

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const nbsp = "\u00a0"

// HTMLToText reduces markup to its text content, turning non-breaking spaces
// into plain spaces. Plain text without tags or entities comes back unchanged.
// Decoded entities can spell out markup ("&lt;b&gt;" becomes "<b>"), so a
// second pass over such output strips it.
func HTMLToText(markup string) string {
	if !strings.ContainsAny(markup, "<&") {
		return strings.ReplaceAll(markup, nbsp, " ")
	}
	root, err := parseFragment(markup)
	if err != nil {
		return strings.ReplaceAll(markup, nbsp, " ")
	}
	text := goquery.NewDocumentFromNode(root).Text()
	return strings.ReplaceAll(text, nbsp, " ")
}

// HasImages reports whether markup carries image elements.
func HasImages(markup string) bool {
	return strings.Contains(markup, "<img") || strings.Contains(markup, "<image")
}

// parseFragment parses markup as the children of a detached div.
func parseFragment(markup string) (*html.Node, error) {
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(markup), root)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root, nil
}

func renderChildren(root *html.Node) (string, error) {
	var b strings.Builder
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// chunk splits text into pieces of at most size runes.
func chunk(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}
