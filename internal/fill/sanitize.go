package fill

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// PlaceholderAlt labels images whose source could not be resolved.
const PlaceholderAlt = "图片加载失败"

var placeholderSVG = `<svg width="300" height="200" xmlns="http://www.w3.org/2000/svg">` +
	`<rect width="100%" height="100%" fill="#f5f5f5"/>` +
	`<text x="50%" y="50%" font-family="Arial, sans-serif" font-size="14" fill="#999" text-anchor="middle" dy=".3em">` +
	PlaceholderAlt + `</text></svg>`

// PlaceholderSrc is the inline graphic substituted for a missing image source.
var PlaceholderSrc = "data:image/svg+xml;charset=utf-8," + url.PathEscape(placeholderSVG)

var (
	allowedTags = map[string]bool{
		"p": true, "br": true, "strong": true, "em": true, "b": true, "i": true, "u": true,
		"img": true, "a": true, "div": true, "span": true,
		"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	}
	sourceAttrs   = []string{"src", "data-src", "data-original", "data-lazy-src"}
	strippedAttrs = []string{"loading", "srcset", "sizes", "data-src", "data-original", "data-lazy", "data-lazy-src"}
	forcedStyle   = [][2]string{
		{"max-width", "100%"},
		{"height", "auto"},
		{"display", "block"},
		{"margin", "10px 0"},
		{"border", "1px solid #eee"},
	}
)

// Sanitizer rewrites pasted markup into the subset the editor keeps.
type Sanitizer struct {
	// ImageHost prefixes root-relative image paths.
	ImageHost string
	// Scheme prefixes protocol-relative image paths, e.g. "https:".
	Scheme string
}

// FixImageURL resolves a relative image source. Absolute and data URLs are
// returned unchanged.
func (s Sanitizer) FixImageURL(src string) string {
	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"), strings.HasPrefix(src, "data:"):
		return src
	case strings.HasPrefix(src, "//"):
		scheme := s.Scheme
		if scheme == "" {
			scheme = "https:"
		}
		return scheme + src
	case strings.HasPrefix(src, "/"):
		return strings.TrimRight(s.ImageHost, "/") + src
	case strings.HasPrefix(src, "./"):
		return src[2:]
	}
	return src
}

// Sanitize normalizes images and unwraps every element outside the allow-list,
// keeping its children in place. Scripts and styles are dropped with their
// content.
func (s Sanitizer) Sanitize(markup string) (string, error) {
	root, err := parseFragment(markup)
	if err != nil {
		return "", err
	}
	doc := goquery.NewDocumentFromNode(root)
	doc.Find("script, style").Remove()

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src := ""
		for _, attr := range sourceAttrs {
			if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
				src = strings.TrimSpace(v)
				break
			}
		}
		if src != "" {
			img.SetAttr("src", s.FixImageURL(src))
		} else {
			img.SetAttr("src", PlaceholderSrc)
			img.SetAttr("alt", PlaceholderAlt)
		}
		for _, attr := range strippedAttrs {
			img.RemoveAttr(attr)
		}
		style, _ := img.Attr("style")
		img.SetAttr("style", mergeStyle(style))
	})

	var disallowed []*html.Node
	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		if n := sel.Get(0); !allowedTags[n.Data] {
			disallowed = append(disallowed, n)
		}
	})
	for _, n := range disallowed {
		unwrap(n)
	}
	return renderChildren(root)
}

// unwrap replaces n with its children.
func unwrap(n *html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
		parent.InsertBefore(c, n)
	}
	parent.RemoveChild(n)
}

// mergeStyle keeps existing declarations that are not forced and appends the
// forced sizing rules.
func mergeStyle(existing string) string {
	forced := make(map[string]bool, len(forcedStyle))
	for _, kv := range forcedStyle {
		forced[kv[0]] = true
	}
	var decls []string
	for _, d := range strings.Split(existing, ";") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(strings.SplitN(d, ":", 2)[0]))
		if !forced[prop] {
			decls = append(decls, d)
		}
	}
	for _, kv := range forcedStyle {
		decls = append(decls, kv[0]+": "+kv[1])
	}
	return strings.Join(decls, "; ") + ";"
}
