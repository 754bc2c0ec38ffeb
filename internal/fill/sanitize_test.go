package fill

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixImageURL(t *testing.T) {
	s := Sanitizer{ImageHost: "https://pic1.zhimg.com", Scheme: "https:"}
	cases := map[string]string{
		"https://a.example/x.png":    "https://a.example/x.png",
		"http://a.example/x.png":     "http://a.example/x.png",
		"data:image/png;base64,AAAA": "data:image/png;base64,AAAA",
		"//cdn.example/x.png":        "https://cdn.example/x.png",
		"/v2-abc.jpg":                "https://pic1.zhimg.com/v2-abc.jpg",
		"./img/x.png":                "img/x.png",
		"img/x.png":                  "img/x.png",
	}
	for in, want := range cases {
		assert.Equal(t, want, s.FixImageURL(in), in)
	}

	plain := Sanitizer{ImageHost: "https://pic1.zhimg.com/"}
	assert.Equal(t, "https://cdn.example/x.png", plain.FixImageURL("//cdn.example/x.png"), "scheme defaults to https")
	assert.Equal(t, "https://pic1.zhimg.com/a.png", plain.FixImageURL("/a.png"))

	httpPage := Sanitizer{Scheme: "http:"}
	assert.Equal(t, "http://cdn.example/x.png", httpPage.FixImageURL("//cdn.example/x.png"))
}

func TestSanitize(t *testing.T) {
	s := Sanitizer{ImageHost: "https://pic1.zhimg.com", Scheme: "https:"}

	t.Run("unwraps disallowed elements keeping their text", func(t *testing.T) {
		out, err := s.Sanitize(`<div><font color="red">a</font><p>b</p></div>`)
		require.NoError(t, err)
		assert.Equal(t, `<div>a<p>b</p></div>`, out)
	})

	t.Run("nested disallowed wrappers all go", func(t *testing.T) {
		out, err := s.Sanitize(`<table><tr><td><strong>x</strong></td></tr></table>`)
		require.NoError(t, err)
		assert.Equal(t, `<strong>x</strong>`, out)
	})

	t.Run("scripts and styles are dropped", func(t *testing.T) {
		out, err := s.Sanitize(`<p>ok</p><script>alert(1)</script><style>p{}</style>`)
		require.NoError(t, err)
		assert.Equal(t, `<p>ok</p>`, out)
	})

	t.Run("images are resolved and normalized", func(t *testing.T) {
		out, err := s.Sanitize(`<section>` +
			`<img data-src="/a.png" loading="lazy" srcset="b.png 2x" sizes="1px" data-lazy="1" style="width: 50px; height: 10px">` +
			`<img src="" data-original="//cdn.example/c.png">` +
			`<img>` +
			`</section>`)
		require.NoError(t, err)
		assert.NotContains(t, out, "section")

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(out))
		require.NoError(t, err)
		imgs := doc.Find("img")
		require.Equal(t, 3, imgs.Length())

		first := imgs.Eq(0)
		assert.Equal(t, "https://pic1.zhimg.com/a.png", first.AttrOr("src", ""))
		for _, attr := range []string{"loading", "srcset", "sizes", "data-src", "data-lazy"} {
			_, has := first.Attr(attr)
			assert.False(t, has, attr)
		}
		style := first.AttrOr("style", "")
		assert.Contains(t, style, "width: 50px")
		assert.NotContains(t, style, "height: 10px")
		assert.Contains(t, style, "max-width: 100%")
		assert.Contains(t, style, "height: auto")
		assert.Contains(t, style, "display: block")
		assert.Contains(t, style, "margin: 10px 0")
		assert.Contains(t, style, "border: 1px solid #eee")

		second := imgs.Eq(1)
		assert.Equal(t, "https://cdn.example/c.png", second.AttrOr("src", ""))
		_, has := second.Attr("data-original")
		assert.False(t, has)

		third := imgs.Eq(2)
		assert.Equal(t, PlaceholderSrc, third.AttrOr("src", ""))
		assert.Equal(t, PlaceholderAlt, third.AttrOr("alt", ""))
	})

	t.Run("placeholder is an inline svg", func(t *testing.T) {
		assert.True(t, strings.HasPrefix(PlaceholderSrc, "data:image/svg+xml;charset=utf-8,"))
		assert.NotContains(t, PlaceholderSrc, " ")
	})
}

func TestHTMLToText(t *testing.T) {
	assert.Equal(t, "a bc", HTMLToText("<p>a&nbsp;b</p><p>c</p>"))
	assert.Equal(t, "Tom & Jerry", HTMLToText("<b>Tom</b> &amp; Jerry"))
	assert.Equal(t, "x y", HTMLToText("x y"))

	for _, plain := range []string{"", "plain text", "多行\n文本", "a > b"} {
		once := HTMLToText(plain)
		assert.Equal(t, plain, once)
		assert.Equal(t, once, HTMLToText(once))
	}

	decoded := HTMLToText("<p>use &lt;b&gt; for bold</p>")
	assert.Equal(t, "use <b> for bold", decoded)
	assert.Equal(t, "use  for bold", HTMLToText(decoded), "entity-decoded markup is stripped on a second pass")
}

func TestHasImages(t *testing.T) {
	assert.True(t, HasImages(`<p><img src="a"></p>`))
	assert.True(t, HasImages(`<image href="a"/>`))
	assert.False(t, HasImages(`<p>image</p>`))
}

func TestChunk(t *testing.T) {
	assert.Equal(t, []string{"abc", "def", "g"}, chunk("abcdefg", 3))
	assert.Equal(t, []string{"知乎专", "栏"}, chunk("知乎专栏", 3))
	assert.Nil(t, chunk("", 3))
}
