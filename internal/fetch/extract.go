package fetch

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipElements are HTML elements whose content is never rendered.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true, // title is extracted separately
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Template: true,
	atom.Form:     true,
}

// PlainText returns the readable text of an HTML fragment or document,
// with block elements separated by blank lines.
func PlainText(raw string) string {
	_, text := render(raw, nil, false)
	return text
}

// Markdown converts an HTML document to markdown. Relative links are
// resolved against base when it is non-nil. The page title is returned
// separately.
func Markdown(raw string, base *url.URL) (title, md string) {
	return render(raw, base, true)
}

func render(raw string, base *url.URL, markdown bool) (string, string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", cleanWhitespace(raw)
	}
	r := &renderer{base: base, markdown: markdown}
	r.walk(doc)
	return strings.TrimSpace(findTitle(doc)), cleanWhitespace(r.b.String())
}

type renderer struct {
	b        strings.Builder
	base     *url.URL
	markdown bool
	inPre    bool
}

func (r *renderer) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		r.text(n.Data)
		return
	case html.ElementNode:
		if skipElements[n.DataAtom] {
			return
		}
	default:
		r.children(n)
		return
	}

	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		r.block()
		if r.markdown {
			r.b.WriteString(strings.Repeat("#", headingLevel(n.DataAtom)) + " ")
		}
		r.children(n)
		r.block()

	case atom.Li:
		r.newline()
		if r.markdown {
			r.b.WriteString("- ")
		}
		r.children(n)
		r.newline()

	case atom.Br:
		r.newline()

	case atom.Hr:
		r.block()
		if r.markdown {
			r.b.WriteString("---")
			r.block()
		}

	case atom.A:
		href := r.resolve(attr(n, "href"))
		if !r.markdown || href == "" {
			r.children(n)
			return
		}
		inner := &renderer{base: r.base, markdown: true}
		inner.children(n)
		text := strings.Join(strings.Fields(inner.b.String()), " ")
		if text == "" {
			return
		}
		r.b.WriteString("[" + text + "](" + href + ")")

	case atom.Strong, atom.B:
		r.wrap(n, "**")

	case atom.Em, atom.I:
		r.wrap(n, "_")

	case atom.Pre:
		r.block()
		if r.markdown {
			r.b.WriteString("```\n")
		}
		r.inPre = true
		r.children(n)
		r.inPre = false
		if r.markdown {
			r.b.WriteString("\n```")
		}
		r.block()

	case atom.Img:
		if alt := strings.TrimSpace(attr(n, "alt")); alt != "" && r.markdown {
			r.b.WriteString(alt)
		}

	default:
		if isBlockElement(n.DataAtom) {
			r.block()
			r.children(n)
			r.block()
			return
		}
		r.children(n)
	}
}

func (r *renderer) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.walk(c)
	}
}

func (r *renderer) wrap(n *html.Node, marker string) {
	if !r.markdown {
		r.children(n)
		return
	}
	inner := &renderer{base: r.base, markdown: true}
	inner.children(n)
	text := strings.TrimSpace(inner.b.String())
	if text == "" {
		return
	}
	r.b.WriteString(marker + text + marker)
}

var spaceRun = regexp.MustCompile(`\s+`)

func (r *renderer) text(s string) {
	if r.inPre {
		r.b.WriteString(s)
		return
	}
	s = spaceRun.ReplaceAllString(s, " ")
	if s == " " || s == "" {
		if r.b.Len() > 0 && !endsWithSpace(r.b.String()) {
			r.b.WriteString(" ")
		}
		return
	}
	if strings.HasPrefix(s, " ") && (r.b.Len() == 0 || endsWithSpace(r.b.String())) {
		s = s[1:]
	}
	r.b.WriteString(s)
}

func (r *renderer) block() {
	if r.b.Len() > 0 {
		r.b.WriteString("\n\n")
	}
}

func (r *renderer) newline() {
	if r.b.Len() > 0 && !strings.HasSuffix(r.b.String(), "\n") {
		r.b.WriteString("\n")
	}
}

func (r *renderer) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if r.base != nil {
		u = r.base.ResolveReference(u)
	}
	return u.String()
}

func endsWithSpace(s string) bool {
	return strings.HasSuffix(s, " ") || strings.HasSuffix(s, "\n")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	}
	return 6
}

// findTitle walks the DOM looking for a <title> element.
func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		return textContent(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

// isBlockElement returns true for elements that typically render as blocks.
func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main, atom.Header,
		atom.Blockquote, atom.Ul, atom.Ol, atom.Table,
		atom.Tr, atom.Dl, atom.Dd, atom.Dt, atom.Figcaption, atom.Figure,
		atom.Details, atom.Summary, atom.Aside:
		return true
	}
	return false
}

// cleanWhitespace trims each line and collapses runs of blank lines.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	cleaned := make([]string, 0, len(lines))
	prevEmpty := false

	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			if prevEmpty {
				continue
			}
			prevEmpty = true
			cleaned = append(cleaned, "")
			continue
		}
		prevEmpty = false
		cleaned = append(cleaned, strings.TrimLeft(line, " \t"))
	}

	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
