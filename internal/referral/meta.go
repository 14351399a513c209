package referral

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// minImageWidth skips icons and tracking pixels when no og:image is set.
const minImageWidth = 200

// Meta is the preview data found in a page. Image and Favicon are absolute.
type Meta struct {
	Title       string
	Description string
	Image       string
	Favicon     string
}

// fill copies fields missing from m out of o.
func (m Meta) fill(o Meta) Meta {
	if m.Title == "" {
		m.Title = o.Title
	}
	if m.Description == "" {
		m.Description = o.Description
	}
	if m.Image == "" {
		m.Image = o.Image
	}
	if m.Favicon == "" {
		m.Favicon = o.Favicon
	}
	return m
}

// ExtractMeta reads title, description, preview image and favicon from an
// HTML page, resolving relative links against base.
func ExtractMeta(page io.Reader, base *url.URL) (Meta, error) {
	doc, err := html.Parse(page)
	if err != nil {
		return Meta{}, fmt.Errorf("parse html: %w", err)
	}

	var (
		m                     Meta
		nameDesc, ogDesc      string
		ogImage, twitterImage string
		wideImage             string
		icon, shortcutIcon    string
	)
	walk(doc, func(n *html.Node) {
		switch n.DataAtom {
		case atom.Title:
			if m.Title == "" {
				m.Title = collapse(textOf(n))
			}
		case atom.Meta:
			content := strings.TrimSpace(attr(n, "content"))
			switch {
			case content == "":
			case strings.EqualFold(attr(n, "name"), "description"):
				nameDesc = first(nameDesc, content)
			case strings.EqualFold(attr(n, "property"), "og:description"):
				ogDesc = first(ogDesc, content)
			case strings.EqualFold(attr(n, "property"), "og:image"):
				ogImage = first(ogImage, content)
			case strings.EqualFold(attr(n, "name"), "twitter:image"):
				twitterImage = first(twitterImage, content)
			}
		case atom.Img:
			if w, err := strconv.Atoi(strings.TrimSpace(attr(n, "width"))); err == nil && w > minImageWidth {
				wideImage = first(wideImage, attr(n, "src"))
			}
		case atom.Link:
			href := attr(n, "href")
			switch strings.ToLower(strings.Join(strings.Fields(attr(n, "rel")), " ")) {
			case "icon":
				icon = first(icon, href)
			case "shortcut icon":
				shortcutIcon = first(shortcutIcon, href)
			}
		}
	})

	m.Description = first(nameDesc, ogDesc)
	m.Image = resolve(base, first(first(ogImage, twitterImage), wideImage))
	m.Favicon = resolve(base, first(icon, shortcutIcon))
	return m, nil
}

func walk(n *html.Node, visit func(*html.Node)) {
	if n.Type == html.ElementNode {
		visit(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

func first(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
