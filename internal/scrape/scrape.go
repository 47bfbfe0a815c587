// Package scrape extracts session documents from the saved plenary index page.
package scrape

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"plenario/internal/manifest"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	markerPeriodoParlamentario = "Congreso de la República"
	markerPeriodoAnual         = "Período Anual de Sesiones"
	markerLegislatura          = "Legislatura"
)

var openWindowLink = regexp.MustCompile(`javascript:openWindow\('([^']+)'\)`)

// Row is one table row that carried a labelled link.
type Row struct {
	PeriodoParlamentario string
	PeriodoAnual         string
	Legislatura          string
	Descripcion          string
	Link                 string
}

// Result is the outcome of parsing one index page.
type Result struct {
	Rows []Row
	// Documents are the rows whose link opens a session PDF.
	Documents []manifest.Document
	// Ignored counts rows whose link is not an openWindow(...) call.
	Ignored int
}

// Parse reads the index page and resolves document links against baseURL.
//
// Rows are <tr valign="top">. Period, annual period and legislature headers
// apply to every following row until the next header of the same kind.
func Parse(r io.Reader, baseURL string) (*Result, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse index html: %w", err)
	}

	res := &Result{}
	var periodo, anual, legislatura string

	for _, tr := range findAll(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Tr && strings.EqualFold(attr(n, "valign"), "top")
	}) {
		if text, ok := headerText(tr, markerPeriodoParlamentario); ok {
			periodo = text
		}
		if text, ok := headerText(tr, markerPeriodoAnual); ok {
			anual = text
		}
		if text, ok := headerText(tr, markerLegislatura); ok {
			legislatura = text
		}

		for _, a := range findAll(tr, isElement(atom.A)) {
			href, ok := attrOK(a, "href")
			if !ok {
				continue
			}
			text := clean(textContent(a))
			if text == "" {
				continue
			}
			res.Rows = append(res.Rows, Row{
				PeriodoParlamentario: periodo,
				PeriodoAnual:         anual,
				Legislatura:          legislatura,
				Descripcion:          text,
				Link:                 href,
			})
			break
		}
	}

	for _, row := range res.Rows {
		doc, ok := documentFor(row, baseURL)
		if !ok {
			res.Ignored++
			continue
		}
		res.Documents = append(res.Documents, doc)
	}
	return res, nil
}

func documentFor(row Row, baseURL string) (manifest.Document, bool) {
	if !strings.Contains(row.Link, "javascript:openWindow(") {
		return manifest.Document{}, false
	}
	m := openWindowLink.FindStringSubmatch(row.Link)
	if m == nil {
		return manifest.Document{}, false
	}
	link := baseURL + m[1]
	return manifest.Document{
		PeriodoParlamentario: row.PeriodoParlamentario,
		PeriodoAnual:         row.PeriodoAnual,
		Legislatura:          row.Legislatura,
		Descripcion:          row.Descripcion,
		CleanLink:            link,
		FileName:             FileName(link),
	}, true
}

// FileName derives the stable PDF name of a document from its link: the
// name-based (SHA-1) UUID of the link in the URL namespace.
func FileName(link string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(link)).String() + ".pdf"
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isElement(a atom.Atom) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Type == html.ElementNode && n.DataAtom == a }
}

func findAll(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && match(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

// headerText returns the cleaned text of the first <font> in tr whose sole
// string contains marker.
func headerText(tr *html.Node, marker string) (string, bool) {
	for _, font := range findAll(tr, isElement(atom.Font)) {
		if text := soleString(font); strings.Contains(text, marker) {
			return clean(text), true
		}
	}
	return "", false
}

// soleString is the text of n when n has exactly one child and that child
// is text or itself has a sole string. Mixed content yields "".
func soleString(n *html.Node) string {
	c := n.FirstChild
	if c == nil || c.NextSibling != nil {
		return ""
	}
	switch c.Type {
	case html.TextNode:
		return c.Data
	case html.ElementNode:
		return soleString(c)
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
