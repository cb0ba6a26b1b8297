package convert

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func (c *Converter) htmlToText(content []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)
	doc.Find("head, script, style, noscript, template, iframe").Remove()

	var b strings.Builder
	for _, n := range c.contentRoots(doc) {
		renderNode(&b, n)
	}
	return normalizeBlankLines(b.String()), nil
}

// contentRoots applies the configured XPath, falling back to <body>.
func (c *Converter) contentRoots(doc *goquery.Document) []*html.Node {
	if c.htmlXPath != nil {
		var nodes []*html.Node
		iter := c.htmlXPath.Select(newNodeNavigator(doc.Nodes[0]))
		for iter.MoveNext() {
			if nav, ok := iter.Current().(*nodeNavigator); ok {
				nodes = append(nodes, nav.node)
			}
		}
		if len(nodes) > 0 {
			return nodes
		}
	}
	if body := doc.Find("body"); body.Length() > 0 {
		return body.Nodes
	}
	return doc.Nodes
}

func renderNode(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		writeText(b, n.Data)
		return
	case html.ElementNode:
	default:
		renderChildren(b, n)
		return
	}

	switch n.Data {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(n.Data[1] - '0')
		text := strings.Join(strings.Fields(goquery.NewDocumentFromNode(n).Text()), " ")
		fmt.Fprintf(b, "\n\n%s %s\n\n", strings.Repeat("#", level), text)
	case "table":
		renderTable(b, goquery.NewDocumentFromNode(n).Selection)
	case "li":
		b.WriteString("\n- ")
		renderChildren(b, n)
	case "br":
		b.WriteString("\n")
	case "p", "div", "section", "article", "main", "header", "footer", "ul", "ol", "blockquote", "pre", "tr", "dl", "dt", "dd":
		b.WriteString("\n\n")
		renderChildren(b, n)
		b.WriteString("\n\n")
	default:
		renderChildren(b, n)
	}
}

func renderChildren(b *strings.Builder, n *html.Node) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		renderNode(b, child)
	}
}

func writeText(b *strings.Builder, s string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		if s != "" {
			b.WriteByte(' ')
		}
		return
	}
	if s[0] == ' ' || s[0] == '\n' || s[0] == '\t' {
		b.WriteByte(' ')
	}
	b.WriteString(strings.Join(fields, " "))
	if last := s[len(s)-1]; last == ' ' || last == '\n' || last == '\t' {
		b.WriteByte(' ')
	}
}

// renderTable writes a markdown table; the first row is the header.
func renderTable(b *strings.Builder, table *goquery.Selection) {
	b.WriteString("\n\n")
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		var cells []string
		row.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			text := strings.Join(strings.Fields(cell.Text()), " ")
			cells = append(cells, strings.ReplaceAll(text, "|", "\\|"))
		})
		if len(cells) == 0 {
			return
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		if i == 0 {
			b.WriteString("|" + strings.Repeat(" --- |", len(cells)) + "\n")
		}
	})
	b.WriteString("\n")
}
