package whttp

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var blankLines = regexp.MustCompile(`\n\s*\n`)

// HTMLToText flattens an HTML fragment to plain text. Block elements and <br>
// become line breaks, scripts and styles are dropped.
func HTMLToText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return CollapseBlankLines(html.UnescapeString(fragment))
	}
	node, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return CollapseBlankLines(fragment)
	}
	doc := goquery.NewDocumentFromNode(node)
	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return CollapseBlankLines(doc.Text())
}

// CollapseBlankLines squeezes runs of blank lines and trims the result.
func CollapseBlankLines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blankLines.ReplaceAllString(s, "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\u00a0")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
