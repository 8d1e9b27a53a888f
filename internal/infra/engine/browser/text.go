package browser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const blockElements = "p, li, div, pre, tr, h1, h2, h3, h4, h5, h6, blockquote"

// htmlToText flattens a rendered response into plain text, keeping one line
// per block element and collapsing runs of blank lines.
func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, button").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var out []string
	blank := 0
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			blank++
			if blank > 1 || len(out) == 0 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n")), nil
}
