package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const htmlBlocks = "p, div, li, tr, h1, h2, h3, h4, h5, h6, pre, blockquote, section, article, header, footer, table"

func extractHTML(data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript, template, iframe, svg").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(htmlBlocks).AppendHtml("\n")
	doc.Find("td, th").AppendHtml("\t")

	title := strings.TrimSpace(doc.Find("head title").First().Text())
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}

	var sb strings.Builder
	if title != "" {
		sb.WriteString(title)
		sb.WriteString("\n\n")
	}
	for _, line := range strings.Split(body.Text(), "\n") {
		// collapse the source indentation inside each rendered line
		line = strings.Join(strings.Fields(line), " ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}
