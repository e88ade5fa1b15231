package fetch

import (
	"bytes"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
)

// articleText pulls the main readable text out of an HTML page. Readability
// handles article-shaped pages; the goquery fallback covers bare transcript
// pages that readability refuses to score.
func articleText(html []byte) string {
	if article, err := readability.FromReader(bytes.NewReader(html), nil); err == nil {
		if text := strings.TrimSpace(article.TextContent); text != "" {
			return text
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, nav, header, footer").Remove()
	return normalizeWhitespace(doc.Find("body").Text())
}

// findTranscriptLink locates the most transcript-looking link on a page.
// Links are ranked: anchor text mentioning "transcript" with a document
// extension wins, then bare document links, then bare "transcript" anchors.
func findTranscriptLink(html []byte, base *url.URL) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ""
	}

	var docAndText, docOnly, textOnly []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" {
			return
		}
		isDoc := hasDocumentExtension(href)
		mentions := strings.Contains(strings.ToLower(sel.Text()), "transcript")
		switch {
		case isDoc && mentions:
			docAndText = append(docAndText, href)
		case isDoc:
			docOnly = append(docOnly, href)
		case mentions:
			textOnly = append(textOnly, href)
		}
	})

	for _, ranked := range [][]string{docAndText, docOnly, textOnly} {
		if len(ranked) > 0 {
			return resolveLink(base, ranked[0])
		}
	}
	return ""
}

func hasDocumentExtension(href string) bool {
	target := href
	if parsed, err := url.Parse(href); err == nil {
		target = parsed.Path
	}
	switch strings.ToLower(path.Ext(target)) {
	case ".pdf", ".txt":
		return true
	default:
		return false
	}
}

func resolveLink(base *url.URL, href string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil || parsed.IsAbs() {
		return parsed.String()
	}
	return base.ResolveReference(parsed).String()
}

// pdfText extracts plain text from in-memory PDF content.
func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, textReader); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func isPDF(rawURL string, body []byte) bool {
	if strings.EqualFold(path.Ext(urlPath(rawURL)), ".pdf") {
		return true
	}
	return bytes.HasPrefix(body, []byte("%PDF-"))
}

func urlPath(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return parsed.Path
}

func normalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
