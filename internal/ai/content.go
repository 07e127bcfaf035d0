package ai

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"offerwatch/internal"
	"offerwatch/internal/util"
)

const (
	AnalysisContentLimit = 4000
	ParsingContentLimit  = 16000
)

// HTMLToText renders mail HTML as plain lines: table rows become
// "cell | cell" lines and block elements end a line.
func HTMLToText(html string, limit int) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return util.Truncate(util.NormalizeSpaces(reHTMLTagsRe.ReplaceAllString(html, " ")), limit)
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			if t := util.NormalizeSpaces(cell.Text()); t != "" {
				cells = append(cells, t)
			}
		})
		row.SetText(strings.Join(cells, " | ") + "\n")
	})
	doc.Find("p, div, li, h1, h2, h3, h4, table").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if line = util.NormalizeSpaces(line); line != "" {
			lines = append(lines, line)
		}
	}
	return util.Truncate(strings.Join(lines, "\n"), limit)
}

// PrepareEmailContent builds the prompt body for a mail. For extraction the
// longer of text and cleaned HTML is used; for classification both halves
// are included.
func PrepareEmailContent(msg internal.MailMessage, limit int, forExtraction bool) string {
	parts := []string{
		"From: " + msg.From,
		"Subject: " + msg.Subject,
	}
	if !msg.Date.IsZero() {
		parts = append(parts, "Date: "+msg.Date.UTC().Format(time.RFC3339))
	}

	text := strings.TrimSpace(msg.Text)
	if forExtraction {
		var htmlText string
		if msg.HTML != "" {
			htmlText = HTMLToText(msg.HTML, limit)
		}
		body := htmlText
		if len(text) >= len(htmlText) || msg.HTML == "" {
			body = util.Truncate(text, limit)
		}
		if body == "" {
			parts = append(parts, "(no content)")
		} else {
			parts = append(parts, "Content:\n"+body)
		}
		return strings.Join(parts, "\n\n")
	}

	half := limit / 2
	switch {
	case text != "" && msg.HTML != "":
		parts = append(parts, "Text Content: "+util.Truncate(text, half))
		parts = append(parts, "HTML Content (cleaned): "+HTMLToText(msg.HTML, half))
	case text != "":
		parts = append(parts, "Text Content: "+util.Truncate(text, limit))
	case msg.HTML != "":
		parts = append(parts, "HTML Content (cleaned): "+HTMLToText(msg.HTML, limit))
	}
	return strings.Join(parts, "\n\n")
}
