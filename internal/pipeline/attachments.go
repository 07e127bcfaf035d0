package pipeline

import (
	"bytes"
	"fmt"
	"strings"

	pdf "github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"offerwatch/internal"
	"offerwatch/internal/util"
)

func IsSpreadsheet(att internal.Attachment) bool {
	name := strings.ToLower(att.FileName)
	ct := strings.ToLower(att.ContentType)
	return strings.HasSuffix(name, ".xlsx") || strings.HasSuffix(name, ".xls") ||
		strings.Contains(ct, "spreadsheet") || strings.Contains(ct, "excel")
}

func IsPDF(att internal.Attachment) bool {
	return strings.HasSuffix(strings.ToLower(att.FileName), ".pdf") ||
		strings.EqualFold(att.ContentType, "application/pdf")
}

func spreadsheets(msg internal.MailMessage) []internal.Attachment {
	var out []internal.Attachment
	for _, att := range msg.Attachments {
		if IsSpreadsheet(att) && len(att.Content) > 0 {
			out = append(out, att)
		}
	}
	return out
}

// SheetRows returns the first sheet as trimmed string cells, skipping rows
// with no content.
func SheetRows(content []byte) ([][]string, error) {
	const opn = "pipeline.SheetRows"

	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opn, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: workbook has no sheets", opn)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", opn, sheets[0], err)
	}

	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, len(row))
		empty := true
		for i, c := range row {
			cells[i] = util.NormalizeSpaces(c)
			if cells[i] != "" {
				empty = false
			}
		}
		if !empty {
			out = append(out, cells)
		}
	}
	return out, nil
}

// PDFText extracts the plain text of every page.
func PDFText(content []byte) (string, error) {
	const opn = "pipeline.PDFText"

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%s: %w", opn, err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		for _, line := range util.SplitLines(text) {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

// withPDFText appends the text of PDF attachments to the body so content
// extraction sees price lists sent as PDF.
func withPDFText(msg internal.MailMessage, texts map[string]string) internal.MailMessage {
	if len(texts) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg.Text)
	for _, att := range msg.Attachments {
		text, ok := texts[att.FileName]
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\n--- %s ---\n%s", att.FileName, text)
	}
	msg.Text = b.String()
	return msg
}
