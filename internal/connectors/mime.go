package connectors

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"

	"offerwatch/internal"
)

// DecodeMessage parses a raw RFC 822 message into text, HTML and
// attachments. Inline parts that carry a file name count as attachments.
func DecodeMessage(raw []byte) (internal.MailMessage, error) {
	const opn = "connectors.DecodeMessage"

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return internal.MailMessage{}, fmt.Errorf("%s: %w", opn, err)
	}

	msg := internal.MailMessage{
		MessageID: strings.Trim(env.GetHeader("Message-ID"), "<> "),
		Subject:   strings.TrimSpace(env.GetHeader("Subject")),
		From:      formatFrom(env),
		Text:      env.Text,
		HTML:      env.HTML,
		Raw:       raw,
	}
	if msg.Subject == "" {
		msg.Subject = "(no subject)"
	}
	if d, err := env.Date(); err == nil {
		msg.Date = d
	} else {
		msg.Date = time.Now()
	}

	parts := make([]*enmime.Part, 0, len(env.Attachments)+len(env.Inlines))
	parts = append(parts, env.Attachments...)
	for _, p := range env.Inlines {
		if p.FileName != "" {
			parts = append(parts, p)
		}
	}
	for _, p := range parts {
		name := strings.TrimSpace(p.FileName)
		if name == "" {
			name = "attachment"
		}
		ct := p.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		msg.Attachments = append(msg.Attachments, internal.Attachment{
			FileName:    name,
			ContentType: ct,
			Content:     p.Content,
		})
	}
	return msg, nil
}

func formatFrom(env *enmime.Envelope) string {
	list, err := env.AddressList("From")
	if err != nil || len(list) == 0 {
		if raw := strings.TrimSpace(env.GetHeader("From")); raw != "" {
			return raw
		}
		return "unknown"
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, formatAddress(a))
	}
	return strings.Join(out, ", ")
}

func formatAddress(a *mail.Address) string {
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, a.Address)
	}
	return a.Address
}
