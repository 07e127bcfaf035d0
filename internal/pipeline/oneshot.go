package pipeline

import (
	"context"
	"fmt"
	"os"

	"offerwatch/internal"
	"offerwatch/internal/connectors"
)

// ReadMessageFile decodes a saved .eml file.
func ReadMessageFile(path string) (internal.MailMessage, error) {
	const opn = "pipeline.ReadMessageFile"

	raw, err := os.ReadFile(path)
	if err != nil {
		return internal.MailMessage{}, fmt.Errorf("%s: %w", opn, err)
	}
	msg, err := connectors.DecodeMessage(raw)
	if err != nil {
		return internal.MailMessage{}, fmt.Errorf("%s: %s: %w", opn, path, err)
	}
	msg.Provider = "file"
	msg.SourceRef = path
	return msg, nil
}

// AnalyzeFile runs a saved mail through the processor without touching any
// mailbox.
func AnalyzeFile(ctx context.Context, p *Processor, path string) (Outcome, error) {
	msg, err := ReadMessageFile(path)
	if err != nil {
		return Outcome{}, err
	}
	return p.Process(ctx, msg, nil)
}
