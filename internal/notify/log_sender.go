package notify

import (
	"context"
	"log"
)

// LogSender writes notifications to the process log instead of a transport.
// Default in dev when no SendGrid key is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, req Request) error {
	log.Printf("notify: appointment=%s template=%s to=%s subject=%q",
		req.AppointmentID, req.TemplateKind, req.Recipient, req.Subject)
	return nil
}
