// Package notify is the outbound boundary of the core: it turns reminder
// stages and booking lifecycle events into notification requests and hands
// them to a transport. Delivery is best-effort; the core only guarantees the
// request is issued once.
package notify

import (
	"context"

	"github.com/google/uuid"
)

// Request is one outbound notification.
type Request struct {
	AppointmentID uuid.UUID
	TemplateKind  string // regular, form_check, confirmation, or a lifecycle event name
	Recipient     string
	RecipientName string
	Subject       string
	Body          string
}

// Sender delivers a request over some transport.
type Sender interface {
	Send(ctx context.Context, req Request) error
}
