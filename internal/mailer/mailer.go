// ===========================================
// Package mailer - Outbound Email
// ===========================================
// The auth flows need one collaborator: something that delivers a
// one-time code to an address. Sends happen off the request path and
// failures are logged, never surfaced to the client.
// ===========================================

package mailer

import (
	"context"

	"github.com/rs/zerolog"
)

// Mailer delivers a message to one recipient.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer writes the message to the log instead of sending it.
// It stands in for a real provider in local and test environments;
// the code is visible in the log stream, which is exactly what a
// developer walking through the verify-email flow wants.
type LogMailer struct {
	log zerolog.Logger
}

func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, to, subject, body string) error {
	m.log.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("Outbound email")
	return nil
}
