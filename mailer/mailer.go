package mailer

import (
	"context"
	"fmt"
	"html/template"
	"regexp"
	"strings"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
	"github.com/UmairAbideen/cron-job-with-queue/job"
)

// Kind is the job kind handled by this package. Register Handler under it
// and enqueue payloads built with NewMessagePayload.
const Kind = "email"

// Payload keys carried by an email job.
const (
	keyTo      = "to"
	keySubject = "subject"
	keyTitle   = "title"
	keyBody    = "body"
)

// emailRegex is a pragmatic address check, not full RFC 5322.
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Message is one outbound email. Title is an optional heading rendered
// above Body; both are treated as plain text and HTML-escaped.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Title   string `json:"title,omitempty"`
	Body    string `json:"body,omitempty"`
}

// Validate reports whether the message can be sent. Violations are
// permanent: retrying cannot fix a malformed recipient.
func (m Message) Validate() error {
	if m.To == "" {
		return fmt.Errorf("%w: missing recipient", jobqueue.ErrPermanent)
	}
	if !emailRegex.MatchString(m.To) {
		return fmt.Errorf("%w: invalid recipient %q", jobqueue.ErrPermanent, m.To)
	}
	if m.Subject == "" {
		return fmt.Errorf("%w: missing subject", jobqueue.ErrPermanent)
	}
	return nil
}

// Sender delivers messages. Implementations classify their own failures:
// wrap jobqueue.ErrPermanent for rejections that retrying cannot fix and
// leave connectivity errors unclassified (transient).
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NewMessagePayload converts a message into the payload map an email job
// carries. The inverse of the decoding done by Handler.
func NewMessagePayload(m Message) map[string]string {
	p := map[string]string{
		keyTo:      m.To,
		keySubject: m.Subject,
	}
	if m.Title != "" {
		p[keyTitle] = m.Title
	}
	if m.Body != "" {
		p[keyBody] = m.Body
	}
	return p
}

// messageFromPayload rebuilds a Message from a job payload.
func messageFromPayload(payload map[string]string) Message {
	return Message{
		To:      payload[keyTo],
		Subject: payload[keySubject],
		Title:   payload[keyTitle],
		Body:    payload[keyBody],
	}
}

// Handler returns the job handler for Kind. It decodes the payload,
// validates it, and hands the message to sender. Validation failures are
// permanent; everything else keeps the sender's classification.
func Handler(sender Sender) job.HandlerFunc {
	return func(ctx context.Context, payload map[string]string) error {
		msg := messageFromPayload(payload)
		if err := msg.Validate(); err != nil {
			return err
		}
		if err := sender.Send(ctx, msg); err != nil {
			return fmt.Errorf("send email to %s: %w", msg.To, err)
		}
		return nil
	}
}

// bodyTemplate wraps the message in a minimal standalone HTML document.
var bodyTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body>
{{- if .Title}}
<h1>{{.Title}}</h1>
{{- end}}
<p>{{.Body}}</p>
</body>
</html>
`))

// renderHTML produces the HTML body senders deliver. Title and Body are
// escaped, so payloads cannot inject markup.
func renderHTML(m Message) (string, error) {
	var sb strings.Builder
	if err := bodyTemplate.Execute(&sb, m); err != nil {
		return "", fmt.Errorf("render email body: %w", err)
	}
	return sb.String(), nil
}
