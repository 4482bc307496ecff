package mailer

import (
	"context"
	"fmt"

	"github.com/mrz1836/postmark"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
)

// Config holds Postmark transport configuration. Both tokens are required
// for runtime operation; From establishes the sender identity.
type Config struct {
	ServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	AccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	From         string `env:"MAIL_FROM"`
	ReplyTo      string `env:"MAIL_REPLY_TO"`
}

var _ Sender = (*Postmark)(nil)

// Postmark delivers messages through the Postmark transactional API.
type Postmark struct {
	client *postmark.Client
	cfg    Config
}

// NewPostmark validates cfg and returns a Postmark sender. Missing tokens
// or a malformed From address fail construction rather than every send.
func NewPostmark(cfg Config) (*Postmark, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("mailer: postmark server token is required")
	}
	if cfg.AccountToken == "" {
		return nil, fmt.Errorf("mailer: postmark account token is required")
	}
	if cfg.From == "" || !emailRegex.MatchString(cfg.From) {
		return nil, fmt.Errorf("mailer: valid from address is required, got %q", cfg.From)
	}
	if cfg.ReplyTo != "" && !emailRegex.MatchString(cfg.ReplyTo) {
		return nil, fmt.Errorf("mailer: invalid reply-to address %q", cfg.ReplyTo)
	}

	return &Postmark{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		cfg:    cfg,
	}, nil
}

// Send implements Sender. API rejections (error code in the response body)
// are permanent: the same message would be rejected again. Transport errors
// stay unclassified so the queue retries them.
func (p *Postmark) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	html, err := renderHTML(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", jobqueue.ErrPermanent, err)
	}

	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:       p.cfg.From,
		ReplyTo:    p.cfg.ReplyTo,
		To:         msg.To,
		Subject:    msg.Subject,
		HTMLBody:   html,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	if err != nil {
		return fmt.Errorf("postmark: %w", err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("%w: postmark rejected message: %d %s", jobqueue.ErrPermanent, resp.ErrorCode, resp.Message)
	}
	return nil
}
