package mail

import (
	"bytes"
	"context"
	"fmt"

	gomail "github.com/wneessen/go-mail"
)

// Config holds the mailbox credentials and server endpoints.
type Config struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`

	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	IMAPAddr string `yaml:"imap_addr"`
}

// Gmail endpoint defaults.
const (
	DefaultSMTPHost = "smtp.gmail.com"
	DefaultSMTPPort = 587
	DefaultIMAPAddr = "imap.gmail.com:993"
)

func (c Config) withDefaults() Config {
	if c.SMTPHost == "" {
		c.SMTPHost = DefaultSMTPHost
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = DefaultSMTPPort
	}
	if c.IMAPAddr == "" {
		c.IMAPAddr = DefaultIMAPAddr
	}
	return c
}

// Validate checks that credentials are present.
func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("mail address is required (EMAIL_ADDRESS)")
	}
	if c.Password == "" {
		return fmt.Errorf("mail app password is required (APP_PASSWORD)")
	}
	return nil
}

// sender delivers built messages.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// MailboxBackend sends with SMTP (STARTTLS) and reads with IMAP (TLS).
type MailboxBackend struct {
	config Config
	sender sender
}

var _ Backend = (*MailboxBackend)(nil)

// NewMailboxBackend creates a backend for an account.
func NewMailboxBackend(cfg Config) (*MailboxBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	client, err := gomail.NewClient(cfg.SMTPHost,
		gomail.WithPort(cfg.SMTPPort),
		gomail.WithTLSPolicy(gomail.TLSMandatory),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(cfg.Address),
		gomail.WithPassword(cfg.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &MailboxBackend{config: cfg, sender: client}, nil
}

// Send delivers a message over SMTP.
func (b *MailboxBackend) Send(ctx context.Context, msg Message) error {
	m, err := buildMessage(b.config.Address, msg)
	if err != nil {
		return err
	}
	if err := b.sender.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func buildMessage(from string, msg Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)

	for _, a := range msg.Attachments {
		contentType := a.ContentType
		if contentType == "" {
			contentType = AttachmentContentType
		}
		m.AttachReadSeeker(a.Name, bytes.NewReader(a.Data),
			gomail.WithFileContentType(gomail.ContentType(contentType)))
	}
	return m, nil
}
