package mail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	msgmail "github.com/emersion/go-message/mail"
)

// Receive reads the newest messages of a mailbox over IMAP.
func (b *MailboxBackend) Receive(ctx context.Context, mailbox string, limit int) ([]Email, error) {
	if mailbox == "" {
		mailbox = DefaultMailbox
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	c, err := client.DialTLS(b.config.IMAPAddr, nil)
	if err != nil {
		return nil, fmt.Errorf("imap dial: %w", err)
	}
	defer c.Logout()

	// The IMAP client has no context support; closing the connection
	// unblocks pending commands.
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()

	if err := c.Login(b.config.Address, b.config.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}

	status, err := c.Select(mailbox, true)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", mailbox, err)
	}
	if status.Messages == 0 {
		return []Email{}, nil
	}

	from := uint32(1)
	if status.Messages > uint32(limit) {
		from = status.Messages - uint32(limit) + 1
	}
	seqset := new(imap.SeqSet)
	seqset.AddRange(from, status.Messages)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, limit)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var fetched []*imap.Message
	for msg := range messages {
		fetched = append(fetched, msg)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	sort.Slice(fetched, func(i, j int) bool {
		return fetched[i].SeqNum > fetched[j].SeqNum
	})

	emails := make([]Email, 0, len(fetched))
	for _, msg := range fetched {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		email, err := ParseEmail(body)
		if err != nil {
			return nil, fmt.Errorf("parse message %d: %w", msg.SeqNum, err)
		}
		emails = append(emails, email)
	}
	return emails, nil
}

// ParseEmail extracts the sender, subject, and first inline text/plain part
// of an RFC 822 message.
func ParseEmail(r io.Reader) (Email, error) {
	mr, err := msgmail.CreateReader(r)
	if err != nil {
		return Email{}, err
	}
	defer mr.Close()

	var email Email
	email.Subject, _ = mr.Header.Subject()
	if email.From, err = mr.Header.Text("From"); err != nil {
		email.From = mr.Header.Get("From")
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Email{}, err
		}
		h, ok := part.Header.(*msgmail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType != "" && contentType != "text/plain" {
			continue
		}
		data, err := io.ReadAll(part.Body)
		if err != nil {
			return Email{}, err
		}
		email.Body = strings.TrimSpace(string(data))
		break
	}
	return email, nil
}
