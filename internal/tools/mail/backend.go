// Package mail exposes a mailbox as an MCP tool server: sending over SMTP
// and reading over IMAP.
package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// DefaultMailbox is read when no mailbox is given.
const DefaultMailbox = "INBOX"

// DefaultLimit is the number of messages returned by default.
const DefaultLimit = 5

// AttachmentContentType is the content type of decoded attachments.
const AttachmentContentType = "application/octet-stream"

// Message is an outgoing email.
type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Attachment is a file attached to an outgoing message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Email is a received message.
type Email struct {
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Backend is the set of mail capabilities the tool server needs.
type Backend interface {
	// Send delivers a message.
	Send(ctx context.Context, msg Message) error

	// Receive returns up to limit of the newest messages in a mailbox,
	// newest first.
	Receive(ctx context.Context, mailbox string, limit int) ([]Email, error)
}

// AttachmentDecodeError reports an attachment that is not valid base64.
// Index is 1-based.
type AttachmentDecodeError struct {
	Index int
	Err   error
}

func (e *AttachmentDecodeError) Error() string {
	return fmt.Sprintf("error decoding attachment %d: %v", e.Index, e.Err)
}

func (e *AttachmentDecodeError) Unwrap() error {
	return e.Err
}

// DecodeAttachments turns base64 payloads into attachments named
// attachment_<i>.bin.
func DecodeAttachments(encoded []string) ([]Attachment, error) {
	attachments := make([]Attachment, 0, len(encoded))
	for i, data := range encoded {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
		if err != nil {
			return nil, &AttachmentDecodeError{Index: i + 1, Err: err}
		}
		attachments = append(attachments, Attachment{
			Name:        fmt.Sprintf("attachment_%d.bin", i+1),
			ContentType: AttachmentContentType,
			Data:        raw,
		})
	}
	return attachments, nil
}
