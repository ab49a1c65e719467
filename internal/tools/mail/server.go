package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/haasonsaas/tgassist/internal/tools/toolserver"
)

// ServerName is the MCP server name.
const ServerName = "mail"

// DefaultAddr is the default HTTP listen address.
const DefaultAddr = ":8002"

// Tool names. recieve_emails keeps the spelling clients already call.
const (
	ToolSend            = "send_email"
	ToolSendAttachments = "send_email_with_attachments"
	ToolReceive         = "recieve_emails"
)

type handlers struct {
	backend Backend
	logger  *slog.Logger
}

// NewServer builds the mail MCP server over a backend.
func NewServer(backend Backend, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{backend: backend, logger: logger.With("component", "mail")}

	srv := toolserver.New(ServerName)
	srv.AddTool(mcp.NewTool(ToolSend,
		mcp.WithDescription("Send an email to the given address with a subject and body."),
		mcp.WithString("to", mcp.Required(), mcp.Description("Recipient address")),
		mcp.WithString("subject", mcp.Required(), mcp.Description("Email subject")),
		mcp.WithString("body", mcp.Required(), mcp.Description("Email body")),
	), h.send)

	srv.AddTool(mcp.NewTool(ToolSendAttachments,
		mcp.WithDescription("Send an email with attachments to the given address."),
		mcp.WithString("to", mcp.Required(), mcp.Description("Recipient address")),
		mcp.WithString("subject", mcp.Required(), mcp.Description("Email subject")),
		mcp.WithString("body", mcp.Required(), mcp.Description("Email body")),
		mcp.WithArray("attachments",
			mcp.Required(),
			mcp.Description("Attachments encoded as base64"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	), h.sendWithAttachments)

	srv.AddTool(mcp.NewTool(ToolReceive,
		mcp.WithDescription("Return the latest emails (5 by default) from a mailbox."),
		mcp.WithString("mailbox", mcp.Description("Mailbox name"), mcp.DefaultString(DefaultMailbox)),
		mcp.WithNumber("limit", mcp.Description("Number of emails"), mcp.DefaultNumber(DefaultLimit)),
	), h.receive)

	return srv
}

func (h *handlers) send(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, errResult := messageFromRequest(req)
	if errResult != nil {
		return errResult, nil
	}
	return h.deliver(ctx, msg)
}

func (h *handlers) sendWithAttachments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, errResult := messageFromRequest(req)
	if errResult != nil {
		return errResult, nil
	}

	encoded, err := stringSlice(req.GetArguments()["attachments"])
	if err != nil {
		return toolserver.ErrorResult(fmt.Sprintf("invalid attachments: %v", err)), nil
	}
	attachments, err := DecodeAttachments(encoded)
	if err != nil {
		var decodeErr *AttachmentDecodeError
		if errors.As(err, &decodeErr) {
			h.logger.Warn("attachment decode failed", "index", decodeErr.Index)
		}
		return toolserver.ErrorResult(err.Error()), nil
	}
	msg.Attachments = attachments
	return h.deliver(ctx, msg)
}

func (h *handlers) deliver(ctx context.Context, msg Message) (*mcp.CallToolResult, error) {
	if err := h.backend.Send(ctx, msg); err != nil {
		h.logger.Warn("send failed", "to", msg.To, "error", err)
		return toolserver.ErrorResult(fmt.Sprintf("Failed to send email to %s: %v", msg.To, err)), nil
	}
	h.logger.Info("email sent", "to", msg.To, "attachments", len(msg.Attachments))
	return toolserver.JSONResult(map[string]string{
		"message": fmt.Sprintf("Email sent to %s", msg.To),
	})
}

func (h *handlers) receive(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mailbox := req.GetString("mailbox", DefaultMailbox)
	if mailbox == "" {
		mailbox = DefaultMailbox
	}
	limit := req.GetInt("limit", DefaultLimit)
	if limit <= 0 {
		limit = DefaultLimit
	}

	emails, err := h.backend.Receive(ctx, mailbox, limit)
	if err != nil {
		h.logger.Warn("receive failed", "mailbox", mailbox, "error", err)
		return toolserver.ErrorResult(err.Error()), nil
	}
	if emails == nil {
		emails = []Email{}
	}
	return toolserver.JSONResult(map[string]any{"emails": emails})
}

func messageFromRequest(req mcp.CallToolRequest) (Message, *mcp.CallToolResult) {
	to, err := req.RequireString("to")
	if err != nil {
		return Message{}, toolserver.ErrorResult(err.Error())
	}
	subject, err := req.RequireString("subject")
	if err != nil {
		return Message{}, toolserver.ErrorResult(err.Error())
	}
	body, err := req.RequireString("body")
	if err != nil {
		return Message{}, toolserver.ErrorResult(err.Error())
	}
	return Message{To: to, Subject: subject, Body: body}, nil
}

func stringSlice(v any) ([]string, error) {
	switch items := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return items, nil
	case []any:
		out := make([]string, 0, len(items))
		for i, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("item %d is %T, not a string", i+1, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected an array of strings, got %T", v)
	}
}
