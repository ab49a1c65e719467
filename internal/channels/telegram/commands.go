package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/tgassist/internal/mcp"
)

// Fixed replies.
const (
	HelpText = "Commands:\n" +
		"/health - check status\n" +
		"/help - show this help\n" +
		"/today - show today calendar"
	HealthText           = "ok"
	NoEventsText         = "No events today."
	CalendarDownText     = "Calendar is unavailable right now, please try again later."
	BusyText             = "The service is busy right now, please try again later."
	defaultEventTitle    = "(no title)"
	todayEventsTool      = "list_today_events"
	maxTelegramMsgLength = 4096
)

// DefaultCommands is the command menu registered with Telegram.
var DefaultCommands = []models.BotCommand{
	{Command: "help", Description: "Help"},
	{Command: "health", Description: "Healthcheck"},
	{Command: "today", Description: "Today's calendar"},
}

// SetCommands registers the command menu shown by Telegram clients.
func SetCommands(ctx context.Context, client BotClient, commands []models.BotCommand) error {
	if len(commands) == 0 {
		commands = DefaultCommands
	}
	ok, err := client.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: commands})
	if err != nil {
		return fmt.Errorf("set bot commands: %w", err)
	}
	if !ok {
		return fmt.Errorf("set bot commands: telegram returned false")
	}
	return nil
}

// ToolInvoker calls a tool by canonical or bare name.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, arguments json.RawMessage) (*mcp.ToolCallResult, error)
}

// parseCommand splits "/cmd@bot args" into "cmd". It reports false for
// text that is not a command.
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", false
	}
	return strings.ToLower(name), true
}

type calendarEvent struct {
	Title string `json:"title"`
	Start string `json:"start"`
	End   string `json:"end"`
}

type calendarListResponse struct {
	Success bool            `json:"success"`
	Events  []calendarEvent `json:"events"`
	Error   string          `json:"error"`
}

// todayText renders today's events from the calendar tool.
func todayText(ctx context.Context, tools ToolInvoker) (string, error) {
	if tools == nil {
		return "", fmt.Errorf("no calendar tool configured")
	}
	result, err := tools.Invoke(ctx, todayEventsTool, json.RawMessage(`{}`))
	if err != nil {
		return "", err
	}
	raw := result.Text()
	if result.IsError {
		return "", fmt.Errorf("calendar tool error: %s", raw)
	}

	var resp calendarListResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return "", fmt.Errorf("decode calendar response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("calendar tool error: %s", resp.Error)
	}
	return formatToday(resp.Events), nil
}

func formatToday(events []calendarEvent) string {
	if len(events) == 0 {
		return NoEventsText
	}
	lines := make([]string, 0, len(events)+1)
	lines = append(lines, "Today:")
	for _, e := range events {
		title := e.Title
		if title == "" {
			title = defaultEventTitle
		}
		lines = append(lines, fmt.Sprintf("- %s-%s %s", e.Start, e.End, title))
	}
	return strings.Join(lines, "\n")
}
