package gateway

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// DefaultSystemPrompt is used when no template is configured.
const DefaultSystemPrompt = "You are a helpful assistant.\ncurrent_time: {{.Now}}"

// PromptData is the data available to system prompt templates.
type PromptData struct {
	// Now is the current time in RFC3339.
	Now string
	// Date is the current date, YYYY-MM-DD.
	Date string
	// Weekday is the current day name.
	Weekday string
	// SessionID identifies the conversation.
	SessionID string
}

// SystemPrompt renders the system prompt for each turn, so the time it
// carries is current.
type SystemPrompt struct {
	tmpl     *template.Template
	location *time.Location
}

// NewSystemPrompt parses text as a text/template. An empty text selects
// DefaultSystemPrompt; a nil location means UTC.
func NewSystemPrompt(text string, location *time.Location) (*SystemPrompt, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultSystemPrompt
	}
	tmpl, err := template.New("system").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse system prompt: %w", err)
	}
	if location == nil {
		location = time.UTC
	}
	return &SystemPrompt{tmpl: tmpl, location: location}, nil
}

// Render executes the template for now.
func (p *SystemPrompt) Render(now time.Time, sessionID string) (string, error) {
	now = now.In(p.location)
	var b strings.Builder
	err := p.tmpl.Execute(&b, PromptData{
		Now:       now.Format(time.RFC3339),
		Date:      now.Format("2006-01-02"),
		Weekday:   now.Weekday().String(),
		SessionID: sessionID,
	})
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return b.String(), nil
}
