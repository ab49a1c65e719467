package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/tgassist/internal/channels"
	"github.com/haasonsaas/tgassist/internal/mcp"
)

type fakeBot struct {
	mu         sync.Mutex
	sent       []*bot.SendMessageParams
	rejectMD   bool
	sendErr    error
	commands   []models.BotCommand
	getMeCalls int
}

// SendMessage fails like the real client when ctx is already done.
func (f *fakeBot) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if f.rejectMD && params.ParseMode != "" {
		return nil, fmt.Errorf("%w, Bad Request: can't parse entities", bot.ErrorBadRequest)
	}
	f.sent = append(f.sent, params)
	return &models.Message{ID: len(f.sent)}, nil
}

func (f *fakeBot) GetMe(ctx context.Context) (*models.User, error) {
	f.mu.Lock()
	f.getMeCalls++
	f.mu.Unlock()
	return &models.User{ID: 1, IsBot: true}, nil
}

func (f *fakeBot) SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error) {
	return true, nil
}

func (f *fakeBot) SetMyCommands(ctx context.Context, params *bot.SetMyCommandsParams) (bool, error) {
	f.commands = params.Commands
	return true, nil
}

func (f *fakeBot) Start(ctx context.Context)        { <-ctx.Done() }
func (f *fakeBot) StartWebhook(ctx context.Context) { <-ctx.Done() }
func (f *fakeBot) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {}
}

func (f *fakeBot) messages() []*bot.SendMessageParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*bot.SendMessageParams(nil), f.sent...)
}

type fakeGateway struct {
	mu       sync.Mutex
	sessions []string
	answer   string
	err      error
}

func (g *fakeGateway) HandleMessage(ctx context.Context, sessionID, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions = append(g.sessions, sessionID)
	return g.answer, g.err
}

type fakeTools struct {
	text    string
	isError bool
	err     error
	called  string
}

func (f *fakeTools) Invoke(ctx context.Context, name string, arguments json.RawMessage) (*mcp.ToolCallResult, error) {
	f.called = name
	if f.err != nil {
		return nil, f.err
	}
	return &mcp.ToolCallResult{
		Content: []mcp.ToolResultContent{{Type: "text", Text: f.text}},
		IsError: f.isError,
	}, nil
}

func newTestAdapter(t *testing.T, gw Gateway, tools ToolInvoker) (*Adapter, *fakeBot) {
	t.Helper()
	a, err := NewAdapter(Config{Token: "test-token", RateLimit: 1000, RateBurst: 100, ChatRateLimit: 1000}, gw, tools, nil)
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	fb := &fakeBot{}
	a.setClient(fb)
	return a, fb
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Meeting (10-11am) #urgent!", `Meeting \(10\-11am\) \#urgent\!`},
		{"plain text", "plain text"},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
		{"a..b", `a\.\.b`},
		{"привет, мир.", `привет, мир\.`},
		{"", ""},
	}
	for _, tt := range tests {
		if got := EscapeMarkdownV2(tt.in); got != tt.want {
			t.Errorf("EscapeMarkdownV2(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"/health", "health", true},
		{"/help@tgassist_bot", "help", true},
		{"  /Today please", "today", true},
		{"hello", "", false},
		{"/", "", false},
	}
	for _, tt := range tests {
		got, ok := parseCommand(tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseCommand(%q) = (%q, %v), want (%q, %v)", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Token: "x"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Mode != ModeLongPolling || cfg.RateLimit != 30 || cfg.RateBurst != 20 {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	missing := Config{}
	if err := missing.Validate(); channels.GetErrorCode(err) != channels.ErrCodeConfig {
		t.Errorf("expected config error, got %v", err)
	}

	webhook := Config{Token: "x", Mode: ModeWebhook}
	if err := webhook.Validate(); err == nil {
		t.Error("webhook mode without url should fail")
	}
}

func TestHealthCommand(t *testing.T) {
	gw := &fakeGateway{}
	a, fb := newTestAdapter(t, gw, nil)

	a.HandleMessage(context.Background(), 42, "/health")

	sent := fb.messages()
	if len(sent) != 1 || sent[0].Text != "ok" {
		t.Fatalf("unexpected messages: %+v", sent)
	}
	if sent[0].ParseMode != "" {
		t.Errorf("command replies are plain text, got %q", sent[0].ParseMode)
	}
	if len(gw.sessions) != 0 {
		t.Error("commands must not reach the gateway")
	}
}

func TestHelpCommands(t *testing.T) {
	for _, text := range []string{"/help", "/start", "/help@tgassist_bot"} {
		a, fb := newTestAdapter(t, &fakeGateway{}, nil)
		a.HandleMessage(context.Background(), 1, text)
		sent := fb.messages()
		if len(sent) != 1 || sent[0].Text != HelpText {
			t.Errorf("%s: unexpected messages: %+v", text, sent)
		}
	}
}

func TestFreeTextRoutedToGateway(t *testing.T) {
	gw := &fakeGateway{answer: "Meeting (10-11am) #urgent!"}
	a, fb := newTestAdapter(t, gw, nil)

	a.HandleMessage(context.Background(), -100123, "what is on?")

	if len(gw.sessions) != 1 || gw.sessions[0] != "-100123" {
		t.Fatalf("sessions = %v", gw.sessions)
	}
	sent := fb.messages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].Text != `Meeting \(10\-11am\) \#urgent\!` {
		t.Errorf("text = %q", sent[0].Text)
	}
	if sent[0].ParseMode != models.ParseModeMarkdown {
		t.Errorf("parse mode = %q", sent[0].ParseMode)
	}
	if sent[0].ChatID != int64(-100123) {
		t.Errorf("chat id = %v", sent[0].ChatID)
	}
}

func TestUnknownCommandRoutedToGateway(t *testing.T) {
	gw := &fakeGateway{answer: "sure"}
	a, _ := newTestAdapter(t, gw, nil)
	a.HandleMessage(context.Background(), 5, "/summarize the report")
	if len(gw.sessions) != 1 {
		t.Fatal("unknown commands are free text")
	}
}

func TestGatewayFailureSendsBusyNotice(t *testing.T) {
	gw := &fakeGateway{err: errors.New("service busy: provider overloaded")}
	a, fb := newTestAdapter(t, gw, nil)

	a.HandleMessage(context.Background(), 7, "hello")

	sent := fb.messages()
	if len(sent) != 1 || sent[0].Text != BusyText {
		t.Fatalf("unexpected messages: %+v", sent)
	}
}

// stuckGateway never answers before ctx is done.
type stuckGateway struct{}

func (stuckGateway) HandleMessage(ctx context.Context, sessionID, text string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestTimedOutTurnStillSendsBusyNotice(t *testing.T) {
	a, err := NewAdapter(Config{
		Token:         "test-token",
		RateLimit:     1000,
		RateBurst:     100,
		ChatRateLimit: 1000,
		ReplyTimeout:  20 * time.Millisecond,
	}, stuckGateway{}, nil, nil)
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	fb := &fakeBot{}
	a.setClient(fb)

	ctx, cancel := context.WithTimeout(context.Background(), a.config.ReplyTimeout)
	defer cancel()
	a.HandleMessage(ctx, 11, "are you there?")

	sent := fb.messages()
	if len(sent) != 1 || sent[0].Text != BusyText {
		t.Fatalf("expected busy notice after the turn deadline, got %+v", sent)
	}
}

func TestReplyTimeoutDefaultsAboveTurnTimeout(t *testing.T) {
	cfg := Config{Token: "t"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.ReplyTimeout <= 3*time.Minute {
		t.Errorf("ReplyTimeout = %v, want more than the 3m turn timeout", cfg.ReplyTimeout)
	}
	if cfg.SendTimeout != 10*time.Second {
		t.Errorf("SendTimeout = %v", cfg.SendTimeout)
	}
}

func TestMarkdownRejectedFallsBackToPlain(t *testing.T) {
	gw := &fakeGateway{answer: "Use *bold carefully"}
	a, fb := newTestAdapter(t, gw, nil)
	fb.rejectMD = true

	a.HandleMessage(context.Background(), 9, "hi")

	sent := fb.messages()
	if len(sent) != 1 {
		t.Fatalf("expected plain resend, got %+v", sent)
	}
	if sent[0].Text != "Use *bold carefully" || sent[0].ParseMode != "" {
		t.Errorf("unexpected fallback: %+v", sent[0])
	}
}

func TestLongAnswerIsSplit(t *testing.T) {
	answer := strings.Repeat("Step 1. Call (555) 010-0199! ", 400)
	gw := &fakeGateway{answer: answer}
	a, fb := newTestAdapter(t, gw, nil)

	a.HandleMessage(context.Background(), 3, "plan")

	sent := fb.messages()
	if len(sent) < 2 {
		t.Fatalf("expected several messages, got %d", len(sent))
	}
	for i, m := range sent {
		if n := utf8.RuneCountInString(m.Text); n > maxTelegramMsgLength {
			t.Errorf("message %d has %d runes", i, n)
		}
		if strings.HasSuffix(m.Text, `\`) {
			t.Errorf("message %d ends with a dangling escape", i)
		}
	}
}

func TestSendClassifiesRateLimit(t *testing.T) {
	a, fb := newTestAdapter(t, &fakeGateway{}, nil)
	fb.sendErr = &bot.TooManyRequestsError{Message: "Too Many Requests", RetryAfter: 3}

	err := a.SendMarkdown(context.Background(), 1, "hi")
	if channels.GetErrorCode(err) != channels.ErrCodeRateLimit {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if !channels.IsRetryable(err) {
		t.Error("rate limit errors are retryable")
	}
}

func TestTodayCommand(t *testing.T) {
	tools := &fakeTools{text: `{"success":true,"events":[{"title":"Standup","start":"2024-05-01T09:00:00Z","end":"2024-05-01T09:15:00Z"},{"title":"","start":"10:00","end":"11:00"}],"count":2}`}
	a, fb := newTestAdapter(t, &fakeGateway{}, tools)

	a.HandleMessage(context.Background(), 1, "/today")

	want := "Today:\n- 2024-05-01T09:00:00Z-2024-05-01T09:15:00Z Standup\n- 10:00-11:00 (no title)"
	sent := fb.messages()
	if len(sent) != 1 || sent[0].Text != want {
		t.Fatalf("unexpected messages: %+v", sent)
	}
	if tools.called != "list_today_events" {
		t.Errorf("called %q", tools.called)
	}
}

func TestTodayCommandVariants(t *testing.T) {
	tests := []struct {
		name  string
		tools ToolInvoker
		want  string
	}{
		{"no events", &fakeTools{text: `{"success":true,"events":[],"count":0}`}, NoEventsText},
		{"tool error payload", &fakeTools{text: `{"error":"token expired"}`, isError: true}, CalendarDownText},
		{"server down", &fakeTools{err: errors.New("connection refused")}, CalendarDownText},
		{"no registry", nil, CalendarDownText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, fb := newTestAdapter(t, &fakeGateway{}, tt.tools)
			a.HandleMessage(context.Background(), 1, "/today")
			sent := fb.messages()
			if len(sent) != 1 || sent[0].Text != tt.want {
				t.Fatalf("unexpected messages: %+v", sent)
			}
		})
	}
}

func TestSetCommands(t *testing.T) {
	fb := &fakeBot{}
	if err := SetCommands(context.Background(), fb, nil); err != nil {
		t.Fatalf("SetCommands() error = %v", err)
	}
	if len(fb.commands) != 3 || fb.commands[0].Command != "help" || fb.commands[1].Command != "health" {
		t.Errorf("commands = %+v", fb.commands)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	a, err := NewAdapter(Config{Token: "t", ReconnectDelay: time.Millisecond}, &fakeGateway{}, nil, nil)
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	fb := &fakeBot{}
	a.newBot = func(token string, opts ...bot.Option) (BotClient, error) { return fb, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for a.getClient() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if health := a.HealthCheck(context.Background()); !health.Healthy {
		t.Errorf("HealthCheck() = %+v", health)
	}
	rec := httptest.NewRecorder()
	a.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"healthy":true`) {
		t.Errorf("health endpoint = %d %s", rec.Code, rec.Body.String())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestHealthHandlerBeforeConnect(t *testing.T) {
	a, err := NewAdapter(Config{Token: "t"}, &fakeGateway{}, nil, nil)
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	rec := httptest.NewRecorder()
	a.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bot not initialized") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRunUnauthorizedIsNotRetried(t *testing.T) {
	a, err := NewAdapter(Config{Token: "t", ReconnectDelay: time.Millisecond}, &fakeGateway{}, nil, nil)
	if err != nil {
		t.Fatalf("NewAdapter() error = %v", err)
	}
	attempts := 0
	a.newBot = func(token string, opts ...bot.Option) (BotClient, error) {
		attempts++
		return nil, fmt.Errorf("%w: invalid token", bot.ErrorUnauthorized)
	}

	err = a.Run(context.Background())
	if channels.GetErrorCode(err) != channels.ErrCodeAuthentication {
		t.Fatalf("expected auth error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
