// Package telegram connects the assistant to Telegram: it answers status
// commands directly and routes free text to the gateway.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/tgassist/internal/backoff"
	"github.com/haasonsaas/tgassist/internal/channels"
	"github.com/haasonsaas/tgassist/internal/observability"
)

// Mode represents the operation mode of the Telegram adapter.
type Mode string

const (
	// ModeLongPolling uses long polling to receive updates from Telegram
	ModeLongPolling Mode = "long_polling"

	// ModeWebhook uses webhooks to receive updates from Telegram
	ModeWebhook Mode = "webhook"
)

// Config holds configuration for the Telegram adapter.
type Config struct {
	// Token is the bot token from @BotFather (required)
	Token string

	// Mode determines whether to use long polling or webhooks
	Mode Mode

	// WebhookURL is the HTTPS URL for webhook mode (required if Mode is ModeWebhook)
	WebhookURL string

	// ListenAddr is the address for webhook server, e.g., ":8443"
	ListenAddr string

	// MaxReconnectAttempts bounds how often bot creation is retried at startup
	MaxReconnectAttempts int

	// ReconnectDelay is the initial delay between attempts
	ReconnectDelay time.Duration

	// RateLimit configures the global send rate (messages per second)
	RateLimit float64

	// RateBurst configures the burst capacity for rate limiting
	RateBurst int

	// ChatRateLimit configures the per-chat send rate (messages per second)
	ChatRateLimit float64

	// ReplyTimeout bounds the handling of a single inbound message
	ReplyTimeout time.Duration

	// SendTimeout bounds delivery of a reply once the message was handled.
	// Replies are sent even if ReplyTimeout has already expired.
	SendTimeout time.Duration

	// Logger is an optional slog.Logger instance
	Logger *slog.Logger
}

// Validate checks if the configuration is valid and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return channels.ErrConfig("token is required", nil)
	}
	if c.Mode == "" {
		c.Mode = ModeLongPolling
	}
	switch c.Mode {
	case ModeLongPolling:
	case ModeWebhook:
		if c.WebhookURL == "" {
			return channels.ErrConfig("webhook_url is required for webhook mode", nil)
		}
		if c.ListenAddr == "" {
			c.ListenAddr = ":8443"
		}
	default:
		return channels.ErrConfig(fmt.Sprintf("unknown mode %q", c.Mode), nil)
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 30 // Telegram's global limit is ~30 messages per second
	}
	if c.RateBurst == 0 {
		c.RateBurst = 20
	}
	if c.ChatRateLimit == 0 {
		c.ChatRateLimit = 1
	}
	if c.ReplyTimeout == 0 {
		c.ReplyTimeout = 3*time.Minute + 30*time.Second
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Gateway answers a free-text message for a session.
type Gateway interface {
	HandleMessage(ctx context.Context, sessionID, text string) (string, error)
}

// HealthStatus is the result of a connectivity check.
type HealthStatus struct {
	Healthy   bool
	Degraded  bool
	Message   string
	Latency   time.Duration
	LastCheck time.Time
}

// Adapter receives Telegram updates and replies to them.
type Adapter struct {
	config   Config
	gateway  Gateway
	tools    ToolInvoker
	metrics  *observability.Metrics
	logger   *slog.Logger
	chunker  *channels.MessageChunker
	limiter  *channels.RateLimiter
	perChat  *channels.KeyedRateLimiter
	newBot   func(token string, opts ...bot.Option) (BotClient, error)
	client   BotClient
	clientMu sync.RWMutex

	wg         sync.WaitGroup
	degraded   bool
	degradedMu sync.RWMutex
}

// NewAdapter creates a Telegram adapter. tools may be nil, in which case
// /today reports the calendar as unavailable.
func NewAdapter(config Config, gateway Gateway, tools ToolInvoker, metrics *observability.Metrics) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if gateway == nil {
		return nil, channels.ErrConfig("gateway is required", nil)
	}
	return &Adapter{
		config:  config,
		gateway: gateway,
		tools:   tools,
		metrics: metrics,
		logger:  config.Logger.With("component", "telegram"),
		chunker: &channels.MessageChunker{MaxSize: maxTelegramMsgLength, Weight: escapedWeight},
		limiter: channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		perChat: channels.NewKeyedRateLimiter(config.ChatRateLimit, 3),
		newBot: func(token string, opts ...bot.Option) (BotClient, error) {
			b, err := bot.New(token, opts...)
			if err != nil {
				return nil, err
			}
			return newRealBotClient(b), nil
		},
	}, nil
}

// Run connects to Telegram and processes updates until ctx is done.
func (a *Adapter) Run(ctx context.Context) error {
	a.logger.Info("starting telegram adapter", "mode", a.config.Mode, "rate_limit", a.config.RateLimit)

	client, err := a.connect(ctx)
	if err != nil {
		return err
	}
	a.setClient(client)

	if a.config.Mode == ModeWebhook {
		err = a.runWebhook(ctx, client)
	} else {
		a.logger.Info("starting long polling mode")
		client.Start(ctx)
	}

	a.wg.Wait()
	a.logger.Info("telegram adapter stopped")
	return err
}

// connect creates the bot, retrying transient failures with backoff. The
// bot's constructor calls getMe, so an invalid token fails here.
func (a *Adapter) connect(ctx context.Context) (BotClient, error) {
	policy := backoff.DefaultPolicy()
	policy.Initial = a.config.ReconnectDelay

	var client BotClient
	attempt := 0
	err := backoff.Retry(ctx, policy, a.config.MaxReconnectAttempts, isTransient, func(ctx context.Context) error {
		attempt++
		c, err := a.newBot(a.config.Token,
			bot.WithDefaultHandler(a.handleUpdate),
			bot.WithErrorsHandler(func(err error) {
				a.logger.Warn("telegram polling error", "error", err)
				a.metrics.RecordError("telegram", string(channels.ErrCodeConnection))
			}),
		)
		if err != nil {
			a.setDegraded(true)
			a.logger.Error("failed to create bot", "error", err, "attempt", attempt, "max_attempts", a.config.MaxReconnectAttempts)
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		a.metrics.RecordError("telegram", string(channels.ErrCodeAuthentication))
		return nil, channels.ErrAuthentication("failed to create bot", err)
	}
	a.setDegraded(false)
	return client, nil
}

func isTransient(err error) bool {
	return !errors.Is(err, bot.ErrorUnauthorized) && !errors.Is(err, bot.ErrorNotFound)
}

// runWebhook registers the webhook and serves it on ListenAddr.
func (a *Adapter) runWebhook(ctx context.Context, client BotClient) error {
	a.logger.Info("starting webhook mode", "url", a.config.WebhookURL, "addr", a.config.ListenAddr)

	if _, err := client.SetWebhook(ctx, &bot.SetWebhookParams{URL: a.config.WebhookURL}); err != nil {
		a.metrics.RecordError("telegram", string(channels.ErrCodeConnection))
		return channels.ErrConnection("failed to set webhook", err)
	}

	server := &http.Server{
		Addr:              a.config.ListenAddr,
		Handler:           client.WebhookHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go client.StartWebhook(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			return channels.ErrConnection("webhook server failed", err)
		}
		return nil
	}
}

// handleUpdate is the bot's default handler. Only text messages are
// answered.
func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil || update.Message == nil || update.Message.Text == "" {
		return
	}
	a.wg.Add(1)
	defer a.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, a.config.ReplyTimeout)
	defer cancel()
	a.HandleMessage(ctx, update.Message.Chat.ID, update.Message.Text)
}

// HandleMessage answers one inbound text message. Every message gets a
// reply: the answer, a fixed command response, or a degraded-service notice.
func (a *Adapter) HandleMessage(ctx context.Context, chatID int64, text string) {
	sessionID := strconv.FormatInt(chatID, 10)
	ctx = observability.WithSessionID(ctx, sessionID)
	logger := a.logger.With("chat_id", chatID)

	if cmd, ok := parseCommand(text); ok {
		if reply, handled := a.command(ctx, logger, cmd); handled {
			a.metrics.MessageProcessed("inbound", "command")
			sendCtx, cancel := a.replyContext(ctx)
			defer cancel()
			if err := a.sendPlain(sendCtx, chatID, reply); err != nil {
				logger.Error("failed to send command reply", "command", cmd, "error", err)
			}
			return
		}
	}
	a.metrics.MessageProcessed("inbound", "text")

	start := time.Now()
	answer, err := a.gateway.HandleMessage(ctx, sessionID, text)

	sendCtx, cancel := a.replyContext(ctx)
	defer cancel()
	if err != nil {
		logger.Error("failed to answer message", "error", err, "duration_ms", time.Since(start).Milliseconds())
		a.metrics.RecordError("telegram", string(channels.GetErrorCode(err)))
		if err := a.sendPlain(sendCtx, chatID, BusyText); err != nil {
			logger.Error("failed to send busy notice", "error", err)
		}
		return
	}
	logger.Debug("answered message", "duration_ms", time.Since(start).Milliseconds(), "answer_length", len(answer))

	if err := a.SendMarkdown(sendCtx, chatID, answer); err != nil {
		logger.Error("failed to send answer", "error", err)
	}
}

// replyContext detaches reply delivery from the handling deadline so a
// turn that timed out still gets its busy notice.
func (a *Adapter) replyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), a.config.SendTimeout)
}

// command returns the reply to a known command.
func (a *Adapter) command(ctx context.Context, logger *slog.Logger, cmd string) (string, bool) {
	switch cmd {
	case "start", "help":
		return HelpText, true
	case "health":
		return HealthText, true
	case "today":
		reply, err := todayText(ctx, a.tools)
		if err != nil {
			logger.Warn("calendar unavailable", "error", err)
			a.metrics.RecordError("telegram", "calendar_unavailable")
			return CalendarDownText, true
		}
		return reply, true
	}
	return "", false
}

// SendMarkdown escapes text for MarkdownV2 and sends it in as many
// messages as needed. A chunk Telegram refuses to parse is resent as plain
// text.
func (a *Adapter) SendMarkdown(ctx context.Context, chatID int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	for _, chunk := range a.chunker.Chunk(text) {
		err := a.send(ctx, &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      EscapeMarkdownV2(chunk),
			ParseMode: models.ParseModeMarkdown,
		})
		if err != nil && errors.Is(err, bot.ErrorBadRequest) {
			a.logger.Warn("markdown rejected, sending plain text", "chat_id", chatID, "error", err)
			err = a.send(ctx, &bot.SendMessageParams{ChatID: chatID, Text: chunk})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// sendPlain sends text without a parse mode.
func (a *Adapter) sendPlain(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range channels.NewMessageChunker(maxTelegramMsgLength).Chunk(text) {
		if err := a.send(ctx, &bot.SendMessageParams{ChatID: chatID, Text: chunk}); err != nil {
			return err
		}
	}
	return nil
}

// send delivers one message with rate limiting and error classification.
func (a *Adapter) send(ctx context.Context, params *bot.SendMessageParams) error {
	client := a.getClient()
	if client == nil {
		a.metrics.RecordError("telegram", string(channels.ErrCodeInternal))
		return channels.ErrInternal("bot not initialized", nil)
	}

	chatKey := fmt.Sprint(params.ChatID)
	if err := a.limiter.Wait(ctx); err != nil {
		a.metrics.RecordError("telegram", string(channels.ErrCodeTimeout))
		return channels.ErrTimeout("rate limit wait cancelled", err)
	}
	if err := a.perChat.Wait(ctx, chatKey); err != nil {
		a.metrics.RecordError("telegram", string(channels.ErrCodeTimeout))
		return channels.ErrTimeout("rate limit wait cancelled", err)
	}

	if _, err := client.SendMessage(ctx, params); err != nil {
		var classified *channels.Error
		switch {
		case bot.IsTooManyRequestsError(err):
			classified = channels.ErrRateLimit("telegram rate limit exceeded", err)
		case errors.Is(err, bot.ErrorBadRequest):
			classified = channels.ErrInvalidInput("telegram rejected message", err)
		case errors.Is(err, bot.ErrorForbidden):
			classified = channels.ErrAuthentication("bot cannot write to chat", err)
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			classified = channels.ErrTimeout("send cancelled", err)
		default:
			classified = channels.ErrConnection("failed to send message", err)
		}
		a.metrics.RecordError("telegram", string(classified.Code))
		return classified.WithContext("chat_id", params.ChatID)
	}
	a.metrics.MessageProcessed("outbound", "text")
	return nil
}

// HealthCheck verifies connectivity with getMe.
func (a *Adapter) HealthCheck(ctx context.Context) HealthStatus {
	start := time.Now()
	health := HealthStatus{LastCheck: start}

	client := a.getClient()
	if client == nil {
		health.Message = "bot not initialized"
		return health
	}
	_, err := client.GetMe(ctx)
	health.Latency = time.Since(start)
	if err != nil {
		health.Message = fmt.Sprintf("health check failed: %v", err)
		return health
	}

	health.Healthy = true
	health.Degraded = a.isDegraded()
	if health.Degraded {
		health.Message = "operating in degraded mode"
	} else {
		health.Message = "healthy"
	}
	return health
}

// HealthHandler serves HealthCheck as JSON. It answers 503 until the bot
// is connected and reachable.
func (a *Adapter) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		health := a.HealthCheck(ctx)

		w.Header().Set("Content-Type", "application/json")
		if !health.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"healthy":    health.Healthy,
			"degraded":   health.Degraded,
			"message":    health.Message,
			"latency_ms": health.Latency.Milliseconds(),
			"last_check": health.LastCheck.UTC().Format(time.RFC3339),
		})
	})
}

func (a *Adapter) setClient(c BotClient) {
	a.clientMu.Lock()
	a.client = c
	a.clientMu.Unlock()
}

func (a *Adapter) getClient() BotClient {
	a.clientMu.RLock()
	defer a.clientMu.RUnlock()
	return a.client
}

func (a *Adapter) setDegraded(degraded bool) {
	a.degradedMu.Lock()
	a.degraded = degraded
	a.degradedMu.Unlock()
}

func (a *Adapter) isDegraded() bool {
	a.degradedMu.RLock()
	defer a.degradedMu.RUnlock()
	return a.degraded
}
