package telegram

import (
	"context"
	"net/http"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// BotClient is the subset of *bot.Bot the adapter uses. Tests substitute a
// fake.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	GetMe(ctx context.Context) (*models.User, error)
	SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error)
	SetMyCommands(ctx context.Context, params *bot.SetMyCommandsParams) (bool, error)

	// Start long polls until ctx is done.
	Start(ctx context.Context)

	// StartWebhook processes updates delivered to WebhookHandler until ctx
	// is done.
	StartWebhook(ctx context.Context)
	WebhookHandler() http.HandlerFunc
}

// realBotClient wraps a *bot.Bot to implement BotClient.
type realBotClient struct {
	bot *bot.Bot
}

func newRealBotClient(b *bot.Bot) BotClient {
	return &realBotClient{bot: b}
}

func (r *realBotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	return r.bot.SendMessage(ctx, params)
}

func (r *realBotClient) GetMe(ctx context.Context) (*models.User, error) {
	return r.bot.GetMe(ctx)
}

func (r *realBotClient) SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error) {
	return r.bot.SetWebhook(ctx, params)
}

func (r *realBotClient) SetMyCommands(ctx context.Context, params *bot.SetMyCommandsParams) (bool, error) {
	return r.bot.SetMyCommands(ctx, params)
}

func (r *realBotClient) Start(ctx context.Context) {
	r.bot.Start(ctx)
}

func (r *realBotClient) StartWebhook(ctx context.Context) {
	r.bot.StartWebhook(ctx)
}

func (r *realBotClient) WebhookHandler() http.HandlerFunc {
	return r.bot.WebhookHandler()
}

// NewBotClient creates a client for token without registering handlers.
// It is used by one-off commands such as registering the command menu.
func NewBotClient(token string) (BotClient, error) {
	b, err := bot.New(token)
	if err != nil {
		return nil, err
	}
	return newRealBotClient(b), nil
}
