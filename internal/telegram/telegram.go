// Package telegram wraps the Telegram Bot API as the operator notification channel.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/BTreeMap/BookingRelay/internal/models"
)

// ErrNoChat is returned when no target chat is configured.
var ErrNoChat = errors.New("telegram chat id must be provided")

// BotAPI is the subset of *tgbotapi.BotAPI the client uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

var _ BotAPI = (*tgbotapi.BotAPI)(nil)

// Opts holds configuration options for the Telegram client.
type Opts struct {
	Token  string
	ChatID int64
	Bot    BotAPI
	Debug  bool
}

// Option defines a configuration option for the Telegram client.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithChatID sets the chat notifications are posted to.
func WithChatID(id int64) Option {
	return func(o *Opts) { o.ChatID = id }
}

// WithBotAPI injects a ready bot, skipping token authentication.
func WithBotAPI(bot BotAPI) Option {
	return func(o *Opts) { o.Bot = bot }
}

// WithDebug enables request logging inside the bot library.
func WithDebug(debug bool) Option {
	return func(o *Opts) { o.Debug = debug }
}

// Client posts notifications to one chat and receives operator clicks.
type Client struct {
	bot    BotAPI
	chatID int64
}

// NewClient creates a Client. Without WithBotAPI it authenticates with the token.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ChatID == 0 {
		return nil, ErrNoChat
	}

	bot := cfg.Bot
	if bot == nil {
		if cfg.Token == "" {
			return nil, fmt.Errorf("telegram bot token must be provided")
		}
		api, err := tgbotapi.NewBotAPI(cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to authenticate telegram bot: %w", err)
		}
		api.Debug = cfg.Debug
		slog.Info("Telegram bot authorized", "username", api.Self.UserName)
		bot = api
	}

	return &Client{bot: bot, chatID: cfg.ChatID}, nil
}

func keyboard(controls []models.Control) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(controls))
	for _, c := range controls {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Data))
	}
	if len(row) == 0 {
		return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

// Send posts an HTML message with an optional row of controls and returns its handle.
func (c *Client) Send(ctx context.Context, text string, controls []models.Control) (models.Handle, error) {
	if err := ctx.Err(); err != nil {
		return models.Handle{}, err
	}
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if len(controls) > 0 {
		msg.ReplyMarkup = keyboard(controls)
	}

	sent, err := c.bot.Send(msg)
	if err != nil {
		slog.Error("Telegram.Send failed", "chat_id", c.chatID, "error", err)
		return models.Handle{}, fmt.Errorf("failed to send telegram message: %w", err)
	}
	h := models.Handle{ChatID: c.chatID, MessageID: sent.MessageID}
	if sent.Chat != nil {
		h.ChatID = sent.Chat.ID
	}
	slog.Debug("Telegram.Send: message sent", "handle", h.String())
	return h, nil
}

// EditControls replaces the controls of a sent message. An empty set removes them.
func (c *Client) EditControls(ctx context.Context, h models.Handle, controls []models.Control) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(h.ChatID, h.MessageID, keyboard(controls))
	if _, err := c.bot.Request(edit); err != nil {
		if isNotModified(err) {
			slog.Debug("Telegram.EditControls: markup unchanged", "handle", h.String())
			return nil
		}
		slog.Error("Telegram.EditControls failed", "handle", h.String(), "error", err)
		return fmt.Errorf("failed to edit telegram controls: %w", err)
	}
	return nil
}

// Answer acknowledges a callback query; text is shown as a toast.
func (c *Client) Answer(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		slog.Error("Telegram.Answer failed", "callback_id", callbackID, "error", err)
		return fmt.Errorf("failed to answer telegram callback: %w", err)
	}
	return nil
}

// Reply posts an HTML message replying to h.
func (c *Client) Reply(ctx context.Context, h models.Handle, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(h.ChatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyToMessageID = h.MessageID
	msg.DisableWebPagePreview = true
	if _, err := c.bot.Send(msg); err != nil {
		slog.Error("Telegram.Reply failed", "handle", h.String(), "error", err)
		return fmt.Errorf("failed to reply on telegram: %w", err)
	}
	return nil
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}

// CallbackFromUpdate extracts an operator click. It returns false for any
// other kind of update.
func CallbackFromUpdate(u tgbotapi.Update) (models.Callback, bool) {
	cq := u.CallbackQuery
	if cq == nil || cq.Message == nil || cq.Message.Chat == nil {
		return models.Callback{}, false
	}
	cb := models.Callback{
		ID:     cq.ID,
		Data:   cq.Data,
		Handle: models.Handle{ChatID: cq.Message.Chat.ID, MessageID: cq.Message.MessageID},
	}
	if cq.From != nil {
		cb.ActorID = cq.From.ID
		cb.ActorName = strings.TrimSpace(cq.From.FirstName + " " + cq.From.LastName)
		if cq.From.UserName != "" {
			cb.ActorName = "@" + cq.From.UserName
		}
	}
	return cb, true
}

// DecodeUpdate reads a webhook delivery body into an update.
func DecodeUpdate(r io.Reader) (tgbotapi.Update, error) {
	var u tgbotapi.Update
	if err := json.NewDecoder(r).Decode(&u); err != nil {
		return tgbotapi.Update{}, fmt.Errorf("failed to decode telegram update: %w", err)
	}
	return u, nil
}

// SetWebhook registers url as the update endpoint.
func (c *Client) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("invalid telegram webhook url: %w", err)
	}
	if _, err := c.bot.Request(wh); err != nil {
		return fmt.Errorf("failed to set telegram webhook: %w", err)
	}
	slog.Info("Telegram webhook registered")
	return nil
}

// CallbackFunc receives one operator click. It is called on the polling
// goroutine and must not block.
type CallbackFunc func(ctx context.Context, cb models.Callback)

// Poll long-polls for updates until ctx is done, passing every click to fn.
// Any registered webhook is removed first.
func (c *Client) Poll(ctx context.Context, fn CallbackFunc) error {
	if _, err := c.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("failed to remove telegram webhook: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"callback_query"}
	updates := c.bot.GetUpdatesChan(u)
	slog.Info("Telegram.Poll: receiving updates")

	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			slog.Info("Telegram.Poll: stopped")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if cb, ok := CallbackFromUpdate(upd); ok {
				fn(ctx, cb)
			}
		}
	}
}
