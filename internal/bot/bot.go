// Package bot adapts Telegram updates to the assistant service.
//
// Each update is handled in its own goroutine. A panic or error while
// handling one user's message never affects other users.
package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/DukeRupert/askbot/internal/ai"
	"github.com/DukeRupert/askbot/internal/domain"
	"github.com/DukeRupert/askbot/internal/metrics"
	"github.com/DukeRupert/askbot/internal/service"
)

// Payment modes for tier buttons.
const (
	// PaymentsDemo grants the tier as soon as its button is pressed.
	PaymentsDemo = "demo"
	// PaymentsManual only explains how to pay; the operator grants the
	// subscription out of band.
	PaymentsManual = "manual"
)

// maxMessageLength is Telegram's limit for a single text message.
const maxMessageLength = 4096

// Client is the subset of *tgbotapi.BotAPI used by the dispatcher.
type Client interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Assistant is the service the dispatcher drives. *service.Assistant
// satisfies it.
type Assistant interface {
	Ask(ctx context.Context, req service.AskRequest) (*service.Reply, error)
	Start(ctx context.Context, userID int64, username string) (*service.Welcome, error)
	Stats(ctx context.Context, userID int64, username string) (*service.UserStats, error)
	Purchase(ctx context.Context, userID int64, username, tierID string) (*service.Confirmation, error)
	Tiers() []domain.SubscriptionTier
}

// Config configures the dispatcher.
type Config struct {
	PaymentsMode string
	Locale       string
	FloodRate    float64 // Messages per second per user; 0 disables the guard
	FloodBurst   int
	MaxPhotoSize int64 // Defaults to ai.MaxImageSize
}

// Bot dispatches updates.
type Bot struct {
	client    Client
	assistant Assistant
	render    *Renderer
	flood     *FloodGuard
	http      *http.Client
	config    Config
	logger    *slog.Logger

	wg sync.WaitGroup
}

// New creates a Bot.
func New(client Client, assistant Assistant, config Config, logger *slog.Logger) (*Bot, error) {
	switch config.PaymentsMode {
	case "":
		config.PaymentsMode = PaymentsDemo
	case PaymentsDemo, PaymentsManual:
	default:
		return nil, fmt.Errorf("unknown payments mode %q", config.PaymentsMode)
	}
	if config.MaxPhotoSize <= 0 {
		config.MaxPhotoSize = ai.MaxImageSize
	}

	return &Bot{
		client:    client,
		assistant: assistant,
		render:    NewRenderer(config.Locale),
		flood:     NewFloodGuard(config.FloodRate, config.FloodBurst),
		http:      &http.Client{Timeout: 30 * time.Second},
		config:    config,
		logger:    logger,
	}, nil
}

// Run handles updates until ctx is cancelled or the channel closes, then
// waits for in-flight handlers to finish.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	defer b.flood.Stop()

	// Handlers outlive shutdown so an answered request is still delivered.
	handlerCtx := context.WithoutCancel(ctx)

	b.logger.Info("Bot started", "payments_mode", b.config.PaymentsMode)
	for {
		select {
		case <-ctx.Done():
			b.wg.Wait()
			b.logger.Info("Bot stopped")
			return nil
		case u, ok := <-updates:
			if !ok {
				b.wg.Wait()
				b.logger.Info("Update channel closed")
				return nil
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleUpdate(handlerCtx, u)
			}()
		}
	}
}

// HandleUpdate processes one update, recovering from panics.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	metrics.UpdatesInFlight.Inc()
	defer metrics.UpdatesInFlight.Dec()

	defer func() {
		if r := recover(); r != nil {
			metrics.UpdatePanicsTotal.Inc()
			b.logger.Error("panic while handling update", "update_id", u.UpdateID, "panic", r)
		}
	}()

	switch {
	case u.CallbackQuery != nil:
		metrics.UpdatesTotal.WithLabelValues("callback").Inc()
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.From != nil:
		b.handleMessage(ctx, u.Message)
	default:
		metrics.UpdatesTotal.WithLabelValues("other").Inc()
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if ok, warn := b.flood.Allow(msg.From.ID); !ok {
		metrics.FloodDroppedTotal.Inc()
		b.logger.Debug("flood guard dropped message", "user_id", msg.From.ID)
		if warn {
			b.send(msg.Chat.ID, userMessage(domain.RateLimit("bot.flood")), nil)
		}
		return
	}

	switch {
	case msg.IsCommand():
		metrics.UpdatesTotal.WithLabelValues("command").Inc()
		b.handleCommand(ctx, msg)
	case len(msg.Photo) > 0:
		metrics.UpdatesTotal.WithLabelValues("photo").Inc()
		b.handlePhoto(ctx, msg)
	case msg.Text != "":
		metrics.UpdatesTotal.WithLabelValues("text").Inc()
		b.ask(ctx, msg, service.AskRequest{
			Kind: domain.RequestKindText,
			Text: msg.Text,
		})
	default:
		metrics.UpdatesTotal.WithLabelValues("other").Inc()
		b.send(msg.Chat.ID, "I can answer text messages and photos.", nil)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	user := msg.From
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		w, err := b.assistant.Start(ctx, user.ID, user.UserName)
		if err != nil {
			b.fail(chatID, user.ID, err)
			return
		}
		b.send(chatID, b.render.Welcome(user.FirstName, w), b.render.Keyboard(w.Tiers))

	case "stats":
		s, err := b.assistant.Stats(ctx, user.ID, user.UserName)
		if err != nil {
			b.fail(chatID, user.ID, err)
			return
		}
		b.send(chatID, b.render.Stats(s), nil)

	case "plans", "subscribe":
		b.send(chatID, b.render.Plans(), b.render.Keyboard(b.assistant.Tiers()))

	default:
		b.send(chatID, "Unknown command. Try /start, /stats or /plans.", nil)
	}
}

func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	// Sizes are ordered smallest first.
	photo := msg.Photo[len(msg.Photo)-1]
	if int64(photo.FileSize) > b.config.MaxPhotoSize {
		b.send(msg.Chat.ID, "This photo is too large.", nil)
		return
	}

	data, err := b.download(ctx, photo.FileID)
	if err != nil {
		b.logger.Warn("failed to download photo", "user_id", msg.From.ID, "error", err)
		b.send(msg.Chat.ID, "I could not download this photo. Please try again.", nil)
		return
	}

	b.ask(ctx, msg, service.AskRequest{
		Kind:        domain.RequestKindImage,
		Text:        msg.Caption,
		ImageData:   data,
		ContentType: http.DetectContentType(data),
	})
}

// download fetches a file from Telegram, bounded by MaxPhotoSize.
func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.client.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, b.config.MaxPhotoSize+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > b.config.MaxPhotoSize {
		return nil, fmt.Errorf("file exceeds %d bytes", b.config.MaxPhotoSize)
	}
	return data, nil
}

func (b *Bot) ask(ctx context.Context, msg *tgbotapi.Message, req service.AskRequest) {
	chatID := msg.Chat.ID
	req.UserID = msg.From.ID
	req.Username = msg.From.UserName
	req.OnAdmitted = func() {
		if _, err := b.client.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
			b.logger.Debug("failed to send typing action", "error", err)
		}
	}

	reply, err := b.assistant.Ask(ctx, req)
	if err != nil {
		b.fail(chatID, req.UserID, err)
		return
	}

	if reply.Denied {
		b.send(chatID, b.render.Denied(reply), b.render.Keyboard(reply.Tiers))
		return
	}

	for i, chunk := range splitMessage(reply.Text, maxMessageLength) {
		if i == 0 {
			b.reply(msg, chunk)
			continue
		}
		b.send(chatID, chunk, nil)
	}
	if followUp := b.render.Remaining(reply); followUp != "" {
		b.send(chatID, followUp, nil)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if _, err := b.client.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		b.logger.Debug("failed to answer callback", "error", err)
	}
	if cq.From == nil {
		return
	}

	chatID := cq.From.ID
	if cq.Message != nil && cq.Message.Chat != nil {
		chatID = cq.Message.Chat.ID
	}

	tierID, ok := tierFromCallback(cq.Data)
	if !ok {
		b.logger.Debug("ignoring callback", "data", cq.Data)
		return
	}

	if b.config.PaymentsMode == PaymentsManual {
		for _, t := range b.assistant.Tiers() {
			if t.ID == tierID {
				b.send(chatID, b.render.ManualPayment(t), nil)
				return
			}
		}
		b.fail(chatID, cq.From.ID, domain.InvalidTier("bot.callback", tierID))
		return
	}

	c, err := b.assistant.Purchase(ctx, cq.From.ID, cq.From.UserName, tierID)
	if err != nil {
		b.fail(chatID, cq.From.ID, err)
		return
	}
	b.send(chatID, b.render.Purchased(c), nil)
}

// fail logs err and shows the user a safe message.
func (b *Bot) fail(chatID, userID int64, err error) {
	b.logger.Warn("request failed",
		"user_id", userID,
		"code", domain.ErrorCode(err),
		"op", domain.ErrorOp(err),
		"error", err,
	)
	b.send(chatID, userMessage(err), nil)
}

func (b *Bot) send(chatID int64, text string, markup interface{}) {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := b.client.Send(msg); err != nil {
		b.logger.Error("failed to send message", "chat_id", chatID, "error", err)
	}
}

// reply answers msg in its thread.
func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	if _, err := b.client.Send(out); err != nil {
		b.logger.Error("failed to send message", "chat_id", msg.Chat.ID, "error", err)
	}
}

// splitMessage cuts text into chunks of at most limit bytes without
// splitting a UTF-8 sequence, preferring newline boundaries.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		for i := cut - 1; i > cut/2; i-- {
			if text[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
