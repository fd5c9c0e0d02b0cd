package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"pinyinbot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	DefaultAPIEndpoint  = tgbotapi.APIEndpoint
	DefaultFileEndpoint = tgbotapi.FileEndpoint

	telegramHTTPTimeout = 30 * time.Second
)

// Telegram implements domain.Messenger on the Bot API.
type Telegram struct {
	token        string
	fileEndpoint string
	bot          *tgbotapi.BotAPI
	client       *http.Client
	logger       *slog.Logger
}

type TelegramConfig struct {
	Token        string
	APIEndpoint  string // fmt pattern: token, method
	FileEndpoint string // fmt pattern: token, file path
	Client       *http.Client
	Logger       *slog.Logger
}

// NewTelegram connects to the Bot API. The token is checked with getMe.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, domain.Errorf(domain.ErrConfiguration, "telegram bot token is not set")
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = DefaultAPIEndpoint
	}
	if cfg.FileEndpoint == "" {
		cfg.FileEndpoint = DefaultFileEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: telegramHTTPTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, cfg.Client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return &Telegram{
		token:        cfg.Token,
		fileEndpoint: cfg.FileEndpoint,
		bot:          bot,
		client:       cfg.Client,
		logger:       cfg.Logger,
	}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// Username returns the bot's @name as reported by getMe.
func (t *Telegram) Username() string { return t.bot.Self.UserName }

// ResolveFile looks up the download path of a file with getFile.
func (t *Telegram) ResolveFile(ctx context.Context, fileID string) (*domain.FileInfo, error) {
	var f tgbotapi.File
	err := withContext(ctx, func() error {
		var err error
		f, err = t.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.Wrap(domain.ErrFileResolution, redact(err), "getFile failed")
	}
	if f.FilePath == "" {
		return nil, domain.Errorf(domain.ErrFileResolution, "getFile returned no file path for %s", fileID)
	}
	return &domain.FileInfo{FileID: f.FileID, Path: f.FilePath, Size: int64(f.FileSize)}, nil
}

// Download fetches the file body, reading at most limit+1 bytes.
func (t *Telegram) Download(ctx context.Context, file *domain.FileInfo, limit int64) ([]byte, error) {
	fileURL := fmt.Sprintf(t.fileEndpoint, t.token, file.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, domain.Wrap(domain.ErrDownload, err, "build download request")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.Wrap(domain.ErrDownload, redact(err), "file download failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.Error{
			Kind:    domain.ErrDownload,
			Status:  resp.StatusCode,
			Message: "file download returned " + resp.Status,
		}
	}

	// A body shorter than its Content-Length fails here with io.ErrUnexpectedEOF.
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.Wrap(domain.ErrDownload, redact(err), "read file body")
	}
	return data, nil
}

// SendTyping shows the "typing" chat action. Failures are only logged by
// the caller.
func (t *Telegram) SendTyping(ctx context.Context, chatID int64) error {
	return withContext(ctx, func() error {
		_, err := t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
		return err
	})
}

// SendMessage sends one message. There is no retry and no plain-text
// fallback: a rejected message is reported to the caller.
func (t *Telegram) SendMessage(ctx context.Context, r domain.Reply) error {
	msg := tgbotapi.NewMessage(r.ChatID, r.Text)
	msg.ParseMode = r.ParseMode
	err := withContext(ctx, func() error {
		_, err := t.bot.Send(msg)
		return err
	})
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			return fmt.Errorf("sendMessage: telegram error %d: %s", apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("sendMessage: %w", redact(err))
	}
	return nil
}

// WebhookOptions are the setWebhook parameters this bot uses.
type WebhookOptions struct {
	URL                string
	SecretToken        string
	DropPendingUpdates bool
}

// SetWebhook registers url with Telegram. The library's WebhookConfig
// predates secret_token, so the request is built by hand.
func (t *Telegram) SetWebhook(ctx context.Context, opts WebhookOptions) error {
	params := tgbotapi.Params{"url": opts.URL}
	params.AddNonEmpty("secret_token", opts.SecretToken)
	params.AddBool("drop_pending_updates", opts.DropPendingUpdates)
	params["allowed_updates"] = `["message"]`

	err := withContext(ctx, func() error {
		_, err := t.bot.MakeRequest("setWebhook", params)
		return err
	})
	if err != nil {
		return fmt.Errorf("setWebhook: %w", redact(err))
	}
	t.logger.Info("telegram webhook registered", "url", opts.URL, "secret", opts.SecretToken != "")
	return nil
}

// DeleteWebhook removes the registered webhook.
func (t *Telegram) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return withContext(ctx, func() error {
		_, err := t.bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: dropPending})
		return err
	})
}

// WebhookInfo reports the webhook Telegram currently has on file.
func (t *Telegram) WebhookInfo(ctx context.Context) (tgbotapi.WebhookInfo, error) {
	var info tgbotapi.WebhookInfo
	err := withContext(ctx, func() error {
		var err error
		info, err = t.bot.GetWebhookInfo()
		return err
	})
	return info, err
}

// withContext runs fn and returns early when ctx ends first. tgbotapi
// calls take no context; the http.Client timeout bounds the abandoned call.
func withContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// redact strips the request URL from transport errors. Bot API URLs
// embed the token.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
