package channel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"pinyinbot/internal/domain"
	"pinyinbot/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
)

const (
	secretTokenHeader       = "X-Telegram-Bot-Api-Secret-Token"
	defaultWebhookBodyBytes = 1 << 20
)

// EventHandler processes one inbound event to completion.
type EventHandler interface {
	Handle(ctx context.Context, ev domain.InboundEvent) domain.Outcome
}

// UpdateClaimer reports whether an update id is seen for the first time.
type UpdateClaimer interface {
	Claim(ctx context.Context, updateID int) (bool, error)
}

type WebhookConfig struct {
	Handler      EventHandler
	SecretToken  string        // compared with X-Telegram-Bot-Api-Secret-Token when set
	Dedup        UpdateClaimer // optional
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Webhook receives Telegram updates. It answers 200 {"ok":true} to every
// POST, whatever happens downstream, so Telegram never redelivers an
// update because of a processing failure.
type Webhook struct {
	handler EventHandler
	secret  string
	dedup   UpdateClaimer
	maxBody int64
	logger  *slog.Logger
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultWebhookBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		handler: cfg.Handler,
		secret:  cfg.SecretToken,
		dedup:   cfg.Dedup,
		maxBody: cfg.MaxBodyBytes,
		logger:  cfg.Logger,
	}
}

func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.Header().Set("Allow", http.MethodPost)
		writeError(rw, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	defer r.Body.Close()

	if w.secret != "" {
		got := r.Header.Get(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(w.secret)) != 1 {
			w.logger.Warn("webhook secret token mismatch, update dropped", "remote", r.RemoteAddr)
			writeOK(rw)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, w.maxBody))
	if err != nil {
		w.logger.Warn("webhook body read failed", "err", err)
		writeOK(rw)
		return
	}

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		w.logger.Warn("webhook body is not a telegram update", "err", err, "bytes", len(body))
		writeOK(rw)
		return
	}

	// Processing outlives a client disconnect; the reply must still go out.
	ctx := context.WithoutCancel(r.Context())

	if w.dedup != nil && update.Message != nil {
		first, err := w.dedup.Claim(ctx, update.UpdateID)
		if err != nil {
			w.logger.Warn("update dedup unavailable, processing anyway", "update_id", update.UpdateID, "err", err)
		} else if !first {
			w.logger.Info("duplicate update skipped", "update_id", update.UpdateID)
			metrics.UpdateDuplicate()
			writeOK(rw)
			return
		}
	}

	ev := EventFromUpdate(update, uuid.NewString())
	w.handler.Handle(ctx, ev)
	writeOK(rw)
}

// EventFromUpdate converts a Telegram update into the platform-neutral
// event. Only the message field is considered.
func EventFromUpdate(u tgbotapi.Update, requestID string) domain.InboundEvent {
	ev := domain.InboundEvent{RequestID: requestID, UpdateID: u.UpdateID}
	m := u.Message
	if m == nil || m.Chat == nil {
		return ev
	}
	ev.ChatID = m.Chat.ID
	ev.HasChat = true
	ev.Text = m.Text
	if ev.Text == "" {
		ev.Text = m.Caption
	}
	for _, p := range m.Photo {
		ev.Photo = append(ev.Photo, domain.ImageVariant{
			FileID:       p.FileID,
			FileUniqueID: p.FileUniqueID,
			Width:        p.Width,
			Height:       p.Height,
			FileSize:     int64(p.FileSize),
		})
	}
	return ev
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(map[string]string{"error": msg})
}

func writeOK(rw http.ResponseWriter) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(rw, `{"ok":true}`)
}
