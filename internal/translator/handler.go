// Package translator turns one inbound chat event into exactly one reply:
// classify, fetch and prepare the photo, ask the vision provider, format.
package translator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"pinyinbot/internal/domain"
	"pinyinbot/internal/imaging"
	"pinyinbot/internal/metrics"
)

const (
	defaultTimeout      = 45 * time.Second
	defaultReplyTimeout = 10 * time.Second
)

// Recorder persists request outcomes. Failures must not affect the reply.
type Recorder interface {
	Record(ctx context.Context, o domain.Outcome) error
}

type Config struct {
	Messenger       domain.Messenger
	Provider        domain.VisionProvider
	Selector        *imaging.Selector
	Transformer     *imaging.Transformer // nil skips the resize stage
	Recorder        Recorder             // optional
	Prompt          string
	Model           string // optional: overrides the provider's default model
	ParseMode       string
	MaxEncodedBytes int64
	Timeout         time.Duration // bound on the photo flow
	ReplyTimeout    time.Duration
	Logger          *slog.Logger
}

// Handler runs the translation flow for one event at a time. It holds no
// per-request state and is safe for concurrent use.
type Handler struct {
	messenger    domain.Messenger
	provider     domain.VisionProvider
	selector     *imaging.Selector
	transformer  *imaging.Transformer
	recorder     Recorder
	prompt       string
	model        string
	parseMode    string
	maxEncoded   int64
	timeout      time.Duration
	replyTimeout time.Duration
	logger       *slog.Logger
}

func NewHandler(cfg Config) *Handler {
	if cfg.Selector == nil {
		cfg.Selector = imaging.NewSelector(imaging.SelectorConfig{})
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DetailedPrompt
	}
	if cfg.MaxEncodedBytes <= 0 {
		cfg.MaxEncodedBytes = 5 << 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = defaultReplyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		messenger:    cfg.Messenger,
		provider:     cfg.Provider,
		selector:     cfg.Selector,
		transformer:  cfg.Transformer,
		recorder:     cfg.Recorder,
		prompt:       cfg.Prompt,
		model:        cfg.Model,
		parseMode:    cfg.ParseMode,
		maxEncoded:   cfg.MaxEncodedBytes,
		timeout:      cfg.Timeout,
		replyTimeout: cfg.ReplyTimeout,
		logger:       cfg.Logger,
	}
}

// Handle processes one event. Every event with a chat gets exactly one
// send-message attempt; ignorable events get none. Handle never returns
// an error: failures are reported to the chat and in the Outcome.
func (h *Handler) Handle(ctx context.Context, ev domain.InboundEvent) (out domain.Outcome) {
	start := time.Now()
	c := Classify(ev)
	out = domain.Outcome{
		RequestID:      ev.RequestID,
		UpdateID:       ev.UpdateID,
		ChatID:         ev.ChatID,
		Source:         "webhook",
		Classification: c.Kind.String(),
		CreatedAt:      start.UTC(),
	}
	logger := h.logger.With("request_id", ev.RequestID, "update_id", ev.UpdateID, "chat_id", ev.ChatID)
	metrics.UpdateReceived(c.Kind.String())

	attempted := false
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling update", "panic", r)
			out.ErrorKind = domain.ErrInternal
			metrics.ErrorObserved(string(out.ErrorKind))
			if ev.HasChat && !attempted {
				out.Replied = h.reply(ctx, logger, domain.Reply{ChatID: ev.ChatID, Text: MsgGeneric})
			}
			out.Latency = time.Since(start)
			h.record(ctx, logger, out)
		}
	}()

	switch c.Kind {
	case KindIgnorable:
		logger.Debug("update ignored")
		return out

	case KindCommand:
		logger.Info("command received", "command", c.Command)
		attempted = true
		out.Replied = h.reply(ctx, logger, domain.Reply{ChatID: ev.ChatID, Text: HelpText, ParseMode: h.parseMode})

	case KindFreeText:
		attempted = true
		out.Replied = h.reply(ctx, logger, domain.Reply{ChatID: ev.ChatID, Text: SendPhotoText})

	case KindPhoto:
		logger.Info("photo received", "variants", len(ev.Photo))
		text, err := h.translatePhoto(ctx, logger, ev, &out)
		if err != nil {
			out.ErrorKind = domain.KindOf(err)
			h.logFailure(logger, out.ErrorKind, err)
			metrics.ErrorObserved(string(out.ErrorKind))
			attempted = true
			out.Replied = h.reply(ctx, logger, domain.Reply{ChatID: ev.ChatID, Text: UserMessage(out.ErrorKind)})
			break
		}
		attempted = true
		out.Replied = h.reply(ctx, logger, domain.Reply{ChatID: ev.ChatID, Text: FormatTranslation(text), ParseMode: h.parseMode})
	}

	out.Latency = time.Since(start)
	h.record(ctx, logger, out)
	return out
}

// translatePhoto runs Selecting → Fetching → Transforming → Translating
// under the request deadline. Each step runs once; the first failure ends
// the flow.
func (h *Handler) translatePhoto(parent context.Context, logger *slog.Logger, ev domain.InboundEvent, out *domain.Outcome) (string, error) {
	ctx, cancel := context.WithTimeout(parent, h.timeout)
	defer cancel()

	out.Provider = h.provider.Name()
	out.Model = h.modelName()
	start := time.Now()

	text, err := h.runPhoto(ctx, logger, ev, out)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = domain.Wrap(domain.ErrTimeout, err, "translation exceeded "+h.timeout.String())
	}

	status := "ok"
	if err != nil {
		status = string(domain.KindOf(err))
	}
	metrics.TranslationFinished(out.Provider, status, time.Since(start))
	return text, err
}

func (h *Handler) runPhoto(ctx context.Context, logger *slog.Logger, ev domain.InboundEvent, out *domain.Outcome) (string, error) {
	// A missing key is a deployment defect; fail before any download.
	if err := h.provider.Healthy(ctx); err != nil {
		return "", err
	}

	sel, err := h.selector.Select(ev.Photo)
	if err != nil {
		return "", err
	}
	out.VariantWidth, out.VariantHeight = sel.Variant.Width, sel.Variant.Height
	logger.Debug("variant selected",
		"width", sel.Variant.Width,
		"height", sel.Variant.Height,
		"estimate", sel.Estimate,
		"fallback", sel.Fallback,
	)

	file, err := h.messenger.ResolveFile(ctx, sel.Variant.FileID)
	if err != nil {
		return "", err
	}
	size := file.Size
	if size <= 0 {
		size = sel.Variant.FileSize
	}
	out.FileSize = size
	if err := h.selector.CheckActual(size); err != nil {
		return "", err
	}

	data, err := h.messenger.Download(ctx, file, h.selector.HardCeiling())
	if err != nil {
		return "", err
	}
	out.FileSize = int64(len(data))
	if err := h.selector.CheckActual(int64(len(data))); err != nil {
		return "", err
	}

	if err := h.messenger.SendTyping(ctx, ev.ChatID); err != nil {
		logger.Debug("typing indicator failed", "err", err)
	}

	img := h.prepare(logger, data)
	out.PayloadBytes = int64(len(img.Data))
	metrics.ImagePayload(len(img.Data))
	if img.EncodedLen() > h.maxEncoded {
		return "", &domain.Error{
			Kind:    domain.ErrImageTooLarge,
			Message: "encoded payload exceeds provider limit",
		}
	}

	resp, err := h.provider.Translate(ctx, domain.TranslateRequest{Image: img, Prompt: h.prompt, Model: h.model})
	if err != nil {
		return "", err
	}
	if resp.Model != "" {
		out.Model = resp.Model
	}
	logger.Info("translation complete",
		"provider", out.Provider,
		"model", out.Model,
		"latency_ms", resp.LatencyMs,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return resp.Text, nil
}

// TranslateBytes runs the prepare and translate stages on a local image,
// bypassing the chat platform. Used by the CLI.
func (h *Handler) TranslateBytes(ctx context.Context, data []byte) (string, domain.Outcome, error) {
	return h.translateImage(ctx, "cli", "", int64(len(data)), func() domain.Image {
		return h.prepare(h.logger, data)
	})
}

// TranslateImage sends img to the provider as it is, without resizing.
// Used by the direct endpoint.
func (h *Handler) TranslateImage(ctx context.Context, requestID string, img domain.Image) (string, domain.Outcome, error) {
	return h.translateImage(ctx, "direct", requestID, int64(len(img.Data)), func() domain.Image {
		return img
	})
}

func (h *Handler) translateImage(ctx context.Context, source, requestID string, size int64, load func() domain.Image) (string, domain.Outcome, error) {
	start := time.Now()
	out := domain.Outcome{
		RequestID:      requestID,
		Source:         source,
		Classification: KindPhoto.String(),
		FileSize:       size,
		Provider:       h.provider.Name(),
		Model:          h.modelName(),
		CreatedAt:      start.UTC(),
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	text, err := func() (string, error) {
		if err := h.provider.Healthy(ctx); err != nil {
			return "", err
		}
		img := load()
		out.PayloadBytes = int64(len(img.Data))
		out.VariantWidth, out.VariantHeight = img.Width, img.Height
		metrics.ImagePayload(len(img.Data))
		if img.EncodedLen() > h.maxEncoded {
			return "", domain.Errorf(domain.ErrImageTooLarge, "encoded payload is %d bytes, limit is %d", img.EncodedLen(), h.maxEncoded)
		}
		resp, err := h.provider.Translate(ctx, domain.TranslateRequest{Image: img, Prompt: h.prompt, Model: h.model})
		if err != nil {
			return "", err
		}
		if resp.Model != "" {
			out.Model = resp.Model
		}
		return resp.Text, nil
	}()
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = domain.Wrap(domain.ErrTimeout, err, "translation exceeded "+h.timeout.String())
	}
	status := "ok"
	if err != nil {
		status = string(domain.KindOf(err))
		metrics.ErrorObserved(status)
	}
	metrics.TranslationFinished(out.Provider, status, time.Since(start))

	out.ErrorKind = domain.KindOf(err)
	out.Latency = time.Since(start)
	h.record(ctx, h.logger, out)
	return text, out, err
}

func (h *Handler) modelName() string {
	if h.model != "" {
		return h.model
	}
	return h.provider.Model()
}

// prepare resizes and re-encodes when a transformer is configured. Bytes
// that cannot be decoded are sent as they are.
func (h *Handler) prepare(logger *slog.Logger, data []byte) domain.Image {
	raw := domain.Image{Data: data, MediaType: imaging.SniffMediaType(data)}
	if h.transformer == nil {
		return raw
	}
	img, err := h.transformer.Transform(data)
	if err != nil {
		logger.Warn("image transform failed, sending original bytes", "err", err, "bytes", len(data))
		return raw
	}
	logger.Debug("image transformed", "in_bytes", len(data), "out_bytes", len(img.Data), "width", img.Width, "height", img.Height)
	return img
}

// reply sends r once. It runs detached from ctx cancellation so a timed
// out flow can still tell the user.
func (h *Handler) reply(ctx context.Context, logger *slog.Logger, r domain.Reply) bool {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.replyTimeout)
	defer cancel()
	if err := h.messenger.SendMessage(rctx, r); err != nil {
		metrics.ReplyFailed()
		logger.Warn("reply failed", "err", err)
		return false
	}
	return true
}

func (h *Handler) record(ctx context.Context, logger *slog.Logger, out domain.Outcome) {
	if h.recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.replyTimeout)
	defer cancel()
	if err := h.recorder.Record(rctx, out); err != nil {
		logger.Warn("ledger write failed", "err", err)
	}
}

func (h *Handler) logFailure(logger *slog.Logger, kind domain.ErrorKind, err error) {
	if kind == domain.ErrConfiguration {
		logger.Error("translation failed: configuration error, check provider API key", "kind", kind, "err", err)
		return
	}
	logger.Warn("translation failed", "kind", kind, "err", err)
}
