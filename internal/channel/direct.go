package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"pinyinbot/internal/domain"
	"pinyinbot/internal/imaging"
	"pinyinbot/internal/metrics"

	"github.com/google/uuid"
)

const defaultDirectBodyBytes = 10 << 20

// ImageTranslator translates an image supplied directly by an HTTP client.
type ImageTranslator interface {
	TranslateImage(ctx context.Context, requestID string, img domain.Image) (string, domain.Outcome, error)
}

type DirectConfig struct {
	Translator       ImageTranslator
	DefaultMediaType string // used when neither the body nor a data URL names one
	MaxBodyBytes     int64
	Logger           *slog.Logger
}

// Direct is the browser-facing translate endpoint. It takes a base64
// image and answers with the translation as plain text.
type Direct struct {
	translator ImageTranslator
	mediaType  string
	maxBody    int64
	logger     *slog.Logger
}

type directRequest struct {
	Image    string `json:"image"`
	MimeType string `json:"mimeType,omitempty"`
}

func NewDirect(cfg DirectConfig) *Direct {
	if cfg.DefaultMediaType == "" {
		cfg.DefaultMediaType = "image/png"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultDirectBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Direct{
		translator: cfg.Translator,
		mediaType:  cfg.DefaultMediaType,
		maxBody:    cfg.MaxBodyBytes,
		logger:     cfg.Logger,
	}
}

func (d *Direct) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	h := rw.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")

	switch r.Method {
	case http.MethodOptions:
		rw.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		d.fail(rw, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, d.maxBody+1))
	if err != nil {
		d.fail(rw, http.StatusBadRequest, "Could not read request body")
		return
	}
	if int64(len(body)) > d.maxBody {
		d.fail(rw, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}

	var req directRequest
	if err := json.Unmarshal(body, &req); err != nil {
		d.fail(rw, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Image == "" {
		d.fail(rw, http.StatusBadRequest, "No image data provided")
		return
	}

	data, hint, err := imaging.DecodeBase64MaybeDataURL(req.Image)
	if err != nil || len(data) == 0 {
		d.fail(rw, http.StatusBadRequest, "Invalid image data: expected base64")
		return
	}
	img := domain.Image{
		Data:      data,
		MediaType: imaging.PickMediaType(req.MimeType, hint, d.mediaType),
	}

	requestID := uuid.NewString()
	logger := d.logger.With("request_id", requestID)
	logger.Info("direct translate request", "bytes", len(data), "media_type", img.MediaType)

	text, out, err := d.translator.TranslateImage(r.Context(), requestID, img)
	if err != nil {
		status, msg := directError(err)
		if out.ErrorKind == domain.ErrConfiguration {
			logger.Error("direct translate failed", "kind", out.ErrorKind, "err", err)
		} else {
			logger.Warn("direct translate failed", "kind", out.ErrorKind, "status", status, "err", err)
		}
		d.fail(rw, status, msg)
		return
	}

	metrics.DirectRequest(http.StatusOK)
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(rw, text)
}

// directError maps a flow error to the HTTP status and message returned
// to the caller.
func directError(err error) (int, string) {
	var de *domain.Error
	errors.As(err, &de)

	switch domain.KindOf(err) {
	case domain.ErrConfiguration:
		return http.StatusInternalServerError, "Server configuration error: API key not found"
	case domain.ErrRateLimited:
		return http.StatusTooManyRequests, "API Error: " + errorDetail(de, err)
	case domain.ErrImageTooLarge:
		return http.StatusRequestEntityTooLarge, "Image is too large: " + errorDetail(de, err)
	case domain.ErrTimeout:
		return http.StatusGatewayTimeout, "Translation timed out"
	case domain.ErrCompletionAPI:
		status := http.StatusBadGateway
		if de != nil && de.Status >= 400 {
			status = de.Status
		}
		return status, "API Error: " + errorDetail(de, err)
	case domain.ErrMalformedResponse:
		return http.StatusInternalServerError, "Unexpected response format from API"
	default:
		return http.StatusInternalServerError, "Translation failed: " + err.Error()
	}
}

func errorDetail(de *domain.Error, err error) string {
	if de != nil && de.Message != "" {
		return de.Message
	}
	return err.Error()
}

func (d *Direct) fail(rw http.ResponseWriter, status int, msg string) {
	metrics.DirectRequest(status)
	writeError(rw, status, msg)
}
