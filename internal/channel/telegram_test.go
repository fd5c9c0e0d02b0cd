package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"pinyinbot/internal/domain"
)

const testToken = "123456:TEST-token"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type botCall struct {
	Method string
	Form   url.Values
}

// fakeBotAPI serves the handful of Bot API methods the bot uses plus the
// file endpoint.
type fakeBotAPI struct {
	t   *testing.T
	srv *httptest.Server

	mu    sync.Mutex
	calls []botCall
	files int

	fileSize    int
	fileBody    []byte
	fileLength  int // non-zero: advertised Content-Length of the file body
	fileStatus  int
	getFileErr  string // non-empty: getFile answers ok=false
	sendMsgErr  string // non-empty: sendMessage answers ok=false
	sendMsgWait time.Duration
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	f := &fakeBotAPI{t: t, fileStatus: http.StatusOK}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBotAPI) apiEndpoint() string  { return f.srv.URL + "/bot%s/%s" }
func (f *fakeBotAPI) fileEndpoint() string { return f.srv.URL + "/file/bot%s/%s" }

func (f *fakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	if p, ok := strings.CutPrefix(r.URL.Path, "/file/bot"+testToken+"/"); ok {
		f.mu.Lock()
		f.files++
		f.mu.Unlock()
		if p == "" {
			http.NotFound(w, r)
			return
		}
		if f.fileLength > 0 {
			w.Header().Set("Content-Length", strconv.Itoa(f.fileLength))
		}
		w.WriteHeader(f.fileStatus)
		_, _ = w.Write(f.fileBody)
		return
	}

	method, ok := strings.CutPrefix(r.URL.Path, "/bot"+testToken+"/")
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprint(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
		return
	}
	if err := r.ParseForm(); err != nil {
		f.t.Errorf("parse form: %v", err)
	}
	f.mu.Lock()
	f.calls = append(f.calls, botCall{Method: method, Form: r.PostForm})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		_, _ = fmt.Fprint(w, `{"ok":true,"result":{"id":777,"is_bot":true,"first_name":"Pinyin","username":"pinyin_bot"}}`)
	case "getFile":
		if f.getFileErr != "" {
			_, _ = fmt.Fprintf(w, `{"ok":false,"error_code":400,"description":%q}`, f.getFileErr)
			return
		}
		id := r.PostForm.Get("file_id")
		_, _ = fmt.Fprintf(w, `{"ok":true,"result":{"file_id":%q,"file_unique_id":"u-%s","file_size":%d,"file_path":"photos/%s.jpg"}}`,
			id, id, f.fileSize, id)
	case "sendMessage":
		if f.sendMsgWait > 0 {
			time.Sleep(f.sendMsgWait)
		}
		if f.sendMsgErr != "" {
			_, _ = fmt.Fprintf(w, `{"ok":false,"error_code":400,"description":%q}`, f.sendMsgErr)
			return
		}
		_, _ = fmt.Fprintf(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":%s,"type":"private"}}}`,
			r.PostForm.Get("chat_id"))
	case "sendChatAction", "setWebhook", "deleteWebhook":
		_, _ = fmt.Fprint(w, `{"ok":true,"result":true}`)
	case "getWebhookInfo":
		_, _ = fmt.Fprint(w, `{"ok":true,"result":{"url":"https://bot.example.com/webhook/telegram","has_custom_certificate":false,"pending_update_count":2}}`)
	default:
		_, _ = fmt.Fprintf(w, `{"ok":false,"error_code":404,"description":"Not Found: method %s"}`, method)
	}
}

// callsExceptGetMe returns the recorded Bot API calls after startup.
func (f *fakeBotAPI) callsExceptGetMe() []botCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []botCall
	for _, c := range f.calls {
		if c.Method != "getMe" {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeBotAPI) fileDownloads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files
}

func newTestTelegram(t *testing.T, f *fakeBotAPI) *Telegram {
	t.Helper()
	tg, err := NewTelegram(TelegramConfig{
		Token:        testToken,
		APIEndpoint:  f.apiEndpoint(),
		FileEndpoint: f.fileEndpoint(),
		Client:       f.srv.Client(),
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	return tg
}

func TestNewTelegram_ChecksToken(t *testing.T) {
	f := newFakeBotAPI(t)
	tg := newTestTelegram(t, f)
	if tg.Username() != "pinyin_bot" {
		t.Errorf("username = %q", tg.Username())
	}

	_, err := NewTelegram(TelegramConfig{Token: "", Logger: testLogger()})
	if domain.KindOf(err) != domain.ErrConfiguration {
		t.Errorf("empty token: kind = %s", domain.KindOf(err))
	}

	_, err = NewTelegram(TelegramConfig{
		Token:       "wrong:token",
		APIEndpoint: f.apiEndpoint(),
		Client:      f.srv.Client(),
		Logger:      testLogger(),
	})
	if err == nil {
		t.Error("bad token should fail getMe")
	}
}

func TestTelegram_ResolveFile(t *testing.T) {
	f := newFakeBotAPI(t)
	f.fileSize = 123_456
	tg := newTestTelegram(t, f)

	info, err := tg.ResolveFile(context.Background(), "AgADx")
	if err != nil {
		t.Fatalf("ResolveFile: %v", err)
	}
	if info.Path != "photos/AgADx.jpg" || info.Size != 123_456 || info.FileID != "AgADx" {
		t.Errorf("info = %+v", info)
	}
}

func TestTelegram_ResolveFileError(t *testing.T) {
	f := newFakeBotAPI(t)
	f.getFileErr = "Bad Request: invalid file_id"
	tg := newTestTelegram(t, f)

	_, err := tg.ResolveFile(context.Background(), "nope")
	if domain.KindOf(err) != domain.ErrFileResolution {
		t.Fatalf("kind = %s, want file_resolution", domain.KindOf(err))
	}
	if !strings.Contains(err.Error(), "invalid file_id") {
		t.Errorf("error lost upstream description: %v", err)
	}
}

func TestTelegram_TransportErrorHidesToken(t *testing.T) {
	f := newFakeBotAPI(t)
	tg := newTestTelegram(t, f)
	f.srv.Close()

	_, err := tg.ResolveFile(context.Background(), "AgADx")
	if domain.KindOf(err) != domain.ErrFileResolution {
		t.Fatalf("kind = %s", domain.KindOf(err))
	}
	if strings.Contains(err.Error(), testToken) {
		t.Errorf("error leaks bot token: %v", err)
	}
}

func TestTelegram_Download(t *testing.T) {
	f := newFakeBotAPI(t)
	f.fileBody = []byte("\xff\xd8\xff\xe0 jpeg body")
	tg := newTestTelegram(t, f)

	data, err := tg.Download(context.Background(), &domain.FileInfo{Path: "photos/a.jpg"}, 1<<20)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != string(f.fileBody) {
		t.Errorf("data = %q", data)
	}
}

func TestTelegram_DownloadReadsAtMostLimitPlusOne(t *testing.T) {
	f := newFakeBotAPI(t)
	f.fileBody = make([]byte, 5000)
	tg := newTestTelegram(t, f)

	data, err := tg.Download(context.Background(), &domain.FileInfo{Path: "photos/big.jpg"}, 1000)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(data) != 1001 {
		t.Errorf("read %d bytes, want 1001", len(data))
	}
}

func TestTelegram_DownloadStatusError(t *testing.T) {
	f := newFakeBotAPI(t)
	f.fileStatus = http.StatusNotFound
	tg := newTestTelegram(t, f)

	_, err := tg.Download(context.Background(), &domain.FileInfo{Path: "photos/gone.jpg"}, 1<<20)
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind != domain.ErrDownload || de.Status != http.StatusNotFound {
		t.Fatalf("err = %v", err)
	}
	if strings.Contains(err.Error(), testToken) {
		t.Errorf("error leaks bot token: %v", err)
	}
}

func TestTelegram_DownloadShortRead(t *testing.T) {
	f := newFakeBotAPI(t)
	f.fileBody = []byte("abc")
	f.fileLength = 1000
	tg := newTestTelegram(t, f)

	data, err := tg.Download(context.Background(), &domain.FileInfo{Path: "photos/cut.jpg"}, 1<<20)
	if domain.KindOf(err) != domain.ErrDownload {
		t.Fatalf("err = %v (data %d bytes), want download error", err, len(data))
	}
	if data != nil {
		t.Errorf("data = %q, want nil", data)
	}
	if strings.Contains(err.Error(), testToken) {
		t.Errorf("error leaks bot token: %v", err)
	}
}

func TestTelegram_SendMessage(t *testing.T) {
	f := newFakeBotAPI(t)
	tg := newTestTelegram(t, f)

	err := tg.SendMessage(context.Background(), domain.Reply{ChatID: 1001, Text: "📝 *Pinyin Translation:*", ParseMode: "Markdown"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	calls := f.callsExceptGetMe()
	if len(calls) != 1 || calls[0].Method != "sendMessage" {
		t.Fatalf("calls = %+v", calls)
	}
	form := calls[0].Form
	if form.Get("chat_id") != "1001" || form.Get("parse_mode") != "Markdown" || form.Get("text") != "📝 *Pinyin Translation:*" {
		t.Errorf("form = %v", form)
	}
}

func TestTelegram_SendMessagePlainHasNoParseMode(t *testing.T) {
	f := newFakeBotAPI(t)
	tg := newTestTelegram(t, f)

	if err := tg.SendMessage(context.Background(), domain.Reply{ChatID: 5, Text: "plain"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if pm := f.callsExceptGetMe()[0].Form.Get("parse_mode"); pm != "" {
		t.Errorf("parse_mode = %q, want empty", pm)
	}
}

func TestTelegram_SendMessageRejectedIsNotRetried(t *testing.T) {
	f := newFakeBotAPI(t)
	f.sendMsgErr = "Bad Request: can't parse entities"
	tg := newTestTelegram(t, f)

	err := tg.SendMessage(context.Background(), domain.Reply{ChatID: 5, Text: "*broken", ParseMode: "Markdown"})
	if err == nil || !strings.Contains(err.Error(), "can't parse entities") {
		t.Fatalf("err = %v", err)
	}
	if n := len(f.callsExceptGetMe()); n != 1 {
		t.Errorf("sendMessage attempts = %d, want 1", n)
	}
}

func TestTelegram_SendMessageHonoursContext(t *testing.T) {
	f := newFakeBotAPI(t)
	f.sendMsgWait = 500 * time.Millisecond
	tg := newTestTelegram(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := tg.SendMessage(ctx, domain.Reply{ChatID: 5, Text: "slow"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 400*time.Millisecond {
		t.Error("SendMessage did not return at the deadline")
	}
}

func TestTelegram_SendTyping(t *testing.T) {
	f := newFakeBotAPI(t)
	tg := newTestTelegram(t, f)

	if err := tg.SendTyping(context.Background(), 42); err != nil {
		t.Fatalf("SendTyping: %v", err)
	}
	c := f.callsExceptGetMe()[0]
	if c.Method != "sendChatAction" || c.Form.Get("action") != "typing" || c.Form.Get("chat_id") != "42" {
		t.Errorf("call = %+v", c)
	}
}

func TestTelegram_SetWebhook(t *testing.T) {
	f := newFakeBotAPI(t)
	tg := newTestTelegram(t, f)

	err := tg.SetWebhook(context.Background(), WebhookOptions{
		URL:                "https://bot.example.com/webhook/telegram",
		SecretToken:        "s3cret",
		DropPendingUpdates: true,
	})
	if err != nil {
		t.Fatalf("SetWebhook: %v", err)
	}
	c := f.callsExceptGetMe()[0]
	if c.Method != "setWebhook" {
		t.Fatalf("method = %s", c.Method)
	}
	if c.Form.Get("url") != "https://bot.example.com/webhook/telegram" ||
		c.Form.Get("secret_token") != "s3cret" ||
		c.Form.Get("drop_pending_updates") != "true" {
		t.Errorf("form = %v", c.Form)
	}
	var allowed []string
	if err := json.Unmarshal([]byte(c.Form.Get("allowed_updates")), &allowed); err != nil || len(allowed) != 1 || allowed[0] != "message" {
		t.Errorf("allowed_updates = %q", c.Form.Get("allowed_updates"))
	}
}

func TestTelegram_WebhookInfo(t *testing.T) {
	f := newFakeBotAPI(t)
	tg := newTestTelegram(t, f)

	info, err := tg.WebhookInfo(context.Background())
	if err != nil {
		t.Fatalf("WebhookInfo: %v", err)
	}
	if info.URL != "https://bot.example.com/webhook/telegram" || info.PendingUpdateCount != 2 {
		t.Errorf("info = %+v", info)
	}
	if err := tg.DeleteWebhook(context.Background(), false); err != nil {
		t.Errorf("DeleteWebhook: %v", err)
	}
}
