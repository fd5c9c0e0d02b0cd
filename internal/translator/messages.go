package translator

import (
	"strings"

	"pinyinbot/internal/domain"
)

// Fixed user-facing texts. The help text uses legacy Markdown.
const (
	HelpText = "🇨🇳 *Chinese to Pinyin Bot*\n\n" +
		"📸 Send me a photo of Chinese text and I'll provide the pinyin pronunciation!\n\n" +
		"*How to use:*\n" +
		"1. Take or select a photo with Chinese characters\n" +
		"2. Send it to me\n" +
		"3. Get instant pinyin translation\n\n" +
		"*Tips:*\n" +
		"• Clear, well-lit photos work best\n" +
		"• Avoid blurry or angled shots\n" +
		"• If image is too large, try taking photo at lower resolution\n" +
		"• I can handle menus, signs, and any Chinese text!"

	SendPhotoText = "📸 Please send me a photo with Chinese text to translate!"

	TranslationHeader = "📝 *Pinyin Translation:*"

	MsgConfiguration = "❌ Bot configuration error. Please contact support."
	MsgImageTooLarge = "❌ Image is too large. Please:\n" +
		"• Send a lower resolution photo\n" +
		"• Or crop the image to focus on the text\n" +
		"• Or take the photo from further away"
	MsgRateLimited = "❌ Too many requests. Please wait a moment and try again."
	MsgTimeout     = "⏳ That took too long. Please try again, ideally with a smaller or closer photo."
	MsgGeneric     = "❌ Sorry, something went wrong. Please try again!"
)

// UserMessage maps an error kind to the text sent back to the chat.
func UserMessage(kind domain.ErrorKind) string {
	switch kind {
	case domain.ErrConfiguration:
		return MsgConfiguration
	case domain.ErrImageTooLarge:
		return MsgImageTooLarge
	case domain.ErrRateLimited:
		return MsgRateLimited
	case domain.ErrTimeout:
		return MsgTimeout
	default:
		return MsgGeneric
	}
}

// FormatTranslation wraps a model answer under the reply header. The
// answer is escaped so stray Markdown in it cannot break delivery.
func FormatTranslation(text string) string {
	return TranslationHeader + "\n\n" + EscapeMarkdown(strings.TrimSpace(text))
}

var markdownEscaper = strings.NewReplacer(
	"`", "\\`",
	"_", "\\_",
	"*", "\\*",
	"[", "\\[",
)

// EscapeMarkdown escapes the characters that legacy Telegram Markdown
// treats as entity delimiters.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
