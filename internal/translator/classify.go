package translator

import (
	"strings"

	"pinyinbot/internal/domain"
)

// Kind is the classification of an inbound event.
type Kind int

const (
	KindIgnorable Kind = iota
	KindPhoto
	KindCommand
	KindFreeText
)

func (k Kind) String() string {
	switch k {
	case KindPhoto:
		return "photo"
	case KindCommand:
		return "command"
	case KindFreeText:
		return "free_text"
	default:
		return "ignorable"
	}
}

// Classification is the result of Classify. Command is set for KindCommand
// and is always lower case without the leading slash.
type Classification struct {
	Kind    Kind
	Command string
}

// Classify decides how an event is handled. It has no side effects.
//
// Events without a chat are ignorable. A photo wins over any caption.
// /start and /help (any case, optional @botname suffix) are commands;
// everything else, including stickers and other non-text messages, is
// free text that gets the "send a photo" prompt.
func Classify(ev domain.InboundEvent) Classification {
	if !ev.HasChat {
		return Classification{Kind: KindIgnorable}
	}
	if len(ev.Photo) > 0 {
		return Classification{Kind: KindPhoto}
	}
	if cmd := commandName(ev.Text); cmd == "start" || cmd == "help" {
		return Classification{Kind: KindCommand, Command: cmd}
	}
	return Classification{Kind: KindFreeText}
}

func commandName(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	word := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(word, '@'); at >= 0 {
		word = word[:at]
	}
	return strings.ToLower(word)
}
