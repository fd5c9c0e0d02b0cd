package domain

import "context"

// Messenger is the chat platform as seen by the translation flow.
// Download reads at most limit+1 bytes so callers can detect oversize files.
type Messenger interface {
	ResolveFile(ctx context.Context, fileID string) (*FileInfo, error)
	Download(ctx context.Context, file *FileInfo, limit int64) ([]byte, error)
	SendTyping(ctx context.Context, chatID int64) error
	SendMessage(ctx context.Context, reply Reply) error
}

// FileInfo is the platform's answer to a file metadata lookup.
// Path is only valid for a short, platform-defined lifetime.
type FileInfo struct {
	FileID string
	Path   string
	Size   int64 // 0 when the platform did not report it
}

// Reply is the single outbound message produced for an inbound event.
type Reply struct {
	ChatID    int64
	Text      string
	ParseMode string // "" sends plain text
}
