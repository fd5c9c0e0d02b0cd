package domain

import "time"

// Outcome summarizes one handled request for logs, metrics and the ledger.
// It never carries message or translation text.
type Outcome struct {
	RequestID      string
	UpdateID       int
	ChatID         int64
	Source         string // "webhook" | "direct" | "cli"
	Classification string // ignorable | command | free_text | photo
	ErrorKind      ErrorKind
	VariantWidth   int
	VariantHeight  int
	FileSize       int64
	PayloadBytes   int64 // bytes sent to the provider, before base64
	Provider       string
	Model          string
	Replied        bool
	Latency        time.Duration
	CreatedAt      time.Time
}

// Success reports whether the request ended without an error kind.
func (o Outcome) Success() bool { return o.ErrorKind == "" }
