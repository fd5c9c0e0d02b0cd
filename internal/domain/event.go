package domain

// InboundEvent is the platform-neutral view of one webhook delivery.
type InboundEvent struct {
	RequestID string // assigned on receipt, for log correlation
	UpdateID  int
	ChatID    int64
	HasChat   bool           // false when the update carried no message
	Photo     []ImageVariant // smallest first, as delivered
	Text      string         // message text or photo caption
}

// ImageVariant is one resolution of the same photo offered by the platform.
type ImageVariant struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id,omitempty"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FileSize     int64  `json:"file_size,omitempty"` // 0 = unknown
}

// Area returns the pixel count of the variant.
func (v ImageVariant) Area() int64 {
	return int64(v.Width) * int64(v.Height)
}

// Image is the payload handed to a vision provider.
type Image struct {
	Data      []byte
	MediaType string
	Width     int // 0 when not decoded
	Height    int
}

// EncodedLen is the size of Data once base64-encoded (standard padding).
func (i Image) EncodedLen() int64 {
	n := int64(len(i.Data))
	return (n + 2) / 3 * 4
}
