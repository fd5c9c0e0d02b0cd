package imaging

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// SniffMediaType detects the media type of raw image bytes. Unknown
// payloads fall back to image/jpeg, which is what Telegram stores photos as.
func SniffMediaType(b []byte) string {
	if len(b) == 0 {
		return TargetMediaType
	}
	mt := http.DetectContentType(b)
	if !strings.HasPrefix(mt, "image/") {
		return TargetMediaType
	}
	return mt
}

// DecodeBase64MaybeDataURL decodes a plain base64 string or a data URL
// ("data:image/png;base64,...") and returns the media type from the prefix,
// if any.
func DecodeBase64MaybeDataURL(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var hint string
	if strings.HasPrefix(s, "data:") {
		if idx := strings.IndexByte(s, ','); idx > 0 {
			meta := s[len("data:"):idx]
			if semi := strings.IndexByte(meta, ';'); semi >= 0 {
				hint = meta[:semi]
			} else {
				hint = meta
			}
			s = s[idx+1:]
		}
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return b, hint, nil
	}
	// URL-safe variants show up from some browser encoders.
	if b2, err2 := base64.URLEncoding.DecodeString(s); err2 == nil {
		return b2, hint, nil
	}
	if b3, err3 := base64.RawStdEncoding.DecodeString(s); err3 == nil {
		return b3, hint, nil
	}
	return nil, "", err
}

// PickMediaType prefers an explicit type, then the data URL hint, then def.
func PickMediaType(explicit, hint, def string) string {
	if e := strings.TrimSpace(explicit); e != "" {
		return e
	}
	if h := strings.TrimSpace(hint); h != "" {
		return h
	}
	return def
}
