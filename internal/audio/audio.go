// Package audio turns a submitted recording into bytes the judge can read.
// Recordings arrive inline in the request or are fetched from object storage
// or a local directory under "{user_id}/{day_number}.{ext}".
package audio

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("recording not found")
	ErrInvalid  = errors.New("invalid recording")
	ErrTooLarge = errors.New("recording too large")
)

// Clip is one recording ready to be sent to the judge.
type Clip struct {
	Data     []byte
	MimeType string
	Path     string // Storage path, empty for inline uploads
}

// Source fetches the stored recording for a user's day.
type Source interface {
	Fetch(ctx context.Context, userID string, day int) (*Clip, error)
}

// ObjectPath renders the storage key for a user's recording of a day.
func ObjectPath(userID string, day int, ext string) (string, error) {
	if userID == "" || strings.ContainsAny(userID, `/\`) || strings.Contains(userID, "..") {
		return "", fmt.Errorf("%w: unusable user id %q", ErrInvalid, userID)
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return fmt.Sprintf("%s/%d", userID, day), nil
	}
	return fmt.Sprintf("%s/%d.%s", userID, day, ext), nil
}

var encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// DecodeInline decodes base64 audio sent in the request body. A data URI
// prefix is accepted and its media type wins over defaultMime.
func DecodeInline(payload, defaultMime string, maxBytes int64) (*Clip, error) {
	payload = strings.TrimSpace(payload)
	mime := defaultMime

	if strings.HasPrefix(payload, "data:") {
		header, body, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, fmt.Errorf("%w: malformed data URI", ErrInvalid)
		}
		meta := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		if m, _, _ := strings.Cut(meta, ";"); m != "" {
			mime = m
		}
		payload = body
	}
	if payload == "" {
		return nil, fmt.Errorf("%w: empty audio payload", ErrInvalid)
	}
	if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes+2 {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, maxBytes)
	}

	var data []byte
	var err error
	for _, enc := range encodings {
		data, err = enc.DecodeString(payload)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: audio is not valid base64", ErrInvalid)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty audio payload", ErrInvalid)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, maxBytes)
	}
	return &Clip{Data: data, MimeType: mime}, nil
}
