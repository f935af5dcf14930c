package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalSource reads recordings from a directory on disk.
type LocalSource struct {
	Dir       string
	Extension string
	MimeType  string
	MaxBytes  int64
}

func NewLocalSource(dir, ext, mimeType string, maxBytes int64) *LocalSource {
	return &LocalSource{Dir: dir, Extension: ext, MimeType: mimeType, MaxBytes: maxBytes}
}

func (s *LocalSource) Fetch(ctx context.Context, userID string, day int) (*Clip, error) {
	key, err := ObjectPath(userID, day, s.Extension)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.Dir, filepath.FromSlash(key)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open recording %s: %w", key, err)
	}
	defer f.Close()

	data, err := readCapped(f, s.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &Clip{Data: data, MimeType: s.MimeType, Path: key}, nil
}

func readCapped(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: recording is empty", ErrInvalid)
	}
	return data, nil
}
