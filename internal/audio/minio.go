package audio

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioSource fetches recordings from an S3 compatible bucket.
type MinioSource struct {
	Client    *minio.Client
	Bucket    string
	Extension string
	MimeType  string
	MaxBytes  int64
}

type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	Extension string
	MimeType  string
	MaxBytes  int64
}

func NewMinioSource(opts MinioOptions) (*MinioSource, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioSource{
		Client:    client,
		Bucket:    opts.Bucket,
		Extension: opts.Extension,
		MimeType:  opts.MimeType,
		MaxBytes:  opts.MaxBytes,
	}, nil
}

func (s *MinioSource) Fetch(ctx context.Context, userID string, day int) (*Clip, error) {
	key, err := ObjectPath(userID, day, s.Extension)
	if err != nil {
		return nil, err
	}

	obj, err := s.Client.GetObject(ctx, s.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioError(key, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, mapMinioError(key, err)
	}
	if s.MaxBytes > 0 && info.Size > s.MaxBytes {
		return nil, fmt.Errorf("%s: %w: %d bytes", key, ErrTooLarge, info.Size)
	}

	data, err := readCapped(obj, s.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	mime := s.MimeType
	if info.ContentType != "" && info.ContentType != "application/octet-stream" {
		mime = info.ContentType
	}
	return &Clip{Data: data, MimeType: mime, Path: key}, nil
}

func mapMinioError(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return fmt.Errorf("failed to fetch recording %s: %w", key, err)
}
