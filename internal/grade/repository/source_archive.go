package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"judgeflow/internal/common/storage"

	"github.com/klauspost/compress/zstd"
)

const (
	sourceObjectName  = "source.zst"
	sourceContentType = "application/zstd"
	maxArchivedSource = 8 << 20
)

// SourceArchive stores zstd-compressed submission sources in object storage.
type SourceArchive struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewSourceArchive creates an archive writing under bucket/prefix.
func NewSourceArchive(objectStorage storage.ObjectStorage, bucket, prefix string) (*SourceArchive, error) {
	if objectStorage == nil {
		return nil, fmt.Errorf("object storage is nil")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxArchivedSource))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder failed: %w", err)
	}
	if prefix == "" {
		prefix = "submissions"
	}
	return &SourceArchive{
		storage: objectStorage,
		bucket:  bucket,
		prefix:  prefix,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Key returns the object key for a submission's source.
func (a *SourceArchive) Key(submissionID string) string {
	return path.Join(a.prefix, submissionID, sourceObjectName)
}

// Save compresses source and uploads it, returning the object key.
func (a *SourceArchive) Save(ctx context.Context, submissionID, source string) (string, error) {
	if submissionID == "" {
		return "", fmt.Errorf("submission id is required")
	}
	compressed := a.encoder.EncodeAll([]byte(source), nil)
	key := a.Key(submissionID)
	if err := a.storage.PutObject(ctx, a.bucket, key, bytes.NewReader(compressed), int64(len(compressed)), sourceContentType); err != nil {
		return "", fmt.Errorf("upload source failed: %w", err)
	}
	return key, nil
}

// Load downloads and decompresses an archived source.
func (a *SourceArchive) Load(ctx context.Context, key string) (string, error) {
	reader, err := a.storage.GetObject(ctx, a.bucket, key)
	if err != nil {
		return "", fmt.Errorf("download source failed: %w", err)
	}
	defer reader.Close()
	compressed, err := io.ReadAll(io.LimitReader(reader, maxArchivedSource))
	if err != nil {
		return "", fmt.Errorf("read source failed: %w", err)
	}
	source, err := a.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return "", fmt.Errorf("decompress source failed: %w", err)
	}
	return string(source), nil
}
