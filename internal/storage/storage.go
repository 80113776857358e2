package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (storedPath string, err error)
}

type Signer interface {
	SignedGetURL(ctx context.Context, objectName string, ttl time.Duration) (string, error)
}

func TranscriptObject(interviewID string) string {
	return fmt.Sprintf("transcripts/%s.json", interviewID)
}

// ArchiveJSON writes v as a JSON object under objectName.
func ArchiveJSON(ctx context.Context, u Uploader, objectName string, v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return u.Upload(ctx, objectName, "application/json", bytes.NewReader(b))
}
