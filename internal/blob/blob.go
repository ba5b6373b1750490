// Package blob persists uploaded videos and derived media artifacts.
package blob

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("blob not found")

// Store persists opaque objects by key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Fetch copies the object stored under key to destPath on local disk.
	Fetch(ctx context.Context, key, destPath string) error
	Delete(ctx context.Context, key string) error
}

// VideoKey returns the object key for an uploaded source video.
func VideoKey(reportID, ext string) string {
	return "videos/" + reportID + ext
}

// AudioKey returns the object key for the audio track extracted from a report's video.
func AudioKey(reportID string) string {
	return "audio/" + reportID + ".wav"
}
