package storage

import (
	"context"
	"io"
)

// Uploader stores a synthesized audio clip and returns a URL the client
// can fetch it from. Used for locator delivery of large clips.
type Uploader interface {
	Upload(ctx context.Context, objectName string, contentType string, r io.Reader) (url string, err error)
}
