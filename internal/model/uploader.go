package model

import "context"

// Uploader delivers one batch of boxes to the collector.
type Uploader interface {
	Upload(ctx context.Context, boxes []Box) error
}

// UploadCloser is an Uploader holding resources, which must be released
// once all batches are delivered.
type UploadCloser interface {
	Uploader
	Close() error
}
