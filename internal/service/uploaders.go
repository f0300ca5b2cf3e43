package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/CZERTAINLY/recon-relay/internal/model"
)

// NewUploader returns the sink for the configuration: a directory when
// service.dir is set, the collector otherwise.
func NewUploader(_ context.Context, cfg model.Config) (model.Uploader, error) {
	if cfg.Service.Dir != "" {
		u, err := NewOSRootUploader(cfg.Service.Dir)
		if err != nil {
			return nil, fmt.Errorf("opening service.dir: %w", err)
		}
		return u, nil
	}
	u, err := NewCollectorClient(cfg.Collector)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CloseUploader releases the resources held by u, if any.
func CloseUploader(ctx context.Context, u model.Uploader) {
	if closer, ok := u.(model.UploadCloser); ok {
		if err := closer.Close(); err != nil {
			slog.ErrorContext(ctx, "closing uploader have failed", "error", err)
		}
	}
}

// WriteUploader writes every batch as a single JSON line. Used for dry runs.
type WriteUploader struct {
	w io.Writer
}

func NewWriteUploader(w io.Writer) WriteUploader {
	return WriteUploader{w: w}
}

func (u WriteUploader) Upload(_ context.Context, boxes []model.Box) error {
	if u.w == nil {
		u.w = os.Stdout
	}
	if boxes == nil {
		boxes = []model.Box{}
	}
	return json.NewEncoder(u.w).Encode(boxes)
}

// OSRootUploader stores every batch into its own file inside a directory.
type OSRootUploader struct {
	root *os.Root
	seq  atomic.Int64
}

func NewOSRootUploader(path string) (*OSRootUploader, error) {
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, err
	}
	return &OSRootUploader{root: root}, nil
}

func (u *OSRootUploader) Upload(ctx context.Context, boxes []model.Box) error {
	if u.root == nil {
		return errors.New("root already closed")
	}
	if boxes == nil {
		boxes = []model.Box{}
	}

	path := fmt.Sprintf("recon-relay-%s-%04d.json",
		time.Now().Format("2006-01-02-15-04-05"),
		u.seq.Add(1),
	)

	f, err := u.root.Create(path)
	if err != nil {
		return fmt.Errorf("creating batch file: %w", err)
	}
	err = json.NewEncoder(f).Encode(boxes)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("saving batch: %w", err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("closing batch file: %w", err)
	}
	slog.InfoContext(ctx, "batch saved", "path", path, "boxes", len(boxes))
	return nil
}

func (u *OSRootUploader) Close() error {
	if u.root == nil {
		return errors.New("uploader already closed")
	}
	err := u.root.Close()
	u.root = nil
	return err
}
