package service

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/CZERTAINLY/recon-relay/internal/model"

	pd "github.com/kodeart/go-problem/v2"
)

const (
	uploadPath  = "box"
	contentType = "application/json"
	// error bodies are only quoted in error messages
	maxErrorBody = 4096
)

// CollectorError is returned for a response with status code >= 400.
type CollectorError struct {
	StatusCode int
	Detail     string
}

func (e *CollectorError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("collector returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("collector returned status %d: %s", e.StatusCode, e.Detail)
}

// CollectorClient posts batches of boxes to {base_url}/box.
type CollectorClient struct {
	requestURL string
	client     *http.Client
}

func NewCollectorClient(cfg model.Collector) (*CollectorClient, error) {
	if cfg.BaseURL.IsZero() {
		return nil, errors.New("collector base_url is empty")
	}
	parsedURL := cfg.BaseURL.Clone().AsURL()
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")
	parsedURL.Path = fmt.Sprintf("%s/%s", parsedURL.Path, uploadPath)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: !cfg.VerifyTLS, //nolint:gosec // lab collectors use self-signed certificates
	}

	c := &CollectorClient{
		requestURL: parsedURL.String(),
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout(),
		},
	}
	return c, nil
}

// URL returns the endpoint the batches are posted to
func (c *CollectorClient) URL() string {
	return c.requestURL
}

// Close drops the idle keep-alive connections.
func (c *CollectorClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// Upload makes exactly one attempt to deliver the batch.
func (c *CollectorClient) Upload(ctx context.Context, boxes []model.Box) error {
	if boxes == nil {
		boxes = []model.Box{}
	}
	raw, err := json.Marshal(boxes)
	if err != nil {
		return fmt.Errorf("encoding boxes: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json, application/problem+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := decodeResponse(resp); err != nil {
		return err
	}
	slog.DebugContext(ctx, "batch accepted", "boxes", len(boxes), "status", resp.StatusCode)
	return nil
}

func decodeResponse(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("status code: %d, reading body: %w", resp.StatusCode, err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/problem+json" {
		var problem pd.Problem
		if err := json.Unmarshal(body, &problem); err == nil && problem.Detail != "" {
			return &CollectorError{StatusCode: resp.StatusCode, Detail: problem.Detail}
		}
	}
	return &CollectorError{
		StatusCode: resp.StatusCode,
		Detail:     strings.TrimSpace(string(body)),
	}
}
