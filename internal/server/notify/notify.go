// Package notify tells downstream consumers (search indexing and similar)
// that a file finished uploading.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
)

// Event is the body posted to downstream consumers.
type Event struct {
	FileID   string            `json:"file_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Sink interface {
	Notify(ctx context.Context, fileID string, metadata map[string]string) error
}

// NopSink discards notifications.
type NopSink struct{}

func (NopSink) Notify(context.Context, string, map[string]string) error { return nil }

// WebhookSink posts Event as JSON to a fixed URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	return &WebhookSink{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSink) Notify(ctx context.Context, fileID string, metadata map[string]string) error {
	body, err := json.Marshal(Event{FileID: fileID, Metadata: metadata})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: webhook returned %s", common.ErrUpstreamUnavailable, resp.Status)
	}
	return nil
}

// New returns a WebhookSink when url is set, NopSink otherwise.
func New(url string, timeout time.Duration) Sink {
	if url == "" {
		return NopSink{}
	}
	return NewWebhookSink(url, timeout)
}

// Dispatch sends the notification in the background. The caller's
// cancellation does not abort it; failures are only logged.
func Dispatch(ctx context.Context, sink Sink, logger logging.Logger, fileID string, metadata map[string]string, timeout time.Duration) <-chan error {
	done := make(chan error, 1)
	ctx = context.WithoutCancel(ctx)
	go func() {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		err := sink.Notify(ctx, fileID, metadata)
		if err != nil {
			logger.Warn(ctx, "downstream notification failed", "file_id", fileID, "error", err)
		}
		done <- err
		close(done)
	}()
	return done
}
