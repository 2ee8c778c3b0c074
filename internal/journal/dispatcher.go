package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/edgard/mindjournal/internal/database"
	"github.com/edgard/mindjournal/internal/logger"
)

// SecretHeader carries the shared secret on both the dispatch request and the
// webhook callback.
const SecretHeader = "X-Webhook-Secret"

// DefaultDispatchTimeout bounds a single enrichment request.
const DefaultDispatchTimeout = 10 * time.Second

// DispatchPayload is the body sent to the enrichment service.
type DispatchPayload struct {
	Content     string `json:"content"`
	EntryID     string `json:"entry_id"`
	CallbackURL string `json:"callback_url"`
}

// Dispatcher sends entries to the external enrichment service. Deliveries run
// on their own goroutine and their failures are only logged.
type Dispatcher struct {
	client  *http.Client
	secret  string
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A zero timeout uses DefaultDispatchTimeout.
func NewDispatcher(secret string, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Dispatcher{
		client:  &http.Client{},
		secret:  secret,
		timeout: timeout,
		log:     log.With("component", "enrichment_dispatcher"),
	}
}

// Dispatch starts delivery of entry to target in the background and returns
// immediately. The delivery outlives ctx cancellation but not the timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, entry *database.JournalEntry, target Target) {
	payload := DispatchPayload{
		Content:     entry.Content,
		EntryID:     entry.ID,
		CallbackURL: target.CallbackURL,
	}
	detached := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.Send(detached, target.URL, payload); err != nil {
			d.log.WarnContext(detached, "Enrichment dispatch failed", "entry_id", payload.EntryID, "url", target.URL, "error", err)
			return
		}
		d.log.InfoContext(detached, "Enrichment dispatched", "entry_id", payload.EntryID)
	}()
}

// Send performs one delivery and waits for the response. Any status other than
// 200 is an error.
func (d *Dispatcher) Send(ctx context.Context, url string, payload DispatchPayload) error {
	if url == "" {
		return fmt.Errorf("enrichment url is empty")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode dispatch payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.secret != "" {
		req.Header.Set(SecretHeader, d.secret)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach enrichment service: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("enrichment service returned status %d", resp.StatusCode)
	}
	return nil
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
