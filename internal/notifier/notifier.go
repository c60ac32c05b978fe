package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/colinzhu/limit-monitoring-sub000/internal/eventbus"
)

// Notifier forwards recalculation events to downstream webhooks. Delivery is
// at-least-once with bounded retry; downstream consumers deduplicate on the
// event's ref_id. A notifier outage never blocks ingestion because events
// arrive over a buffered bus channel and are dropped when the buffer fills.
type Notifier struct {
	urls        []string
	maxAttempts int
	client      *http.Client
	events      chan eventbus.Event
}

func New(bus *eventbus.Bus, urls []string, maxAttempts int) *Notifier {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	n := &Notifier{
		urls:        urls,
		maxAttempts: maxAttempts,
		client:      &http.Client{Timeout: 5 * time.Second},
		events:      make(chan eventbus.Event, 256),
	}
	bus.Subscribe(eventbus.TypeGroupRecalculated, n.events)
	return n
}

// Run delivers events until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	log.Printf("[notifier] delivering to %d endpoint(s)", len(n.urls))
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-n.events:
			for _, url := range n.urls {
				if err := n.deliver(ctx, url, evt); err != nil {
					log.Printf("[notifier] giving up on %s for ref_id=%d: %v", url, evt.RefID, err)
				}
			}
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, url string, evt eventbus.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		lastErr = n.post(ctx, url, body)
		if lastErr == nil {
			return nil
		}
		if attempt < n.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return lastErr
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}
