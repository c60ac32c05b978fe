package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/colinzhu/limit-monitoring-sub000/internal/eventbus"
)

func TestNotifier_DeliversEvent(t *testing.T) {
	received := make(chan eventbus.Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt eventbus.Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			t.Errorf("decode: %v", err)
		}
		received <- evt
	}))
	defer srv.Close()

	bus := eventbus.New()
	defer bus.Close()
	n := New(bus, []string{srv.URL}, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	bus.Publish(eventbus.Event{Type: eventbus.TypeGroupRecalculated, RefID: 7})

	select {
	case evt := <-received:
		if evt.RefID != 7 {
			t.Errorf("ref id = %d, want 7", evt.RefID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestNotifier_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bus := eventbus.New()
	defer bus.Close()
	n := New(bus, []string{srv.URL}, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	bus.Publish(eventbus.Event{Type: eventbus.TypeGroupRecalculated, RefID: 1})

	deadline := time.After(10 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected 3 attempts, got %d", calls.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestNotifier_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	bus := eventbus.New()
	defer bus.Close()
	n := New(bus, []string{srv.URL}, 2)

	evt := eventbus.Event{Type: eventbus.TypeGroupRecalculated, RefID: 1}
	if err := n.deliver(context.Background(), srv.URL, evt); err == nil {
		t.Fatal("expected delivery to fail")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", got)
	}
}
