package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"escrowmarket/core/events"
	"escrowmarket/core/types"
	"escrowmarket/native/market"
)

func boughtEnvelope() events.Envelope {
	return events.Envelope{
		InvocationID: "inv-1",
		Payload: &types.Event{
			Type: market.EventTypeBought,
			Attributes: map[string]string{
				"listing": "L1",
				"seller":  "S1",
				"buyer":   "B1",
				"itemId":  "card-042",
				"price":   "100",
				"variant": "full-escrow",
			},
		},
	}
}

func TestDispatcherSignsMarketEvents(t *testing.T) {
	secret := []byte("secret")
	var (
		mu       sync.Mutex
		received []Payload
		valid    = true
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		var p Payload
		_ = json.Unmarshal(body, &p)
		mu.Lock()
		received = append(received, p)
		valid = valid && Verify(secret, body, r.Header.Get(SignatureHeader)) && r.Header.Get(EventHeader) == p.Type
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, secret)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	dispatcher.Emit(events.Envelope{Payload: &types.Event{Type: "token.transfer"}})
	dispatcher.Emit(boughtEnvelope())

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(received)
	}
	waitFor(func() bool { return count() > 0 }, time.Second)
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected one delivery, got %d", len(received))
	}
	got := received[0]
	if got.Type != market.EventTypeBought || got.Buyer != "B1" || got.Price != "100" || got.InvocationID != "inv-1" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if got.DeliveryID == "" {
		t.Fatalf("expected delivery id")
	}
	if !valid {
		t.Fatalf("signature or event header mismatch")
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.Enqueue(Payload{Type: market.EventTypeListed, Listing: "L2"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	if _, err := NewDispatcher("", []byte("s")); err == nil {
		t.Fatalf("expected endpoint error")
	}
	dispatcher, err := NewDispatcher("http://127.0.0.1:0", []byte("s"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	dispatcher.Close()
	if err := dispatcher.Enqueue(Payload{Type: market.EventTypeListed}); err == nil {
		t.Fatalf("expected closed dispatcher to refuse deliveries")
	}
}

func TestDispatcherDeliversWithClientWithoutTimeout(t *testing.T) {
	hits := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"),
		WithHTTPClient(&http.Client{}),
		WithRetryPolicy(1, time.Millisecond, time.Millisecond))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.Enqueue(Payload{Type: market.EventTypeListed, Listing: "L3"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&hits) == 1 }, time.Second)
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected one delivery, got %d", got)
	}
}

func TestDispatcherCloseFlushesQueue(t *testing.T) {
	hits := int32(0)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			<-release
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := dispatcher.Enqueue(Payload{Type: market.EventTypeListed}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	waitFor(func() bool { return atomic.LoadInt32(&hits) == 1 }, time.Second)

	closed := make(chan struct{})
	go func() {
		dispatcher.Close()
		close(closed)
	}()
	waitFor(func() bool {
		select {
		case <-dispatcher.stopping:
			return true
		default:
			return false
		}
	}, time.Second)
	if err := dispatcher.Enqueue(Payload{Type: market.EventTypeListed}); err == nil {
		t.Fatalf("expected closing dispatcher to refuse deliveries")
	}
	close(release)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatalf("close did not return")
	}
	if got := atomic.LoadInt32(&hits); got != 4 {
		t.Fatalf("expected queued deliveries to be flushed, got %d", got)
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}
