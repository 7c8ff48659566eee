package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/api"
	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/store/memory"
)

// testServer creates a Handler backed by a running engine over a memory
// store and returns the test server.
func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := beacon.DefaultConfig()
	cfg.Workers = 2
	cfg.SweepInterval = 50 * time.Millisecond
	cfg.RequestTimeout = 2 * time.Second
	cfg.ShutdownTimeout = 2 * time.Second

	b, err := beacon.New(beacon.WithStore(memory.New()), beacon.WithConfig(cfg))
	if err != nil {
		t.Fatalf("new beacon: %v", err)
	}
	b.Start(context.Background())
	t.Cleanup(func() { _ = b.Stop(context.Background()) })

	srv := httptest.NewServer(api.NewHandler(b, slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(srv.Close)
	return srv
}

// receiver counts webhook requests and answers with 200.
func receiver(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("%s %s: expected %d, got %d: %s",
			resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode, body)
	}
}

func createSubscription(t *testing.T, srvURL, target string) map[string]any {
	t.Helper()
	resp := doJSON(t, "POST", srvURL+"/subscriptions", map[string]any{
		"target_url":       target,
		"event_types":      []string{"deal.won"},
		"max_retries":      1,
		"base_retry_delay": "10ms",
	})
	expectStatus(t, resp, http.StatusCreated)
	var sub map[string]any
	decodeBody(t, resp, &sub)
	return sub
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %s", msg)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// --- Subscriptions ---

func TestSubscriptions_CRUD(t *testing.T) {
	srv := testServer(t)

	sub := createSubscription(t, srv.URL, "https://example.com/hook")
	subID, _ := sub["id"].(string)
	if subID == "" {
		t.Fatal("expected subscription ID")
	}
	if s, _ := sub["secret"].(string); s == "" {
		t.Error("expected secret in create response")
	}
	if sub["is_active"] != true {
		t.Error("expected new subscription to be active")
	}

	// Get hides the secret.
	resp := doJSON(t, "GET", srv.URL+"/subscriptions/"+subID, nil)
	expectStatus(t, resp, http.StatusOK)
	var got map[string]any
	decodeBody(t, resp, &got)
	if _, ok := got["secret"]; ok {
		t.Error("secret must not be returned by get")
	}
	if got["target_url"] != "https://example.com/hook" {
		t.Errorf("target_url: got %v", got["target_url"])
	}

	// Update
	resp = doJSON(t, "PUT", srv.URL+"/subscriptions/"+subID, map[string]any{
		"description": "billing hook",
	})
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &got)
	if got["description"] != "billing hook" {
		t.Errorf("description: got %v", got["description"])
	}
	if got["target_url"] != "https://example.com/hook" {
		t.Errorf("partial update changed target_url to %v", got["target_url"])
	}

	// List
	resp = doJSON(t, "GET", srv.URL+"/subscriptions", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("list: expected 1, got %d", len(list))
	}

	// Delete
	resp = doJSON(t, "DELETE", srv.URL+"/subscriptions/"+subID, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = doJSON(t, "GET", srv.URL+"/subscriptions/"+subID, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestSubscriptions_Validation(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing url", map[string]any{"event_types": []string{"deal.won"}}},
		{"bad scheme", map[string]any{"target_url": "ftp://example.com", "event_types": []string{"deal.won"}}},
		{"no event types", map[string]any{"target_url": "https://example.com"}},
		{"wildcard", map[string]any{"target_url": "https://example.com", "event_types": []string{"deal.*"}}},
		{"bad delay", map[string]any{"target_url": "https://example.com", "event_types": []string{"deal.won"}, "base_retry_delay": "soon"}},
		{"reserved header", map[string]any{
			"target_url":  "https://example.com",
			"event_types": []string{"deal.won"},
			"headers":     map[string]string{"X-Webhook-Signature": "x"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, "POST", srv.URL+"/subscriptions", tt.body)
			expectStatus(t, resp, http.StatusBadRequest)
			resp.Body.Close()
		})
	}
}

func TestSubscriptions_InvalidBody(t *testing.T) {
	srv := testServer(t)

	req, _ := http.NewRequestWithContext(context.Background(), "POST", srv.URL+"/subscriptions", bytes.NewBufferString("{not json"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestSubscriptions_NotFoundAndBadID(t *testing.T) {
	srv := testServer(t)

	resp := doJSON(t, "GET", srv.URL+"/subscriptions/not-an-id", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	// A well-formed ID that does not exist.
	sub := createSubscription(t, srv.URL, "https://example.com/hook")
	subID := sub["id"].(string)
	resp = doJSON(t, "DELETE", srv.URL+"/subscriptions/"+subID, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = doJSON(t, "POST", srv.URL+"/subscriptions/"+subID+"/activate", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestSubscriptions_ActivateDeactivate(t *testing.T) {
	srv := testServer(t)
	sub := createSubscription(t, srv.URL, "https://example.com/hook")
	subID := sub["id"].(string)

	resp := doJSON(t, "POST", srv.URL+"/subscriptions/"+subID+"/deactivate", nil)
	expectStatus(t, resp, http.StatusOK)
	var got map[string]any
	decodeBody(t, resp, &got)
	if got["is_active"] != false {
		t.Error("expected inactive after deactivate")
	}

	resp = doJSON(t, "GET", srv.URL+"/subscriptions?active=false", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Errorf("active=false filter: expected 1, got %d", len(list))
	}

	resp = doJSON(t, "POST", srv.URL+"/subscriptions/"+subID+"/activate", nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &got)
	if got["is_active"] != true {
		t.Error("expected active after activate")
	}
	if got["consecutive_failures"] != float64(0) {
		t.Errorf("expected failures reset, got %v", got["consecutive_failures"])
	}
}

func TestSubscriptions_RotateSecret(t *testing.T) {
	srv := testServer(t)
	sub := createSubscription(t, srv.URL, "https://example.com/hook")
	subID := sub["id"].(string)

	resp := doJSON(t, "POST", srv.URL+"/subscriptions/"+subID+"/rotate-secret", nil)
	expectStatus(t, resp, http.StatusOK)
	var got map[string]string
	decodeBody(t, resp, &got)
	if got["secret"] == "" {
		t.Fatal("expected new secret")
	}
	if got["secret"] == sub["secret"] {
		t.Error("expected secret to change")
	}
}

// --- Events and deliveries ---

func TestDispatch_DeliversAndRecords(t *testing.T) {
	srv := testServer(t)
	hook, calls := receiver(t)
	sub := createSubscription(t, srv.URL, hook.URL)
	subID := sub["id"].(string)

	resp := doJSON(t, "POST", srv.URL+"/events", map[string]any{
		"type":    "deal.won",
		"payload": map[string]any{"deal_id": "d_1", "amount": 500},
	})
	expectStatus(t, resp, http.StatusAccepted)
	var res beacon.DispatchResult
	decodeBody(t, resp, &res)
	if res.Matched != 1 || res.Created != 1 {
		t.Fatalf("expected 1 matched and created, got %+v", res)
	}

	waitFor(t, "webhook delivery", func() bool { return calls.Load() == 1 })

	var atts []*delivery.Attempt
	waitFor(t, "success recorded", func() bool {
		resp := doJSON(t, "GET", srv.URL+"/subscriptions/"+subID+"/deliveries", nil)
		expectStatus(t, resp, http.StatusOK)
		decodeBody(t, resp, &atts)
		return len(atts) == 1 && atts[0].Status == delivery.StatusSuccess
	})

	// Event is retrievable and lists its deliveries.
	evtID := res.EventID.String()
	resp = doJSON(t, "GET", srv.URL+"/events/"+evtID, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = doJSON(t, "GET", srv.URL+"/events/"+evtID+"/deliveries", nil)
	expectStatus(t, resp, http.StatusOK)
	var evtAtts []*delivery.Attempt
	decodeBody(t, resp, &evtAtts)
	if len(evtAtts) != 1 {
		t.Errorf("event deliveries: expected 1, got %d", len(evtAtts))
	}

	// Chain and attempt lookups.
	resp = doJSON(t, "GET", srv.URL+"/deliveries/"+atts[0].DeliveryID.String(), nil)
	expectStatus(t, resp, http.StatusOK)
	var chain []*delivery.Attempt
	decodeBody(t, resp, &chain)
	if len(chain) != 1 || chain[0].AttemptNumber != 1 {
		t.Errorf("unexpected chain: %+v", chain)
	}

	resp = doJSON(t, "GET", srv.URL+"/attempts/"+atts[0].ID.String(), nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// Successful deliveries cannot be redelivered.
	resp = doJSON(t, "POST", srv.URL+"/deliveries/"+atts[0].DeliveryID.String()+"/redeliver", nil)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}

func TestDispatch_Idempotent(t *testing.T) {
	srv := testServer(t)
	hook, calls := receiver(t)
	createSubscription(t, srv.URL, hook.URL)

	body := map[string]any{
		"type":    "deal.won",
		"payload": map[string]any{"deal_id": "d_1"},
	}
	resp := doJSON(t, "POST", srv.URL+"/events", body)
	expectStatus(t, resp, http.StatusAccepted)
	var first beacon.DispatchResult
	decodeBody(t, resp, &first)

	body["id"] = first.EventID.String()
	resp = doJSON(t, "POST", srv.URL+"/events", body)
	expectStatus(t, resp, http.StatusAccepted)
	var second beacon.DispatchResult
	decodeBody(t, resp, &second)
	if !second.Duplicate || second.Created != 0 {
		t.Errorf("expected duplicate with no new chains, got %+v", second)
	}

	waitFor(t, "webhook delivery", func() bool { return calls.Load() >= 1 })
	time.Sleep(100 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("expected exactly 1 webhook request, got %d", n)
	}
}

func TestDispatch_Validation(t *testing.T) {
	srv := testServer(t)

	resp := doJSON(t, "POST", srv.URL+"/events", map[string]any{"payload": map[string]any{}})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = doJSON(t, "POST", srv.URL+"/events", map[string]any{"type": "deal.won", "payload": []int{1, 2}})
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	resp.Body.Close()

	resp = doJSON(t, "POST", srv.URL+"/events", map[string]any{
		"id":      "evt_bogus",
		"type":    "deal.won",
		"payload": map[string]any{},
	})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestDeliveries_ListAndFilter(t *testing.T) {
	srv := testServer(t)
	hook, calls := receiver(t)
	createSubscription(t, srv.URL, hook.URL)

	for range 2 {
		resp := doJSON(t, "POST", srv.URL+"/events", map[string]any{
			"type":    "deal.won",
			"payload": map[string]any{"deal_id": "d"},
		})
		expectStatus(t, resp, http.StatusAccepted)
		resp.Body.Close()
	}
	waitFor(t, "webhook deliveries", func() bool { return calls.Load() == 2 })

	var atts []*delivery.Attempt
	waitFor(t, "success recorded", func() bool {
		resp := doJSON(t, "GET", srv.URL+"/deliveries?status=success", nil)
		expectStatus(t, resp, http.StatusOK)
		decodeBody(t, resp, &atts)
		return len(atts) == 2
	})

	resp := doJSON(t, "GET", srv.URL+"/deliveries?status=failed", nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &atts)
	if len(atts) != 0 {
		t.Errorf("expected no failed attempts, got %d", len(atts))
	}

	resp = doJSON(t, "GET", srv.URL+"/deliveries?subscription_id=nope", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = doJSON(t, "GET", srv.URL+"/stats", nil)
	expectStatus(t, resp, http.StatusOK)
	var stats struct {
		Attempts   map[string]int64 `json:"attempts"`
		QueueDepth int              `json:"queue_depth"`
	}
	decodeBody(t, resp, &stats)
	if stats.Attempts["success"] != 2 {
		t.Errorf("stats: expected 2 successes, got %v", stats.Attempts)
	}
}

func TestEvents_ListFilters(t *testing.T) {
	srv := testServer(t)

	for _, typ := range []string{"deal.won", "deal.lost"} {
		resp := doJSON(t, "POST", srv.URL+"/events", map[string]any{"type": typ, "payload": map[string]any{}})
		expectStatus(t, resp, http.StatusAccepted)
		resp.Body.Close()
	}

	resp := doJSON(t, "GET", srv.URL+"/events?type=deal.lost", nil)
	expectStatus(t, resp, http.StatusOK)
	var events []map[string]any
	decodeBody(t, resp, &events)
	if len(events) != 1 || events[0]["type"] != "deal.lost" {
		t.Errorf("type filter: got %v", events)
	}

	resp = doJSON(t, "GET", srv.URL+"/events?from=yesterday", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = doJSON(t, "GET", srv.URL+"/events/evt_bogus", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

// --- Event Types ---

func TestEventTypes_CRUD(t *testing.T) {
	srv := testServer(t)

	resp := doJSON(t, "POST", srv.URL+"/event-types", map[string]any{
		"name":        "deal.won",
		"description": "Fired when a deal is won",
		"group":       "deals",
		"schema": map[string]any{
			"type":     "object",
			"required": []string{"deal_id"},
		},
	})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = doJSON(t, "GET", srv.URL+"/event-types/deal.won", nil)
	expectStatus(t, resp, http.StatusOK)
	var et map[string]any
	decodeBody(t, resp, &et)
	if et["description"] != "Fired when a deal is won" {
		t.Errorf("description: got %v", et["description"])
	}

	resp = doJSON(t, "GET", srv.URL+"/event-types?pattern=deal.*", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Errorf("pattern list: expected 1, got %d", len(list))
	}

	// Payloads are validated against the registered schema.
	resp = doJSON(t, "POST", srv.URL+"/events", map[string]any{"type": "deal.won", "payload": map[string]any{}})
	expectStatus(t, resp, http.StatusUnprocessableEntity)
	resp.Body.Close()

	resp = doJSON(t, "DELETE", srv.URL+"/event-types/deal.won", nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = doJSON(t, "POST", srv.URL+"/events", map[string]any{"type": "deal.won", "payload": map[string]any{"deal_id": "d"}})
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = doJSON(t, "GET", srv.URL+"/event-types/missing", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestEventTypes_RequiresName(t *testing.T) {
	srv := testServer(t)

	resp := doJSON(t, "POST", srv.URL+"/event-types", map[string]any{"description": "no name"})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

// --- Health and middleware ---

func TestHealth(t *testing.T) {
	srv := testServer(t)

	resp := doJSON(t, "GET", srv.URL+"/health", nil)
	expectStatus(t, resp, http.StatusOK)
	var got map[string]string
	decodeBody(t, resp, &got)
	if got["status"] != "healthy" {
		t.Errorf("status: got %q", got["status"])
	}
}

func TestRequestID(t *testing.T) {
	srv := testServer(t)

	resp := doJSON(t, "GET", srv.URL+"/health", nil)
	resp.Body.Close()
	if resp.Header.Get(api.RequestIDHeader) == "" {
		t.Error("expected generated request ID")
	}

	req, _ := http.NewRequestWithContext(context.Background(), "GET", srv.URL+"/health", nil)
	req.Header.Set(api.RequestIDHeader, "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(api.RequestIDHeader); got != "req-123" {
		t.Errorf("expected echoed request ID, got %q", got)
	}
}
