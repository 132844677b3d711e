package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPProviderFetchSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("network"); got != "ethereum" {
			t.Errorf("unexpected network param: %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"top_tokens":[{"symbol":"BTC","price_usd":31000,"volume_24h":5000000000}],"timestamp":1700000000}`))
	}))
	defer server.Close()

	provider := NewHTTPProvider(HTTPConfig{BaseURL: server.URL, APIKey: "secret"})
	snapshot := provider.FetchSnapshot(context.Background(), "ethereum")

	if snapshot.Empty() {
		t.Fatal("expected non-empty snapshot")
	}
	quote := snapshot.Quote("BTC")
	if quote == nil || quote.PriceUSD != 31000 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
	if snapshot.Timestamp != 1700000000 {
		t.Fatalf("expected server timestamp, got %d", snapshot.Timestamp)
	}
}

func TestHTTPProviderDegradesToEmptySnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	provider := NewHTTPProvider(HTTPConfig{BaseURL: server.URL})
	snapshot := provider.FetchSnapshot(context.Background(), "ethereum")
	if !snapshot.Empty() {
		t.Fatalf("expected empty snapshot on upstream error, got %+v", snapshot)
	}
	if snapshot.Network != "ethereum" {
		t.Fatalf("expected network to be preserved, got %q", snapshot.Network)
	}
}

func TestHTTPProviderDegradesOnTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	provider := NewHTTPProvider(HTTPConfig{BaseURL: server.URL, Timeout: 50 * time.Millisecond})

	snapshot := provider.FetchSnapshot(context.Background(), "ethereum")
	if !snapshot.Empty() {
		t.Fatalf("expected empty snapshot on timeout, got %+v", snapshot)
	}
}

func TestHTTPProviderWithoutBaseURL(t *testing.T) {
	provider := NewHTTPProvider(HTTPConfig{})
	snapshot := provider.FetchSnapshot(context.Background(), "ethereum")
	if !snapshot.Empty() {
		t.Fatal("expected empty snapshot when base url is missing")
	}
}
