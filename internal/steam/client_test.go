package steam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/user/stevebot/internal/types"
)

func newTestClient(url string) *Client {
	c := NewClient("test-key", 0)
	c.baseURL = url
	return c
}

func TestFetchBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ISteamUser/GetPlayerSummaries/v2/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Error("missing API key")
		}
		if got := r.URL.Query().Get("steamids"); got != "1,2,3" {
			t.Errorf("unexpected steamids %q", got)
		}
		var resp summariesResponse
		resp.Response.Players = []player{
			{SteamID: "1", PersonaName: "alice", GameExtraInfo: "Squad", GameID: "393380"},
			{SteamID: "2", PersonaName: "bob"},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	got, err := newTestClient(server.URL).FetchBatch(context.Background(), []string{"1", "2", "3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(got))
	}
	if got["1"].Label != "Squad" || got["1"].Meta["persona"] != "alice" || got["1"].Meta["game_id"] != "393380" {
		t.Errorf("unexpected status for 1: %+v", got["1"])
	}
	if got["2"].Label != "" {
		t.Errorf("expected empty label for idle player, got %q", got["2"].Label)
	}
	if _, ok := got["3"]; ok {
		t.Error("unknown id must be absent")
	}
}

func TestFetchBatchSplitsLargeRequests(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		ids := strings.Split(r.URL.Query().Get("steamids"), ",")
		if len(ids) > maxBatch {
			t.Errorf("request carried %d ids", len(ids))
		}
		var resp summariesResponse
		for _, id := range ids {
			resp.Response.Players = append(resp.Response.Players, player{SteamID: id})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	ids := make([]string, 250)
	for i := range ids {
		ids[i] = fmt.Sprint(i)
	}
	got, err := newTestClient(server.URL).FetchBatch(context.Background(), ids)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 250 {
		t.Errorf("expected 250 statuses, got %d", len(got))
	}
	if requests.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", requests.Load())
	}
}

func TestFetchBatchRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).FetchBatch(context.Background(), []string{"1"})
	if !errors.Is(err, types.ErrProviderRateLimited) {
		t.Errorf("expected rate limit error, got %v", err)
	}
}

func TestFetchBatchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).FetchBatch(context.Background(), []string{"1"})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("expected status error, got %v", err)
	}
}
