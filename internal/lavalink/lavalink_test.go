package lavalink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/stevebot/internal/types"
)

type fakeNode struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu      sync.Mutex
	patches []map[string]any
	deletes int
	conn    *websocket.Conn
	connCh  chan struct{}
}

func newFakeNode(t *testing.T) (*fakeNode, *httptest.Server) {
	f := &fakeNode{t: t, connCh: make(chan struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v4/loadtracks", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		id := r.URL.Query().Get("identifier")
		switch {
		case id == "ytsearch:nothing":
			io.WriteString(w, `{"loadType":"empty","data":{}}`)
		case id == "ytsearch:broken":
			io.WriteString(w, `{"loadType":"error","data":{"message":"boom","severity":"common"}}`)
		case strings.HasPrefix(id, "ytsearch:"):
			title := strings.TrimPrefix(id, "ytsearch:")
			json.NewEncoder(w).Encode(map[string]any{
				"loadType": "search",
				"data": []map[string]any{
					{"encoded": "enc-" + title, "info": map[string]any{"title": title, "identifier": "vid1", "sourceName": "youtube"}},
					{"encoded": "enc-other", "info": map[string]any{"title": "other"}},
				},
			})
		default:
			json.NewEncoder(w).Encode(map[string]any{
				"loadType": "track",
				"data":     map[string]any{"encoded": "enc-direct", "info": map[string]any{"title": "Direct", "artworkUrl": "art.png"}},
			})
		}
	})
	mux.HandleFunc("PATCH /v4/sessions/{sid}/players/{gid}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.patches = append(f.patches, body)
		f.mu.Unlock()
		io.WriteString(w, `{}`)
	})
	mux.HandleFunc("DELETE /v4/sessions/{sid}/players/{gid}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deletes++
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /v4/websocket", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Id") != "bot" || r.Header.Get("Authorization") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"op": "ready", "resumed": false, "sessionId": "sess1"})
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()
		close(f.connCh)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeNode) send(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NoError(f.t, f.conn.WriteJSON(v))
}

func (f *fakeNode) patchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.patches)
}

type fakeVoice struct {
	mu    sync.Mutex
	joins []string
	node  *Node
}

func (v *fakeVoice) JoinVoice(guildID, channelID string) error {
	v.mu.Lock()
	v.joins = append(v.joins, channelID)
	v.mu.Unlock()
	if channelID != "" {
		go func() {
			v.node.VoiceStateUpdate(guildID, channelID, "voice-sess")
			v.node.VoiceServerUpdate(guildID, "tok", "endpoint.discord.media")
		}()
	}
	return nil
}

func TestResolveSearch(t *testing.T) {
	_, srv := newFakeNode(t)
	r := NewResolver(NewClient(srv.URL, "secret", time.Second))

	m, err := r.Resolve(context.Background(), "never gonna give you up")
	require.NoError(t, err)
	assert.Equal(t, "never gonna give you up", m.Title)
	assert.Equal(t, "enc-never gonna give you up", m.MediaRef)
	assert.Equal(t, "https://img.youtube.com/vi/vid1/hqdefault.jpg", m.ThumbnailRef)
	assert.Equal(t, types.SourceSearch, m.Source)
}

func TestResolveDirectURL(t *testing.T) {
	_, srv := newFakeNode(t)
	r := NewResolver(NewClient(srv.URL, "secret", time.Second))

	m, err := r.Resolve(context.Background(), "https://example.com/song.mp3")
	require.NoError(t, err)
	assert.Equal(t, types.SourceDirect, m.Source)
	assert.Equal(t, "art.png", m.ThumbnailRef)
}

func TestResolveSpotifyLink(t *testing.T) {
	_, srv := newFakeNode(t)
	oembed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("url"), "open.spotify.com/track/abc123")
		io.WriteString(w, `{"title":"Darude - Sandstorm"}`)
	}))
	defer oembed.Close()

	r := NewResolver(NewClient(srv.URL, "secret", time.Second))
	r.oembedURL = oembed.URL

	m, err := r.Resolve(context.Background(), "https://open.spotify.com/track/abc123?si=x")
	require.NoError(t, err)
	assert.Equal(t, types.SourceSpotify, m.Source)
	assert.Equal(t, "Darude - Sandstorm", m.Title)
}

func TestResolveFailures(t *testing.T) {
	_, srv := newFakeNode(t)
	r := NewResolver(NewClient(srv.URL, "secret", time.Second))

	for _, q := range []string{"", "nothing", "broken"} {
		_, err := r.Resolve(context.Background(), q)
		assert.True(t, errors.Is(err, types.ErrResolutionFailed), "query %q: %v", q, err)
	}

	down := NewResolver(NewClient("http://127.0.0.1:1", "secret", time.Second))
	_, err := down.Resolve(context.Background(), "anything")
	assert.ErrorIs(t, err, types.ErrTransportUnavailable)
}

func startNode(t *testing.T) (*fakeNode, *Node, *fakeVoice) {
	f, srv := newFakeNode(t)
	voice := &fakeVoice{}
	node := NewNode(NewClient(srv.URL, "secret", time.Second), voice, "bot")
	voice.node = node

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go node.Run(ctx)

	select {
	case <-f.connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("node never connected")
	}
	return f, node, voice
}

func TestNodeConnectHandsOverVoice(t *testing.T) {
	f, node, voice := startNode(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, err := node.Connect(ctx, "g1", "vc1")
	require.NoError(t, err)
	assert.Equal(t, "vc1", h.ChannelID)
	assert.Equal(t, []string{"vc1"}, voice.joins)

	require.Equal(t, 1, f.patchCount())
	f.mu.Lock()
	v := f.patches[0]["voice"].(map[string]any)
	f.mu.Unlock()
	assert.Equal(t, "tok", v["token"])
	assert.Equal(t, "voice-sess", v["sessionId"])
}

func TestNodeCompletionFiresOnceForCurrentTrack(t *testing.T) {
	f, node, _ := startNode(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h, err := node.Connect(ctx, "g1", "vc1")
	require.NoError(t, err)

	fired := make(chan string, 4)
	require.NoError(t, node.Play(ctx, h, "enc-a", func() { fired <- "a" }))

	// A replaced end and an end for some other track are ignored.
	f.send(map[string]any{"op": "event", "type": "TrackEndEvent", "guildId": "g1", "reason": "replaced", "track": map[string]any{"encoded": "enc-a"}})
	f.send(map[string]any{"op": "event", "type": "TrackEndEvent", "guildId": "g1", "reason": "finished", "track": map[string]any{"encoded": "enc-old"}})
	// The real end, delivered twice.
	f.send(map[string]any{"op": "event", "type": "TrackEndEvent", "guildId": "g1", "reason": "finished", "track": map[string]any{"encoded": "enc-a"}})
	f.send(map[string]any{"op": "event", "type": "TrackEndEvent", "guildId": "g1", "reason": "finished", "track": map[string]any{"encoded": "enc-a"}})

	select {
	case got := <-fired:
		assert.Equal(t, "a", got)
	case <-time.After(2 * time.Second):
		t.Fatal("completion never fired")
	}
	select {
	case <-fired:
		t.Fatal("completion fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNodeStopSuppressesCompletion(t *testing.T) {
	f, node, _ := startNode(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h, err := node.Connect(ctx, "g1", "vc1")
	require.NoError(t, err)

	fired := make(chan struct{}, 1)
	require.NoError(t, node.Play(ctx, h, "enc-a", func() { fired <- struct{}{} }))
	require.NoError(t, node.Stop(ctx, h))
	f.send(map[string]any{"op": "event", "type": "TrackEndEvent", "guildId": "g1", "reason": "finished", "track": map[string]any{"encoded": "enc-a"}})

	select {
	case <-fired:
		t.Fatal("completion fired after stop")
	case <-time.After(100 * time.Millisecond):
	}

	f.mu.Lock()
	last := f.patches[len(f.patches)-1]
	f.mu.Unlock()
	track := last["track"].(map[string]any)
	assert.Nil(t, track["encoded"])
}

func TestNodeDisconnect(t *testing.T) {
	f, node, voice := startNode(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h, err := node.Connect(ctx, "g1", "vc1")
	require.NoError(t, err)

	require.NoError(t, node.Disconnect(ctx, h))

	f.mu.Lock()
	assert.Equal(t, 1, f.deletes)
	f.mu.Unlock()
	voice.mu.Lock()
	assert.Equal(t, []string{"vc1", ""}, voice.joins)
	voice.mu.Unlock()
}

func TestNodeNotReadyIsTransportUnavailable(t *testing.T) {
	node := NewNode(NewClient("http://127.0.0.1:1", "secret", time.Second), &fakeVoice{}, "bot")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := node.Connect(ctx, "g1", "vc1")
	assert.ErrorIs(t, err, types.ErrTransportUnavailable)
}
