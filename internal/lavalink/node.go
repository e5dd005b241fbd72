package lavalink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/stevebot/internal/types"
)

// VoiceGateway asks the chat gateway to move the bot in or out of a voice
// channel. An empty channelID leaves.
type VoiceGateway interface {
	JoinVoice(guildID, channelID string) error
}

// Node is a VoiceTransport backed by one Lavalink node. The chat gateway
// forwards the bot's own voice state and voice server updates through
// VoiceStateUpdate and VoiceServerUpdate.
type Node struct {
	client   *Client
	voice    VoiceGateway
	wsURL    string
	userID   string
	password string
	dialer   *websocket.Dialer

	mu        sync.Mutex
	sessionID string
	ready     chan struct{}
	players   map[string]*player
	conn      *websocket.Conn
}

type player struct {
	encoded    string
	onComplete func()

	voiceSession string
	token        string
	endpoint     string
	voiceReady   chan struct{}
	voiceSent    bool
}

var _ types.VoiceTransport = (*Node)(nil)

// NewNode creates a Node. userID is the bot's user id.
func NewNode(client *Client, voice VoiceGateway, userID string) *Node {
	ws := client.baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return &Node{
		client:   client,
		voice:    voice,
		wsURL:    ws + "/v4/websocket",
		userID:   userID,
		password: client.password,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		ready:    make(chan struct{}),
		players:  make(map[string]*player),
	}
}

// SetUserID sets the bot user id once the chat gateway knows it.
func (n *Node) SetUserID(id string) {
	n.mu.Lock()
	n.userID = id
	n.mu.Unlock()
}

// Run keeps the event websocket connected until ctx is done, reconnecting
// with backoff.
func (n *Node) Run(ctx context.Context) {
	backoff := time.Second
	for {
		err := n.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("lavalink websocket closed", "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func (n *Node) connectAndRead(ctx context.Context) error {
	n.mu.Lock()
	header := http.Header{}
	header.Set("Authorization", n.password)
	header.Set("User-Id", n.userID)
	header.Set("Client-Name", "stevebot/1.0")
	if n.sessionID != "" {
		header.Set("Session-Id", n.sessionID)
	}
	n.mu.Unlock()

	conn, _, err := n.dialer.DialContext(ctx, n.wsURL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", n.wsURL, err)
	}
	conn.SetReadLimit(1 << 20)
	n.mu.Lock()
	n.conn = conn
	n.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
				time.Now().Add(500*time.Millisecond))
			_ = conn.Close()
		case <-done:
		}
	}()

	defer func() {
		_ = conn.Close()
		n.mu.Lock()
		n.conn = nil
		// Calls made while disconnected wait for the next ready op.
		select {
		case <-n.ready:
			n.ready = make(chan struct{})
		default:
		}
		n.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		n.handleMessage(data)
	}
}

type message struct {
	Op        string `json:"op"`
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Resumed   bool   `json:"resumed"`
	GuildID   string `json:"guildId"`
	Reason    string `json:"reason"`
	Track     *Track `json:"track"`
	Code      int    `json:"code"`
}

func (n *Node) handleMessage(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("lavalink: bad message", "error", err)
		return
	}
	switch msg.Op {
	case "ready":
		n.mu.Lock()
		n.sessionID = msg.SessionID
		select {
		case <-n.ready:
		default:
			close(n.ready)
		}
		n.mu.Unlock()
		slog.Info("lavalink ready", "session_id", msg.SessionID, "resumed", msg.Resumed)
	case "event":
		n.handleEvent(msg)
	}
}

func (n *Node) handleEvent(msg message) {
	switch msg.Type {
	case "TrackEndEvent":
		// replaced and stopped are caused by our own Play/Stop calls.
		if msg.Reason != "finished" && msg.Reason != "loadFailed" {
			return
		}
		n.complete(msg.GuildID, msg.Track)
	case "TrackStuckEvent":
		n.complete(msg.GuildID, msg.Track)
	case "TrackExceptionEvent":
		slog.Warn("lavalink track exception", "guild", msg.GuildID)
	case "WebSocketClosedEvent":
		slog.Warn("lavalink voice socket closed", "guild", msg.GuildID, "code", msg.Code)
	}
}

// complete fires the completion callback once, and only for the track that
// is still the player's current one.
func (n *Node) complete(guildID string, t *Track) {
	n.mu.Lock()
	p, ok := n.players[guildID]
	if !ok || p.onComplete == nil || (t != nil && t.Encoded != p.encoded) {
		n.mu.Unlock()
		return
	}
	cb := p.onComplete
	p.onComplete = nil
	p.encoded = ""
	n.mu.Unlock()
	go cb()
}

// VoiceStateUpdate records the bot's voice session for guildID.
func (n *Node) VoiceStateUpdate(guildID, channelID, sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if channelID == "" {
		delete(n.players, guildID)
		return
	}
	p := n.playerLocked(guildID)
	if p.voiceSession != sessionID {
		p.voiceSession = sessionID
		p.voiceSent = false
	}
	n.checkVoiceLocked(p)
}

// VoiceServerUpdate records the voice server assigned to guildID.
func (n *Node) VoiceServerUpdate(guildID, token, endpoint string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := n.playerLocked(guildID)
	p.token = token
	p.endpoint = endpoint
	p.voiceSent = false
	n.checkVoiceLocked(p)
}

func (n *Node) playerLocked(guildID string) *player {
	p, ok := n.players[guildID]
	if !ok {
		p = &player{voiceReady: make(chan struct{})}
		n.players[guildID] = p
	}
	return p
}

func (n *Node) checkVoiceLocked(p *player) {
	if p.voiceSession == "" || p.token == "" || p.endpoint == "" {
		return
	}
	select {
	case <-p.voiceReady:
	default:
		close(p.voiceReady)
	}
}

// Connect joins channelID and hands the voice connection to the node.
func (n *Node) Connect(ctx context.Context, guildID, channelID string) (types.VoiceHandle, error) {
	h := types.VoiceHandle{GuildID: guildID, ChannelID: channelID}
	sessionID, err := n.waitReady(ctx)
	if err != nil {
		return h, err
	}

	n.mu.Lock()
	p := n.playerLocked(guildID)
	voiceReady := p.voiceReady
	n.mu.Unlock()

	if err := n.voice.JoinVoice(guildID, channelID); err != nil {
		return h, fmt.Errorf("join voice %s: %v: %w", channelID, err, types.ErrTransportUnavailable)
	}
	select {
	case <-voiceReady:
	case <-ctx.Done():
		return h, fmt.Errorf("join voice %s: no voice server: %w", channelID, types.ErrTransportUnavailable)
	}

	n.mu.Lock()
	p = n.playerLocked(guildID)
	vs := VoiceState{Token: p.token, Endpoint: p.endpoint, SessionID: p.voiceSession}
	sent := p.voiceSent
	n.mu.Unlock()
	if sent {
		return h, nil
	}
	if err := n.client.UpdatePlayer(ctx, sessionID, guildID, PlayerUpdate{Voice: &vs}); err != nil {
		return h, fmt.Errorf("hand over voice: %w", asTransportErr(err))
	}
	n.mu.Lock()
	p.voiceSent = true
	n.mu.Unlock()
	return h, nil
}

// Play replaces whatever is playing with mediaRef. onComplete fires once
// when that track ends on its own.
func (n *Node) Play(ctx context.Context, h types.VoiceHandle, mediaRef string, onComplete func()) error {
	sessionID, err := n.waitReady(ctx)
	if err != nil {
		return err
	}
	n.mu.Lock()
	p := n.playerLocked(h.GuildID)
	p.encoded = mediaRef
	p.onComplete = onComplete
	n.mu.Unlock()

	encoded := mediaRef
	paused := false
	if err := n.client.UpdatePlayer(ctx, sessionID, h.GuildID, PlayerUpdate{Track: &TrackUpdate{Encoded: &encoded}, Paused: &paused}); err != nil {
		n.clearCallback(h.GuildID)
		return fmt.Errorf("play: %w", asTransportErr(err))
	}
	return nil
}

// SetPaused pauses or resumes the player.
func (n *Node) SetPaused(ctx context.Context, h types.VoiceHandle, paused bool) error {
	sessionID, err := n.waitReady(ctx)
	if err != nil {
		return err
	}
	if err := n.client.UpdatePlayer(ctx, sessionID, h.GuildID, PlayerUpdate{Paused: &paused}); err != nil {
		return fmt.Errorf("pause: %w", asTransportErr(err))
	}
	return nil
}

// Stop ends the current track without firing its completion callback.
func (n *Node) Stop(ctx context.Context, h types.VoiceHandle) error {
	n.clearCallback(h.GuildID)
	sessionID, err := n.waitReady(ctx)
	if err != nil {
		return err
	}
	if err := n.client.UpdatePlayer(ctx, sessionID, h.GuildID, PlayerUpdate{Track: &TrackUpdate{}}); err != nil {
		return fmt.Errorf("stop: %w", asTransportErr(err))
	}
	return nil
}

// Disconnect destroys the player and leaves the voice channel.
func (n *Node) Disconnect(ctx context.Context, h types.VoiceHandle) error {
	n.mu.Lock()
	delete(n.players, h.GuildID)
	sessionID := n.sessionID
	n.mu.Unlock()

	var errs []error
	if sessionID != "" {
		if err := n.client.DestroyPlayer(ctx, sessionID, h.GuildID); err != nil {
			errs = append(errs, fmt.Errorf("destroy player: %w", err))
		}
	}
	if err := n.voice.JoinVoice(h.GuildID, ""); err != nil {
		errs = append(errs, fmt.Errorf("leave voice: %w", err))
	}
	return errors.Join(errs...)
}

func (n *Node) clearCallback(guildID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.players[guildID]; ok {
		p.onComplete = nil
		p.encoded = ""
	}
}

func (n *Node) waitReady(ctx context.Context) (string, error) {
	n.mu.Lock()
	ready := n.ready
	n.mu.Unlock()
	select {
	case <-ready:
	case <-ctx.Done():
		return "", fmt.Errorf("lavalink not ready: %w", types.ErrTransportUnavailable)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessionID, nil
}

func asTransportErr(err error) error {
	if errors.Is(err, types.ErrTransportUnavailable) {
		return err
	}
	return errors.Join(err, types.ErrTransportUnavailable)
}

// Host returns the host the node websocket points at.
func (n *Node) Host() string {
	u, err := url.Parse(n.wsURL)
	if err != nil {
		return n.wsURL
	}
	return u.Host
}
