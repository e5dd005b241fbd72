// Package lavalink drives a Lavalink v4 node: track loading over REST,
// player updates, and the event websocket that reports track completion.
package lavalink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/stevebot/internal/types"
)

// Track is a loaded, playable track.
type Track struct {
	Encoded string    `json:"encoded"`
	Info    TrackInfo `json:"info"`
}

// TrackInfo is the metadata Lavalink reports for a track.
type TrackInfo struct {
	Identifier string `json:"identifier"`
	IsSeekable bool   `json:"isSeekable"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	IsStream   bool   `json:"isStream"`
	Title      string `json:"title"`
	URI        string `json:"uri"`
	ArtworkURL string `json:"artworkUrl"`
	SourceName string `json:"sourceName"`
}

type loadResult struct {
	LoadType string          `json:"loadType"`
	Data     json.RawMessage `json:"data"`
}

type loadException struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

// PlayerUpdate is the body of a player PATCH. Nil fields are left unchanged.
type PlayerUpdate struct {
	Track  *TrackUpdate `json:"track,omitempty"`
	Paused *bool        `json:"paused,omitempty"`
	Voice  *VoiceState  `json:"voice,omitempty"`
}

// TrackUpdate sets or clears the playing track. A nil Encoded stops playback.
type TrackUpdate struct {
	Encoded *string `json:"encoded"`
}

// VoiceState hands the Discord voice connection over to Lavalink.
type VoiceState struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

// Client talks to the REST API of one node.
type Client struct {
	baseURL  string
	password string
	client   *http.Client
}

// NewClient creates a Client for the node at baseURL (e.g. http://localhost:2333).
func NewClient(baseURL, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		password: password,
		client:   &http.Client{Timeout: timeout},
	}
}

// LoadTracks resolves identifier (a URL or a "ytsearch:" query). An empty
// result returns no tracks and no error.
func (c *Client) LoadTracks(ctx context.Context, identifier string) ([]Track, error) {
	q := url.Values{}
	q.Set("identifier", identifier)
	body, err := c.do(ctx, http.MethodGet, "/v4/loadtracks?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var res loadResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("parse load result: %w", err)
	}
	switch res.LoadType {
	case "track":
		var t Track
		if err := json.Unmarshal(res.Data, &t); err != nil {
			return nil, fmt.Errorf("parse track: %w", err)
		}
		return []Track{t}, nil
	case "search":
		var ts []Track
		if err := json.Unmarshal(res.Data, &ts); err != nil {
			return nil, fmt.Errorf("parse search: %w", err)
		}
		return ts, nil
	case "playlist":
		var pl struct {
			Tracks []Track `json:"tracks"`
		}
		if err := json.Unmarshal(res.Data, &pl); err != nil {
			return nil, fmt.Errorf("parse playlist: %w", err)
		}
		return pl.Tracks, nil
	case "empty":
		return nil, nil
	case "error":
		var ex loadException
		_ = json.Unmarshal(res.Data, &ex)
		return nil, fmt.Errorf("load %q: %s: %w", identifier, ex.Message, types.ErrResolutionFailed)
	default:
		return nil, fmt.Errorf("unknown load type %q", res.LoadType)
	}
}

// UpdatePlayer patches the player of guildID on sessionID.
func (c *Client) UpdatePlayer(ctx context.Context, sessionID, guildID string, update PlayerUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal player update: %w", err)
	}
	_, err = c.do(ctx, http.MethodPatch, fmt.Sprintf("/v4/sessions/%s/players/%s", sessionID, guildID), data)
	return err
}

// DestroyPlayer removes the player of guildID.
func (c *Client) DestroyPlayer(ctx context.Context, sessionID, guildID string) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/v4/sessions/%s/players/%s", sessionID, guildID), nil)
	return err
}

// Version returns the node version string. Used as a health probe.
func (c *Client) Version(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/version", nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.password)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lavalink %s %s: %v: %w", method, path, err, types.ErrTransportUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		err := fmt.Errorf("lavalink %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.Join(err, types.ErrTransportUnavailable)
		}
		return nil, err
	}
	return body, nil
}
