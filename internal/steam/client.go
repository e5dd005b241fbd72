// Package steam reports what Steam users are playing.
package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/stevebot/internal/types"
)

// maxBatch is the GetPlayerSummaries limit on ids per request.
const maxBatch = 100

// Client is a StatusProvider backed by the Steam Web API. The status label is
// the name of the game a player is in; players not in a game have an empty
// label.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ types.StatusProvider = (*Client)(nil)

// NewClient creates a Client. timeout bounds every request.
func NewClient(apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: "https://api.steampowered.com",
		client:  &http.Client{Timeout: timeout},
	}
}

type summariesResponse struct {
	Response struct {
		Players []player `json:"players"`
	} `json:"response"`
}

type player struct {
	SteamID        string `json:"steamid"`
	PersonaName    string `json:"personaname"`
	PersonaState   int    `json:"personastate"`
	GameExtraInfo  string `json:"gameextrainfo"`
	GameID         string `json:"gameid"`
	ProfileURL     string `json:"profileurl"`
	AvatarMedium   string `json:"avatarmedium"`
	CommunityState int    `json:"communityvisibilitystate"`
}

// FetchBatch looks up every id, splitting into requests of at most 100 ids.
// Unknown ids are absent from the result.
func (c *Client) FetchBatch(ctx context.Context, ids []string) (map[string]types.ProviderStatus, error) {
	out := make(map[string]types.ProviderStatus, len(ids))
	for start := 0; start < len(ids); start += maxBatch {
		end := min(start+maxBatch, len(ids))
		players, err := c.summaries(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		for _, p := range players {
			meta := map[string]string{"persona": p.PersonaName}
			if p.GameID != "" {
				meta["game_id"] = p.GameID
			}
			if p.ProfileURL != "" {
				meta["profile"] = p.ProfileURL
			}
			if p.AvatarMedium != "" {
				meta["avatar"] = p.AvatarMedium
			}
			out[p.SteamID] = types.ProviderStatus{Label: p.GameExtraInfo, Meta: meta}
		}
	}
	return out, nil
}

func (c *Client) summaries(ctx context.Context, ids []string) ([]player, error) {
	u, _ := url.Parse(c.baseURL + "/ISteamUser/GetPlayerSummaries/v2/")
	q := u.Query()
	q.Set("key", c.apiKey)
	q.Set("steamids", strings.Join(ids, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("player summaries request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("steam API status %d: %w", resp.StatusCode, types.ErrProviderRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("steam API unauthorized (status %d)", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("steam API error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result summariesResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return result.Response.Players, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
