package lavalink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/user/stevebot/internal/types"
)

var spotifyTrack = regexp.MustCompile(`open\.spotify\.com/(?:intl-[a-z]+/)?track/([A-Za-z0-9]+)`)

// Resolver maps user input to a playable track through the node. Spotify
// track links are first turned into a title with the public oEmbed endpoint
// and then searched.
type Resolver struct {
	client    *Client
	oembedURL string
	http      *http.Client
}

var _ types.MediaResolver = (*Resolver)(nil)

// NewResolver creates a Resolver loading through client.
func NewResolver(client *Client) *Resolver {
	return &Resolver{
		client:    client,
		oembedURL: "https://open.spotify.com/oembed",
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Resolve returns the first match for query.
func (r *Resolver) Resolve(ctx context.Context, query string) (*types.ResolvedMedia, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query: %w", types.ErrResolutionFailed)
	}

	source := types.SourceSearch
	identifier := "ytsearch:" + query
	switch {
	case spotifyTrack.MatchString(query):
		title, err := r.spotifyTitle(ctx, query)
		if err != nil {
			return nil, err
		}
		source = types.SourceSpotify
		identifier = "ytsearch:" + title
	case isURL(query):
		source = types.SourceDirect
		identifier = query
	}

	tracks, err := r.client.LoadTracks(ctx, identifier)
	if err != nil {
		if errors.Is(err, types.ErrResolutionFailed) || errors.Is(err, types.ErrTransportUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("load %q: %v: %w", query, err, types.ErrResolutionFailed)
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("no result for %q: %w", query, types.ErrResolutionFailed)
	}

	t := tracks[0]
	return &types.ResolvedMedia{
		Title:        t.Info.Title,
		MediaRef:     t.Encoded,
		ThumbnailRef: thumbnail(t.Info),
		Source:       source,
	}, nil
}

func (r *Resolver) spotifyTitle(ctx context.Context, link string) (string, error) {
	u, _ := url.Parse(r.oembedURL)
	q := u.Query()
	q.Set("url", link)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("spotify lookup: %v: %w", err, types.ErrResolutionFailed)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("spotify lookup: status %d: %w", resp.StatusCode, types.ErrResolutionFailed)
	}

	var meta struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(body, &meta); err != nil || strings.TrimSpace(meta.Title) == "" {
		return "", fmt.Errorf("spotify lookup: no title: %w", types.ErrResolutionFailed)
	}
	return strings.TrimSpace(meta.Title), nil
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func thumbnail(info TrackInfo) string {
	if info.ArtworkURL != "" {
		return info.ArtworkURL
	}
	if info.SourceName == "youtube" && info.Identifier != "" {
		return "https://img.youtube.com/vi/" + info.Identifier + "/hqdefault.jpg"
	}
	return ""
}
