// Package fake provides in-memory collaborators for tests.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/user/stevebot/internal/types"
)

// Call records one method invocation on a fake.
type Call struct {
	Method    string
	ChannelID string
	MessageID string
	Content   types.Content
}

// Surface is an in-memory ChatSurface.
type Surface struct {
	mu       sync.Mutex
	next     int
	Calls    []Call
	Messages map[string]types.Content // "channel/message" -> content

	// Errors injected per method name. Each error is returned once.
	errs map[string][]error
}

var _ types.ChatSurface = (*Surface)(nil)

func NewSurface() *Surface {
	return &Surface{Messages: make(map[string]types.Content), errs: make(map[string][]error)}
}

// FailNext makes the next call to method return err.
func (s *Surface) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[method] = append(s.errs[method], err)
}

// Remove deletes a message behind the caller's back.
func (s *Surface) Remove(channelID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Messages, channelID+"/"+messageID)
}

func (s *Surface) popErr(method string) error {
	if errs := s.errs[method]; len(errs) > 0 {
		s.errs[method] = errs[1:]
		return errs[0]
	}
	return nil
}

func (s *Surface) CreateMessage(_ context.Context, channelID string, c types.Content) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Call{Method: "create", ChannelID: channelID, Content: c})
	if err := s.popErr("create"); err != nil {
		return "", err
	}
	s.next++
	id := fmt.Sprintf("m%d", s.next)
	s.Messages[channelID+"/"+id] = c
	return id, nil
}

func (s *Surface) EditMessage(_ context.Context, channelID, messageID string, c types.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Call{Method: "edit", ChannelID: channelID, MessageID: messageID, Content: c})
	if err := s.popErr("edit"); err != nil {
		return err
	}
	key := channelID + "/" + messageID
	if _, ok := s.Messages[key]; !ok {
		return fmt.Errorf("edit %s: %w", messageID, types.ErrArtifactMissing)
	}
	s.Messages[key] = c
	return nil
}

func (s *Surface) DeleteMessage(_ context.Context, channelID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, Call{Method: "delete", ChannelID: channelID, MessageID: messageID})
	if err := s.popErr("delete"); err != nil {
		return err
	}
	key := channelID + "/" + messageID
	if _, ok := s.Messages[key]; !ok {
		return fmt.Errorf("delete %s: %w", messageID, types.ErrArtifactMissing)
	}
	delete(s.Messages, key)
	return nil
}

// Count returns how many calls of method were made.
func (s *Surface) Count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Last returns the most recent call, or a zero Call.
func (s *Surface) Last() Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Calls) == 0 {
		return Call{}
	}
	return s.Calls[len(s.Calls)-1]
}

// Transport is an in-memory VoiceTransport. Completion callbacks are held
// until Finish is called.
type Transport struct {
	mu         sync.Mutex
	Connects    int
	Disconnects int
	Played      []string
	Stops       int
	Paused      bool
	complete    func()
	ConnectErr  error
	PlayErr     error
}

var _ types.VoiceTransport = (*Transport)(nil)

func (t *Transport) Connect(_ context.Context, guildID, channelID string) (types.VoiceHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ConnectErr != nil {
		return types.VoiceHandle{}, t.ConnectErr
	}
	t.Connects++
	return types.VoiceHandle{GuildID: guildID, ChannelID: channelID}, nil
}

func (t *Transport) Play(_ context.Context, _ types.VoiceHandle, mediaRef string, onComplete func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.PlayErr != nil {
		return t.PlayErr
	}
	t.Played = append(t.Played, mediaRef)
	t.complete = onComplete
	return nil
}

func (t *Transport) SetPaused(_ context.Context, _ types.VoiceHandle, paused bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Paused = paused
	return nil
}

func (t *Transport) Stop(_ context.Context, _ types.VoiceHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Stops++
	t.complete = nil
	return nil
}

func (t *Transport) Disconnect(_ context.Context, _ types.VoiceHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Disconnects++
	t.complete = nil
	return nil
}

// Finish fires the completion callback of the item playing now. It reports
// false when nothing is playing.
func (t *Transport) Finish() bool {
	t.mu.Lock()
	fn := t.complete
	t.complete = nil
	t.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Snapshot returns counters under the lock.
func (t *Transport) Snapshot() (connects, disconnects int, played []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Connects, t.Disconnects, append([]string(nil), t.Played...)
}

// Resolver maps queries to media, failing for unknown queries.
type Resolver struct {
	mu      sync.Mutex
	Results map[string]*types.ResolvedMedia
	Calls   int
}

var _ types.MediaResolver = (*Resolver)(nil)

func (r *Resolver) Resolve(_ context.Context, query string) (*types.ResolvedMedia, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
	if m, ok := r.Results[query]; ok {
		c := *m
		return &c, nil
	}
	if r.Results == nil {
		return &types.ResolvedMedia{Title: query, MediaRef: "ref:" + query, Source: types.SourceSearch}, nil
	}
	return nil, fmt.Errorf("resolve %q: %w", query, types.ErrResolutionFailed)
}

// Provider is a StatusProvider backed by a map. Unknown ids are absent from
// the result.
type Provider struct {
	mu       sync.Mutex
	Statuses map[string]types.ProviderStatus
	Batches  [][]string
	Err      error
}

var _ types.StatusProvider = (*Provider)(nil)

func (p *Provider) FetchBatch(_ context.Context, ids []string) (map[string]types.ProviderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Batches = append(p.Batches, append([]string(nil), ids...))
	if p.Err != nil {
		return nil, p.Err
	}
	out := make(map[string]types.ProviderStatus)
	for _, id := range ids {
		if st, ok := p.Statuses[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

// Set replaces the status for id.
func (p *Provider) Set(id string, st types.ProviderStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Statuses == nil {
		p.Statuses = make(map[string]types.ProviderStatus)
	}
	p.Statuses[id] = st
}

// Calls returns the number of batch calls made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Batches)
}
