package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/user/stevebot/internal/types"
)

// Result describes what Apply did to the remote artifact.
type Result int

const (
	ResultNoop Result = iota
	ResultCreated
	ResultEdited
	ResultRecreated
	ResultDeleted
)

func (r Result) String() string {
	switch r {
	case ResultCreated:
		return "created"
	case ResultEdited:
		return "edited"
	case ResultRecreated:
		return "recreated"
	case ResultDeleted:
		return "deleted"
	default:
		return "noop"
	}
}

// Reconciler converges one artifact per session onto the desired content.
// Callers serialise Apply per session; the reconciler itself is safe for
// concurrent use across sessions.
type Reconciler struct {
	surface types.ChatSurface

	mu      sync.Mutex
	applied map[string]string // message id -> hash of the content last written
	denied  map[string]bool   // channels already reported as not permitted
}

// NewReconciler creates a Reconciler writing through surface.
func NewReconciler(surface types.ChatSurface) *Reconciler {
	return &Reconciler{
		surface: surface,
		applied: make(map[string]string),
		denied:  make(map[string]bool),
	}
}

// Apply makes the artifact at ref show content and returns the ref now
// holding it. A nil ref creates a new artifact; a ref in another channel is
// deleted first and then recreated in channelID.
// Content equal to what was last written is not re-sent. Empty content with
// cleanup deletes the artifact and returns a nil ref.
func (r *Reconciler) Apply(ctx context.Context, channelID string, ref *types.DisplayRef, content types.Content, cleanup bool) (*types.DisplayRef, Result, error) {
	if content.Empty && cleanup {
		return r.remove(ctx, ref)
	}
	if channelID == "" {
		return ref, ResultNoop, fmt.Errorf("apply display: no channel bound")
	}
	if ref == nil {
		return r.create(ctx, channelID, content, ResultCreated)
	}
	if ref.ChannelID != channelID {
		r.retire(ctx, ref)
		return r.create(ctx, channelID, content, ResultCreated)
	}

	hash := content.Hash()
	if r.lastApplied(ref.MessageID) == hash {
		return ref, ResultNoop, nil
	}

	err := r.surface.EditMessage(ctx, ref.ChannelID, ref.MessageID, content)
	switch {
	case err == nil:
		r.record(ref.MessageID, hash)
		return ref, ResultEdited, nil
	case errors.Is(err, types.ErrArtifactMissing):
		slog.Info("display artifact gone, recreating", "channel", channelID, "message", ref.MessageID)
		r.Forget(ref)
		return r.create(ctx, channelID, content, ResultRecreated)
	case errors.Is(err, types.ErrArtifactPermissionDenied):
		r.reportDenied(channelID, err)
		return ref, ResultNoop, err
	default:
		return ref, ResultNoop, fmt.Errorf("edit display: %w", err)
	}
}

// Forget drops what is known about the artifact at ref.
func (r *Reconciler) Forget(ref *types.DisplayRef) {
	if ref == nil {
		return
	}
	r.mu.Lock()
	delete(r.applied, ref.MessageID)
	r.mu.Unlock()
}

func (r *Reconciler) create(ctx context.Context, channelID string, content types.Content, result Result) (*types.DisplayRef, Result, error) {
	id, err := r.surface.CreateMessage(ctx, channelID, content)
	if err != nil {
		if errors.Is(err, types.ErrArtifactPermissionDenied) {
			r.reportDenied(channelID, err)
			return nil, ResultNoop, err
		}
		return nil, ResultNoop, fmt.Errorf("create display: %w", err)
	}
	r.record(id, content.Hash())
	r.mu.Lock()
	delete(r.denied, channelID)
	r.mu.Unlock()
	return &types.DisplayRef{ChannelID: channelID, MessageID: id}, result, nil
}

func (r *Reconciler) remove(ctx context.Context, ref *types.DisplayRef) (*types.DisplayRef, Result, error) {
	if ref == nil {
		return nil, ResultNoop, nil
	}
	err := r.surface.DeleteMessage(ctx, ref.ChannelID, ref.MessageID)
	if err != nil && !errors.Is(err, types.ErrArtifactMissing) {
		if errors.Is(err, types.ErrArtifactPermissionDenied) {
			r.reportDenied(ref.ChannelID, err)
			return ref, ResultNoop, err
		}
		return ref, ResultNoop, fmt.Errorf("delete display: %w", err)
	}
	r.Forget(ref)
	return nil, ResultDeleted, nil
}

// retire removes an artifact left behind in a channel the session no longer
// uses. Failures are logged only; the new artifact is created regardless.
func (r *Reconciler) retire(ctx context.Context, ref *types.DisplayRef) {
	err := r.surface.DeleteMessage(ctx, ref.ChannelID, ref.MessageID)
	if err != nil && !errors.Is(err, types.ErrArtifactMissing) {
		slog.Warn("delete stale display failed", "channel", ref.ChannelID, "message", ref.MessageID, "error", err)
	}
	r.Forget(ref)
}

func (r *Reconciler) lastApplied(messageID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applied[messageID]
}

func (r *Reconciler) record(messageID, hash string) {
	r.mu.Lock()
	r.applied[messageID] = hash
	r.mu.Unlock()
}

func (r *Reconciler) reportDenied(channelID string, err error) {
	r.mu.Lock()
	seen := r.denied[channelID]
	r.denied[channelID] = true
	r.mu.Unlock()
	if seen {
		slog.Debug("display still not permitted", "channel", channelID)
		return
	}
	slog.Warn("display not permitted in channel", "channel", channelID, "error", err)
}
