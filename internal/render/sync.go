package render

import (
	"context"
	"time"

	"github.com/user/stevebot/internal/session"
	"github.com/user/stevebot/internal/types"
)

// Sync applies content for s and records the resulting artifact ref on the
// session when it moved. It must run inside the session's lane.
func (r *Reconciler) Sync(ctx context.Context, st *session.Store, s *session.Session, content types.Content, cleanup bool) error {
	ref, res, err := r.Apply(ctx, s.ChannelID, s.Display, content, cleanup)
	if res == ResultNoop && err == nil {
		return nil
	}
	if !sameRef(ref, s.Display) {
		if _, _, uerr := st.Update(ctx, s.Key, func(cur *session.Session, _ time.Time) session.Outcome {
			return cur.SetDisplay(ref)
		}); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}

func sameRef(a, b *types.DisplayRef) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
