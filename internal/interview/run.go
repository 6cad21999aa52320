package interview

import (
	"context"
	"errors"

	"jobgrade/internal/store"
)

// Run drives a session over a full channel until it completes or the channel fails.
// It continues the user's latest session when one is open.
func (e *Engine) Run(ctx context.Context, userID int64, ch Channel) error {
	st, err := e.Resume(ctx, userID, ch)
	if errors.Is(err, store.ErrNoSession) || errors.Is(err, ErrSessionCompleted) {
		st, err = e.Start(ctx, userID, ch)
	}
	if err != nil {
		return err
	}

	for st.Phase != PhaseCompleted {
		in, err := ch.Receive(ctx)
		if err != nil {
			return err
		}
		next, err := e.Handle(ctx, userID, in, ch)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The engine already told the respondent; the live state is unchanged.
			continue
		}
		st = next
	}
	return nil
}
