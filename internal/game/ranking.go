package game

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/gateway"
)

// rankingWindow lets players privately check their rank for a short while after a round.
type rankingWindow struct {
	gw        gateway.Gateway
	channelID string
	duration  time.Duration
	bg        background
	log       *slog.Logger
}

// open posts the standings with a rank button and answers rank queries of the
// members until the window elapses. members must not change while the window is open.
func (w *rankingWindow) open(ctx context.Context, res RoundResult, standings []domain.Standing, members map[string]struct{}) error {
	c := rankingView(res.Number, standings)

	msg, err := w.gw.Post(ctx, w.channelID, c)
	if err != nil {
		return fmt.Errorf("post standings of question %d: %w", res.Number, err)
	}

	queries, err := w.gw.SubscribeComponents(ctx, msg, gateway.ComponentOptions{
		Kinds:   []gateway.ComponentKind{gateway.ComponentButton},
		Timeout: w.duration,
		Filter: func(e gateway.ComponentEvent) bool {
			_, ok := members[e.UserID]
			return ok && e.CustomID == rankID
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe rank queries of question %d: %w", res.Number, err)
	}
	defer queries.Stop()

	for open := true; open; {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case e := <-queries.Events():
			w.answer(ctx, e, standings, res)

		case <-queries.Done():
			open = false

		case e := <-w.bg.commands:
			w.bg.command(ctx, e)

		case f := <-w.bg.control:
			f(ctx)
		}
	}

	for drained := false; !drained; {
		select {
		case e := <-queries.Events():
			w.answer(ctx, e, standings, res)
		default:
			drained = true
		}
	}

	c.Components = nil
	if err := w.gw.Edit(ctx, msg, c); err != nil {
		return fmt.Errorf("close standings of question %d: %w", res.Number, err)
	}

	return nil
}

func (w *rankingWindow) answer(ctx context.Context, e gateway.ComponentEvent, standings []domain.Standing, res RoundResult) {
	if err := w.gw.Respond(ctx, e, rankCard(e.UserID, standings, res)); err != nil {
		w.log.WarnContext(ctx, "game: respond to rank query failed", "player", e.UserID, "error", err)
	}
}
