// Package results stores the outcome of finished games.
package results

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/event"
)

// DB is satisfied by *pgxpool.Pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Config struct {
	DB       DB
	EventBus *event.Bus
}

type Service struct {
	db DB
}

func NewService(c Config) *Service {
	s := &Service{
		db: c.DB,
	}

	c.EventBus.Subscribe(domain.EventNameGameEnded, func(ctx context.Context, e event.Event) error {
		g := e.(domain.EventGameEnded)
		if !g.Played {
			return nil
		}

		return s.RecordOutcome(ctx, RecordOutcomeRequest{
			SessionID:   g.SessionID,
			ChannelID:   g.ChannelID,
			QuestionSet: g.QuestionSet,
			Reason:      g.Reason,
			Rounds:      g.Rounds,
			Standings:   g.Standings,
			EndTime:     g.EndTime,
		})
	})

	return s
}

type RecordOutcomeRequest struct {
	SessionID   string
	ChannelID   string
	QuestionSet string
	Reason      domain.EndReason
	// Rounds is the number of resolved questions.
	Rounds int
	// Standings are sorted by score, ties by join order.
	Standings []domain.Standing
	EndTime   time.Time
}

// RecordOutcome stores the final standings of a game. A game is recorded at most once.
func (s *Service) RecordOutcome(ctx context.Context, req RecordOutcomeRequest) (err error) {
	if req.SessionID == "" || req.ChannelID == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("session and channel are required"))
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const insGameStmt = `
INSERT INTO games (session_id, channel_id, question_set, end_reason, rounds, end_time)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err = tx.Exec(ctx, insGameStmt, req.SessionID, req.ChannelID, req.QuestionSet, string(req.Reason), req.Rounds, req.EndTime)

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("game already recorded: session=%s", req.SessionID),
			errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}

	rows := make([][]any, 0, len(req.Standings))
	for i, st := range req.Standings {
		rows = append(rows, []any{req.SessionID, st.PlayerID, i + 1, st.Score})
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"game_players"},
		[]string{"session_id", "player_id", "rank", "score"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("insert players: %w", err)
	}

	return tx.Commit(ctx)
}
