package leaderboard

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/event"
)

const defaultTTL = time.Hour

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
	// TTL bounds how long a snapshot outlives its last update.
	TTL time.Duration
}

// Service keeps the latest standings of every channel in Redis.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
		ttl:    c.TTL,
	}
	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}

	s.eb.Subscribe(domain.EventNameRoundResolved, func(ctx context.Context, e event.Event) error {
		r := e.(domain.EventRoundResolved)
		return s.UpdateLeaderboard(ctx, domain.NewLeaderboard(r.ChannelID, r.SessionID, r.Round, r.Standings))
	})

	s.eb.Subscribe(domain.EventNameGameEnded, func(ctx context.Context, e event.Event) error {
		g := e.(domain.EventGameEnded)
		if !g.Played {
			return nil
		}

		l := domain.NewLeaderboard(g.ChannelID, g.SessionID, g.Rounds, g.Standings)
		l.Final = true
		return s.UpdateLeaderboard(ctx, l)
	})

	return s
}

type GetLeaderboardRequest struct {
	ChannelID string
}

// GetLeaderboard returns the latest standings of the channel's current or last game.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	b, err := s.redis.Get(ctx, s.getLeaderboardKey(req.ChannelID)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not found: channel=%s", req.ChannelID))
	}
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	var l domain.Leaderboard
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, fmt.Errorf("decode leaderboard: channel=%s: %w", req.ChannelID, err)
	}

	return &l, nil
}

// UpdateLeaderboard overwrites the channel's snapshot and publishes it.
// A snapshot of an older round of the same session is dropped.
func (s *Service) UpdateLeaderboard(ctx context.Context, l domain.Leaderboard) error {
	cur, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{ChannelID: l.ChannelID})
	switch {
	case errors.Is(err, errors.CodeNotFound):
	case err != nil:
		return err
	case stale(cur, l):
		return nil
	}

	b, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode leaderboard: channel=%s: %w", l.ChannelID, err)
	}

	// TODO: retry on error
	if err := s.redis.Set(ctx, s.getLeaderboardKey(l.ChannelID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: l,
	})

	return nil
}

func stale(cur *domain.Leaderboard, next domain.Leaderboard) bool {
	if cur.SessionID != next.SessionID {
		return false
	}
	if cur.Final || next.Final {
		return cur.Final
	}
	return next.Round < cur.Round
}

func (s *Service) getLeaderboardKey(channel string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, channel)
}
