package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/trivia/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Leaderboard struct {
		ChannelID string             `json:"channel_id"`
		SessionID string             `json:"session_id"`
		Round     int                `json:"round"`
		Final     bool               `json:"final"`
		Entries   []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Rank     int    `json:"rank"`
		PlayerID string `json:"player_id"`
		Score    string `json:"score"`
	}
)

func newLeaderboard(l domain.Leaderboard) Leaderboard {
	data := Leaderboard{
		ChannelID: l.ChannelID,
		SessionID: l.SessionID,
		Round:     l.Round,
		Final:     l.Final,
		Entries:   make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for i, entry := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			Rank:     i + 1,
			PlayerID: entry.PlayerID,
			Score:    entry.Score.String(),
		})
	}

	return data
}

// PublishLeaderboardUpdated notifies the channel and every player on the leaderboard.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	data := newLeaderboard(e.Leaderboard)

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		return a.publishNotification(ctx, fmt.Sprintf("%s:channel:%s", a.prefix, data.ChannelID), e.Name(), data)
	})

	for _, entry := range data.Entries {
		eg.Go(func() error {
			return a.publishNotification(ctx, fmt.Sprintf("%s:user:%s", a.prefix, entry.PlayerID), e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, topic, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, topic, b).Err()
}
