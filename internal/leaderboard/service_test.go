package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/leaderboard"
)

func TestService_UpdateLeaderboard(t *testing.T) {
	s, rs := makeService(t)

	err := s.UpdateLeaderboard(context.Background(), domain.NewLeaderboard("c1", "s1", 1, []domain.Standing{
		{PlayerID: "u1", Score: decimal.NewFromInt(910)},
		{PlayerID: "u2", Score: decimal.Zero},
	}))
	require.NoError(t, err)

	resp, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{
		ChannelID: "c1",
	})
	require.NoError(t, err)

	require.Equal(t, "s1", resp.SessionID)
	require.Equal(t, 1, resp.Round)
	require.Len(t, resp.Entries, 2)
	require.Equal(t, "u1", resp.Entries[0].PlayerID)
	require.True(t, resp.Entries[0].Score.Equal(decimal.NewFromInt(910)))
	require.Equal(t, "u2", resp.Entries[1].PlayerID)

	rs.FastForward(2 * time.Hour)
	_, err = s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{ChannelID: "c1"})
	require.True(t, errors.Is(err, errors.CodeNotFound), "snapshot should expire")
}

func TestService_GetLeaderboard_NotFound(t *testing.T) {
	s, _ := makeService(t)

	_, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{
		ChannelID: "unknown",
	})
	require.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestServer_PublishLeaderboardUpdated(t *testing.T) {
	standings := []domain.Standing{{PlayerID: "u1", Score: decimal.NewFromInt(100)}}

	type (
		inputs struct {
			receivedEvents []event.Event
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish leaderboard.updated after receiving round.resolved": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []event.Event{
						domain.EventRoundResolved{SessionID: "s1", ChannelID: "c1", Round: 1, Standings: standings},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				l := out.publishedEvents[0].Leaderboard
				require.Equal(t, "c1", l.ChannelID)
				require.Equal(t, 1, l.Round)
				require.False(t, l.Final)
			},
		},

		"should publish a final leaderboard after receiving game.ended": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []event.Event{
						domain.EventGameEnded{SessionID: "s1", ChannelID: "c1", Played: true, Rounds: 3, Standings: standings},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1)
				require.True(t, out.publishedEvents[0].Leaderboard.Final)
				require.Equal(t, 3, out.publishedEvents[0].Leaderboard.Round)
			},
		},

		"should ignore games that never left the lobby": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []event.Event{
						domain.EventGameEnded{SessionID: "s1", ChannelID: "c1", Reason: domain.EndReasonTimedOut},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Empty(t, out.publishedEvents)
			},
		},

		"should publish 2 events for 2 different channels": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []event.Event{
						domain.EventRoundResolved{SessionID: "s1", ChannelID: "c1", Round: 1, Standings: standings},
						domain.EventRoundResolved{SessionID: "s2", ChannelID: "c2", Round: 1, Standings: standings},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2, "should receive 2 leaderboard updated event")
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			makeService(t,
				withEventBus(eb),
			)

			for _, e := range in.receivedEvents {
				eb.Publish(context.Background(), e)
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func TestService_DropStaleSnapshots(t *testing.T) {
	standings := []domain.Standing{{PlayerID: "u1", Score: decimal.NewFromInt(100)}}

	tests := map[string]struct {
		updates []domain.Leaderboard
		want    domain.Leaderboard
	}{
		"older round of the same session": {
			updates: []domain.Leaderboard{
				domain.NewLeaderboard("c1", "s1", 2, standings),
				domain.NewLeaderboard("c1", "s1", 1, standings),
			},
			want: domain.NewLeaderboard("c1", "s1", 2, standings),
		},

		"round after the final standings": {
			updates: []domain.Leaderboard{
				func() domain.Leaderboard {
					l := domain.NewLeaderboard("c1", "s1", 1, standings)
					l.Final = true
					return l
				}(),
				domain.NewLeaderboard("c1", "s1", 3, standings),
			},
			want: func() domain.Leaderboard {
				l := domain.NewLeaderboard("c1", "s1", 1, standings)
				l.Final = true
				return l
			}(),
		},

		"older round of a new session should win": {
			updates: []domain.Leaderboard{
				domain.NewLeaderboard("c1", "s1", 5, standings),
				domain.NewLeaderboard("c1", "s2", 1, standings),
			},
			want: domain.NewLeaderboard("c1", "s2", 1, standings),
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s, _ := makeService(t)

			for _, l := range tt.updates {
				require.NoError(t, s.UpdateLeaderboard(context.Background(), l))
			}

			got, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{ChannelID: "c1"})
			require.NoError(t, err)
			require.Equal(t, tt.want.SessionID, got.SessionID)
			require.Equal(t, tt.want.Round, got.Round)
			require.Equal(t, tt.want.Final, got.Final)
		})
	}
}

func makeService(t *testing.T, opts ...options) (*leaderboard.Service, *miniredis.Miniredis) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c), rs
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}
