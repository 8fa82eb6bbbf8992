package game_test

import (
	"context"
	stderrors "errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/game"
	"github.com/victornm/trivia/internal/gateway"
	"github.com/victornm/trivia/internal/questionset"
	"github.com/victornm/trivia/internal/registry"
)

const sets = `
sets:
  - name: colors
    description: Name that color
    questions:
      - prompt: Color of the sky?
        options: [Blue, Red]
        correct: [1]
      - prompt: Color of grass?
        options: [Purple, Green, Orange]
        correct: [2]
  - name: single
    questions:
      - prompt: 2 + 2?
        options: ["4", "5"]
        correct: [1]
`

const (
	channel = "c1"
	host    = "h"
)

func TestController_TwoPlayersOneQuestion(t *testing.T) {
	h := newHarness(t)

	hd := h.start(game.StartRequest{QuestionSet: "single", Seconds: 20})
	lobby := h.openLobby()
	h.join(lobby, "A", "B")
	h.say(host, "ready")

	q := h.question(1, 1)
	h.clock.Advance(2 * time.Second)
	require.Equal(t, 1, h.gw.Click(q, "A", "1"))
	require.Equal(t, 1, h.gw.Click(q, "B", "2"))

	reveal := h.waitEdit(q, func(c gateway.Content) bool { return strings.HasPrefix(c.Footer, "Everyone answered!") })
	assert.Equal(t, "4 (1)", reveal.Fields[0].Value)
	assert.Equal(t, "5 (1)", reveal.Fields[1].Value)
	assert.Empty(t, reveal.Components, "answer buttons should be removed")

	h.respondedTo("A", "Locked in answer for 1️⃣ 4!")

	ranking := h.ranking(1, 1)
	require.Equal(t, 1, h.gw.Click(ranking, "B", "rank"))
	card := h.respondedTo("B", "")
	assert.Equal(t, "You are #2 of 2", card.Title)
	assert.Contains(t, card.Fields, gateway.Field{Name: "This question", Value: "+0 points"})
	assert.Contains(t, card.Fields, gateway.Field{Name: "Correct answer", Value: "1️⃣ 4"})
	require.Equal(t, 0, h.gw.Click(ranking, "X", "rank"), "non players should not query their rank")

	h.clock.Advance(4 * time.Second)
	h.waitDone(hd)

	standings, ok := hd.Outcome()
	require.True(t, ok)
	require.Len(t, standings, 2)
	assert.Equal(t, "A", standings[0].PlayerID)
	assert.Equal(t, "910", standings[0].Score.String())
	assert.Equal(t, "B", standings[1].PlayerID)
	assert.True(t, standings[1].Score.IsZero())

	final := h.waitPost(func(c gateway.Content) bool { return c.Title == "Game Ended! Final Standings:" })
	assert.Equal(t, "`910 points` - <@A>\n`0 points` - <@B>\n", final.Description)

	e := h.ended()
	assert.Equal(t, domain.EndReasonCompleted, e.Reason)
	assert.True(t, e.Played)
	assert.Equal(t, 1, e.Rounds)

	h.assertReleased()
}

func TestController_TimedOutQuestion(t *testing.T) {
	h := newHarness(t)

	hd := h.start(game.StartRequest{QuestionSet: "single", Seconds: 10})
	h.join(h.openLobby(), "A")
	h.say(host, "ready")

	q := h.question(1, 1)
	h.clock.Advance(10 * time.Second)

	reveal := h.waitEdit(q, func(c gateway.Content) bool { return strings.HasPrefix(c.Footer, "Time's up!") })
	assert.Equal(t, "Time's up! | 0 responses", reveal.Footer)

	ranking := h.ranking(1, 1)
	require.Equal(t, 1, h.gw.Click(ranking, "A", "rank"))
	card := h.respondedTo("A", "")
	assert.Contains(t, card.Fields, gateway.Field{Name: "This question", Value: "You did not answer"})

	h.clock.Advance(4 * time.Second)
	h.waitDone(hd)

	standings, ok := hd.Outcome()
	require.True(t, ok)
	require.Len(t, standings, 1)
	assert.True(t, standings[0].Score.IsZero())
	h.assertReleased()
}

func TestController_PauseBetweenRounds(t *testing.T) {
	h := newHarness(t)

	f := false
	hd := h.start(game.StartRequest{QuestionSet: "colors", Seconds: 5, Shuffle: &f})
	h.join(h.openLobby(), "A")
	h.say(host, "ready")

	q1 := h.question(1, 2)
	h.clock.Advance(time.Second)
	require.Equal(t, 1, h.gw.Click(q1, "A", "1"))

	ranking := h.ranking(1, 2)
	h.clock.Advance(4 * time.Second)
	h.waitEdit(ranking, func(c gateway.Content) bool { return len(c.Components) == 0 })

	for _, a := range h.gw.Actions() {
		require.NotContains(t, a.Content.Title, "Question 2/2", "next question should wait for the pause")
	}

	h.block(1)
	h.clock.Advance(time.Second)

	q2 := h.question(2, 2)
	h.clock.Advance(5 * time.Second)
	h.waitEdit(q2, func(c gateway.Content) bool { return strings.HasPrefix(c.Footer, "Time's up!") })

	h.ranking(2, 1)
	h.clock.Advance(4 * time.Second)
	h.waitDone(hd)

	standings, _ := hd.Outcome()
	require.Len(t, standings, 1)
	assert.Equal(t, "820", standings[0].Score.String())
	assert.Equal(t, 2, h.ended().Rounds)
}

func TestController_AnswerValidation(t *testing.T) {
	h := newHarness(t)

	hd := h.start(game.StartRequest{QuestionSet: "single", Seconds: 20})
	h.join(h.openLobby(), "A", "B")
	h.say(host, "ready")

	q := h.question(1, 1)
	start := h.clock.Now()

	require.Equal(t, 1, h.gw.Click(q, "A", "1"))
	h.respondedTo("A", "Locked in answer for 1️⃣ 4!")

	require.Equal(t, 1, h.gw.Click(q, "A", "2"))
	h.respondedTo("A", "You've already locked in an answer for this question!")

	require.Equal(t, 1, h.gw.Click(q, "C", "1"))
	h.respondedTo("C", "You're not in this game!")

	h.clock.Advance(15 * time.Second)
	require.Equal(t, 1, h.gw.Hub().DispatchComponent(gateway.ComponentEvent{
		Message:  q,
		UserID:   "B",
		CustomID: "1",
		At:       start.Add(-time.Second),
	}))
	h.respondedTo("B", "Locked in answer for 1️⃣ 4!")

	reveal := h.waitEdit(q, func(c gateway.Content) bool { return strings.HasPrefix(c.Footer, "Everyone answered!") })
	assert.Equal(t, "4 (2)", reveal.Fields[0].Value, "duplicate and outsider answers should not be tallied")
	assert.Equal(t, "5 (0)", reveal.Fields[1].Value)

	h.ranking(1, 1)
	h.clock.Advance(4 * time.Second)
	h.waitDone(hd)

	standings, _ := hd.Outcome()
	require.Len(t, standings, 2)
	assert.Equal(t, "1000", standings[0].Score.String())
	assert.Equal(t, "325", standings[1].Score.String(), "latency should be measured on the engine's clock, not the sender's")
}

func TestController_SkippedRounds(t *testing.T) {
	t.Run("failed countdown update should skip the round", func(t *testing.T) {
		h := newHarness(t)

		f := false
		hd := h.start(game.StartRequest{QuestionSet: "colors", Seconds: 5, Shuffle: &f})
		h.join(h.openLobby(), "A")
		h.say(host, "ready")

		q1 := h.question(1, 2)
		h.gw.FailNext(stderrors.New("platform down"))
		h.clock.Advance(time.Second)

		closed := h.waitEdit(q1, func(c gateway.Content) bool { return c.Footer == "Question skipped" })
		assert.Empty(t, closed.Components, "answer buttons should be removed")
		require.Equal(t, 0, h.gw.Click(q1, "A", "1"), "a skipped question should not take answers")

		h.block(1)
		h.clock.Advance(5 * time.Second)

		q2 := h.question(2, 2)
		require.Equal(t, 1, h.gw.Click(q2, "A", "2"))
		h.ranking(2, 1)
		h.clock.Advance(4 * time.Second)
		h.waitDone(hd)

		standings, _ := hd.Outcome()
		require.Len(t, standings, 1)
		assert.Equal(t, "1000", standings[0].Score.String())

		e := h.ended()
		assert.Equal(t, domain.EndReasonCompleted, e.Reason)
		assert.Equal(t, 1, e.Rounds, "skipped rounds should not be counted")
	})

	t.Run("failed question post should skip the round", func(t *testing.T) {
		h := newHarness(t)

		f := false
		hd := h.start(game.StartRequest{QuestionSet: "colors", Seconds: 5, Shuffle: &f})
		h.join(h.openLobby(), "A")
		h.say(host, "ready")

		q1 := h.question(1, 2)
		require.Equal(t, 1, h.gw.Click(q1, "A", "1"))

		ranking := h.ranking(1, 2)
		h.clock.Advance(4 * time.Second)
		h.waitEdit(ranking, func(c gateway.Content) bool { return len(c.Components) == 0 })

		h.block(1)
		h.gw.FailNext(stderrors.New("platform down"))
		h.clock.Advance(time.Second)
		h.waitDone(hd)

		for _, a := range h.gw.Actions() {
			require.NotContains(t, a.Content.Title, "Question 2/2")
		}
		h.waitPost(func(c gateway.Content) bool { return c.Title == "Game Ended! Final Standings:" })

		e := h.ended()
		assert.Equal(t, domain.EndReasonCompleted, e.Reason)
		assert.Equal(t, 1, e.Rounds)
		require.Len(t, e.Standings, 1)
		assert.Equal(t, "1000", e.Standings[0].Score.String())
	})
}

func TestController_ConcurrentStart(t *testing.T) {
	h := newHarness(t)

	var (
		wg       sync.WaitGroup
		started  atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := h.ctrl.Start(h.ctx, game.StartRequest{ChannelID: channel, HostID: host, QuestionSet: "single"})
			switch {
			case err == nil:
				started.Add(1)
			case errors.HasReason(err, game.ReasonAlreadyRunning):
				rejected.Add(1)
			default:
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, started.Load(), "exactly one game should start")
	require.EqualValues(t, 9, rejected.Load())

	h.openLobby()
	lobbies := 0
	for _, a := range h.gw.Actions() {
		if a.Kind == gateway.ActionPost && strings.HasSuffix(a.Content.Title, "Press the button to join!") {
			lobbies++
		}
	}
	assert.Equal(t, 1, lobbies)
	assert.Equal(t, 1, h.reg.count())
}

func TestController_ChannelLease(t *testing.T) {
	const lease = 20 * time.Second
	key := "test:channel:" + channel + ":session"

	t.Run("live session should keep its claim past the TTL", func(t *testing.T) {
		rs, newRegistry := makeRedisRegistry(t)
		h := newHarness(t, withRegistry(newRegistry()), withLease(lease))

		hd := h.start(game.StartRequest{QuestionSet: "single"})
		h.openLobby()

		for i := 0; i < 6; i++ {
			rs.FastForward(lease)
			h.clock.Advance(lease)
			require.Eventually(t, func() bool { return rs.TTL(key) == time.Minute }, time.Second, 10*time.Millisecond,
				"claim should be renewed")
		}

		ok, err := newRegistry().Register(h.ctx, channel, "other")
		require.NoError(t, err)
		require.False(t, ok, "another process should not claim a live channel")

		hd.Cancel()
		h.waitDone(hd)
		h.assertReleased()
	})

	t.Run("session should end when its claim is lost", func(t *testing.T) {
		rs, newRegistry := makeRedisRegistry(t)
		h := newHarness(t, withRegistry(newRegistry()), withLease(lease))

		hd := h.start(game.StartRequest{QuestionSet: "single"})
		h.openLobby()

		rs.Del(key)
		h.clock.Advance(lease)
		h.waitDone(hd)

		h.waitPost(func(c gateway.Content) bool { return c.Text == "Oops, something went wrong!" })
		assert.Equal(t, domain.EndReasonFailed, h.ended().Reason)
	})
}

func TestController_Lobby(t *testing.T) {
	t.Run("join and leave should be acknowledged", func(t *testing.T) {
		h := newHarness(t)
		hd := h.start(game.StartRequest{QuestionSet: "single"})
		lobby := h.openLobby()

		require.Equal(t, 1, h.gw.Click(lobby, "A", "join"))
		h.respondedTo("A", "Successfully joined game!")
		require.Equal(t, 1, h.gw.Click(lobby, "A", "join"))
		h.respondedTo("A", "Looks like you've already joined! Feel free to sit back and wait for the show to begin!")
		require.Equal(t, 1, h.gw.Click(lobby, "B", "leave"))
		h.respondedTo("B", "Silly you! You can't leave a game you haven't joined!")

		h.clock.Advance(time.Second)
		refreshed := h.waitEdit(lobby, func(c gateway.Content) bool { return len(c.Components) > 0 })
		assert.Contains(t, refreshed.Fields, gateway.Field{Name: "Players", Value: "<@A>"})

		require.Equal(t, 1, h.gw.Click(lobby, "A", "leave"))
		h.respondedTo("A", "Successfully left game!")

		snap, err := h.ctrl.Snapshot(h.ctx, channel)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusLobby, snap.Status)
		assert.Empty(t, snap.Players)

		hd.Cancel()
		h.waitDone(hd)
	})

	t.Run("ready with an empty roster should keep the lobby open", func(t *testing.T) {
		h := newHarness(t)
		hd := h.start(game.StartRequest{QuestionSet: "single"})
		h.openLobby()

		err := h.ctrl.Ready(h.ctx, channel, host)
		require.True(t, errors.HasReason(err, game.ReasonEmptyRoster))
		h.waitPost(func(c gateway.Content) bool { return c.Text == "Need at least one player to start!" })
		assert.Equal(t, domain.StatusLobby, hd.Status())

		hd.Cancel()
		h.waitDone(hd)
	})

	t.Run("only the host should start the game", func(t *testing.T) {
		h := newHarness(t)
		hd := h.start(game.StartRequest{QuestionSet: "single"})
		h.join(h.openLobby(), "A")

		require.Equal(t, 0, h.gw.Say(channel, "A", "ready"), "commands of other players should be ignored")
		err := h.ctrl.Ready(h.ctx, channel, "A")
		require.True(t, errors.HasReason(err, game.ReasonNotHost))

		require.NoError(t, h.ctrl.Ready(h.ctx, channel, host))
		h.question(1, 1)
		assert.Equal(t, domain.StatusRunning, hd.Status())

		err = h.ctrl.Ready(h.ctx, channel, host)
		require.True(t, errors.HasReason(err, game.ReasonAlreadyStarted))

		hd.Cancel()
		h.waitDone(hd)
	})

	t.Run("lobby should time out", func(t *testing.T) {
		h := newHarness(t)
		hd := h.start(game.StartRequest{QuestionSet: "single"})
		h.openLobby()

		h.clock.Advance(20 * time.Minute)
		h.waitDone(hd)

		h.waitPost(func(c gateway.Content) bool { return c.Text == "Game timed out" })
		e := h.ended()
		assert.Equal(t, domain.EndReasonTimedOut, e.Reason)
		assert.False(t, e.Played)
		h.assertReleased()
	})
}

func TestController_Cancel(t *testing.T) {
	t.Run("cancel in the lobby should release the channel once", func(t *testing.T) {
		h := newHarness(t)
		hd := h.start(game.StartRequest{QuestionSet: "single"})
		h.openLobby()

		require.NoError(t, h.ctrl.Cancel(h.ctx, channel))
		h.waitDone(hd)
		hd.Cancel()

		err := h.ctrl.Cancel(h.ctx, channel)
		require.True(t, errors.Is(err, errors.CodeNotFound))

		h.waitPost(func(c gateway.Content) bool { return c.Text == "Game ended" })
		assert.Equal(t, domain.EndReasonCancelled, h.ended().Reason)
		assert.Equal(t, domain.StatusEnded, hd.Status())
		h.assertReleased()

		_, err = h.ctrl.Start(h.ctx, game.StartRequest{ChannelID: channel, HostID: host, QuestionSet: "single"})
		require.NoError(t, err, "the channel should be free again")
	})

	t.Run("host end command should stop the running game", func(t *testing.T) {
		h := newHarness(t)
		hd := h.start(game.StartRequest{QuestionSet: "single"})
		h.join(h.openLobby(), "A")
		h.say(host, "ready")

		h.question(1, 1)
		require.Equal(t, 0, h.gw.Say(channel, "A", "endtrivia"), "only the host can end the game")
		h.say(host, "EndTrivia")
		h.waitDone(hd)

		h.waitPost(func(c gateway.Content) bool { return c.Title == "Game Ended! Final Standings:" })
		e := h.ended()
		assert.Equal(t, domain.EndReasonCancelled, e.Reason)
		assert.True(t, e.Played)
		h.assertReleased()
	})

	t.Run("leaderboard command should not interrupt the round", func(t *testing.T) {
		h := newHarness(t)
		hd := h.start(game.StartRequest{QuestionSet: "single", Seconds: 10})
		h.join(h.openLobby(), "A")
		h.say(host, "ready")

		q := h.question(1, 1)
		h.say("A", "playerlb")
		h.waitPost(func(c gateway.Content) bool { return c.Title == "🏆 Player Standings 🏆" })

		require.Equal(t, 1, h.gw.Click(q, "A", "1"))
		h.respondedTo("A", "Locked in answer for 1️⃣ 4!")

		hd.Cancel()
		h.waitDone(hd)
	})

	t.Run("shutdown should end every session", func(t *testing.T) {
		h := newHarness(t)
		hd := h.start(game.StartRequest{QuestionSet: "single"})
		h.openLobby()

		require.NoError(t, h.ctrl.Shutdown(h.ctx))
		h.waitDone(hd)
		h.assertReleased()

		_, err := h.ctrl.Start(h.ctx, game.StartRequest{ChannelID: "c2", HostID: host, QuestionSet: "single"})
		require.True(t, errors.Is(err, errors.CodeFailedPrecondition))
	})
}

func TestController_Start(t *testing.T) {
	tests := map[string]struct {
		arrange func(h *harness) game.StartRequest
		assert  func(t *testing.T, err error)
	}{
		"should reject a second game in the same channel": {
			arrange: func(h *harness) game.StartRequest {
				h.start(game.StartRequest{QuestionSet: "single"})
				return game.StartRequest{ChannelID: channel, HostID: "h2", QuestionSet: "single"}
			},
			assert: func(t *testing.T, err error) {
				require.True(t, errors.Is(err, errors.CodeAlreadyExists))
				require.True(t, errors.HasReason(err, game.ReasonAlreadyRunning))
			},
		},

		"should reject a channel the bot cannot send to": {
			arrange: func(h *harness) game.StartRequest {
				h.gw.SetCapabilities(channel, gateway.Capabilities{View: true})
				return game.StartRequest{ChannelID: channel, HostID: host, QuestionSet: "single"}
			},
			assert: func(t *testing.T, err error) {
				require.True(t, errors.Is(err, errors.CodePermissionDenied))
				require.True(t, errors.HasReason(err, game.ReasonInsufficientPermission))
			},
		},

		"should reject a command channel the bot cannot view": {
			arrange: func(h *harness) game.StartRequest {
				h.gw.SetCapabilities("cmd", gateway.Capabilities{Send: true})
				return game.StartRequest{ChannelID: channel, CommandChannelID: "cmd", HostID: host, QuestionSet: "single"}
			},
			assert: func(t *testing.T, err error) {
				require.True(t, errors.HasReason(err, game.ReasonInsufficientPermission))
			},
		},

		"should reject seconds out of bounds": {
			arrange: func(h *harness) game.StartRequest {
				return game.StartRequest{ChannelID: channel, HostID: host, QuestionSet: "single", Seconds: 61}
			},
			assert: func(t *testing.T, err error) {
				require.True(t, errors.Is(err, errors.CodeInvalidArgument))
			},
		},

		"should reject an unknown question set": {
			arrange: func(h *harness) game.StartRequest {
				return game.StartRequest{ChannelID: channel, HostID: host, QuestionSet: "nope"}
			},
			assert: func(t *testing.T, err error) {
				require.True(t, errors.Is(err, errors.CodeNotFound))
			},
		},

		"should fail when the registry is unavailable": {
			arrange: func(h *harness) game.StartRequest {
				h.reg.err = stderrors.New("registry down")
				return game.StartRequest{ChannelID: channel, HostID: host, QuestionSet: "single"}
			},
			assert: func(t *testing.T, err error) {
				require.ErrorContains(t, err, "registry down")
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			req := tt.arrange(h)
			before := h.reg.count()

			hd, err := h.ctrl.Start(h.ctx, req)
			require.Error(t, err)
			require.Nil(t, hd)
			tt.assert(t, err)
			require.Equal(t, before, h.reg.count(), "failed starts should leave the registry untouched")
		})
	}
}

func TestController_RandomShuffledSet(t *testing.T) {
	h := newHarness(t, withIntn(func(int) int { return 0 }))

	hd, err := h.ctrl.Start(h.ctx, game.StartRequest{ChannelID: channel, HostID: host})
	require.NoError(t, err)
	require.Equal(t, "colors", hd.QuestionSet, "the first listed set should be drawn")

	h.join(h.openLobby(), "A")
	h.say(host, "ready")

	q := h.waitPost(func(c gateway.Content) bool { return strings.Contains(c.Title, "Question 1/2") })
	require.Equal(t, "Color of grass?", q.Description, "questions should be shuffled by default")

	hd.Cancel()
	h.waitDone(hd)
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *clockwork.FakeClock
	gw    *gateway.Memory
	reg   *stubRegistry
	ctrl  *game.Controller
	ends  chan domain.EventGameEnded
	// timers is the number of timers alive for the whole session, added to every block.
	timers int
}

type harnessOption func(h *harness, c *game.Config)

func withIntn(f func(int) int) harnessOption {
	return func(_ *harness, c *game.Config) {
		c.Intn = f
	}
}

func withRegistry(r registry.Registry) harnessOption {
	return func(h *harness, c *game.Config) {
		h.reg = &stubRegistry{Registry: r}
		c.Registry = h.reg
	}
}

func withLease(d time.Duration) harnessOption {
	return func(h *harness, c *game.Config) {
		c.LeaseInterval = d
		h.timers++
	}
}

func makeRedisRegistry(t *testing.T) (*miniredis.Miniredis, func() *registry.Redis) {
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})
	t.Cleanup(func() { rc.Close() })

	return rs, func() *registry.Redis {
		return registry.NewRedis(registry.RedisConfig{Redis: rc, Prefix: "test", TTL: time.Minute})
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	store, err := questionset.ParseFile([]byte(sets))
	require.NoError(t, err)

	h := &harness{
		t:     t,
		ctx:   ctx,
		clock: clockwork.NewFakeClock(),
		reg:   &stubRegistry{Registry: registry.NewMemory()},
		ends:  make(chan domain.EventGameEnded, 4),
	}
	h.gw = gateway.NewMemory(h.clock)

	eb := event.NewBus()
	eb.Subscribe(domain.EventNameGameEnded, func(_ context.Context, e event.Event) error {
		select {
		case h.ends <- e.(domain.EventGameEnded):
		default:
		}
		return nil
	})

	c := game.Config{
		Gateway:   h.gw,
		Registry:  h.reg,
		Questions: store,
		EventBus:  eb,
		Clock:     h.clock,
		Intn:      func(n int) int { return n - 1 },
	}
	for _, opt := range opts {
		opt(h, &c)
	}

	h.ctrl = game.NewController(c)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, h.ctrl.Shutdown(ctx))
		eb.Stop()
	})

	return h
}

func (h *harness) start(req game.StartRequest) *game.Handle {
	h.t.Helper()

	req.ChannelID = channel
	req.HostID = host
	hd, err := h.ctrl.Start(h.ctx, req)
	require.NoError(h.t, err)
	return hd
}

// openLobby waits until the lobby listens for buttons and commands.
func (h *harness) openLobby() gateway.Message {
	h.t.Helper()

	a := h.waitAction(func(a gateway.Action) bool {
		return a.Kind == gateway.ActionPost && strings.HasSuffix(a.Content.Title, "Press the button to join!")
	})
	h.block(2)
	return a.Message
}

func (h *harness) join(lobby gateway.Message, players ...string) {
	h.t.Helper()

	for _, p := range players {
		require.Equal(h.t, 1, h.gw.Click(lobby, p, "join"))
		h.respondedTo(p, "Successfully joined game!")
	}
}

func (h *harness) say(user, text string) {
	h.t.Helper()
	require.Equal(h.t, 1, h.gw.Say(channel, user, text))
}

// question waits until question n of total accepts answers.
func (h *harness) question(n, total int) gateway.Message {
	h.t.Helper()

	title := "Question " + strconv.Itoa(n) + "/" + strconv.Itoa(total)
	a := h.waitAction(func(a gateway.Action) bool {
		return a.Kind == gateway.ActionPost && strings.Contains(a.Content.Title, title)
	})
	h.block(2)
	return a.Message
}

// ranking waits until the ranking window of question n is open, along with the given number of timers.
func (h *harness) ranking(n, timers int) gateway.Message {
	h.t.Helper()

	title := "Standings after question " + strconv.Itoa(n)
	a := h.waitAction(func(a gateway.Action) bool {
		return a.Kind == gateway.ActionPost && strings.Contains(a.Content.Title, title)
	})
	h.block(timers)
	return a.Message
}

func (h *harness) block(n int) {
	h.t.Helper()
	require.NoError(h.t, h.clock.BlockUntilContext(h.ctx, n+h.timers))
}

func (h *harness) waitAction(pred func(gateway.Action) bool) gateway.Action {
	h.t.Helper()

	a, err := h.gw.WaitFor(h.ctx, pred)
	require.NoError(h.t, err)
	return a
}

func (h *harness) waitPost(pred func(gateway.Content) bool) gateway.Content {
	h.t.Helper()
	return h.waitAction(func(a gateway.Action) bool { return a.Kind == gateway.ActionPost && pred(a.Content) }).Content
}

func (h *harness) waitEdit(m gateway.Message, pred func(gateway.Content) bool) gateway.Content {
	h.t.Helper()
	return h.waitAction(func(a gateway.Action) bool {
		return a.Kind == gateway.ActionEdit && a.Message == m && pred(a.Content)
	}).Content
}

// respondedTo waits for a private response to user, with the given text when not empty.
func (h *harness) respondedTo(user, text string) gateway.Content {
	h.t.Helper()
	return h.waitAction(func(a gateway.Action) bool {
		return a.Kind == gateway.ActionRespond && a.UserID == user && (text == "" || a.Content.Text == text)
	}).Content
}

func (h *harness) waitDone(hd *game.Handle) {
	h.t.Helper()

	select {
	case <-hd.Done():
	case <-h.ctx.Done():
		h.t.Fatal("session should end")
	}
}

func (h *harness) ended() domain.EventGameEnded {
	h.t.Helper()

	select {
	case e := <-h.ends:
		return e
	case <-h.ctx.Done():
		h.t.Fatal("game.ended should be published")
		return domain.EventGameEnded{}
	}
}

func (h *harness) assertReleased() {
	h.t.Helper()

	active, err := h.reg.IsActive(h.ctx, channel)
	require.NoError(h.t, err)
	require.False(h.t, active, "channel should be released")
}

// stubRegistry counts registrations and can fail them.
type stubRegistry struct {
	registry.Registry
	err error
}

func (r *stubRegistry) Register(ctx context.Context, channelID, sessionID string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	return r.Registry.Register(ctx, channelID, sessionID)
}

func (r *stubRegistry) count() int {
	n := 0
	for _, ch := range []string{channel, "cmd", "c2"} {
		if ok, _ := r.IsActive(context.Background(), ch); ok {
			n++
		}
	}
	return n
}
