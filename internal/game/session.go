package game

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/gateway"
	"github.com/victornm/trivia/internal/registry"
	"github.com/victornm/trivia/internal/roster"
	"github.com/victornm/trivia/internal/telemetry"
)

const finishTimeout = 10 * time.Second

// session is one game in one channel. Everything but status, done and outcome
// is owned by the goroutine running run.
type session struct {
	id               string
	channelID        string
	commandChannelID string
	hostID           string
	set              domain.QuestionSet
	questions        []domain.Question
	seconds          int

	gw       gateway.Gateway
	reg      registry.Registry
	eb       *event.Bus
	clock    clockwork.Clock
	settings Settings
	log      *slog.Logger

	roster         *roster.Roster
	round          int
	played         int
	startRequested bool

	status  atomic.Int32
	cancel  context.CancelCauseFunc
	control chan func(context.Context)
	onEnd   func(*session)
	done    chan struct{}
	outcome []domain.Standing
}

func (s *session) Status() domain.Status {
	return domain.Status(s.status.Load())
}

func (s *session) run(ctx context.Context) {
	reason := domain.EndReasonFailed
	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "game: session panic", "error", fmt.Errorf("%v, stack: %s", r, debug.Stack()))
		}
		s.finish(ctx, reason)
	}()

	reason = s.play(ctx)
}

// keepClaim renews the channel claim every interval until the session ends.
// A session that lost its claim is cancelled.
func (s *session) keepClaim(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		ok, err := s.reg.Refresh(ctx, s.channelID, s.id)
		switch {
		case ctx.Err() != nil || s.Status() == domain.StatusEnded:
			return
		case err != nil:
			s.log.WarnContext(ctx, "game: refresh channel claim failed", "error", err)
		case !ok:
			s.log.ErrorContext(ctx, "game: channel claim lost")
			s.cancel(errClaimLost)
			return
		}
	}
}

func (s *session) play(ctx context.Context) domain.EndReason {
	start, err := s.lobby(ctx)
	switch {
	case ctx.Err() != nil:
		return cancelReason(ctx)
	case err != nil:
		s.log.ErrorContext(ctx, "game: lobby failed", "error", err)
		return domain.EndReasonFailed
	case !start:
		return domain.EndReasonTimedOut
	}

	if err := s.rounds(ctx); err != nil {
		if ctx.Err() != nil {
			return cancelReason(ctx)
		}
		s.log.ErrorContext(ctx, "game: rounds failed", "error", err)
		return domain.EndReasonFailed
	}

	return domain.EndReasonCompleted
}

// cancelReason tells why a cancelled session ended.
func cancelReason(ctx context.Context) domain.EndReason {
	if context.Cause(ctx) == errClaimLost {
		return domain.EndReasonFailed
	}
	return domain.EndReasonCancelled
}

// lobby collects players until the host starts the game. It returns false
// without error when the host never did.
func (s *session) lobby(ctx context.Context) (bool, error) {
	msg, err := s.gw.Post(ctx, s.channelID, lobbyView(s.set, s.hostID, s.roster.Players(), s.settings))
	if err != nil {
		return false, fmt.Errorf("post lobby: %w", err)
	}

	buttons, err := s.gw.SubscribeComponents(ctx, msg, gateway.ComponentOptions{
		Kinds: []gateway.ComponentKind{gateway.ComponentButton},
	})
	if err != nil {
		return false, fmt.Errorf("subscribe lobby buttons: %w", err)
	}
	defer buttons.Stop()

	cmds, err := s.gw.SubscribeText(ctx, s.commandChannelID, gateway.TextOptions{
		Timeout: s.settings.LobbyTimeout,
		Filter: func(e gateway.TextEvent) bool {
			return e.UserID == s.hostID && (s.is(e, s.settings.ReadyCommand) || s.is(e, s.settings.EndCommand))
		},
	})
	if err != nil {
		return false, fmt.Errorf("subscribe lobby commands: %w", err)
	}
	defer cmds.Stop()

	refresh := s.clock.NewTicker(s.settings.LobbyRefresh)
	defer refresh.Stop()

	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
		defer cancel()

		c := lobbyView(s.set, s.hostID, s.roster.Players(), s.settings)
		c.Components = nil
		if err := s.gw.Edit(ctx, msg, c); err != nil {
			s.log.WarnContext(ctx, "game: close lobby failed", "error", err)
		}
	}()

	s.log.InfoContext(ctx, "game: lobby opened")

	dirty := false
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()

		case e := <-buttons.Events():
			if s.joinOrLeave(ctx, e) {
				dirty = true
			}

		case e := <-cmds.Events():
			if s.is(e, s.settings.EndCommand) {
				s.cancel(errCancelled)
				return false, ctx.Err()
			}
			if s.requestStart(ctx, e.UserID) == nil {
				return true, nil
			}

		case <-cmds.Done():
			if cmds.Reason() == gateway.ReasonTimeout {
				s.log.InfoContext(ctx, "game: lobby timed out")
				return false, nil
			}
			return false, fmt.Errorf("lobby commands closed: %s", cmds.Reason())

		case <-buttons.Done():
			return false, fmt.Errorf("lobby buttons closed: %s", buttons.Reason())

		case f := <-s.control:
			f(ctx)
			if s.startRequested {
				return true, nil
			}

		case <-refresh.Chan():
			if !dirty {
				continue
			}
			if err := s.gw.Edit(ctx, msg, lobbyView(s.set, s.hostID, s.roster.Players(), s.settings)); err != nil {
				return false, fmt.Errorf("refresh lobby: %w", err)
			}
			dirty = false
		}
	}
}

// joinOrLeave applies a lobby button press. It reports whether the roster changed.
func (s *session) joinOrLeave(ctx context.Context, e gateway.ComponentEvent) bool {
	var (
		changed bool
		err     error
		reply   string
	)

	switch e.CustomID {
	case joinID:
		changed, err = s.roster.Join(e.UserID)
		reply = msgAlreadyJoined
		if changed {
			reply = msgJoined
		}
	case leaveID:
		changed, err = s.roster.Leave(e.UserID)
		reply = msgNotJoined
		if changed {
			reply = msgLeft
		}
	default:
		return false
	}

	if err != nil {
		s.log.WarnContext(ctx, "game: lobby button rejected", "player", e.UserID, "error", err)
		return false
	}

	if err := s.gw.Respond(ctx, e, gateway.Content{Text: reply}); err != nil {
		s.log.WarnContext(ctx, "game: respond to lobby button failed", "player", e.UserID, "error", err)
	}
	return changed
}

// requestStart marks the lobby as ready to start on behalf of playerID.
func (s *session) requestStart(ctx context.Context, playerID string) error {
	if s.Status() != domain.StatusLobby {
		return alreadyStarted()
	}
	if playerID != s.hostID {
		return notHost(playerID)
	}
	if s.roster.Len() == 0 {
		s.notify(ctx, gateway.Content{Text: msgEmptyRoster})
		return emptyRoster()
	}

	s.startRequested = true
	return nil
}

func (s *session) rounds(ctx context.Context) error {
	s.roster.Lock()
	s.status.Store(int32(domain.StatusRunning))
	s.log.InfoContext(ctx, "game: started", "players", s.roster.Len(), "questions", len(s.questions))

	if _, err := s.gw.Post(ctx, s.channelID, gateway.Content{Text: msgStarting}); err != nil {
		return fmt.Errorf("post start notice: %w", err)
	}

	cmds, err := s.gw.SubscribeText(ctx, s.commandChannelID, gateway.TextOptions{
		Filter: func(e gateway.TextEvent) bool {
			return (e.UserID == s.hostID && s.is(e, s.settings.EndCommand)) || s.is(e, s.settings.LeaderboardCommand)
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe game commands: %w", err)
	}
	defer cmds.Stop()

	bg := background{
		commands: cmds.Events(),
		command:  s.command,
		control:  s.control,
	}

	engine := &roundEngine{
		gw:        s.gw,
		clock:     s.clock,
		roster:    s.roster,
		channelID: s.channelID,
		set:       s.set.Name,
		total:     len(s.questions),
		seconds:   s.seconds,
		tick:      s.settings.Countdown,
		bg:        bg,
		log:       s.log,
	}

	ranking := &rankingWindow{
		gw:        s.gw,
		channelID: s.channelID,
		duration:  s.settings.RankWindow,
		bg:        bg,
		log:       s.log,
	}

	for i, q := range s.questions {
		s.round = i + 1

		res, err := engine.run(ctx, s.round, q)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var pause clockwork.Timer
		if s.round < len(s.questions) {
			pause = s.clock.NewTimer(s.settings.Pause)
		}

		if err != nil {
			s.log.WarnContext(ctx, "game: round skipped", "round", s.round, "error", err)
			telemetry.Rounds.WithLabelValues("skipped", "").Inc()
		} else {
			s.played++
			telemetry.Rounds.WithLabelValues("resolved", res.Reason.String()).Inc()

			standings := s.roster.Standings()
			s.eb.Publish(ctx, domain.EventRoundResolved{
				SessionID: s.id,
				ChannelID: s.channelID,
				Round:     s.round,
				Standings: standings,
			})

			if err := ranking.open(ctx, res, standings, s.roster.Members()); err != nil {
				if ctx.Err() != nil {
					stopTimer(pause)
					return ctx.Err()
				}
				s.log.WarnContext(ctx, "game: ranking window failed", "round", s.round, "error", err)
			}
		}

		if pause != nil {
			err := s.wait(ctx, pause, bg)
			pause.Stop()
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// wait serves bg until t fires.
func (s *session) wait(ctx context.Context, t clockwork.Timer, bg background) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.Chan():
			return nil
		case e := <-bg.commands:
			bg.command(ctx, e)
		case f := <-bg.control:
			f(ctx)
		}
	}
}

// command handles a text command sent while the game runs.
func (s *session) command(ctx context.Context, e gateway.TextEvent) {
	switch {
	case s.is(e, s.settings.EndCommand):
		s.notify(ctx, gateway.Content{Text: msgEnding, ReplyTo: e.MessageID})
		s.cancel(errCancelled)

	case s.is(e, s.settings.LeaderboardCommand):
		c := standingsView("🏆 Player Standings 🏆", s.roster.Standings())
		c.ReplyTo = e.MessageID
		s.notify(ctx, c)
	}
}

func (s *session) is(e gateway.TextEvent, command string) bool {
	return strings.EqualFold(strings.TrimSpace(e.Text), command)
}

// notify posts to the command channel.
func (s *session) notify(ctx context.Context, c gateway.Content) {
	if _, err := s.gw.Post(ctx, s.commandChannelID, c); err != nil {
		s.log.WarnContext(ctx, "game: notify failed", "error", err)
	}
}

// finish tears the session down. It runs exactly once, on the session goroutine.
func (s *session) finish(ctx context.Context, reason domain.EndReason) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	defer s.cancel(nil)

	played := s.Status() == domain.StatusRunning
	s.status.Store(int32(domain.StatusEnded))
	standings := s.roster.Standings()

	switch reason {
	case domain.EndReasonCompleted:
		s.postFinal(ctx, standings)
	case domain.EndReasonCancelled:
		s.notify(ctx, gateway.Content{Text: msgEnded})
		if played {
			s.postFinal(ctx, standings)
		}
	case domain.EndReasonTimedOut:
		s.notify(ctx, gateway.Content{Text: msgTimedOut})
	default:
		s.notify(ctx, gateway.Content{Text: msgFailed})
	}

	if err := s.reg.Unregister(ctx, s.channelID, s.id); err != nil {
		s.log.ErrorContext(ctx, "game: unregister failed", "error", err)
	}
	s.onEnd(s)

	s.eb.Publish(ctx, domain.EventGameEnded{
		SessionID:   s.id,
		ChannelID:   s.channelID,
		QuestionSet: s.set.Name,
		Reason:      reason,
		Played:      played,
		Rounds:      s.played,
		Standings:   standings,
		EndTime:     s.clock.Now(),
	})
	telemetry.GamesEnded.WithLabelValues(string(reason)).Inc()
	telemetry.GamesActive.Dec()
	s.log.InfoContext(ctx, "game: ended", "reason", reason, "rounds", s.played)

	s.outcome = standings
	close(s.done)
}

func (s *session) postFinal(ctx context.Context, standings []domain.Standing) {
	if _, err := s.gw.Post(ctx, s.channelID, standingsView("Game Ended! Final Standings:", standings)); err != nil {
		s.log.WarnContext(ctx, "game: post final standings failed", "error", err)
	}
}

// do runs f on the session goroutine and returns its error.
func (s *session) do(ctx context.Context, f func(context.Context) error) error {
	reply := make(chan error, 1)

	select {
	case s.control <- func(ctx context.Context) { reply <- f(ctx) }:
	case <-s.done:
		return ended()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) snapshot() Snapshot {
	return Snapshot{
		SessionID:   s.id,
		ChannelID:   s.channelID,
		HostID:      s.hostID,
		QuestionSet: s.set.Name,
		Status:      s.Status(),
		Round:       s.round,
		Rounds:      len(s.questions),
		Seconds:     s.seconds,
		Players:     s.roster.Players(),
		Standings:   s.roster.Standings(),
	}
}

func stopTimer(t clockwork.Timer) {
	if t != nil {
		t.Stop()
	}
}
