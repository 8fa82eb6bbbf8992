package game

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/gateway"
	"github.com/victornm/trivia/internal/roster"
	"github.com/victornm/trivia/internal/scoring"
	"github.com/victornm/trivia/internal/telemetry"
)

// RoundCloseReason tells why a question stopped accepting answers.
type RoundCloseReason int

const (
	ClosedTimedOut RoundCloseReason = iota
	ClosedAllAnswered
)

func (r RoundCloseReason) String() string {
	if r == ClosedAllAnswered {
		return "all-answered"
	}
	return "timed-out"
}

// RoundResult is the resolution of one question.
type RoundResult struct {
	Number   int
	Question domain.Question
	// Tally counts the accepted answers per option, Tally[0] being option 1.
	Tally []int
	// Outcomes has an entry for every roster member.
	Outcomes map[string]domain.Outcome
	Reason   RoundCloseReason
	// Duration is how long the question accepted answers.
	Duration time.Duration
}

func (r RoundResult) Responses() int {
	n := 0
	for _, t := range r.Tally {
		n += t
	}
	return n
}

// background is what a session loop serves while it waits on its own events:
// host commands and control requests.
type background struct {
	commands <-chan gateway.TextEvent
	command  func(context.Context, gateway.TextEvent)
	control  <-chan func(context.Context)
}

// roundEngine asks one question at a time and collects the roster's answers.
type roundEngine struct {
	gw        gateway.Gateway
	clock     clockwork.Clock
	roster    *roster.Roster
	channelID string
	set       string
	total     int
	seconds   int
	tick      time.Duration
	bg        background
	log       *slog.Logger
}

// run posts the question and collects answers until every player answered or the
// window elapsed, then reveals the result. The roster is credited only once the
// result is revealed, so a skipped round leaves the scores untouched.
func (r *roundEngine) run(ctx context.Context, number int, q domain.Question) (res RoundResult, err error) {
	res = RoundResult{
		Number:   number,
		Question: q,
		Tally:    make([]int, len(q.Options)),
		Outcomes: make(map[string]domain.Outcome, r.roster.Len()),
		Reason:   ClosedTimedOut,
	}
	for _, p := range r.roster.Players() {
		res.Outcomes[p] = domain.NotAnswered{}
	}

	msg, err := r.gw.Post(ctx, r.channelID, questionView(r.set, number, r.total, q, r.seconds, 0))
	if err != nil {
		return res, fmt.Errorf("post question %d: %w", number, err)
	}
	defer func() {
		if err != nil {
			r.close(ctx, msg, number, q)
		}
	}()

	answers, err := r.gw.SubscribeComponents(ctx, msg, gateway.ComponentOptions{
		Kinds: []gateway.ComponentKind{gateway.ComponentButton},
	})
	if err != nil {
		return res, fmt.Errorf("subscribe answers of question %d: %w", number, err)
	}
	defer answers.Stop()

	window := time.Duration(r.seconds) * time.Second
	start := r.clock.Now()

	ticker := r.clock.NewTicker(r.tick)
	defer ticker.Stop()
	deadline := r.clock.NewTimer(window)
	defer deadline.Stop()

	answered := 0

collect:
	for answered < len(res.Outcomes) {
		select {
		case <-ctx.Done():
			return res, ctx.Err()

		case e := <-answers.Events():
			if r.answer(ctx, &res, start, e, false) {
				answered++
			}

		case <-ticker.Chan():
			left := remaining(window - r.clock.Since(start))
			if err := r.gw.Edit(ctx, msg, questionView(r.set, number, r.total, q, left, answered)); err != nil {
				return res, fmt.Errorf("update countdown of question %d: %w", number, err)
			}

		case <-deadline.Chan():
			break collect

		case <-answers.Done():
			return res, fmt.Errorf("answers of question %d: stream closed: %s", number, answers.Reason())

		case e := <-r.bg.commands:
			r.bg.command(ctx, e)

		case f := <-r.bg.control:
			f(ctx)
		}
	}

	if answered == len(res.Outcomes) {
		res.Reason = ClosedAllAnswered
	}
	res.Duration = r.clock.Since(start)

	ticker.Stop()
	deadline.Stop()
	answers.Stop()

	// Stragglers buffered before the stream stopped are acknowledged, never scored.
	for drained := false; !drained; {
		select {
		case e := <-answers.Events():
			r.answer(ctx, &res, start, e, true)
		default:
			drained = true
		}
	}

	if err := r.gw.Edit(ctx, msg, revealView(r.set, r.total, res)); err != nil {
		return res, fmt.Errorf("reveal question %d: %w", number, err)
	}

	for p, o := range res.Outcomes {
		a, ok := o.(domain.Answered)
		if !ok || !a.Correct {
			continue
		}
		if err := r.roster.Credit(p, a.Delta); err != nil {
			r.log.ErrorContext(ctx, "game: credit player failed", "player", p, "error", err)
		}
	}

	return res, nil
}

// close removes the answer buttons of a question that was not revealed.
func (r *roundEngine) close(ctx context.Context, msg gateway.Message, number int, q domain.Question) {
	note := msgSkipped
	if ctx.Err() != nil {
		note = msgEnded
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if err := r.gw.Edit(ctx, msg, closedView(r.set, number, r.total, q, note)); err != nil {
		r.log.WarnContext(ctx, "game: close question failed", "round", number, "error", err)
	}
}

// answer validates and records e. It reports whether the answer was accepted.
func (r *roundEngine) answer(ctx context.Context, res *RoundResult, start time.Time, e gateway.ComponentEvent, closed bool) bool {
	q := res.Question

	option, err := strconv.Atoi(e.CustomID)
	if err != nil || option < 1 || option > len(q.Options) {
		r.log.WarnContext(ctx, "game: unknown answer button", "custom_id", e.CustomID, "player", e.UserID)
		return false
	}

	if !r.roster.Has(e.UserID) {
		telemetry.Answers.WithLabelValues("outsider").Inc()
		r.respond(ctx, e, msgNotPlaying)
		return false
	}

	if _, ok := res.Outcomes[e.UserID].(domain.Answered); ok {
		telemetry.Answers.WithLabelValues("duplicate").Inc()
		r.respond(ctx, e, msgDuplicate)
		return false
	}

	elapsed := max(e.At.Sub(start), 0)
	if closed || !scoring.InWindow(elapsed.Milliseconds(), r.seconds) {
		telemetry.Answers.WithLabelValues("late").Inc()
		r.respond(ctx, e, msgLate)
		return false
	}

	correct := q.IsCorrect(option)
	delta := scoring.Delta(elapsed.Milliseconds(), r.seconds, correct)

	res.Tally[option-1]++
	res.Outcomes[e.UserID] = domain.Answered{
		Option:  option,
		Delta:   delta,
		Correct: correct,
		Elapsed: elapsed,
	}

	verdict := "incorrect"
	if correct {
		verdict = "correct"
	}
	telemetry.Answers.WithLabelValues(verdict).Inc()
	telemetry.AnswerLatency.Observe(elapsed.Seconds())

	r.respond(ctx, e, lockedIn(q, option))
	return true
}

func (r *roundEngine) respond(ctx context.Context, e gateway.ComponentEvent, text string) {
	if err := r.gw.Respond(ctx, e, gateway.Content{Text: text}); err != nil {
		r.log.WarnContext(ctx, "game: respond to answer failed", "player", e.UserID, "error", err)
	}
}

// remaining rounds d up to whole seconds.
func remaining(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
