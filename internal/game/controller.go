// Package game runs live trivia sessions: a lobby players join, then a timed
// question loop scored by latency, with standings after every question.
//
// Each session is driven by its own goroutine, which owns the roster and the
// question queue. Gateway events, timers and control requests all reach that
// goroutine through channels.
package game

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
	"github.com/victornm/trivia/internal/event"
	"github.com/victornm/trivia/internal/gateway"
	"github.com/victornm/trivia/internal/questionset"
	"github.com/victornm/trivia/internal/registry"
	"github.com/victornm/trivia/internal/roster"
	"github.com/victornm/trivia/internal/telemetry"
)

type Config struct {
	Gateway  gateway.Gateway
	Registry registry.Registry
	// LeaseInterval is how often a session renews its claim on the channel.
	// Zero disables renewal, for registries whose claims never expire.
	LeaseInterval time.Duration
	Questions     questionset.Store
	EventBus      *event.Bus
	Clock         clockwork.Clock
	// Intn returns a uniform int in [0, n). It picks random question sets and shuffles questions.
	Intn     func(n int) int
	Settings Settings
}

// Controller starts sessions and routes control requests to them.
type Controller struct {
	gw       gateway.Gateway
	reg      registry.Registry
	lease    time.Duration
	store    questionset.Store
	eb       *event.Bus
	clock    clockwork.Clock
	intn     func(n int) int
	settings Settings

	base context.Context
	stop context.CancelCauseFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	sessions map[string]*session
}

func NewController(c Config) *Controller {
	ctrl := &Controller{
		gw:       c.Gateway,
		reg:      c.Registry,
		lease:    c.LeaseInterval,
		store:    c.Questions,
		eb:       c.EventBus,
		clock:    c.Clock,
		intn:     c.Intn,
		settings: c.Settings.withDefaults(),
		sessions: make(map[string]*session),
	}

	if ctrl.eb == nil {
		ctrl.eb = event.NewBus()
	}
	if ctrl.clock == nil {
		ctrl.clock = clockwork.NewRealClock()
	}
	if ctrl.intn == nil {
		ctrl.intn = rand.IntN
	}

	ctrl.base, ctrl.stop = context.WithCancelCause(context.Background())
	return ctrl
}

func (c *Controller) Settings() Settings {
	return c.settings
}

type StartRequest struct {
	ChannelID string
	// CommandChannelID is where the host sends commands and notices are posted. Defaults to ChannelID.
	CommandChannelID string
	HostID           string
	// QuestionSet is picked at random when empty.
	QuestionSet string
	// Shuffle defaults to true.
	Shuffle *bool
	// Seconds is the answer window of every question. Defaults to Settings.DefaultSeconds.
	Seconds int
}

// Start opens a lobby in the channel. Errors leave no session behind and the registry untouched.
func (c *Controller) Start(ctx context.Context, req StartRequest) (*Handle, error) {
	if req.ChannelID == "" || req.HostID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("channel and host are required"))
	}
	if req.CommandChannelID == "" {
		req.CommandChannelID = req.ChannelID
	}
	if req.Seconds == 0 {
		req.Seconds = c.settings.DefaultSeconds
	}
	if req.Seconds < c.settings.MinSeconds || req.Seconds > c.settings.MaxSeconds {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("seconds must be between %d and %d, got %d", c.settings.MinSeconds, c.settings.MaxSeconds, req.Seconds))
	}

	c.mu.Lock()
	_, running := c.sessions[req.ChannelID]
	c.mu.Unlock()
	if running {
		return nil, alreadyRunning(req.ChannelID)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("game: generate session ID: %w", err)
	}

	ok, err := c.reg.Register(ctx, req.ChannelID, id.String())
	if err != nil {
		return nil, fmt.Errorf("game: %w", err)
	}
	if !ok {
		return nil, alreadyRunning(req.ChannelID)
	}

	s, err := c.prepare(ctx, id.String(), req)
	if err == nil {
		err = c.spawn(s)
	}
	if err != nil {
		if uerr := c.reg.Unregister(context.WithoutCancel(ctx), req.ChannelID, id.String()); uerr != nil {
			slog.ErrorContext(ctx, "game: release channel failed", "channel", req.ChannelID, "error", uerr)
		}
		return nil, err
	}

	c.eb.Publish(ctx, domain.EventGameStarted{
		SessionID:   s.id,
		ChannelID:   s.channelID,
		HostID:      s.hostID,
		QuestionSet: s.set.Name,
		Questions:   len(s.questions),
		StartTime:   c.clock.Now(),
	})
	telemetry.GamesStarted.Inc()
	telemetry.GamesActive.Inc()

	return &Handle{
		ID:          s.id,
		ChannelID:   s.channelID,
		QuestionSet: s.set.Name,
		s:           s,
	}, nil
}

func (c *Controller) prepare(ctx context.Context, id string, req StartRequest) (*session, error) {
	for _, ch := range []string{req.ChannelID, req.CommandChannelID} {
		caps, err := c.gw.Capabilities(ctx, ch)
		if err != nil {
			return nil, fmt.Errorf("game: %w", err)
		}
		if !caps.View || !caps.Send {
			return nil, insufficientPermission(ch)
		}
	}

	set, qs, err := c.load(ctx, req.QuestionSet)
	if err != nil {
		return nil, err
	}

	if req.Shuffle == nil || *req.Shuffle {
		Shuffle(qs, c.intn)
	}

	return &session{
		id:               id,
		channelID:        req.ChannelID,
		commandChannelID: req.CommandChannelID,
		hostID:           req.HostID,
		set:              set,
		questions:        qs,
		seconds:          req.Seconds,
		gw:               c.gw,
		reg:              c.reg,
		eb:               c.eb,
		clock:            c.clock,
		settings:         c.settings,
		log:              slog.Default().With("channel", req.ChannelID, "session", id),
		roster:           roster.New(),
		control:          make(chan func(context.Context)),
		onEnd:            c.remove,
		done:             make(chan struct{}),
	}, nil
}

// load returns the named set, or a random one when name is empty.
func (c *Controller) load(ctx context.Context, name string) (domain.QuestionSet, []domain.Question, error) {
	if name == "" {
		sets, err := c.store.List(ctx)
		if err != nil {
			return domain.QuestionSet{}, nil, fmt.Errorf("game: list question sets: %w", err)
		}
		if len(sets) == 0 {
			return domain.QuestionSet{}, nil, errors.New(errors.CodeNotFound, errors.WithMessagef("no question sets"))
		}
		name = sets[c.intn(len(sets))].Name
	}

	set, err := c.store.Metadata(ctx, name)
	if err != nil {
		return domain.QuestionSet{}, nil, err
	}

	qs, err := c.store.Questions(ctx, name)
	if err != nil {
		return domain.QuestionSet{}, nil, err
	}
	if len(qs) == 0 {
		return domain.QuestionSet{}, nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("question set %s has no questions", name))
	}
	for i, q := range qs {
		if err := q.Validate(); err != nil {
			return domain.QuestionSet{}, nil, errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("question set %s: question %d is invalid", name, i+1),
				errors.WithCause(err))
		}
	}

	return set, qs, nil
}

func (c *Controller) spawn(s *session) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("game: controller is shut down"))
	}
	if _, ok := c.sessions[s.channelID]; ok {
		return alreadyRunning(s.channelID)
	}

	ctx, cancel := context.WithCancelCause(c.base)
	s.cancel = cancel
	c.sessions[s.channelID] = s

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		s.run(ctx)
	}()

	if c.lease > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			s.keepClaim(ctx, c.lease)
		}()
	}

	return nil
}

func (c *Controller) remove(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessions[s.channelID] == s {
		delete(c.sessions, s.channelID)
	}
}

func (c *Controller) lookup(channelID string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[channelID]
	if !ok {
		return nil, noSession(channelID)
	}
	return s, nil
}

// Cancel ends the session of the channel. It does not wait for the teardown.
func (c *Controller) Cancel(_ context.Context, channelID string) error {
	s, err := c.lookup(channelID)
	if err != nil {
		return err
	}

	s.cancel(errCancelled)
	return nil
}

// Ready starts the game of the channel on behalf of playerID, who must be the host.
func (c *Controller) Ready(ctx context.Context, channelID, playerID string) error {
	s, err := c.lookup(channelID)
	if err != nil {
		return err
	}

	return s.do(ctx, func(ctx context.Context) error {
		return s.requestStart(ctx, playerID)
	})
}

// Snapshot is the observable state of a session.
type Snapshot struct {
	SessionID   string
	ChannelID   string
	HostID      string
	QuestionSet string
	Status      domain.Status
	// Round is the current question number, 0 in the lobby.
	Round     int
	Rounds    int
	Seconds   int
	Players   []string
	Standings []domain.Standing
}

func (c *Controller) Snapshot(ctx context.Context, channelID string) (Snapshot, error) {
	s, err := c.lookup(channelID)
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	err = s.do(ctx, func(context.Context) error {
		snap = s.snapshot()
		return nil
	})
	if errors.HasReason(err, ReasonEnded) {
		return Snapshot{}, noSession(channelID)
	}
	return snap, err
}

// Shutdown cancels every session and waits for their teardown.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.stop(errShutdown)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle is the caller's view of a started session.
type Handle struct {
	ID          string
	ChannelID   string
	QuestionSet string

	s *session
}

// Cancel ends the session. It is safe to call more than once, also after the session ended.
func (h *Handle) Cancel() {
	h.s.cancel(errCancelled)
}

// Done is closed once the session is torn down.
func (h *Handle) Done() <-chan struct{} {
	return h.s.done
}

func (h *Handle) Status() domain.Status {
	return h.s.Status()
}

// Outcome returns the final standings, sorted by score then join order.
// It returns false while the session is still running.
func (h *Handle) Outcome() ([]domain.Standing, bool) {
	select {
	case <-h.s.done:
		return h.s.outcome, true
	default:
		return nil, false
	}
}
