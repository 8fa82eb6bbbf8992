package gateway

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"
)

type ActionKind string

const (
	ActionPost    ActionKind = "post"
	ActionEdit    ActionKind = "edit"
	ActionRespond ActionKind = "respond"
)

// Action is a recorded outbound call.
type Action struct {
	Kind    ActionKind
	Message Message
	// UserID is set for responses.
	UserID  string
	Content Content
}

// Memory is an in-process Gateway. Interactions are injected with Click and Say
// and every outbound call is recorded.
type Memory struct {
	hub *Hub

	mu      sync.Mutex
	seq     int
	actions []Action
	caps    map[string]Capabilities
	fail    error
	notify  chan struct{}
}

func NewMemory(clock clockwork.Clock) *Memory {
	return &Memory{
		hub:    NewHub(clock),
		caps:   make(map[string]Capabilities),
		notify: make(chan struct{}),
	}
}

func (g *Memory) Hub() *Hub {
	return g.hub
}

// SetCapabilities overrides the capabilities of a channel, all granted by default.
func (g *Memory) SetCapabilities(channelID string, c Capabilities) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.caps[channelID] = c
}

// FailNext makes the next outbound call return err.
func (g *Memory) FailNext(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = err
}

func (g *Memory) Capabilities(_ context.Context, channelID string) (Capabilities, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.caps[channelID]
	if !ok {
		return Capabilities{View: true, Send: true}, nil
	}
	return c, nil
}

func (g *Memory) Post(ctx context.Context, channelID string, c Content) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure(); err != nil {
		return Message{}, err
	}

	g.seq++
	m := Message{ID: fmt.Sprintf("m%d", g.seq), ChannelID: channelID}
	g.record(Action{Kind: ActionPost, Message: m, Content: c})
	return m, nil
}

func (g *Memory) Edit(ctx context.Context, m Message, c Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure(); err != nil {
		return err
	}
	g.record(Action{Kind: ActionEdit, Message: m, Content: c})
	return nil
}

func (g *Memory) Respond(ctx context.Context, e ComponentEvent, c Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.takeFailure(); err != nil {
		return err
	}
	g.record(Action{Kind: ActionRespond, Message: e.Message, UserID: e.UserID, Content: c})
	return nil
}

func (g *Memory) SubscribeComponents(_ context.Context, m Message, opts ComponentOptions) (*Stream[ComponentEvent], error) {
	return g.hub.subscribeComponents(m, opts), nil
}

func (g *Memory) SubscribeText(_ context.Context, channelID string, opts TextOptions) (*Stream[TextEvent], error) {
	return g.hub.subscribeText(channelID, opts), nil
}

// Click presses customID on m as userID and returns how many streams accepted it.
func (g *Memory) Click(m Message, userID, customID string) int {
	g.mu.Lock()
	g.seq++
	id := fmt.Sprintf("i%d", g.seq)
	g.mu.Unlock()

	return g.hub.DispatchComponent(ComponentEvent{
		InteractionID: id,
		Message:       m,
		Kind:          ComponentButton,
		CustomID:      customID,
		UserID:        userID,
	})
}

// Say sends text in channelID as userID and returns how many streams accepted it.
func (g *Memory) Say(channelID, userID, text string) int {
	g.mu.Lock()
	g.seq++
	id := fmt.Sprintf("t%d", g.seq)
	g.mu.Unlock()

	return g.hub.DispatchText(TextEvent{
		MessageID: id,
		ChannelID: channelID,
		UserID:    userID,
		Text:      text,
	})
}

// Actions returns a copy of every recorded call in order.
func (g *Memory) Actions() []Action {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.actions)
}

// WaitFor blocks until an action matching pred is recorded and returns it.
func (g *Memory) WaitFor(ctx context.Context, pred func(Action) bool) (Action, error) {
	seen := 0
	for {
		g.mu.Lock()
		for ; seen < len(g.actions); seen++ {
			if pred(g.actions[seen]) {
				a := g.actions[seen]
				g.mu.Unlock()
				return a, nil
			}
		}
		notify := g.notify
		g.mu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return Action{}, ctx.Err()
		}
	}
}

func (g *Memory) record(a Action) {
	g.actions = append(g.actions, a)
	close(g.notify)
	g.notify = make(chan struct{})
}

func (g *Memory) takeFailure() error {
	err := g.fail
	g.fail = nil
	return err
}
