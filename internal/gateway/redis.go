package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const (
	InteractionComponent = "component"
	InteractionText      = "text"
)

type (
	// ActionEnvelope is published for every outbound call on <prefix>:actions:<channel>.
	ActionEnvelope struct {
		Action  ActionKind `json:"action"`
		Message Message    `json:"message"`
		UserID  string     `json:"user_id,omitempty"`
		// InteractionID is the interaction a response answers.
		InteractionID string  `json:"interaction_id,omitempty"`
		Content       Content `json:"content"`
	}

	// InteractionEnvelope is consumed from <prefix>:interactions:<channel>.
	InteractionEnvelope struct {
		Type      string          `json:"type"`
		Component *ComponentEvent `json:"component,omitempty"`
		Text      *TextEvent      `json:"text,omitempty"`
	}
)

type RedisConfig struct {
	Redis  redis.UniversalClient
	Prefix string
	Clock  clockwork.Clock
}

// Redis bridges the engine to a platform adapter over Redis pub/sub. The adapter
// renders published actions and publishes user interactions back.
type Redis struct {
	hub    *Hub
	redis  redis.UniversalClient
	prefix string
	ready  chan struct{}
}

func NewRedis(c RedisConfig) *Redis {
	return &Redis{
		hub:    NewHub(c.Clock),
		redis:  c.Redis,
		prefix: c.Prefix,
		ready:  make(chan struct{}),
	}
}

// Run consumes interactions until ctx is done.
func (r *Redis) Run(ctx context.Context) error {
	ps := r.redis.PSubscribe(ctx, r.interactionsKey("*"))
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("gateway: subscribe interactions: %w", err)
	}
	close(r.ready)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.dispatch(ctx, msg.Payload)
		}
	}
}

// Ready is closed once Run is subscribed.
func (r *Redis) Ready() <-chan struct{} {
	return r.ready
}

func (r *Redis) dispatch(ctx context.Context, payload string) {
	var env InteractionEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		slog.WarnContext(ctx, "gateway: malformed interaction", "error", err)
		return
	}

	switch {
	case env.Type == InteractionComponent && env.Component != nil:
		r.hub.DispatchComponent(*env.Component)
	case env.Type == InteractionText && env.Text != nil:
		r.hub.DispatchText(*env.Text)
	default:
		slog.WarnContext(ctx, "gateway: unknown interaction", "type", env.Type)
	}
}

// Capabilities reads the fields view and send of <prefix>:caps:<channel>. A missing field is not granted.
func (r *Redis) Capabilities(ctx context.Context, channelID string) (Capabilities, error) {
	res, err := r.redis.HMGet(ctx, r.capsKey(channelID), "view", "send").Result()
	if err != nil {
		return Capabilities{}, fmt.Errorf("gateway: capabilities of %s: %w", channelID, err)
	}

	return Capabilities{
		View: granted(res[0]),
		Send: granted(res[1]),
	}, nil
}

func granted(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

func (r *Redis) Post(ctx context.Context, channelID string, c Content) (Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Message{}, fmt.Errorf("gateway: message id: %w", err)
	}

	m := Message{ID: id.String(), ChannelID: channelID}
	if err := r.publish(ctx, ActionEnvelope{Action: ActionPost, Message: m, Content: c}); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (r *Redis) Edit(ctx context.Context, m Message, c Content) error {
	return r.publish(ctx, ActionEnvelope{Action: ActionEdit, Message: m, Content: c})
}

func (r *Redis) Respond(ctx context.Context, e ComponentEvent, c Content) error {
	return r.publish(ctx, ActionEnvelope{
		Action:        ActionRespond,
		Message:       e.Message,
		UserID:        e.UserID,
		InteractionID: e.InteractionID,
		Content:       c,
	})
}

func (r *Redis) SubscribeComponents(_ context.Context, m Message, opts ComponentOptions) (*Stream[ComponentEvent], error) {
	return r.hub.subscribeComponents(m, opts), nil
}

func (r *Redis) SubscribeText(_ context.Context, channelID string, opts TextOptions) (*Stream[TextEvent], error) {
	return r.hub.subscribeText(channelID, opts), nil
}

func (r *Redis) publish(ctx context.Context, env ActionEnvelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("gateway: marshal %s: %v", env.Action, err)
	}

	if err := r.redis.Publish(ctx, r.actionsKey(env.Message.ChannelID), b).Err(); err != nil {
		return fmt.Errorf("gateway: publish %s: %w", env.Action, err)
	}
	return nil
}

func (r *Redis) actionsKey(channelID string) string {
	return fmt.Sprintf("%s:actions:%s", r.prefix, channelID)
}

func (r *Redis) interactionsKey(channelID string) string {
	return fmt.Sprintf("%s:interactions:%s", r.prefix, channelID)
}

func (r *Redis) capsKey(channelID string) string {
	return fmt.Sprintf("%s:caps:%s", r.prefix, channelID)
}
