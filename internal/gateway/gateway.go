// Package gateway is the boundary between the game engine and the chat platform.
//
// The engine posts and edits structured Content and consumes interactions through
// Streams. Platform adapters (Redis bridge, in-memory) feed interactions into a Hub.
package gateway

import (
	"context"
	"time"
)

// Message identifies a posted message.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// Capabilities are what the bot may do in a channel.
type Capabilities struct {
	View bool `json:"view"`
	Send bool `json:"send"`
}

type ComponentKind string

const ComponentButton ComponentKind = "button"

// Component is an interactive control attached to a message.
type Component struct {
	Kind     ComponentKind `json:"kind"`
	CustomID string        `json:"custom_id"`
	Label    string        `json:"label,omitempty"`
	Emoji    string        `json:"emoji,omitempty"`
	Primary  bool          `json:"primary,omitempty"`
}

type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Content is a platform agnostic message body. Edits replace the whole content.
type Content struct {
	Text        string      `json:"text,omitempty"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Fields      []Field     `json:"fields,omitempty"`
	Footer      string      `json:"footer,omitempty"`
	ImageURL    string      `json:"image_url,omitempty"`
	Components  []Component `json:"components,omitempty"`
	// ReplyTo is the message this one answers, if any.
	ReplyTo string `json:"reply_to,omitempty"`
}

// ComponentEvent is a user pressing a component on a message.
type ComponentEvent struct {
	InteractionID string        `json:"interaction_id"`
	Message       Message       `json:"message"`
	Kind          ComponentKind `json:"kind"`
	CustomID      string        `json:"custom_id"`
	UserID        string        `json:"user_id"`
	// At is when the hub received the event, read from the engine's clock.
	// The platform's own timestamps are never trusted for scoring.
	At time.Time `json:"-"`
}

// TextEvent is a plain text message sent in a channel.
type TextEvent struct {
	MessageID string    `json:"message_id"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	At        time.Time `json:"-"`
}

type ComponentOptions struct {
	// Kinds restricts the component kinds delivered, all when empty.
	Kinds   []ComponentKind
	Max     int
	Timeout time.Duration
	Filter  func(ComponentEvent) bool
}

type TextOptions struct {
	Max     int
	Timeout time.Duration
	Filter  func(TextEvent) bool
}

// Gateway is what the engine needs from the chat platform.
type Gateway interface {
	Capabilities(ctx context.Context, channelID string) (Capabilities, error)
	Post(ctx context.Context, channelID string, c Content) (Message, error)
	Edit(ctx context.Context, m Message, c Content) error
	// Respond answers an interaction with a message only its author can see.
	Respond(ctx context.Context, e ComponentEvent, c Content) error
	SubscribeComponents(ctx context.Context, m Message, opts ComponentOptions) (*Stream[ComponentEvent], error)
	SubscribeText(ctx context.Context, channelID string, opts TextOptions) (*Stream[TextEvent], error)
}
