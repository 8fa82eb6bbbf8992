// Package registry tracks which channels currently host a game session.
// It is the only state shared between sessions.
package registry

import (
	"context"
	"sync"
)

// Registry maps a channel to the session occupying it.
type Registry interface {
	// Register claims the channel for the session. It returns false if the
	// channel is already taken. The check and the claim are atomic.
	Register(ctx context.Context, channelID, sessionID string) (bool, error)
	// Unregister releases the channel if it is still held by the session.
	Unregister(ctx context.Context, channelID, sessionID string) error
	// Refresh renews the claim of the session on the channel. It returns false
	// when the session no longer holds the channel.
	Refresh(ctx context.Context, channelID, sessionID string) (bool, error)
	IsActive(ctx context.Context, channelID string) (bool, error)
}

// Memory is a process local Registry.
type Memory struct {
	mu       sync.Mutex
	channels map[string]string
}

func NewMemory() *Memory {
	return &Memory{channels: make(map[string]string)}
}

func (m *Memory) Register(_ context.Context, channelID, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.channels[channelID]; ok {
		return false, nil
	}
	m.channels[channelID] = sessionID
	return true, nil
}

func (m *Memory) Unregister(_ context.Context, channelID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channels[channelID] == sessionID {
		delete(m.channels, channelID)
	}
	return nil
}

// Refresh reports whether the session still holds the channel. Memory claims never expire.
func (m *Memory) Refresh(_ context.Context, channelID, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.channels[channelID] == sessionID, nil
}

func (m *Memory) IsActive(_ context.Context, channelID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.channels[channelID]
	return ok, nil
}
