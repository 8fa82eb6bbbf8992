package gateway

import (
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Hub routes incoming interactions to the open streams interested in them:
// component events by message, text events by channel.
type Hub struct {
	clock clockwork.Clock

	mu         sync.RWMutex
	components map[string]map[*Stream[ComponentEvent]]struct{}
	texts      map[string]map[*Stream[TextEvent]]struct{}
}

func NewHub(clock clockwork.Clock) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Hub{
		clock:      clock,
		components: make(map[string]map[*Stream[ComponentEvent]]struct{}),
		texts:      make(map[string]map[*Stream[TextEvent]]struct{}),
	}
}

func (h *Hub) Clock() clockwork.Clock {
	return h.clock
}

func (h *Hub) subscribeComponents(m Message, opts ComponentOptions) *Stream[ComponentEvent] {
	filter := opts.Filter
	if len(opts.Kinds) > 0 {
		kinds := slices.Clone(opts.Kinds)
		filter = func(e ComponentEvent) bool {
			return slices.Contains(kinds, e.Kind) && (opts.Filter == nil || opts.Filter(e))
		}
	}

	return subscribe(h, h.components, m.ID, opts.Max, opts.Timeout, filter)
}

func (h *Hub) subscribeText(channelID string, opts TextOptions) *Stream[TextEvent] {
	return subscribe(h, h.texts, channelID, opts.Max, opts.Timeout, opts.Filter)
}

func subscribe[E any](h *Hub, m map[string]map[*Stream[E]]struct{}, key string, max int, timeout time.Duration, filter func(E) bool) *Stream[E] {
	var s *Stream[E]
	onClose := func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		delete(m[key], s)
		if len(m[key]) == 0 {
			delete(m, key)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s = newStream(h.clock, max, timeout, filter, onClose)
	if m[key] == nil {
		m[key] = make(map[*Stream[E]]struct{})
	}
	m[key][s] = struct{}{}

	return s
}

// DispatchComponent delivers e to the streams of its message and returns how many accepted it.
// e.At is always overwritten with the hub's clock.
func (h *Hub) DispatchComponent(e ComponentEvent) int {
	e.At = h.clock.Now()
	if e.Kind == "" {
		e.Kind = ComponentButton
	}
	return dispatch(h, h.components, e.Message.ID, e)
}

// DispatchText delivers e to the streams of its channel and returns how many accepted it.
func (h *Hub) DispatchText(e TextEvent) int {
	e.At = h.clock.Now()
	return dispatch(h, h.texts, e.ChannelID, e)
}

func dispatch[E any](h *Hub, m map[string]map[*Stream[E]]struct{}, key string, e E) int {
	h.mu.RLock()
	subs := make([]*Stream[E], 0, len(m[key]))
	for s := range m[key] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	n := 0
	for _, s := range subs {
		if s.offer(e) {
			n++
		}
	}
	return n
}
