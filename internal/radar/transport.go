package radar

import (
	"context"
	"errors"
	"sync"
)

// Transport joins named broadcast channels. Messages sent on a channel are
// delivered to every other member, never back to the sender.
type Transport interface {
	Join(ctx context.Context, channel string, onMessage func(payload []byte)) (Channel, error)
}

// Channel is one membership of a broadcast channel.
type Channel interface {
	Send(ctx context.Context, payload []byte) error
	// Leave ends the membership. It is safe to call more than once.
	Leave() error
	// Done is closed when the membership ends, by Leave or by the transport dropping.
	Done() <-chan struct{}
}

var errChannelClosed = errors.New("radar: channel closed")

// Hub is an in-process Transport used for simulation and tests.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[*hubMember]struct{}
}

func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*hubMember]struct{})}
}

type hubMember struct {
	hub       *Hub
	channel   string
	onMessage func([]byte)
	done      chan struct{}
	once      sync.Once
}

func (h *Hub) Join(ctx context.Context, channel string, onMessage func([]byte)) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := &hubMember{hub: h, channel: channel, onMessage: onMessage, done: make(chan struct{})}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*hubMember]struct{})
	}
	h.channels[channel][m] = struct{}{}
	return m, nil
}

// Members reports how many memberships channel has.
func (h *Hub) Members(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

// Drop ends every membership of channel as if the network went away.
func (h *Hub) Drop(channel string) {
	h.mu.Lock()
	members := h.channels[channel]
	delete(h.channels, channel)
	h.mu.Unlock()
	for m := range members {
		m.close()
	}
}

// Send delivers payload synchronously to every other member.
func (m *hubMember) Send(ctx context.Context, payload []byte) error {
	select {
	case <-m.done:
		return errChannelClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.hub.mu.Lock()
	targets := make([]*hubMember, 0, len(m.hub.channels[m.channel]))
	for other := range m.hub.channels[m.channel] {
		if other != m {
			targets = append(targets, other)
		}
	}
	m.hub.mu.Unlock()

	for _, other := range targets {
		if other.onMessage != nil {
			other.onMessage(append([]byte(nil), payload...))
		}
	}
	return nil
}

func (m *hubMember) Leave() error {
	m.hub.mu.Lock()
	delete(m.hub.channels[m.channel], m)
	m.hub.mu.Unlock()
	m.close()
	return nil
}

func (m *hubMember) Done() <-chan struct{} { return m.done }

func (m *hubMember) close() {
	m.once.Do(func() { close(m.done) })
}
