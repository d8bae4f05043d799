package radar

import (
	"sort"
	"sync"
	"time"
)

// PeerPosition is the last known state of a remote vessel. The table only
// references peers; nothing here controls their lifecycle.
type PeerPosition struct {
	PeerID     string    `json:"id"`
	LatDeg     float64   `json:"lat"`
	LngDeg     float64   `json:"lng"`
	HeadingDeg *float64  `json:"heading,omitempty"`
	SpeedMPS   *float64  `json:"speed,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Speed returns the speed in m/s, or 0 when unknown.
func (p PeerPosition) Speed() float64 {
	if p.SpeedMPS == nil {
		return 0
	}
	return *p.SpeedMPS
}

type PeerTableConfig struct {
	// MaxPeers limits memory use. When exceeded, the oldest peers are evicted.
	MaxPeers int
	// StaleAfter is how long a peer is kept without updates.
	StaleAfter time.Duration
}

// PeerTable maps peer id to last known position with explicit expiry.
type PeerTable struct {
	mu sync.RWMutex

	cfg PeerTableConfig

	peers map[string]PeerPosition
}

func NewPeerTable(cfg PeerTableConfig) *PeerTable {
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = 500
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &PeerTable{
		cfg:   cfg,
		peers: make(map[string]PeerPosition),
	}
}

// Upsert stores p with UpdatedAt=nowUTC. UpdatedAt strictly increases per
// peer: an update that does not advance the clock is bumped by 1ns.
func (t *PeerTable) Upsert(nowUTC time.Time, p PeerPosition) PeerPosition {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p.UpdatedAt = nowUTC.UTC()
	if prev, ok := t.peers[p.PeerID]; ok && !p.UpdatedAt.After(prev.UpdatedAt) {
		p.UpdatedAt = prev.UpdatedAt.Add(time.Nanosecond)
	}
	t.peers[p.PeerID] = p

	// Evict oldest until within limit.
	for len(t.peers) > t.cfg.MaxPeers {
		var oldestID string
		var oldestAt time.Time
		first := true
		for k, v := range t.peers {
			if first || v.UpdatedAt.Before(oldestAt) {
				oldestID = k
				oldestAt = v.UpdatedAt
				first = false
			}
		}
		delete(t.peers, oldestID)
	}
	return p
}

// Sweep evicts peers with now - UpdatedAt > StaleAfter and returns their ids.
func (t *PeerTable) Sweep(nowUTC time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []string
	for k, v := range t.peers {
		if nowUTC.Sub(v.UpdatedAt) > t.cfg.StaleAfter {
			delete(t.peers, k)
			evicted = append(evicted, k)
		}
	}
	sort.Strings(evicted)
	return evicted
}

func (t *PeerTable) Get(id string) (PeerPosition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	return p, ok
}

// Snapshot returns all peers ordered by id.
func (t *PeerTable) Snapshot() []PeerPosition {
	t.mu.RLock()
	out := make([]PeerPosition, 0, len(t.peers))
	for _, v := range t.peers {
		out = append(out, v)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

func (t *PeerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

func (t *PeerTable) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers = make(map[string]PeerPosition)
}
