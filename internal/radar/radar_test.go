package radar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"singrar/internal/gps"
)

func fixed(lat, lng, speed float64) PositionFunc {
	return func() (gps.PositionSample, bool) {
		return gps.PositionSample{LatDeg: lat, LngDeg: lng, SpeedMPS: &speed, Timestamp: time.Now().UTC()}, true
	}
}

func slowConfig() Config {
	// Long intervals so tests drive broadcasts and sweeps explicitly.
	return Config{BroadcastInterval: time.Hour, SweepInterval: time.Hour}
}

func TestRadar_PeersHearEachOther(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	a := New(slowConfig(), hub, fixed(10, 10, 0))
	b := New(slowConfig(), hub, fixed(10.00044, 10, 2))
	require.NoError(t, a.Enable(ctx, "a"))
	require.NoError(t, b.Enable(ctx, "b"))
	defer a.Disable()
	defer b.Disable()

	require.NoError(t, b.BroadcastOnce(ctx))
	peers := a.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "b", peers[0].PeerID)
	assert.InDelta(t, 2.0, peers[0].Speed(), 1e-9)
	assert.Empty(t, b.Peers(), "sender does not hear itself")
}

func TestRadar_IgnoresOwnIDFromOtherMember(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	a := New(slowConfig(), hub, nil)
	require.NoError(t, a.Enable(ctx, "me"))
	defer a.Disable()

	ch, err := hub.Join(ctx, DefaultChannel, nil)
	require.NoError(t, err)
	msg, err := EncodeLocation(LocationPayload{ID: "me", Lat: 1, Lng: 1})
	require.NoError(t, err)
	require.NoError(t, ch.Send(ctx, msg))
	require.NoError(t, ch.Send(ctx, []byte("not json")))
	assert.Empty(t, a.Peers())
}

func TestRadar_NoBroadcastWithoutPosition(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	a := New(slowConfig(), hub, func() (gps.PositionSample, bool) { return gps.PositionSample{}, false })
	b := New(slowConfig(), hub, nil)
	require.NoError(t, a.Enable(ctx, "a"))
	require.NoError(t, b.Enable(ctx, "b"))
	defer a.Disable()
	defer b.Disable()

	require.NoError(t, a.BroadcastOnce(ctx))
	assert.Empty(t, b.Peers())
}

func TestRadar_DisableClearsAndLeaves(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	a := New(slowConfig(), hub, nil)
	b := New(slowConfig(), hub, fixed(1, 1, 0))
	require.NoError(t, a.Enable(ctx, "a"))
	require.NoError(t, b.Enable(ctx, "b"))
	defer b.Disable()

	require.NoError(t, b.BroadcastOnce(ctx))
	require.Len(t, a.Peers(), 1)

	a.Disable()
	a.Disable()
	assert.False(t, a.Enabled())
	assert.Empty(t, a.Peers())
	assert.Equal(t, 1, hub.Members(DefaultChannel))

	// Re-enable resubscribes.
	require.NoError(t, a.Enable(ctx, "a"))
	defer a.Disable()
	require.NoError(t, b.BroadcastOnce(ctx))
	assert.Len(t, a.Peers(), 1)
}

func TestRadar_TransportDropStopsUpdates(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	a := New(slowConfig(), hub, fixed(1, 1, 0))
	require.NoError(t, a.Enable(ctx, "a"))
	defer a.Disable()

	hub.Drop(DefaultChannel)
	require.Eventually(t, func() bool { return a.Status().State == StateDisconnected }, time.Second, 5*time.Millisecond)
	assert.True(t, a.Enabled())
	assert.False(t, a.Connected())
	assert.ErrorIs(t, a.BroadcastOnce(ctx), ErrTransportDisconnected)
}

func TestRadar_PeriodicBroadcastAndSweep(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	cfg := Config{BroadcastInterval: 10 * time.Millisecond, SweepInterval: 10 * time.Millisecond, StaleAfter: 50 * time.Millisecond}
	a := New(cfg, hub, nil)
	b := New(cfg, hub, fixed(1, 1, 0))
	require.NoError(t, a.Enable(ctx, "a"))
	require.NoError(t, b.Enable(ctx, "b"))
	defer a.Disable()

	require.Eventually(t, func() bool { return len(a.Peers()) == 1 }, time.Second, 5*time.Millisecond)
	b.Disable()
	require.Eventually(t, func() bool { return len(a.Peers()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestRadar_EnableRequiresIdentityAndTransport(t *testing.T) {
	assert.Error(t, New(Config{}, NewHub(), nil).Enable(context.Background(), ""))
	err := New(Config{}, nil, nil).Enable(context.Background(), "x")
	assert.ErrorIs(t, err, ErrTransportDisconnected)
}
