package gps

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixAt(sec int, lat, lng float64) PositionSample {
	return PositionSample{
		LatDeg:    lat,
		LngDeg:    lng,
		AccuracyM: 5,
		Timestamp: time.Date(2025, 6, 1, 12, 0, sec, 0, time.UTC),
	}
}

func TestService_PublishFansOutAndDedupes(t *testing.T) {
	s := New(Config{Enable: true, Source: "sim"})

	var mu sync.Mutex
	var a, b []PositionSample
	cancelA := s.Subscribe(func(p PositionSample) { mu.Lock(); a = append(a, p); mu.Unlock() })
	cancelB := s.Subscribe(func(p PositionSample) { mu.Lock(); b = append(b, p); mu.Unlock() })
	defer cancelB()

	assert.True(t, s.Publish(fixAt(0, 10, 20)))
	assert.False(t, s.Publish(fixAt(0, 10, 20)), "redelivery must be dropped")
	assert.True(t, s.Publish(fixAt(1, 10, 20)))

	cancelA()
	cancelA()
	assert.True(t, s.Publish(fixAt(2, 10, 20)))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, a, 2)
	assert.Len(t, b, 3)

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, fixAt(2, 10, 20), last)
	assert.Equal(t, 1, s.Snapshot().Subscribers)
}

func TestService_ForceRefreshUnavailable(t *testing.T) {
	s := New(Config{Enable: false})
	require.NoError(t, s.Start(context.Background()))
	_, err := s.ForceRefresh(context.Background())
	assert.ErrorIs(t, err, ErrSensorUnavailable)

	s = New(Config{Enable: true, Source: "sim"})
	err = s.Start(context.Background())
	assert.ErrorIs(t, err, ErrSensorUnavailable)
	_, err = s.ForceRefresh(context.Background())
	assert.ErrorIs(t, err, ErrSensorUnavailable)
}

func TestService_ForceRefreshTimeoutKeepsLastFix(t *testing.T) {
	fixed := fixAt(0, 1, 2)
	s := New(Config{
		Enable:         true,
		Source:         "sim",
		Sim:            func(time.Time) PositionSample { return fixed },
		SimInterval:    time.Hour,
		RefreshTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	require.Eventually(t, func() bool { _, ok := s.Last(); return ok }, time.Second, 5*time.Millisecond)

	_, err := s.ForceRefresh(context.Background())
	assert.ErrorIs(t, err, ErrSensorTimeout)
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, fixed, last)
}

func TestService_ForceRefreshReturnsFreshFix(t *testing.T) {
	var n atomic.Int64
	s := New(Config{
		Enable: true,
		Source: "sim",
		Sim: func(time.Time) PositionSample {
			return fixAt(int(n.Add(1)), 1, 2)
		},
		SimInterval:    time.Hour,
		RefreshTimeout: time.Second,
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()
	require.Eventually(t, func() bool { _, ok := s.Last(); return ok }, time.Second, 5*time.Millisecond)

	p, err := s.ForceRefresh(context.Background())
	require.NoError(t, err)
	last, _ := s.Last()
	assert.Equal(t, last, p)
	assert.GreaterOrEqual(t, n.Load(), int64(2))
}

func TestService_RefreshTimeoutCapped(t *testing.T) {
	s := New(Config{RefreshTimeout: time.Minute})
	assert.Equal(t, MaxRefreshTimeout, s.cfg.RefreshTimeout)
}

func TestService_NMEAOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("noise\r\n" + nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W") + "\r\n"))
		time.Sleep(200 * time.Millisecond)
	}()

	s := New(Config{Enable: true, Source: "nmea_tcp", Addr: ln.Addr().String()})
	got := make(chan PositionSample, 1)
	defer s.Subscribe(func(p PositionSample) {
		select {
		case got <- p:
		default:
		}
	})()
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	select {
	case p := <-got:
		assert.InDelta(t, 48.1173, p.LatDeg, 1e-4)
		assert.Equal(t, "nmea_tcp", p.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("no fix received")
	}
}

func TestService_GPSDWatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	watched := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		n, _ := conn.Read(buf)
		watched <- string(buf[:n])
		_, _ = conn.Write([]byte(`{"class":"TPV","mode":3,"lat":59.9,"lon":10.7,"eph":3.0}` + "\n"))
		time.Sleep(200 * time.Millisecond)
	}()

	s := New(Config{Enable: true, Source: "gpsd", Addr: ln.Addr().String()})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	assert.Contains(t, <-watched, "?WATCH=")
	require.Eventually(t, func() bool { _, ok := s.Last(); return ok }, 2*time.Second, 10*time.Millisecond)
	snap := s.Snapshot()
	require.NotNil(t, snap.Fix)
	assert.InDelta(t, 3.0, snap.Fix.AccuracyM, 1e-9)
	assert.True(t, snap.Valid)
}
