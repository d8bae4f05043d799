package motion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Handler receives decoded sensor events.
type Handler interface {
	OnMotion(Sample)
	OnOrientation(Orientation)
}

type BridgeConfig struct {
	// Addr is the phone sensor bridge, host:port, speaking NDJSON.
	Addr string

	ReconnectDelay time.Duration
	MaxLineBytes   int
	DialTimeout    time.Duration

	Logger zerolog.Logger
}

// Bridge reads newline-delimited sensor events from a TCP endpoint:
//
//	{"type":"motion","acceleration":{"x":0.1,"y":0.2,"z":9.7}}
//	{"type":"orientation","alpha":120}
//	{"type":"orientation","compass_heading":240}
type Bridge struct {
	cfg BridgeConfig
	log zerolog.Logger

	started atomic.Bool
	closed  atomic.Bool

	mu       sync.RWMutex
	state    string
	lastErr  string
	lastSeen time.Time
	count    uint64

	cancel context.CancelFunc
	done   chan struct{}
}

type BridgeSnapshot struct {
	Addr        string `json:"addr"`
	State       string `json:"state"`
	LastError   string `json:"last_error,omitempty"`
	LastSeenUTC string `json:"last_seen_utc,omitempty"`
	Events      uint64 `json:"events"`
}

type wireEvent struct {
	Type         string `json:"type"`
	Acceleration *struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
		Z *float64 `json:"z"`
	} `json:"acceleration"`
	Alpha          *float64 `json:"alpha"`
	CompassHeading *float64 `json:"compass_heading"`
}

func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("motion bridge addr is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 1 * time.Second
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 64 * 1024
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	return &Bridge{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "motion").Logger(),
		state: "stopped",
		done:  make(chan struct{}),
	}, nil
}

// Start connects and keeps reconnecting until Close. Handler calls happen on
// the bridge goroutine and must not block.
func (b *Bridge) Start(ctx context.Context, h Handler) error {
	if b == nil {
		return fmt.Errorf("motion bridge is nil")
	}
	if b.closed.Load() {
		return fmt.Errorf("motion bridge is closed")
	}
	if h == nil {
		return fmt.Errorf("motion handler is nil")
	}
	if b.started.Swap(true) {
		return fmt.Errorf("motion bridge already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.setState("connecting", "")

	go func() {
		defer close(b.done)
		b.runLoop(runCtx, h)
	}()
	return nil
}

func (b *Bridge) Close() {
	if b == nil {
		return
	}
	if b.closed.Swap(true) {
		return
	}
	if b.cancel != nil {
		b.cancel()
	}
	if b.started.Load() {
		<-b.done
	}
}

func (b *Bridge) Snapshot() BridgeSnapshot {
	if b == nil {
		return BridgeSnapshot{}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := BridgeSnapshot{
		Addr:      b.cfg.Addr,
		State:     b.state,
		LastError: b.lastErr,
		Events:    b.count,
	}
	if !b.lastSeen.IsZero() {
		out.LastSeenUTC = b.lastSeen.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (b *Bridge) runLoop(ctx context.Context, h Handler) {
	dialer := &net.Dialer{Timeout: b.cfg.DialTimeout}

	for {
		if ctx.Err() != nil {
			b.setState("stopped", "")
			return
		}

		b.setState("connecting", "")
		conn, err := dialer.DialContext(ctx, "tcp", b.cfg.Addr)
		if err != nil {
			b.setState("error", err.Error())
			if !sleepCtx(ctx, b.cfg.ReconnectDelay) {
				b.setState("stopped", "")
				return
			}
			continue
		}

		b.setState("connected", "")
		b.log.Info().Str("addr", b.cfg.Addr).Msg("sensor bridge connected")
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		b.readConn(conn, h)
		stop()
		_ = conn.Close()

		if !sleepCtx(ctx, b.cfg.ReconnectDelay) {
			b.setState("stopped", "")
			return
		}
	}
}

func (b *Bridge) readConn(conn net.Conn, h Handler) {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				b.setState("disconnected", "")
			} else {
				b.setState("disconnected", err.Error())
			}
			return
		}
		if len(line) > b.cfg.MaxLineBytes {
			b.setState("error", fmt.Sprintf("sensor line too large (%d bytes)", len(line)))
			continue
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if err := dispatch(line, time.Now().UTC(), h); err != nil {
			b.setState("error", err.Error())
			continue
		}

		b.mu.Lock()
		b.lastSeen = time.Now().UTC()
		b.count++
		b.mu.Unlock()
	}
}

func dispatch(line []byte, now time.Time, h Handler) error {
	var ev wireEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return fmt.Errorf("json parse: %w", err)
	}
	switch ev.Type {
	case "motion":
		if ev.Acceleration == nil {
			// Devices without a linear accelerometer send null acceleration.
			return nil
		}
		s := Sample{At: now}
		if ev.Acceleration.X != nil {
			s.AccelX = *ev.Acceleration.X
		}
		if ev.Acceleration.Y != nil {
			s.AccelY = *ev.Acceleration.Y
		}
		if ev.Acceleration.Z != nil {
			s.AccelZ = *ev.Acceleration.Z
		}
		h.OnMotion(s)
	case "orientation":
		h.OnOrientation(Orientation{CompassHeading: ev.CompassHeading, Alpha: ev.Alpha, At: now})
	default:
		return fmt.Errorf("unknown sensor event %q", ev.Type)
	}
	return nil
}

func (b *Bridge) setState(state string, lastErr string) {
	b.mu.Lock()
	b.state = state
	if lastErr != "" {
		b.lastErr = lastErr
	} else if state == "connected" || state == "connecting" || state == "stopped" {
		b.lastErr = ""
	}
	b.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
