// Package udp carries radar channels as JSON datagrams on a LAN, typically
// the boat Wi-Fi subnet broadcast address.
package udp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"singrar/internal/radar"
)

const DefaultPort = 47800

// frame wraps a channel payload. From identifies the membership so a host
// never delivers its own broadcast back to itself.
type frame struct {
	Channel string          `json:"ch"`
	From    string          `json:"from"`
	Data    json.RawMessage `json:"data"`
}

type Config struct {
	// Dest is where datagrams are sent, e.g. 192.168.1.255:47800.
	Dest string
	// Listen is the local receive address, e.g. :47800.
	Listen string
	Logger zerolog.Logger
}

// Transport implements radar.Transport over UDP.
type Transport struct {
	cfg Config
	log zerolog.Logger
}

func NewTransport(cfg Config) *Transport {
	if cfg.Dest == "" {
		cfg.Dest = fmt.Sprintf("255.255.255.255:%d", DefaultPort)
	}
	if cfg.Listen == "" {
		cfg.Listen = fmt.Sprintf(":%d", DefaultPort)
	}
	return &Transport{cfg: cfg, log: cfg.Logger.With().Str("component", "udp").Logger()}
}

type channel struct {
	name      string
	member    string
	out       *Broadcaster
	in        net.PacketConn
	onMessage func([]byte)
	log       zerolog.Logger

	mu   sync.Mutex
	done chan struct{}
	left bool
}

func (t *Transport) Join(ctx context.Context, name string, onMessage func([]byte)) (radar.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var lc net.ListenConfig
	lc.Control = enableBroadcast
	in, err := lc.ListenPacket(ctx, "udp", t.cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", t.cfg.Listen, err)
	}
	out, err := NewBroadcaster(t.cfg.Dest)
	if err != nil {
		_ = in.Close()
		return nil, err
	}

	c := &channel{
		name:      name,
		member:    uuid.NewString(),
		out:       out,
		in:        in,
		onMessage: onMessage,
		log:       t.log,
		done:      make(chan struct{}),
	}
	go c.receive()
	t.log.Info().Str("channel", name).Str("listen", in.LocalAddr().String()).Str("dest", t.cfg.Dest).Msg("joined")
	return c, nil
}

func (c *channel) receive() {
	defer c.markDone()
	buf := make([]byte, 64*1024)
	for {
		n, _, err := c.in.ReadFrom(buf)
		if err != nil {
			c.mu.Lock()
			left := c.left
			c.mu.Unlock()
			if !left && !errors.Is(err, net.ErrClosed) {
				c.log.Warn().Err(err).Msg("udp receive stopped")
			}
			return
		}
		var f frame
		if err := json.Unmarshal(buf[:n], &f); err != nil {
			continue
		}
		if f.Channel != c.name || f.From == c.member {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(append([]byte(nil), f.Data...))
		}
	}
}

func (c *channel) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return net.ErrClosed
	default:
	}
	b, err := json.Marshal(frame{Channel: c.name, From: c.member, Data: payload})
	if err != nil {
		return err
	}
	return c.out.Send(b)
}

func (c *channel) Leave() error {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return nil
	}
	c.left = true
	c.mu.Unlock()

	err := errors.Join(c.in.Close(), c.out.Close())
	<-c.done
	return err
}

func (c *channel) Done() <-chan struct{} { return c.done }

// LocalAddr is the receive address, useful when listening on port 0.
func (c *channel) LocalAddr() net.Addr { return c.in.LocalAddr() }

func (c *channel) markDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}
