package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"singrar/internal/metrics"
)

const (
	// MaxRefreshTimeout caps ForceRefresh waits.
	MaxRefreshTimeout = 5 * time.Second

	defaultFixTimeout     = 5 * time.Second
	defaultRefreshTimeout = 3 * time.Second
	defaultSimInterval    = time.Second
	nmeaTCPDefaultAddr    = "127.0.0.1:10110"
)

// SimFunc produces the simulated fix for a given instant.
type SimFunc func(now time.Time) PositionSample

// Config controls the position sampler.
//
// Device may be empty to auto-detect a USB receiver.
// Addr is host:port for the nmea_tcp and gpsd sources.
type Config struct {
	Enable bool

	// Source is one of "nmea" (serial), "nmea_tcp", "gpsd" or "sim".
	// When empty, defaults to "nmea".
	Source string

	Device string
	Baud   int
	Addr   string

	// FixTimeout marks the last fix stale when nothing newer arrives in time.
	FixTimeout time.Duration
	// RefreshTimeout bounds ForceRefresh. Capped at MaxRefreshTimeout.
	RefreshTimeout time.Duration

	UEREM            float64
	DefaultAccuracyM float64

	Sim         SimFunc
	SimInterval time.Duration

	Logger zerolog.Logger
}

// Snapshot is the sampler status for the web API.
type Snapshot struct {
	Enabled  bool `json:"enabled"`
	Valid    bool `json:"valid"`
	FixStale bool `json:"fix_stale"`

	Source string `json:"source,omitempty"`
	Device string `json:"device,omitempty"`
	Addr   string `json:"addr,omitempty"`

	Fix         *PositionSample `json:"fix,omitempty"`
	FixAgeSec   float64         `json:"fix_age_sec,omitempty"`
	Subscribers int             `json:"subscribers"`

	LastError string `json:"last_error,omitempty"`
}

// Service ingests fixes from one source and fans them out to subscribers.
type Service struct {
	cfg    Config
	source string
	log    zerolog.Logger
	now    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards lifecycle and status fields.
	mu          sync.Mutex
	closer      io.Closer
	started     bool
	unavailable bool
	lastError   string
	device      string

	// pubMu serializes delivery so subscribers see fixes in publish order.
	pubMu sync.Mutex

	subMu   sync.Mutex
	subs    map[uint64]func(PositionSample)
	nextSub uint64
	waiters map[chan PositionSample]struct{}
	last    PositionSample
	hasLast bool
	lastAt  time.Time

	kick chan struct{}
}

func New(cfg Config) *Service {
	src := strings.ToLower(strings.TrimSpace(cfg.Source))
	if src == "" {
		src = "nmea"
	}
	if cfg.FixTimeout <= 0 {
		cfg.FixTimeout = defaultFixTimeout
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	if cfg.RefreshTimeout > MaxRefreshTimeout {
		cfg.RefreshTimeout = MaxRefreshTimeout
	}
	if cfg.SimInterval <= 0 {
		cfg.SimInterval = defaultSimInterval
	}
	return &Service{
		cfg:     cfg,
		source:  src,
		log:     cfg.Logger.With().Str("component", "gps").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
		subs:    make(map[uint64]func(PositionSample)),
		waiters: make(map[chan PositionSample]struct{}),
		kick:    make(chan struct{}, 1),
	}
}

// Start opens the configured source. A source that cannot be opened is
// reported as ErrSensorUnavailable once; the sampler stays usable for Publish.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gps service is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enable {
		s.unavailable = true
		return nil
	}
	if s.started {
		return nil
	}

	childCtx, cancel := context.WithCancel(ctx)

	var err error
	switch s.source {
	case "gpsd":
		addr := s.addr(gpsdDefaultAddr)
		s.runReconnectLocked(childCtx, "gpsd", addr, s.readGPSD)
	case "nmea_tcp":
		addr := s.addr(nmeaTCPDefaultAddr)
		s.runReconnectLocked(childCtx, "nmea_tcp", addr, func(ctx context.Context, conn io.Reader) error {
			return s.readNMEA(ctx, conn, "nmea_tcp")
		})
	case "sim":
		if s.cfg.Sim == nil {
			err = fmt.Errorf("%w: sim source has no simulator", ErrSensorUnavailable)
			break
		}
		s.runSimLocked(childCtx)
	case "nmea":
		err = s.startSerialLocked(childCtx)
	default:
		err = fmt.Errorf("%w: unknown source %q", ErrSensorUnavailable, s.source)
	}
	if err != nil {
		cancel()
		s.unavailable = true
		s.lastError = err.Error()
		s.log.Error().Err(err).Str("source", s.source).Msg("position source unavailable")
		return err
	}
	s.cancel = cancel
	s.started = true
	return nil
}

func (s *Service) addr(def string) string {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		return def
	}
	return addr
}

func (s *Service) startSerialLocked(ctx context.Context) error {
	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		device = autoDetectDevice()
		if device == "" {
			return fmt.Errorf("%w: auto-detect found no /dev/ttyACM* or /dev/ttyUSB*", ErrSensorUnavailable)
		}
	}
	baud := s.cfg.Baud
	if baud == 0 {
		baud = 9600
	}
	f, err := openSerial(device, baud)
	if err != nil {
		return fmt.Errorf("%w: open %s baud=%d: %v", ErrSensorUnavailable, device, baud, err)
	}
	s.closer = f
	s.device = device

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = f.Close() }()

		s.log.Info().Str("device", device).Int("baud", baud).Msg("gps enabled")
		if err := s.readNMEA(ctx, f, "nmea"); err != nil && ctx.Err() == nil {
			s.setError(fmt.Sprintf("gps read stopped: %v", err))
		}
	}()
	return nil
}

// runReconnectLocked dials addr and hands the connection to read, retrying
// with exponential backoff until ctx is done.
func (s *Service) runReconnectLocked(ctx context.Context, name, addr string, read func(context.Context, io.Reader) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.log.Info().Str("source", name).Str("addr", addr).Msg("gps enabled")
		backoff := 250 * time.Millisecond
		maxBackoff := 10 * time.Second

		for {
			if ctx.Err() != nil {
				return
			}
			conn, err := dialTCP(ctx, addr)
			if err != nil {
				s.setError(fmt.Sprintf("%s dial failed addr=%s: %v", name, addr, err))
				t := backoff
				if t > maxBackoff {
					t = maxBackoff
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(t):
				}
				if backoff < maxBackoff {
					backoff *= 2
				}
				continue
			}
			backoff = 250 * time.Millisecond

			s.mu.Lock()
			// Swap the closer so Close() can interrupt an active connection.
			s.closer = conn
			s.mu.Unlock()

			if name == "gpsd" {
				if err := gpsdWatch(conn); err != nil {
					s.setError(fmt.Sprintf("gpsd watch failed: %v", err))
					_ = conn.Close()
					continue
				}
			}
			err = read(ctx, conn)
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				s.setError(fmt.Sprintf("%s read stopped: %v", name, err))
			}
		}
	}()
}

func (s *Service) runSimLocked(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.log.Info().Dur("interval", s.cfg.SimInterval).Msg("gps enabled source=sim")
		ticker := time.NewTicker(s.cfg.SimInterval)
		defer ticker.Stop()

		s.Publish(s.cfg.Sim(s.now()))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-s.kick:
			}
			s.Publish(s.cfg.Sim(s.now()))
		}
	}()
}

func scanLines(ctx context.Context, r io.Reader, maxLine int, fn func(line string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256), maxLine)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return io.EOF
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fn(line)
	}
}

func (s *Service) readNMEA(ctx context.Context, r io.Reader, source string) error {
	st := newNMEAState(source, s.cfg.UEREM, s.cfg.DefaultAccuracyM)
	return scanLines(ctx, r, 4096, func(line string) {
		// Some receivers include non-NMEA chatter.
		if !strings.HasPrefix(line, "$") {
			return
		}
		sent, err := parseNMEASentence(line)
		if err != nil {
			// Avoid spamming on bad noise; just keep the last error.
			s.setError(err.Error())
			return
		}
		if p, ok := st.apply(s.now(), sent); ok {
			s.Publish(p)
		}
	})
}

func (s *Service) readGPSD(ctx context.Context, r io.Reader) error {
	st := newGPSDState(s.cfg.UEREM, s.cfg.DefaultAccuracyM)
	return scanLines(ctx, r, 256*1024, func(line string) {
		p, ok, err := st.applyLine(s.now(), line)
		if err != nil {
			s.setError(err.Error())
			return
		}
		if ok {
			s.Publish(p)
		}
	})
}

// Subscribe registers fn for every new fix. The returned func releases the
// subscription and is safe to call more than once.
func (s *Service) Subscribe(fn func(PositionSample)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// Publish stores p as the last known fix and delivers it to every
// subscriber. A redelivery of the previous fix is dropped.
func (s *Service) Publish(p PositionSample) bool {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.subMu.Lock()
	if s.hasLast && sameFix(s.last, p) {
		s.subMu.Unlock()
		metrics.PositionSamples.WithLabelValues(metrics.ResultDuplicate).Inc()
		return false
	}
	s.last = p
	s.hasLast = true
	s.lastAt = s.now()
	fns := make([]func(PositionSample), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	for ch := range s.waiters {
		select {
		case ch <- p:
		default:
		}
		delete(s.waiters, ch)
	}
	s.subMu.Unlock()

	metrics.PositionSamples.WithLabelValues(metrics.ResultPublished).Inc()
	for _, fn := range fns {
		fn(p)
	}
	return true
}

// Last returns the last known fix.
func (s *Service) Last() (PositionSample, bool) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.last, s.hasLast
}

// ForceRefresh waits for the next fresh fix. On timeout the previous fix is
// kept and ErrSensorTimeout is returned.
func (s *Service) ForceRefresh(ctx context.Context) (PositionSample, error) {
	s.mu.Lock()
	unavailable := s.unavailable || !s.cfg.Enable
	s.mu.Unlock()
	if unavailable {
		return PositionSample{}, ErrSensorUnavailable
	}

	ch := make(chan PositionSample, 1)
	s.subMu.Lock()
	s.waiters[ch] = struct{}{}
	s.subMu.Unlock()
	defer func() {
		s.subMu.Lock()
		delete(s.waiters, ch)
		s.subMu.Unlock()
	}()

	select {
	case s.kick <- struct{}{}:
	default:
	}

	timer := time.NewTimer(s.cfg.RefreshTimeout)
	defer timer.Stop()
	select {
	case p := <-ch:
		return p, nil
	case <-timer.C:
		return PositionSample{}, ErrSensorTimeout
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return PositionSample{}, ErrSensorTimeout
		}
		return PositionSample{}, ctx.Err()
	}
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	closer := s.closer
	s.cancel = nil
	s.closer = nil
	s.started = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	s.wg.Wait()

	s.subMu.Lock()
	s.subs = make(map[uint64]func(PositionSample))
	s.subMu.Unlock()
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	snap := Snapshot{
		Enabled:   s.cfg.Enable && !s.unavailable,
		Source:    s.source,
		Device:    s.device,
		LastError: s.lastError,
	}
	if s.source == "gpsd" || s.source == "nmea_tcp" {
		snap.Addr = s.addr("")
	}
	s.mu.Unlock()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	snap.Subscribers = len(s.subs)
	if s.hasLast {
		fix := s.last
		snap.Fix = &fix
		snap.Valid = true
		age := s.now().Sub(s.lastAt)
		snap.FixAgeSec = age.Seconds()
		snap.FixStale = age > s.cfg.FixTimeout
	}
	return snap
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	changed := s.lastError != msg
	s.lastError = msg
	s.mu.Unlock()
	if changed {
		s.log.Warn().Msg(msg)
	}
}

func autoDetectDevice() string {
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
