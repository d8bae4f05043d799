package weather

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"singrar/internal/alert"
	"singrar/internal/gps"
)

const (
	DefaultPollInterval  = 30 * time.Minute
	DefaultRetryInterval = 10 * time.Second
)

// Fetcher returns the pressure series for a position.
type Fetcher interface {
	Fetch(ctx context.Context, lat, lng float64) (Forecast, error)
}

type Dispatcher interface {
	Dispatch(ev alert.Event)
}

type MonitorConfig struct {
	Interval time.Duration
	// RetryInterval is the wait between checks while no own position is
	// known yet.
	RetryInterval time.Duration
	Logger        zerolog.Logger
}

type Status struct {
	Alert     bool       `json:"alert"`
	Last      *Drop      `json:"last,omitempty"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Monitor polls the forecast at the own position and raises the alert once
// per dropping episode.
type Monitor struct {
	cfg      MonitorConfig
	fetch    Fetcher
	position func() (gps.PositionSample, bool)
	alerts   Dispatcher
	log      zerolog.Logger
	now      func() time.Time

	mu     sync.Mutex
	status Status

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMonitor(cfg MonitorConfig, fetch Fetcher, position func() (gps.PositionSample, bool), alerts Dispatcher) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.RetryInterval > cfg.Interval {
		cfg.RetryInterval = cfg.Interval
	}
	return &Monitor{
		cfg:      cfg,
		fetch:    fetch,
		position: position,
		alerts:   alerts,
		log:      cfg.Logger.With().Str("component", "weather").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	childCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(0)
		defer timer.Stop()
		for {
			select {
			case <-childCtx.Done():
				return
			case <-timer.C:
			}
			wait := m.cfg.Interval
			if _, err := m.Check(childCtx); err != nil && childCtx.Err() == nil {
				if errors.Is(err, errNoPosition) {
					// Poll again soon so the first fix is not a full interval late.
					wait = m.cfg.RetryInterval
					m.log.Debug().Dur("retry", wait).Msg("pressure check waiting for position")
				} else {
					m.log.Warn().Err(err).Msg("pressure check failed")
				}
			}
			timer.Reset(wait)
		}
	}()
}

func (m *Monitor) Close() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

var errNoPosition = errors.New("weather: no known position")

// Check fetches once and updates the alert state. The alert is dispatched
// only on the transition into a drop.
func (m *Monitor) Check(ctx context.Context) (Drop, error) {
	pos, ok := m.position()
	if !ok {
		return Drop{}, errNoPosition
	}
	fc, err := m.fetch.Fetch(ctx, pos.LatDeg, pos.LngDeg)
	if err != nil {
		m.setError(err)
		return Drop{}, err
	}
	now := m.now()
	drop, ok := PressureDrop(fc.CurrentHPa, fc.Hourly, fc.Times, now)
	if !ok {
		err := fmt.Errorf("weather: empty hourly series")
		m.setError(err)
		return Drop{}, err
	}

	m.mu.Lock()
	rising := drop.Alert && !m.status.Alert
	m.status = Status{Alert: drop.Alert, Last: &drop, CheckedAt: &now}
	m.mu.Unlock()

	if rising && m.alerts != nil {
		m.alerts.Dispatch(alert.Event{
			Kind:    alert.KindWeatherPressureDrop,
			Message: fmt.Sprintf("Pressure %.1f hPa in 3h (now %.0f hPa)", drop.DiffHPa, drop.CurrentHPa),
			Source:  "weather",
			At:      now,
		})
	}
	return drop, nil
}

func (m *Monitor) setError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.LastError = err.Error()
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}
