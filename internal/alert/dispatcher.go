package alert

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"singrar/internal/metrics"
)

const (
	DefaultRepeatInterval = 3 * time.Second
	defaultHistorySize    = 50
)

type Config struct {
	RepeatInterval time.Duration
	HistorySize    int
	// ToneDir is where the rendered WAV is kept. Empty means os.TempDir().
	ToneDir string
	Logger  zerolog.Logger
}

// Dispatcher renders events. Its only scheduling state is the set of kinds
// with a repeat running.
type Dispatcher struct {
	cfg    Config
	player Player
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	repeats  map[Kind]context.CancelFunc
	history  []Banner
	tonePath string

	playing atomic.Bool
}

func NewDispatcher(cfg Config, player Player) *Dispatcher {
	if cfg.RepeatInterval <= 0 {
		cfg.RepeatInterval = DefaultRepeatInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if player == nil {
		player = NopPlayer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		player:  player,
		log:     cfg.Logger.With().Str("component", "alert").Logger(),
		ctx:     ctx,
		cancel:  cancel,
		repeats: make(map[Kind]context.CancelFunc),
	}
}

// Dispatch renders ev once: a banner entry plus one tone.
func (d *Dispatcher) Dispatch(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b := bannerFor(ev)

	d.mu.Lock()
	d.history = append(d.history, b)
	if over := len(d.history) - d.cfg.HistorySize; over > 0 {
		d.history = append([]Banner(nil), d.history[over:]...)
	}
	d.mu.Unlock()

	metrics.Alerts.WithLabelValues(string(ev.Kind)).Inc()
	d.log.Warn().Str("kind", string(ev.Kind)).Str("source", ev.Source).Msg(ev.Message)
	d.playTone()
}

// StartRepeat dispatches ev and replays the tone every RepeatInterval until
// StopRepeat. It returns false if a repeat for ev.Kind is already running.
func (d *Dispatcher) StartRepeat(ev Event) bool {
	d.mu.Lock()
	if _, ok := d.repeats[ev.Kind]; ok {
		d.mu.Unlock()
		return false
	}
	if d.ctx.Err() != nil {
		d.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(d.ctx)
	d.repeats[ev.Kind] = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	d.Dispatch(ev)

	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.cfg.RepeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.playTone()
			}
		}
	}()
	return true
}

// StopRepeat cancels the repeat for kind. It reports whether one was running.
func (d *Dispatcher) StopRepeat(kind Kind) bool {
	d.mu.Lock()
	cancel, ok := d.repeats[kind]
	delete(d.repeats, kind)
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (d *Dispatcher) Repeating(kind Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.repeats[kind]
	return ok
}

// Banners returns the most recent banners, oldest first.
func (d *Dispatcher) Banners() []Banner {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Banner(nil), d.history...)
}

// playTone starts playback unless a tone is already sounding.
func (d *Dispatcher) playTone() {
	if !d.playing.CompareAndSwap(false, true) {
		return
	}
	path, err := d.toneFile()
	if err != nil {
		d.playing.Store(false)
		d.log.Error().Err(err).Msg("render tone failed")
		return
	}

	d.mu.Lock()
	if d.ctx.Err() != nil {
		d.mu.Unlock()
		d.playing.Store(false)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer d.playing.Store(false)
		ctx, cancel := context.WithTimeout(d.ctx, 5*time.Second)
		defer cancel()
		if err := d.player.Play(ctx, path); err != nil && d.ctx.Err() == nil {
			d.log.Error().Err(err).Msg("play tone failed")
		}
	}()
}

func (d *Dispatcher) toneFile() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tonePath != "" {
		return d.tonePath, nil
	}
	path, err := WriteToneFile(d.cfg.ToneDir)
	if err != nil {
		return "", err
	}
	d.tonePath = path
	return path, nil
}

// Close stops every repeat and waits for in-flight playback.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.cancel()
	d.repeats = make(map[Kind]context.CancelFunc)
	path := d.tonePath
	d.tonePath = ""
	d.mu.Unlock()

	d.wg.Wait()
	if path != "" {
		_ = os.Remove(path)
	}
}
