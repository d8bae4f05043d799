package alert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPlayer struct {
	plays atomic.Int64
	err   error
}

func (p *countingPlayer) Play(_ context.Context, path string) error {
	p.plays.Add(1)
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return p.err
}

func TestToneSamples_ShapeAndGain(t *testing.T) {
	s := ToneSamples()
	require.Len(t, s, 3*int(ToneSampleRate*0.2))

	gain := 0.1
	peak := int(gain * 32767)
	for _, v := range s {
		require.True(t, v == peak || v == -peak, "sample %d", v)
	}
	// 880 Hz at 44.1 kHz: a half period is ~25 samples.
	assert.Equal(t, peak, s[0])
	assert.Equal(t, -peak, s[26])
}

func TestEncodeToneWAV_Decodes(t *testing.T) {
	path, err := WriteToneFile(t.TempDir())
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, ToneSampleRate, buf.Format.SampleRate)
	assert.Equal(t, 1, buf.Format.NumChannels)
	assert.Equal(t, uint16(16), dec.BitDepth)
	assert.Equal(t, ToneSamples(), buf.Data)
}

func TestDispatcher_BannerStylePerKind(t *testing.T) {
	d := NewDispatcher(Config{ToneDir: t.TempDir()}, &countingPlayer{})
	defer d.Close()

	d.Dispatch(Event{Kind: KindWeatherPressureDrop, Message: "-3.4 hPa in 3h"})
	d.Dispatch(Event{Kind: KindCollisionImminent, Source: "radar"})

	b := d.Banners()
	require.Len(t, b, 2)
	assert.Equal(t, StyleBanner, b[0].Style)
	assert.Equal(t, "-3.4 hPa in 3h", b[0].Message)
	assert.Equal(t, StyleModal, b[1].Style)
	assert.Equal(t, "radar", b[1].Source)
	assert.False(t, b[1].At.IsZero())
}

func TestDispatcher_HistoryBounded(t *testing.T) {
	d := NewDispatcher(Config{HistorySize: 3, ToneDir: t.TempDir()}, nil)
	defer d.Close()
	for i := 0; i < 5; i++ {
		d.Dispatch(Event{Kind: KindCollisionEmergency, Message: string(rune('a' + i))})
	}
	b := d.Banners()
	require.Len(t, b, 3)
	assert.Equal(t, "c", b[0].Message)
	assert.Equal(t, "e", b[2].Message)
}

func TestDispatcher_RepeatIsIdempotentAndStops(t *testing.T) {
	p := &countingPlayer{}
	d := NewDispatcher(Config{RepeatInterval: 10 * time.Millisecond, ToneDir: t.TempDir()}, p)
	defer d.Close()

	assert.True(t, d.StartRepeat(Event{Kind: KindAnchorDrift}))
	assert.False(t, d.StartRepeat(Event{Kind: KindAnchorDrift}))
	assert.True(t, d.Repeating(KindAnchorDrift))
	assert.Len(t, d.Banners(), 1)

	require.Eventually(t, func() bool { return p.plays.Load() >= 3 }, time.Second, 5*time.Millisecond)

	assert.True(t, d.StopRepeat(KindAnchorDrift))
	assert.False(t, d.StopRepeat(KindAnchorDrift))
	assert.False(t, d.Repeating(KindAnchorDrift))

	time.Sleep(30 * time.Millisecond)
	n := p.plays.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, p.plays.Load())

	assert.True(t, d.StartRepeat(Event{Kind: KindAnchorDrift}))
}

func TestDispatcher_PlayerFailureIsContained(t *testing.T) {
	p := &countingPlayer{err: errors.New("no audio device")}
	d := NewDispatcher(Config{ToneDir: t.TempDir()}, p)

	d.Dispatch(Event{Kind: KindCollisionImminent})
	require.Eventually(t, func() bool { return p.plays.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, d.Banners(), 1)

	dir := d.cfg.ToneDir
	d.Close()
	files, _ := filepath.Glob(filepath.Join(dir, "*.wav"))
	assert.Empty(t, files)
	assert.False(t, d.StartRepeat(Event{Kind: KindAnchorDrift}))
}

func TestNewCommandPlayer(t *testing.T) {
	p := NewCommandPlayer("aplay -q")
	assert.Equal(t, "aplay", p.Command)
	assert.Equal(t, []string{"-q"}, p.Args)
	assert.Error(t, NewCommandPlayer("").Play(context.Background(), "x.wav"))
}
