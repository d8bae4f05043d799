package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"singrar/internal/anchor"
	"singrar/internal/track"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTrack(id string, created time.Time) track.Track {
	return track.Track{
		ID:      id,
		Name:    "Bay loop " + id,
		Color:   track.DefaultColor,
		Visible: true,
		Points: []track.Point{
			{LatDeg: 38.70, LngDeg: -9.14, Timestamp: created, SpeedKnots: 4.2},
			{LatDeg: 38.71, LngDeg: -9.14, Timestamp: created.Add(time.Minute), SpeedKnots: 5.1},
		},
		CreatedAt: created,
	}
}

func TestStore_TrackCRUD(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateTrack(ctx, sampleTrack("a", created)))
	require.NoError(t, s.CreateTrack(ctx, sampleTrack("b", created.Add(time.Hour))))

	got, err := s.GetTrack(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Bay loop a", got.Name)
	require.Len(t, got.Points, 2)
	assert.Equal(t, 5.1, got.Points[1].SpeedKnots)
	assert.True(t, got.Points[0].Timestamp.Equal(created))

	list, err := s.ListTracks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID, "newest first")
	assert.Equal(t, 2, list[1].Points)
	assert.InDelta(t, 1111.95/1852.0, list[1].DistanceNM, 1e-3)

	wkt, err := s.TrackGeometry(ctx, "a")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(wkt, "LINESTRING("), wkt)

	name := "Renamed"
	hidden := false
	got, err = s.UpdateTrack(ctx, "a", TrackPatch{Name: &name, Visible: &hidden})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.False(t, got.Visible)
	assert.Equal(t, track.DefaultColor, got.Color)

	require.NoError(t, s.DeleteTrack(ctx, "a"))
	_, err = s.GetTrack(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteTrack(ctx, "a"), ErrNotFound)
	_, err = s.UpdateTrack(ctx, "a", TrackPatch{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.TrackGeometry(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_EmptyTrack(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	require.NoError(t, s.CreateTrack(ctx, track.Track{Name: "empty"}))

	list, err := s.ListTracks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.NotEmpty(t, list[0].ID)

	got, err := s.GetTrack(ctx, list[0].ID)
	require.NoError(t, err)
	assert.NotNil(t, got.Points)
	assert.Empty(t, got.Points)
}

func TestStore_AnchorAlarm(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	_, err := s.GetAnchorAlarm(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	a := anchor.Alarm{Active: true, OriginLat: 1, OriginLng: 2, RadiusM: 40}
	require.NoError(t, s.SaveAnchorAlarm(ctx, a))
	a.RadiusM = 60
	require.NoError(t, s.SaveAnchorAlarm(ctx, a))

	got, err := s.GetAnchorAlarm(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	require.NoError(t, s.DeleteAnchorAlarm(ctx))
	_, err = s.GetAnchorAlarm(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_FilePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "singrar.db")

	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.CreateTrack(ctx, sampleTrack("x", time.Now().UTC())))
	require.NoError(t, s.Close())

	s, err = Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()
	_, err = s.GetTrack(ctx, "x")
	assert.NoError(t, err)
}

func TestStore_InMemoryIsolated(t *testing.T) {
	ctx := context.Background()
	a := openTest(t)
	b := openTest(t)
	require.NoError(t, a.CreateTrack(ctx, sampleTrack("only-a", time.Now().UTC())))
	list, err := b.ListTracks(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

var _ track.Store = (*Store)(nil)
