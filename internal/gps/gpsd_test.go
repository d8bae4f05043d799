package gps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGPSDState_TPVPublishesFix(t *testing.T) {
	now := time.Date(2025, 12, 22, 12, 0, 0, 0, time.UTC)
	st := newGPSDState(5, 10)

	line := `{"class":"TPV","mode":3,"time":"2025-12-22T11:59:59.500Z","lat":45.5,"lon":-122.9,"speed":2.5,"track":270.0,"eph":4.2}`
	p, ok, err := st.applyLine(now, line)
	require.NoError(t, err)
	require.True(t, ok)

	assert.InDelta(t, 45.5, p.LatDeg, 1e-9)
	assert.InDelta(t, -122.9, p.LngDeg, 1e-9)
	require.NotNil(t, p.SpeedMPS)
	assert.InDelta(t, 2.5, *p.SpeedMPS, 1e-9)
	require.NotNil(t, p.HeadingDeg)
	assert.InDelta(t, 270.0, *p.HeadingDeg, 1e-9)
	assert.InDelta(t, 4.2, p.AccuracyM, 1e-9)
	assert.Equal(t, time.Date(2025, 12, 22, 11, 59, 59, 500000000, time.UTC), p.Timestamp)
	assert.Equal(t, "gpsd", p.Source)
}

func TestGPSDState_AccuracyFallbacks(t *testing.T) {
	now := time.Date(2025, 12, 22, 12, 0, 0, 0, time.UTC)
	st := newGPSDState(5, 10)

	p, ok, err := st.applyLine(now, `{"class":"TPV","mode":2,"lat":1,"lon":2,"epx":3,"epy":4}`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 5.0, p.AccuracyM, 1e-9)
	assert.Equal(t, now, p.Timestamp)

	p, _, _ = st.applyLine(now, `{"class":"TPV","mode":2,"lat":1,"lon":2}`)
	assert.InDelta(t, 10.0, p.AccuracyM, 1e-9)

	_, ok, err = st.applyLine(now, `{"class":"SKY","hdop":1.2}`)
	require.NoError(t, err)
	assert.False(t, ok)
	p, _, _ = st.applyLine(now, `{"class":"TPV","mode":2,"lat":1,"lon":2}`)
	assert.InDelta(t, 6.0, p.AccuracyM, 1e-9)
}

func TestGPSDState_NoFixIgnored(t *testing.T) {
	st := newGPSDState(5, 10)
	_, ok, err := st.applyLine(time.Now(), `{"class":"TPV","mode":1}`)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = st.applyLine(time.Now(), `{"class":"VERSION","release":"3.25"}`)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = st.applyLine(time.Now(), `not json`)
	assert.Error(t, err)
}
