package gps

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

func mustSentence(t *testing.T, payload string) nmeaSentence {
	t.Helper()
	s, err := parseNMEASentence(nmeaLine(payload))
	require.NoError(t, err)
	return s
}

func TestParseNMEASentence_ChecksumOK(t *testing.T) {
	s, err := parseNMEASentence(nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	require.NoError(t, err)
	assert.Equal(t, "RMC", s.Type)
}

func TestParseNMEASentence_Errors(t *testing.T) {
	good := nmeaLine("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")
	for name, line := range map[string]string{
		"mismatch":  good[:len(good)-2] + "00",
		"no dollar": good[1:],
		"no star":   "$GPRMC,123519,A",
		"short":     good[:len(good)-1],
	} {
		_, err := parseNMEASentence(line)
		assert.Error(t, err, name)
	}
}

func TestNMEAState_RMCPublishesNormalizedFix(t *testing.T) {
	st := newNMEAState("nmea", 5, 10)
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	p, ok := st.apply(now, mustSentence(t, "GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230326,003.1,W"))
	require.True(t, ok)

	assert.InDelta(t, 48.1173, p.LatDeg, 1e-4)
	assert.InDelta(t, 11.5167, p.LngDeg, 1e-4)
	require.NotNil(t, p.SpeedMPS)
	assert.InDelta(t, 22.4/1.94384, *p.SpeedMPS, 1e-6)
	require.NotNil(t, p.HeadingDeg)
	assert.InDelta(t, 84.4, *p.HeadingDeg, 1e-9)
	assert.Equal(t, 10.0, p.AccuracyM)
	assert.Equal(t, time.Date(2026, 3, 23, 12, 35, 19, 0, time.UTC), p.Timestamp)
	assert.Equal(t, "nmea", p.Source)
}

func TestNMEAState_VoidRMCIgnored(t *testing.T) {
	st := newNMEAState("nmea", 5, 10)
	_, ok := st.apply(time.Now(), mustSentence(t, "GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W"))
	assert.False(t, ok)
}

func TestNMEAState_GGAHDOPFeedsAccuracy(t *testing.T) {
	st := newNMEAState("nmea", 5, 10)
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	// Before any RMC the GGA fix is published on its own.
	p, ok := st.apply(now, mustSentence(t, "GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"))
	require.True(t, ok)
	assert.InDelta(t, 4.5, p.AccuracyM, 1e-9)
	assert.Nil(t, p.SpeedMPS)

	_, ok = st.apply(now, mustSentence(t, "GPRMC,123520,A,4807.038,N,01131.000,E,000.0,000.0,230394,003.1,W"))
	require.True(t, ok)

	// Once RMC is seen, GGA only refreshes HDOP.
	_, ok = st.apply(now, mustSentence(t, "GPGGA,123521,4807.038,N,01131.000,E,1,08,2.0,545.4,M,46.9,M,,"))
	assert.False(t, ok)
	p, ok = st.apply(now, mustSentence(t, "GPRMC,123522,A,4807.038,N,01131.000,E,000.0,000.0,230394,003.1,W"))
	require.True(t, ok)
	assert.InDelta(t, 10.0, p.AccuracyM, 1e-9)
}

func TestNMEAState_GGANoFixIgnored(t *testing.T) {
	st := newNMEAState("nmea", 5, 10)
	_, ok := st.apply(time.Now(), mustSentence(t, "GPGGA,123519,4807.038,N,01131.000,E,0,00,,,M,,M,,"))
	assert.False(t, ok)
}

func TestParseNMEALatLon(t *testing.T) {
	v, ok := parseNMEALatLon("3345.6789", "S")
	require.True(t, ok)
	assert.InDelta(t, -(33 + 45.6789/60), v, 1e-9)

	_, ok = parseNMEALatLon("", "N")
	assert.False(t, ok)
	_, ok = parseNMEALatLon("4807.038", "X")
	assert.False(t, ok)
}

func TestParseNMEATime_Fractional(t *testing.T) {
	ts, ok := parseNMEATime("235959.50", "311224")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 12, 31, 23, 59, 59, 500000000, time.UTC), ts)

	_, ok = parseNMEATime("1235", "311224")
	assert.False(t, ok)
}
