package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"singrar/internal/geo"
)

func TestScenario_ParseAndInterpolateAngleWrap(t *testing.T) {
	yaml := []byte(`
version: 1
# duration derived from last keyframe
vessel:
  accuracy_m: 6
  keyframes:
    - t: 0s
      lat_deg: 0
      lng_deg: 0
      speed_kt: 2
      heading_deg: 350
    - t: 10s
      lat_deg: 10
      lng_deg: 20
      speed_kt: 4
      heading_deg: 10
`)

	script, err := ParseScenarioScriptYAML(yaml)
	require.NoError(t, err)
	scn, err := NewScenario(script)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, scn.Duration())

	st := scn.StateAt(5*time.Second, false)
	// 350 -> 10 goes the short way through north.
	require.NotNil(t, st.Vessel.HeadingDeg)
	assert.Equal(t, 0.0, *st.Vessel.HeadingDeg)
	assert.Equal(t, 5.0, st.Vessel.LatDeg)
	assert.Equal(t, 10.0, st.Vessel.LngDeg)
	assert.InDelta(t, geo.KnotsToMPS(3), st.Vessel.Speed(), 1e-9)
	assert.Equal(t, 6.0, st.Vessel.AccuracyM)
}

func TestScenario_LoopAndClamp(t *testing.T) {
	yaml := []byte(`
version: 1
duration: 10s
vessel:
  keyframes:
    - t: 0s
      lat_deg: 0
      lng_deg: 0
    - t: 10s
      lat_deg: 10
      lng_deg: 0
`)

	script, err := ParseScenarioScriptYAML(yaml)
	require.NoError(t, err)
	scn, err := NewScenario(script)
	require.NoError(t, err)

	st := scn.StateAt(11*time.Second, false)
	assert.Equal(t, 10.0, st.Vessel.LatDeg)

	st = scn.StateAt(11*time.Second, true)
	assert.Equal(t, 1.0, st.Vessel.LatDeg)
	assert.Nil(t, st.Vessel.HeadingDeg)
}

func TestScenario_PeersAndFuncs(t *testing.T) {
	yaml := []byte(`
vessel:
  keyframes:
    - t: 0s
      lat_deg: 59.9
      lng_deg: 10.7
peers:
  - id: trawler
    keyframes:
      - t: 0s
        lat_deg: 59.91
        lng_deg: 10.7
        speed_kt: 6
      - t: 60s
        lat_deg: 59.90
        lng_deg: 10.7
        speed_kt: 6
`)
	script, err := ParseScenarioScriptYAML(yaml)
	require.NoError(t, err)
	scn, err := NewScenario(script)
	require.NoError(t, err)

	start := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	at := start.Add(30 * time.Second)

	v := scn.VesselFunc(start, false)(at)
	assert.Equal(t, at, v.Timestamp)
	assert.Equal(t, 59.9, v.LatDeg)

	peers := scn.PeerSource(start, false)(at)
	require.Len(t, peers, 1)
	assert.Equal(t, "trawler", peers[0].ID)
	assert.InDelta(t, 59.905, peers[0].Lat, 1e-9)
	require.NotNil(t, peers[0].Speed)
	assert.InDelta(t, geo.KnotsToMPS(6), *peers[0].Speed, 1e-9)
}

func TestNewScenario_Validation(t *testing.T) {
	kf := []Keyframe{{T: 0}}
	cases := []struct {
		name   string
		script ScenarioScript
		want   string
	}{
		{"NoVessel", ScenarioScript{}, "vessel.keyframes is required"},
		{"BadVersion", ScenarioScript{Version: 2, Vessel: ScenarioVessel{Keyframes: kf}}, "unsupported scenario version 2"},
		{
			"Unsorted",
			ScenarioScript{Vessel: ScenarioVessel{Keyframes: []Keyframe{{T: 5 * time.Second}, {T: time.Second}}}},
			"vessel.keyframes must be sorted by t (index 1)",
		},
		{
			"PeerID",
			ScenarioScript{Duration: time.Second, Vessel: ScenarioVessel{Keyframes: kf}, Peers: []ScenarioPeer{{Keyframes: kf}}},
			"peers[0].id is required",
		},
		{
			"DuplicatePeer",
			ScenarioScript{Duration: time.Second, Vessel: ScenarioVessel{Keyframes: kf}, Peers: []ScenarioPeer{{ID: "a", Keyframes: kf}, {ID: "a", Keyframes: kf}}},
			`peers[1].id "a" is duplicated`,
		},
		{"NoDuration", ScenarioScript{Vessel: ScenarioVessel{Keyframes: kf}}, "duration is required (or deriveable from keyframes)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewScenario(tc.script)
			require.EqualError(t, err, tc.want)
		})
	}
}
