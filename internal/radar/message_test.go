package radar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLocation_WireShape(t *testing.T) {
	speed := 2.0
	b, err := EncodeLocation(LocationPayload{ID: "boat-1", Lat: 10.00044, Lng: 10, Speed: &speed})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"location","payload":{"id":"boat-1","lat":10.00044,"lng":10,"heading":null,"speed":2}}`, string(b))

	p, err := DecodeLocation(b)
	require.NoError(t, err)
	assert.Equal(t, "boat-1", p.ID)
	require.NotNil(t, p.Speed)
	assert.Equal(t, 2.0, *p.Speed)
	assert.Nil(t, p.Heading)
}

func TestDecodeLocation_Rejects(t *testing.T) {
	for name, raw := range map[string]string{
		"garbage":   `{`,
		"event":     `{"event":"chat","payload":{"id":"x","lat":1,"lng":1}}`,
		"no id":     `{"event":"location","payload":{"lat":1,"lng":1}}`,
		"lat range": `{"event":"location","payload":{"id":"x","lat":91,"lng":1}}`,
		"lng range": `{"event":"location","payload":{"id":"x","lat":1,"lng":-181}}`,
	} {
		_, err := DecodeLocation([]byte(raw))
		assert.Error(t, err, name)
	}
}
