package gps

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"singrar/internal/geo"
)

type nmeaSentence struct {
	Type string
	// Fields is the comma-split NMEA payload (excluding $ and checksum).
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	ck = ck[:2]
	want, err := hex.DecodeString(ck)
	if err != nil || len(want) != 1 {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum")
	}
	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	typeField := parts[0]
	if len(typeField) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type")
	}
	// Accept GNxxx/GPxxx/IIxxx etc; normalize to last 3 chars.
	t := typeField
	if len(t) > 3 {
		t = t[len(t)-3:]
	}
	return nmeaSentence{Type: strings.ToUpper(t), Fields: parts}, nil
}

// nmeaState accumulates RMC/GGA sentences into fixes.
//
// RMC carries position, speed and course and is what we publish on. GGA only
// refreshes HDOP, except for receivers that never send RMC.
type nmeaState struct {
	source string
	// uereM converts HDOP to an accuracy estimate in meters.
	uereM       float64
	defaultAccM float64

	hdop   float64
	hdopOK bool

	rmcSeen bool
	last    PositionSample
	valid   bool
}

func newNMEAState(source string, uereM, defaultAccM float64) *nmeaState {
	if uereM <= 0 {
		uereM = 5
	}
	if defaultAccM <= 0 {
		defaultAccM = 10
	}
	return &nmeaState{source: source, uereM: uereM, defaultAccM: defaultAccM}
}

// apply returns a sample when the sentence completes a new fix.
func (s *nmeaState) apply(nowUTC time.Time, sent nmeaSentence) (PositionSample, bool) {
	switch sent.Type {
	case "RMC":
		return s.applyRMC(nowUTC, sent.Fields)
	case "GGA":
		return s.applyGGA(nowUTC, sent.Fields)
	default:
		return PositionSample{}, false
	}
}

func (s *nmeaState) accuracy() float64 {
	if s.hdopOK {
		return s.hdop * s.uereM
	}
	return s.defaultAccM
}

// RMC: Recommended Minimum Specific GNSS Data
// Fields (NMEA 0183 v2.3):
//
//	0: talker+type
//	1: time (hhmmss.sss)
//	2: status (A=active, V=void)
//	3: latitude (ddmm.mmmm)
//	4: N/S
//	5: longitude (dddmm.mmmm)
//	6: E/W
//	7: speed over ground (knots)
//	8: course over ground (deg)
//	9: date (ddmmyy)
func (s *nmeaState) applyRMC(nowUTC time.Time, f []string) (PositionSample, bool) {
	if len(f) < 10 {
		return PositionSample{}, false
	}
	if strings.TrimSpace(f[2]) != "A" {
		// Void fix.
		return PositionSample{}, false
	}
	lat, latOK := parseNMEALatLon(f[3], f[4])
	lon, lonOK := parseNMEALatLon(f[5], f[6])
	if !latOK || !lonOK {
		return PositionSample{}, false
	}
	s.rmcSeen = true

	out := PositionSample{
		LatDeg:    lat,
		LngDeg:    lon,
		AccuracyM: s.accuracy(),
		Timestamp: nowUTC,
		Source:    s.source,
	}
	if ts, ok := parseNMEATime(f[1], f[9]); ok {
		out.Timestamp = ts
	}
	if gs, ok := parseFloat(f[7]); ok {
		out.SpeedMPS = floatPtr(geo.KnotsToMPS(gs))
	}
	if trk, ok := parseFloat(f[8]); ok {
		out.HeadingDeg = floatPtr(math.Mod(trk+360.0, 360.0))
	}
	s.last = out
	s.valid = true
	return out, true
}

// GGA: Global Positioning System Fix Data
// Fields:
//
//	0: talker+type
//	1: time
//	2: latitude
//	3: N/S
//	4: longitude
//	5: E/W
//	6: fix quality (0=invalid)
//	7: number of satellites
//	8: HDOP
//	9: altitude (meters)
func (s *nmeaState) applyGGA(nowUTC time.Time, f []string) (PositionSample, bool) {
	if len(f) < 10 {
		return PositionSample{}, false
	}
	fixQ := strings.TrimSpace(f[6])
	if fixQ == "" || fixQ == "0" {
		return PositionSample{}, false
	}
	if hdop, ok := parseFloat(f[8]); ok {
		s.hdop = hdop
		s.hdopOK = true
	}
	if s.rmcSeen {
		return PositionSample{}, false
	}

	lat, latOK := parseNMEALatLon(f[2], f[3])
	lon, lonOK := parseNMEALatLon(f[4], f[5])
	if !latOK || !lonOK {
		return PositionSample{}, false
	}
	out := PositionSample{
		LatDeg:    lat,
		LngDeg:    lon,
		AccuracyM: s.accuracy(),
		Timestamp: nowUTC,
		Source:    s.source,
	}
	s.last = out
	s.valid = true
	return out, true
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseNMEATime combines RMC hhmmss(.sss) and ddmmyy into a UTC time.
func parseNMEATime(hms, dmy string) (time.Time, bool) {
	hms = strings.TrimSpace(hms)
	dmy = strings.TrimSpace(dmy)
	if len(hms) < 6 || len(dmy) != 6 {
		return time.Time{}, false
	}
	hh, err1 := strconv.Atoi(hms[0:2])
	mm, err2 := strconv.Atoi(hms[2:4])
	secs, err3 := strconv.ParseFloat(hms[4:], 64)
	dd, err4 := strconv.Atoi(dmy[0:2])
	mo, err5 := strconv.Atoi(dmy[2:4])
	yy, err6 := strconv.Atoi(dmy[4:6])
	for _, err := range []error{err1, err2, err3, err4, err5, err6} {
		if err != nil {
			return time.Time{}, false
		}
	}
	whole := int(secs)
	nanos := int(math.Round((secs - float64(whole)) * 1e9))
	return time.Date(2000+yy, time.Month(mo), dd, hh, mm, whole, nanos, time.UTC), true
}

// parseNMEALatLon parses NMEA lat/lon in ddmm.mmmm or dddmm.mmmm plus hemisphere.
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	// The last two digits of the integer part are minutes.
	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	degPart := intPart[:len(intPart)-2]
	minPart := v[len(intPart)-2:]

	deg, err := strconv.Atoi(degPart)
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(minPart, 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + (mins / 60.0)
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
