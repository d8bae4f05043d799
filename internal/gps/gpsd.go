package gps

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strings"
	"time"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

// dialTCP connects to gpsd or an NMEA gateway.
func dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: 2 * time.Second}
	if ctx == nil {
		return d.Dial("tcp", addr)
	}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch enables JSON streaming reports.
func gpsdWatch(conn net.Conn) error {
	// scaled=true yields SI units (m/s, meters) and degrees.
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

type gpsdMsgBase struct {
	Class string `json:"class"`
}

type gpsdTPV struct {
	Class string `json:"class"`
	Mode  *int   `json:"mode"`
	Time  string `json:"time"`

	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`

	SpeedMS *float64 `json:"speed"`
	Track   *float64 `json:"track"`

	// Estimated position errors (meters) when available.
	Epx *float64 `json:"epx"`
	Epy *float64 `json:"epy"`
	Eph *float64 `json:"eph"`
}

type gpsdSKY struct {
	Class string   `json:"class"`
	HDOP  *float64 `json:"hdop"`
}

type gpsdState struct {
	uereM       float64
	defaultAccM float64

	hdop   float64
	hdopOK bool
}

func newGPSDState(uereM, defaultAccM float64) *gpsdState {
	if uereM <= 0 {
		uereM = 5
	}
	if defaultAccM <= 0 {
		defaultAccM = 10
	}
	return &gpsdState{uereM: uereM, defaultAccM: defaultAccM}
}

// applyLine returns a sample for TPV reports that carry a 2D/3D fix.
func (s *gpsdState) applyLine(nowUTC time.Time, line string) (PositionSample, bool, error) {
	var base gpsdMsgBase
	if err := json.Unmarshal([]byte(line), &base); err != nil {
		return PositionSample{}, false, fmt.Errorf("gpsd json parse failed: %w", err)
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv gpsdTPV
		if err := json.Unmarshal([]byte(line), &tpv); err != nil {
			return PositionSample{}, false, fmt.Errorf("gpsd tpv parse failed: %w", err)
		}
		p, ok := s.applyTPV(nowUTC, tpv)
		return p, ok, nil
	case "SKY":
		var sky gpsdSKY
		if err := json.Unmarshal([]byte(line), &sky); err != nil {
			return PositionSample{}, false, fmt.Errorf("gpsd sky parse failed: %w", err)
		}
		if sky.HDOP != nil {
			s.hdop = *sky.HDOP
			s.hdopOK = true
		}
		return PositionSample{}, false, nil
	default:
		// VERSION/DEVICES/WATCH etc.
		return PositionSample{}, false, nil
	}
}

func (s *gpsdState) applyTPV(nowUTC time.Time, tpv gpsdTPV) (PositionSample, bool) {
	if tpv.Mode == nil || *tpv.Mode < 2 || tpv.Lat == nil || tpv.Lon == nil {
		return PositionSample{}, false
	}

	out := PositionSample{
		LatDeg:    *tpv.Lat,
		LngDeg:    *tpv.Lon,
		Timestamp: nowUTC,
		Source:    "gpsd",
	}
	if strings.TrimSpace(tpv.Time) != "" {
		if t, err := time.Parse(time.RFC3339Nano, tpv.Time); err == nil {
			out.Timestamp = t.UTC()
		}
	}

	switch {
	case tpv.Eph != nil:
		out.AccuracyM = *tpv.Eph
	case tpv.Epx != nil && tpv.Epy != nil:
		out.AccuracyM = math.Sqrt((*tpv.Epx)*(*tpv.Epx) + (*tpv.Epy)*(*tpv.Epy))
	case s.hdopOK:
		out.AccuracyM = s.hdop * s.uereM
	default:
		out.AccuracyM = s.defaultAccM
	}

	if tpv.SpeedMS != nil {
		out.SpeedMPS = floatPtr(*tpv.SpeedMS)
	}
	if tpv.Track != nil {
		out.HeadingDeg = floatPtr(*tpv.Track)
	}
	return out, true
}
