package web

import (
	"sync/atomic"
	"time"

	"singrar/internal/gps"
	"singrar/internal/motion"
	"singrar/internal/session"
)

const serviceName = "singrar"

// Status assembles /api/status from the session and the input services.
// Sources are optional and may be set after the server starts.
type Status struct {
	startUnixNano int64
	gps           atomic.Value // func() gps.Snapshot
	motion        atomic.Value // func() motion.BridgeSnapshot
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	return s
}

func (s *Status) SetGPS(fn func() gps.Snapshot) {
	if fn != nil {
		s.gps.Store(fn)
	}
}

func (s *Status) SetMotion(fn func() motion.BridgeSnapshot) {
	if fn != nil {
		s.motion.Store(fn)
	}
}

type StatusSnapshot struct {
	Service   string                 `json:"service"`
	NowUTC    string                 `json:"now_utc"`
	UptimeSec int64                  `json:"uptime_sec"`
	GPS       *gps.Snapshot          `json:"gps,omitempty"`
	Motion    *motion.BridgeSnapshot `json:"motion,omitempty"`
	Session   *session.Snapshot      `json:"session,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time, sess *session.Session) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:   serviceName,
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
	}
	if fn, ok := s.gps.Load().(func() gps.Snapshot); ok {
		g := fn()
		snap.GPS = &g
	}
	if fn, ok := s.motion.Load().(func() motion.BridgeSnapshot); ok {
		m := fn()
		snap.Motion = &m
	}
	if sess != nil {
		ss := sess.Snapshot()
		snap.Session = &ss
	}
	return snap
}
