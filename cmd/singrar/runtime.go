package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"singrar/internal/alert"
	"singrar/internal/collision"
	"singrar/internal/config"
	"singrar/internal/gps"
	"singrar/internal/logging"
	"singrar/internal/motion"
	"singrar/internal/radar"
	"singrar/internal/redisbus"
	"singrar/internal/session"
	"singrar/internal/sim"
	"singrar/internal/store"
	"singrar/internal/track"
	"singrar/internal/udp"
	"singrar/internal/weather"
	"singrar/internal/web"
)

// engine holds every long-lived service of one `singrar run`.
type engine struct {
	cfg  config.Config
	log  zerolog.Logger
	logs *logging.LogBuffer

	store   *store.Store
	gps     *gps.Service
	alerts  *alert.Dispatcher
	radar   *radar.Radar
	redis   *redisbus.Transport
	session *session.Session
	weather *weather.Monitor
	bridge  *motion.Bridge
	peers   *sim.PeerBroadcaster
	status  *web.Status
}

func newEngine(cfg config.Config, log zerolog.Logger, logs *logging.LogBuffer) (*engine, error) {
	e := &engine{cfg: cfg, log: log, logs: logs, status: web.NewStatus()}

	st, err := store.Open(cfg.Store.Path, log)
	if err != nil {
		return nil, err
	}
	e.store = st

	simFn, peerSrc, err := simulation(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	e.gps = gps.New(gps.Config{
		Enable:           cfg.GPS.Enable,
		Source:           cfg.GPS.Source,
		Device:           cfg.GPS.Device,
		Baud:             cfg.GPS.Baud,
		Addr:             cfg.GPS.Addr,
		FixTimeout:       cfg.GPS.FixTimeout,
		RefreshTimeout:   cfg.GPS.RefreshTimeout,
		UEREM:            cfg.GPS.UEREM,
		DefaultAccuracyM: cfg.GPS.DefaultAccuracyM,
		Sim:              simFn,
		SimInterval:      cfg.Sim.Vessel.Interval,
		Logger:           log,
	})
	e.status.SetGPS(e.gps.Snapshot)

	var player alert.Player = alert.NopPlayer
	if cfg.Alert.PlayerCommand != "" {
		player = alert.NewCommandPlayer(cfg.Alert.PlayerCommand)
	}
	e.alerts = alert.NewDispatcher(alert.Config{
		RepeatInterval: cfg.Alert.RepeatInterval,
		HistorySize:    cfg.Alert.HistorySize,
		ToneDir:        cfg.Alert.ToneDir,
		Logger:         log,
	}, player)

	transport, hub, err := e.radarTransport()
	if err != nil {
		e.close()
		return nil, err
	}
	e.radar = radar.New(radar.Config{
		Channel:           cfg.Radar.Channel,
		BroadcastInterval: cfg.Radar.BroadcastInterval,
		SweepInterval:     cfg.Radar.SweepInterval,
		StaleAfter:        cfg.Radar.StaleAfter,
		MaxPeers:          cfg.Radar.MaxPeers,
		Logger:            log,
	}, transport, e.gps.Last)

	if cfg.Sim.Peers.Enable && hub != nil {
		e.peers = sim.NewPeerBroadcaster(sim.BroadcasterConfig{
			Channel:  cfg.Radar.Channel,
			Interval: cfg.Sim.Peers.Interval,
			Logger:   log,
		}, hub, peerSrc)
	}

	if cfg.Weather.Enable {
		client := weather.NewOpenMeteoClient(cfg.Weather.BaseURL, &http.Client{Timeout: cfg.Weather.Timeout})
		e.weather = weather.NewMonitor(weather.MonitorConfig{Interval: cfg.Weather.Interval, Logger: log}, client, e.gps.Last, e.alerts)
	}

	e.session = session.New(session.Config{
		Identity:     cfg.Identity.PeerID,
		RadarEnabled: cfg.Radar.Enabled,
		Offline:      cfg.Radar.Offline,
		Collision: collision.Config{
			CheckInterval:   cfg.Collision.CheckInterval,
			Countdown:       cfg.Collision.CountdownSec,
			ProximityM:      cfg.Collision.ProximityM,
			MinPeerSpeedMPS: cfg.Collision.MinPeerSpeedMPS,
			MotionSpikeMPS2: cfg.Collision.MotionSpikeMPS2,
		},
		Track: track.Config{
			MaxAccuracyM: cfg.Track.MaxAccuracyM,
			MinDisplaceM: cfg.Track.MinDisplaceM,
		},
		Logger: log,
	}, session.Deps{
		Positions: e.gps,
		Alerts:    e.alerts,
		Radar:     e.radar,
		Tracks:    e.store,
		Alarms:    e.store,
		Weather:   e.weather,
	})

	if cfg.Motion.Enable {
		b, err := motion.NewBridge(motion.BridgeConfig{
			Addr:           cfg.Motion.BridgeAddr,
			ReconnectDelay: cfg.Motion.ReconnectDelay,
			Logger:         log,
		})
		if err != nil {
			e.close()
			return nil, err
		}
		e.bridge = b
		e.status.SetMotion(b.Snapshot)
	}
	return e, nil
}

// radarTransport builds the configured transport. The hub is returned
// separately so simulated peers can share it.
func (e *engine) radarTransport() (radar.Transport, *radar.Hub, error) {
	switch e.cfg.Radar.Transport {
	case "udp":
		return udp.NewTransport(udp.Config{
			Dest:   e.cfg.Radar.UDP.Dest,
			Listen: e.cfg.Radar.UDP.Listen,
			Logger: e.log,
		}), nil, nil
	case "redis":
		t := redisbus.NewTransport(redisbus.Config{
			Addr:     e.cfg.Radar.Redis.Addr,
			Password: e.cfg.Radar.Redis.Password,
			DB:       e.cfg.Radar.Redis.DB,
			Prefix:   e.cfg.Radar.Redis.Prefix,
			Logger:   e.log,
		})
		e.redis = t
		return t, nil, nil
	case "hub":
		hub := radar.NewHub()
		return hub, hub, nil
	default:
		return nil, nil, fmt.Errorf("unknown radar transport %q", e.cfg.Radar.Transport)
	}
}

// simulation returns the simulated vessel and peer sources, replaying the
// scenario script when one is configured.
func simulation(cfg config.Config) (gps.SimFunc, sim.PeerSource, error) {
	if cfg.Sim.Scenario != "" {
		script, err := sim.LoadScenarioScript(cfg.Sim.Scenario)
		if err != nil {
			return nil, nil, fmt.Errorf("sim scenario: %w", err)
		}
		scn, err := sim.NewScenario(script)
		if err != nil {
			return nil, nil, fmt.Errorf("sim scenario: %w", err)
		}
		start := time.Now().UTC()
		return scn.VesselFunc(start, true), scn.PeerSource(start, true), nil
	}
	v := sim.VesselSim{
		CenterLatDeg: cfg.Sim.Vessel.CenterLatDeg,
		CenterLngDeg: cfg.Sim.Vessel.CenterLngDeg,
		RadiusM:      cfg.Sim.Vessel.RadiusM,
		Period:       cfg.Sim.Vessel.Period,
		AccuracyM:    cfg.Sim.Vessel.AccuracyM,
	}
	p := sim.PeerSim{
		CenterLatDeg: cfg.Sim.Vessel.CenterLatDeg,
		CenterLngDeg: cfg.Sim.Vessel.CenterLngDeg,
		RadiusM:      cfg.Sim.Peers.RadiusM,
		Period:       cfg.Sim.Peers.Period,
		Count:        cfg.Sim.Peers.Count,
		Prefix:       "sim",
	}
	return v.Sample, p.Peers, nil
}

func (e *engine) start(ctx context.Context) error {
	if e.redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := e.redis.Ping(pingCtx)
		cancel()
		if err != nil {
			// Radar gating reports the join failure; the rest keeps running.
			e.log.Warn().Err(err).Str("addr", e.cfg.Radar.Redis.Addr).Msg("redis unreachable")
		}
	}
	if err := e.gps.Start(ctx); err != nil {
		e.log.Warn().Err(err).Msg("gps unavailable")
	}
	if err := e.session.Start(ctx); err != nil {
		return err
	}
	if e.weather != nil {
		e.weather.Start(ctx)
	}
	if e.bridge != nil {
		if err := e.bridge.Start(ctx, e.session); err != nil {
			return err
		}
	}
	if e.peers != nil {
		e.peers.Start(ctx)
	}
	return nil
}

func (e *engine) handler() http.Handler {
	return web.Handler(web.Deps{
		Session:              e.session,
		Tracks:               e.store,
		Alerts:               e.alerts,
		Logs:                 e.logs,
		Status:               e.status,
		DefaultAnchorRadiusM: e.cfg.Anchor.DefaultRadiusM,
		Logger:               e.log,
	})
}

// close stops services in reverse dependency order. It tolerates a
// partially built engine.
func (e *engine) close() {
	if e.peers != nil {
		e.peers.Close()
	}
	if e.bridge != nil {
		e.bridge.Close()
	}
	if e.weather != nil {
		e.weather.Close()
	}
	if e.session != nil {
		e.session.Close()
	} else if e.radar != nil {
		e.radar.Disable()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.alerts != nil {
		e.alerts.Close()
	}
	if e.gps != nil {
		e.gps.Close()
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.log.Warn().Err(err).Msg("store close failed")
		}
	}
}
