package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Identity  IdentityConfig  `yaml:"identity"`
	GPS       GPSConfig       `yaml:"gps"`
	Radar     RadarConfig     `yaml:"radar"`
	Collision CollisionConfig `yaml:"collision"`
	Anchor    AnchorConfig    `yaml:"anchor"`
	Track     TrackConfig     `yaml:"track"`
	Alert     AlertConfig     `yaml:"alert"`
	Weather   WeatherConfig   `yaml:"weather"`
	Store     StoreConfig     `yaml:"store"`
	Motion    MotionConfig    `yaml:"motion"`
	Web       WebConfig       `yaml:"web"`
	Log       LogConfig       `yaml:"log"`
	Sim       SimConfig       `yaml:"sim"`
}

// IdentityConfig names the own vessel on the radar channel. An empty PeerID
// keeps the radar off until one is set at runtime.
type IdentityConfig struct {
	PeerID     string `yaml:"peer_id"`
	VesselName string `yaml:"vessel_name"`
}

type GPSConfig struct {
	Enable           bool          `yaml:"enable"`
	Source           string        `yaml:"source"`
	Device           string        `yaml:"device"`
	Baud             int           `yaml:"baud"`
	Addr             string        `yaml:"addr"`
	FixTimeout       time.Duration `yaml:"fix_timeout"`
	RefreshTimeout   time.Duration `yaml:"refresh_timeout"`
	UEREM            float64       `yaml:"uere_m"`
	DefaultAccuracyM float64       `yaml:"default_accuracy_m"`
}

type RadarConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Offline           bool          `yaml:"offline"`
	Transport         string        `yaml:"transport"`
	Channel           string        `yaml:"channel"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	MaxPeers          int           `yaml:"max_peers"`
	UDP               UDPConfig     `yaml:"udp"`
	Redis             RedisConfig   `yaml:"redis"`
}

type UDPConfig struct {
	Dest   string `yaml:"dest"`
	Listen string `yaml:"listen"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type CollisionConfig struct {
	CheckInterval   time.Duration `yaml:"check_interval"`
	CountdownSec    int           `yaml:"countdown_sec"`
	ProximityM      float64       `yaml:"proximity_m"`
	MinPeerSpeedMPS float64       `yaml:"min_peer_speed_mps"`
	MotionSpikeMPS2 float64       `yaml:"motion_spike_mps2"`
}

type AnchorConfig struct {
	DefaultRadiusM float64 `yaml:"default_radius_m"`
}

type TrackConfig struct {
	MaxAccuracyM float64 `yaml:"max_accuracy_m"`
	MinDisplaceM float64 `yaml:"min_displace_m"`
}

type AlertConfig struct {
	// PlayerCommand, e.g. "aplay -q", receives the tone WAV path as its
	// last argument. Empty disables audio.
	PlayerCommand  string        `yaml:"player_command"`
	RepeatInterval time.Duration `yaml:"repeat_interval"`
	HistorySize    int           `yaml:"history_size"`
	ToneDir        string        `yaml:"tone_dir"`
}

type WeatherConfig struct {
	Enable   bool          `yaml:"enable"`
	BaseURL  string        `yaml:"base_url"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type StoreConfig struct {
	// Path is the SQLite file. Empty keeps everything in memory.
	Path string `yaml:"path"`
}

type MotionConfig struct {
	Enable         bool          `yaml:"enable"`
	BridgeAddr     string        `yaml:"bridge_addr"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type WebConfig struct {
	Disable bool   `yaml:"disable"`
	Listen  string `yaml:"listen"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	BufferLines int    `yaml:"buffer_lines"`
}

type SimConfig struct {
	Vessel VesselSimConfig `yaml:"vessel"`
	Peers  PeerSimConfig   `yaml:"peers"`
	// Scenario is a keyframe script replacing the vessel and peer orbits.
	Scenario string `yaml:"scenario"`
}

type VesselSimConfig struct {
	CenterLatDeg float64       `yaml:"center_lat_deg"`
	CenterLngDeg float64       `yaml:"center_lng_deg"`
	RadiusM      float64       `yaml:"radius_m"`
	Period       time.Duration `yaml:"period"`
	AccuracyM    float64       `yaml:"accuracy_m"`
	Interval     time.Duration `yaml:"interval"`
}

type PeerSimConfig struct {
	Enable   bool          `yaml:"enable"`
	Count    int           `yaml:"count"`
	RadiusM  float64       `yaml:"radius_m"`
	Period   time.Duration `yaml:"period"`
	Interval time.Duration `yaml:"interval"`
}

var gpsSources = map[string]bool{"nmea": true, "nmea_tcp": true, "gpsd": true, "sim": true}

var radarTransports = map[string]bool{"hub": true, "udp": true, "redis": true}

var logLevels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", stripLines(te.Errors))
		}
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// stripLines drops the "line N: " prefix yaml puts on each type error.
func stripLines(errs []string) string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		if i := strings.Index(e, ": "); i >= 0 && strings.HasPrefix(e, "line ") {
			e = e[i+2:]
		}
		out = append(out, e)
	}
	return strings.Join(out, "; ")
}

// DefaultAndValidate fills zero values with defaults and rejects values the
// engine cannot run with.
func DefaultAndValidate(cfg *Config) error {
	cfg.Identity.PeerID = strings.TrimSpace(cfg.Identity.PeerID)

	if err := defaultGPS(&cfg.GPS); err != nil {
		return err
	}
	if err := defaultRadar(&cfg.Radar); err != nil {
		return err
	}
	if err := defaultCollision(&cfg.Collision); err != nil {
		return err
	}

	if cfg.Anchor.DefaultRadiusM == 0 {
		cfg.Anchor.DefaultRadiusM = 50
	}
	if cfg.Anchor.DefaultRadiusM < 0 {
		return fmt.Errorf("anchor.default_radius_m must be > 0")
	}

	if cfg.Track.MaxAccuracyM == 0 {
		cfg.Track.MaxAccuracyM = 30
	}
	if cfg.Track.MinDisplaceM == 0 {
		cfg.Track.MinDisplaceM = 5
	}
	if cfg.Track.MaxAccuracyM < 0 {
		return fmt.Errorf("track.max_accuracy_m must be > 0")
	}
	if cfg.Track.MinDisplaceM < 0 {
		return fmt.Errorf("track.min_displace_m must be >= 0")
	}

	if cfg.Alert.RepeatInterval == 0 {
		cfg.Alert.RepeatInterval = 3 * time.Second
	}
	if cfg.Alert.RepeatInterval < 0 {
		return fmt.Errorf("alert.repeat_interval must be > 0")
	}
	if cfg.Alert.HistorySize <= 0 {
		cfg.Alert.HistorySize = 50
	}

	if cfg.Weather.BaseURL == "" {
		cfg.Weather.BaseURL = "https://api.open-meteo.com/v1/forecast"
	}
	if cfg.Weather.Interval <= 0 {
		cfg.Weather.Interval = 30 * time.Minute
	}
	if cfg.Weather.Timeout <= 0 {
		cfg.Weather.Timeout = 10 * time.Second
	}

	if cfg.Motion.Enable && strings.TrimSpace(cfg.Motion.BridgeAddr) == "" {
		return fmt.Errorf("motion.bridge_addr is required when motion.enable is true")
	}
	if cfg.Motion.ReconnectDelay <= 0 {
		cfg.Motion.ReconnectDelay = 2 * time.Second
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if !logLevels[cfg.Log.Level] {
		return fmt.Errorf("log.level must be one of trace, debug, info, warn, error")
	}
	if cfg.Log.BufferLines <= 0 {
		cfg.Log.BufferLines = 500
	}

	// Simulator defaults (safe even if disabled).
	if cfg.Sim.Vessel.RadiusM <= 0 {
		cfg.Sim.Vessel.RadiusM = 200
	}
	if cfg.Sim.Vessel.Period <= 0 {
		cfg.Sim.Vessel.Period = 10 * time.Minute
	}
	if cfg.Sim.Vessel.AccuracyM <= 0 {
		cfg.Sim.Vessel.AccuracyM = 8
	}
	if cfg.Sim.Vessel.Interval <= 0 {
		cfg.Sim.Vessel.Interval = time.Second
	}
	if cfg.Sim.Peers.Count <= 0 {
		cfg.Sim.Peers.Count = 3
	}
	if cfg.Sim.Peers.RadiusM <= 0 {
		cfg.Sim.Peers.RadiusM = 400
	}
	if cfg.Sim.Peers.Period <= 0 {
		cfg.Sim.Peers.Period = 5 * time.Minute
	}
	if cfg.Sim.Peers.Interval <= 0 {
		cfg.Sim.Peers.Interval = 5 * time.Second
	}
	if cfg.Sim.Peers.Enable && cfg.Radar.Transport != "hub" {
		return fmt.Errorf("sim.peers requires radar.transport=hub")
	}
	return nil
}

func defaultGPS(g *GPSConfig) error {
	g.Source = strings.ToLower(strings.TrimSpace(g.Source))
	if g.Source == "" {
		g.Source = "nmea"
	}
	if !gpsSources[g.Source] {
		return fmt.Errorf("gps.source must be one of nmea, nmea_tcp, gpsd, sim")
	}
	if g.Enable && g.Source == "nmea_tcp" && strings.TrimSpace(g.Addr) == "" {
		return fmt.Errorf("gps.addr is required when gps.source=nmea_tcp")
	}
	if g.Baud <= 0 {
		g.Baud = 9600
	}
	if g.FixTimeout <= 0 {
		g.FixTimeout = 5 * time.Second
	}
	if g.RefreshTimeout <= 0 {
		g.RefreshTimeout = 3 * time.Second
	}
	if g.RefreshTimeout > 5*time.Second {
		return fmt.Errorf("gps.refresh_timeout must be <= 5s")
	}
	if g.UEREM <= 0 {
		g.UEREM = 5
	}
	if g.DefaultAccuracyM <= 0 {
		g.DefaultAccuracyM = 50
	}
	return nil
}

func defaultRadar(r *RadarConfig) error {
	r.Transport = strings.ToLower(strings.TrimSpace(r.Transport))
	if r.Transport == "" {
		r.Transport = "hub"
	}
	if !radarTransports[r.Transport] {
		return fmt.Errorf("radar.transport must be one of hub, udp, redis")
	}
	if r.Channel == "" {
		r.Channel = "radar"
	}
	if r.BroadcastInterval <= 0 {
		r.BroadcastInterval = 5 * time.Second
	}
	if r.SweepInterval <= 0 {
		r.SweepInterval = 10 * time.Second
	}
	if r.StaleAfter <= 0 {
		r.StaleAfter = 60 * time.Second
	}
	if r.MaxPeers <= 0 {
		r.MaxPeers = 500
	}
	if r.UDP.Dest == "" {
		r.UDP.Dest = "255.255.255.255:47800"
	}
	if r.UDP.Listen == "" {
		r.UDP.Listen = ":47800"
	}
	if r.Redis.Prefix == "" {
		r.Redis.Prefix = "singrar:"
	}
	if r.Transport == "redis" && strings.TrimSpace(r.Redis.Addr) == "" {
		return fmt.Errorf("radar.redis.addr is required when radar.transport=redis")
	}
	return nil
}

func defaultCollision(c *CollisionConfig) error {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 3 * time.Second
	}
	if c.CountdownSec == 0 {
		c.CountdownSec = 30
	}
	if c.CountdownSec < 0 {
		return fmt.Errorf("collision.countdown_sec must be > 0")
	}
	if c.ProximityM == 0 {
		c.ProximityM = 50
	}
	if c.ProximityM < 0 {
		return fmt.Errorf("collision.proximity_m must be > 0")
	}
	if c.MinPeerSpeedMPS <= 0 {
		c.MinPeerSpeedMPS = 1
	}
	if c.MotionSpikeMPS2 <= 0 {
		c.MotionSpikeMPS2 = 25
	}
	return nil
}
