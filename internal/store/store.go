// Package store persists tracks and the anchor alarm in SQLite.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"singrar/internal/anchor"
	"singrar/internal/geo"
	"singrar/internal/track"
)

// ErrNotFound is returned for unknown ids.
var ErrNotFound = errors.New("store: not found")

// currentAlarmID keys the singleton anchor alarm row.
const currentAlarmID = "current"

type trackRow struct {
	ID         string `gorm:"primaryKey;size:36"`
	Name       string `gorm:"not null"`
	Color      string `gorm:"size:16"`
	Visible    bool
	Points     datatypes.JSON
	PointCount int
	DistanceM  float64
	// GeometryWKT is the track as a LINESTRING in EPSG:3857.
	GeometryWKT string
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
}

func (trackRow) TableName() string { return "tracks" }

type anchorAlarmRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	Active    bool
	OriginLat float64
	OriginLng float64
	RadiusM   float64
	UpdatedAt time.Time
}

func (anchorAlarmRow) TableName() string { return "anchor_alarms" }

// TrackPatch updates the user-editable track fields. Nil fields are kept.
type TrackPatch struct {
	Name    *string `json:"name,omitempty"`
	Color   *string `json:"color,omitempty"`
	Visible *bool   `json:"visible,omitempty"`
}

type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open opens (and migrates) the database at path. An empty path opens a
// private in-memory database.
func Open(path string, log zerolog.Logger) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}
	if path != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL;")
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	if err := db.AutoMigrate(&trackRow{}, &anchorAlarmRow{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	l := log.With().Str("component", "store").Logger()
	if path == "" {
		l.Info().Msg("using in-memory SQLite DB")
	} else {
		l.Info().Str("path", path).Msg("using SQLite DB")
	}
	return &Store{db: db, log: l}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(t track.Track) (trackRow, error) {
	points := t.Points
	if points == nil {
		points = []track.Point{}
	}
	b, err := json.Marshal(points)
	if err != nil {
		return trackRow{}, fmt.Errorf("encode points: %w", err)
	}
	latlngs := t.LatLngs()
	return trackRow{
		ID:          t.ID,
		Name:        t.Name,
		Color:       t.Color,
		Visible:     t.Visible,
		Points:      datatypes.JSON(b),
		PointCount:  len(points),
		DistanceM:   geo.PathLengthM(latlngs),
		GeometryWKT: geo.TrackWKT(latlngs),
		CreatedAt:   t.CreatedAt,
	}, nil
}

func fromRow(r trackRow) (track.Track, error) {
	t := track.Track{
		ID:        r.ID,
		Name:      r.Name,
		Color:     r.Color,
		Visible:   r.Visible,
		CreatedAt: r.CreatedAt.UTC(),
		Points:    []track.Point{},
	}
	if len(r.Points) > 0 {
		if err := json.Unmarshal(r.Points, &t.Points); err != nil {
			return track.Track{}, fmt.Errorf("decode points of %s: %w", r.ID, err)
		}
	}
	return t, nil
}

func (s *Store) CreateTrack(ctx context.Context, t track.Track) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	row, err := toRow(t)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create track: %w", err)
	}
	return nil
}

func (s *Store) GetTrack(ctx context.Context, id string) (track.Track, error) {
	var row trackRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return track.Track{}, fmt.Errorf("track %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return track.Track{}, fmt.Errorf("get track: %w", err)
	}
	return fromRow(row)
}

// TrackSummary is a track without its points.
type TrackSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Color      string    `json:"color"`
	Visible    bool      `json:"visible"`
	Points     int       `json:"points"`
	DistanceNM float64   `json:"distance_nm"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListTracks returns summaries, newest first.
func (s *Store) ListTracks(ctx context.Context) ([]TrackSummary, error) {
	var rows []trackRow
	err := s.db.WithContext(ctx).
		Select("id", "name", "color", "visible", "point_count", "distance_m", "created_at").
		Order("created_at desc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	out := make([]TrackSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, TrackSummary{
			ID:         r.ID,
			Name:       r.Name,
			Color:      r.Color,
			Visible:    r.Visible,
			Points:     r.PointCount,
			DistanceNM: r.DistanceM / geo.MetersPerNM,
			CreatedAt:  r.CreatedAt.UTC(),
		})
	}
	return out, nil
}

// TrackGeometry returns the stored EPSG:3857 WKT of a track.
func (s *Store) TrackGeometry(ctx context.Context, id string) (string, error) {
	var row trackRow
	err := s.db.WithContext(ctx).Select("id", "geometry_wkt").Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("track %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get track geometry: %w", err)
	}
	return row.GeometryWKT, nil
}

func (s *Store) UpdateTrack(ctx context.Context, id string, p TrackPatch) (track.Track, error) {
	updates := map[string]any{}
	if p.Name != nil {
		updates["name"] = *p.Name
	}
	if p.Color != nil {
		updates["color"] = *p.Color
	}
	if p.Visible != nil {
		updates["visible"] = *p.Visible
	}
	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&trackRow{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return track.Track{}, fmt.Errorf("update track: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return track.Track{}, fmt.Errorf("track %s: %w", id, ErrNotFound)
		}
	}
	return s.GetTrack(ctx, id)
}

func (s *Store) DeleteTrack(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&trackRow{})
	if res.Error != nil {
		return fmt.Errorf("delete track: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("track %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveAnchorAlarm upserts the singleton alarm.
func (s *Store) SaveAnchorAlarm(ctx context.Context, a anchor.Alarm) error {
	row := anchorAlarmRow{
		ID:        currentAlarmID,
		Active:    a.Active,
		OriginLat: a.OriginLat,
		OriginLng: a.OriginLng,
		RadiusM:   a.RadiusM,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save anchor alarm: %w", err)
	}
	return nil
}

func (s *Store) GetAnchorAlarm(ctx context.Context) (anchor.Alarm, error) {
	var row anchorAlarmRow
	err := s.db.WithContext(ctx).Where("id = ?", currentAlarmID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return anchor.Alarm{}, ErrNotFound
	}
	if err != nil {
		return anchor.Alarm{}, fmt.Errorf("get anchor alarm: %w", err)
	}
	return anchor.Alarm{Active: row.Active, OriginLat: row.OriginLat, OriginLng: row.OriginLng, RadiusM: row.RadiusM}, nil
}

func (s *Store) DeleteAnchorAlarm(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("id = ?", currentAlarmID).Delete(&anchorAlarmRow{}).Error; err != nil {
		return fmt.Errorf("delete anchor alarm: %w", err)
	}
	return nil
}
