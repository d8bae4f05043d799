package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"singrar/internal/alert"
	"singrar/internal/anchor"
	"singrar/internal/gps"
	"singrar/internal/logging"
	"singrar/internal/metrics"
	"singrar/internal/radar"
	"singrar/internal/session"
	"singrar/internal/store"
	"singrar/internal/track"
)

// TrackStore is the saved-track side of the API.
type TrackStore interface {
	ListTracks(ctx context.Context) ([]store.TrackSummary, error)
	GetTrack(ctx context.Context, id string) (track.Track, error)
	TrackGeometry(ctx context.Context, id string) (string, error)
	UpdateTrack(ctx context.Context, id string, p store.TrackPatch) (track.Track, error)
	DeleteTrack(ctx context.Context, id string) error
}

// BannerSource lists recently rendered alerts.
type BannerSource interface {
	Banners() []alert.Banner
}

type Deps struct {
	Session *session.Session
	Tracks  TrackStore
	Alerts  BannerSource
	Logs    *logging.LogBuffer
	Status  *Status
	// DefaultAnchorRadiusM is used when a drop request carries no radius.
	DefaultAnchorRadiusM float64
	Logger               zerolog.Logger
}

const maxBodyBytes = 64 << 10

func Handler(d Deps) http.Handler {
	if d.Status == nil {
		d.Status = NewStatus()
	}
	log := d.Logger.With().Str("component", "web").Logger()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Status.Snapshot(time.Now().UTC(), d.Session))
	})
	mux.HandleFunc("GET /api/about", about)

	mux.HandleFunc("POST /api/anchor/drop", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			RadiusM *float64 `json:"radius_m"`
		}
		if !decodeBody(w, r, &in) {
			return
		}
		radius := d.DefaultAnchorRadiusM
		if in.RadiusM != nil {
			radius = *in.RadiusM
		}
		a, err := d.Session.DropAnchor(r.Context(), radius)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	})
	mux.HandleFunc("POST /api/anchor/raise", func(w http.ResponseWriter, r *http.Request) {
		d.Session.RaiseAnchor(r.Context())
		writeOK(w, true)
	})
	mux.HandleFunc("POST /api/anchor/dismiss", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, d.Session.DismissAnchorAlarm())
	})

	mux.HandleFunc("POST /api/track/start", func(w http.ResponseWriter, r *http.Request) {
		d.Session.StartRecording()
		writeOK(w, true)
	})
	mux.HandleFunc("POST /api/track/stop", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &in) {
			return
		}
		t, err := d.Session.StopRecording(r.Context(), in.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	})

	mux.HandleFunc("GET /api/tracks", func(w http.ResponseWriter, r *http.Request) {
		list, err := d.Tracks.ListTracks(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Tracks []store.TrackSummary `json:"tracks"`
		}{list})
	})
	mux.HandleFunc("GET /api/tracks/{id}", func(w http.ResponseWriter, r *http.Request) {
		t, err := d.Tracks.GetTrack(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	})
	mux.HandleFunc("GET /api/tracks/{id}/geometry", func(w http.ResponseWriter, r *http.Request) {
		wkt, err := d.Tracks.TrackGeometry(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, wkt+"\n")
	})
	mux.HandleFunc("PATCH /api/tracks/{id}", func(w http.ResponseWriter, r *http.Request) {
		var p store.TrackPatch
		if !decodeBody(w, r, &p) {
			return
		}
		t, err := d.Tracks.UpdateTrack(r.Context(), r.PathValue("id"), p)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	})
	mux.HandleFunc("DELETE /api/tracks/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Tracks.DeleteTrack(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/collision/cancel", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, d.Session.CancelCountdown())
	})
	mux.HandleFunc("POST /api/collision/clear", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, d.Session.ClearEmergency())
	})
	mux.HandleFunc("POST /api/collision/emergency", func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, d.Session.DeclareEmergency())
	})

	mux.HandleFunc("POST /api/radar", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Enabled  *bool   `json:"enabled"`
			Identity *string `json:"identity"`
		}
		if !decodeBody(w, r, &in) {
			return
		}
		if in.Identity != nil {
			if err := d.Session.SetIdentity(r.Context(), *in.Identity); err != nil {
				writeError(w, err)
				return
			}
		}
		if in.Enabled != nil {
			if err := d.Session.SetRadarEnabled(r.Context(), *in.Enabled); err != nil {
				writeError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, d.Session.Snapshot().Gating)
	})
	mux.HandleFunc("POST /api/offline", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Offline bool `json:"offline"`
		}
		if !decodeBody(w, r, &in) {
			return
		}
		if err := d.Session.SetOffline(r.Context(), in.Offline); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d.Session.Snapshot().Gating)
	})

	mux.HandleFunc("POST /api/position/refresh", func(w http.ResponseWriter, r *http.Request) {
		p, err := d.Session.ForceRefresh(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})

	mux.HandleFunc("GET /api/alerts", func(w http.ResponseWriter, r *http.Request) {
		var banners []alert.Banner
		if d.Alerts != nil {
			banners = d.Alerts.Banners()
		}
		if banners == nil {
			banners = []alert.Banner{}
		}
		writeJSON(w, http.StatusOK, struct {
			Alerts []alert.Banner `json:"alerts"`
		}{banners})
	})

	if d.Logs != nil {
		mux.HandleFunc("GET /api/logs", logsHandler(d.Logs))
	}
	mux.Handle("GET /metrics", metrics.Handler())

	return logRequests(log, mux)
}

func logRequests(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("request")
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

// writeOK reports whether the action changed anything.
func writeOK(w http.ResponseWriter, changed bool) {
	writeJSON(w, http.StatusOK, struct {
		OK      bool `json:"ok"`
		Changed bool `json:"changed"`
	}{true, changed})
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, anchor.ErrInvalidGeofence):
		code = http.StatusBadRequest
	case errors.Is(err, anchor.ErrNoPosition), errors.Is(err, track.ErrNotRecording):
		code = http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, gps.ErrSensorUnavailable):
		code = http.StatusServiceUnavailable
	case errors.Is(err, gps.ErrSensorTimeout):
		code = http.StatusGatewayTimeout
	case errors.Is(err, radar.ErrTransportDisconnected):
		code = http.StatusBadGateway
	}
	writeJSON(w, code, struct {
		Error string `json:"error"`
	}{err.Error()})
}

func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
