package abtray

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pkt.systems/abtray/internal/clock"
	"pkt.systems/abtray/internal/pathutil"
	"pkt.systems/abtray/internal/version"
	"pkt.systems/pslog"
)

// StatusPath serves the supervisor status document.
const StatusPath = "/api/v1/abtray/status"

// Status is the supervisor's view of itself. A positive Uptime takes
// precedence over StartedAt.
type Status struct {
	State           string
	StartedAt       time.Time
	Uptime          time.Duration
	ManagedRunning  bool
	TerminateOnExit bool
}

// StatusFunc produces the current Status.
type StatusFunc func(ctx context.Context) Status

type statusResponse struct {
	Version         string  `json:"version"`
	State           string  `json:"state"`
	Uptime          string  `json:"uptime"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	ManagedRunning  bool    `json:"managed_running"`
	TerminateOnExit bool    `json:"terminate_on_exit"`
}

type routerDeps struct {
	logger    pslog.Logger
	registry  *prometheus.Registry
	status    StatusFunc
	clock     clock.Clock
	startedAt time.Time
}

func newRouter(cfg Config, deps routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get(StatusPath, statusHandler(deps))
	r.Handle("/metrics", promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{}))
	r.Get("/posters/*", fileUnder(cfg.PostersDir))

	if pathutil.IsDir(cfg.DistDir) {
		r.Get("/assets/*", fileUnder(filepath.Join(cfg.DistDir, "assets")))
		r.Get("/images/*", fileUnder(filepath.Join(cfg.DistDir, "images")))
		r.Get("/*", spaHandler(cfg.DistDir))
	} else {
		deps.logger.Info("server.dist.missing", "dist", cfg.DistDir, "mode", "development")
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, "/docs", http.StatusFound)
		})
	}
	return r
}

func statusHandler(deps routerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{State: "running", StartedAt: deps.startedAt}
		if deps.status != nil {
			st = deps.status(r.Context())
			if st.StartedAt.IsZero() {
				st.StartedAt = deps.startedAt
			}
		}
		now := deps.clock.Now()
		uptime := st.Uptime
		if uptime <= 0 {
			uptime = now.Sub(st.StartedAt)
		}
		if uptime < 0 {
			uptime = 0
		}
		resp := statusResponse{
			Version:         version.Current(),
			State:           st.State,
			Uptime:          strings.TrimSpace(humanize.RelTime(now.Add(-uptime), now, "", "")),
			UptimeSeconds:   uptime.Seconds(),
			ManagedRunning:  st.ManagedRunning,
			TerminateOnExit: st.TerminateOnExit,
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			deps.logger.Warn("server.status.encode_failed", "error", err)
		}
	}
}

// resolveUnder maps a URL wildcard onto root without escaping it.
func resolveUnder(root, rel string) string {
	cleaned := path.Clean("/" + rel)
	return filepath.Join(root, filepath.FromSlash(cleaned))
}

func fileUnder(root string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := resolveUnder(root, chi.URLParam(r, "*"))
		if !pathutil.IsFile(p) {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, p)
	}
}

// spaHandler serves top-level files of dist by name and index.html for
// everything else so client-side routes resolve.
func spaHandler(dist string) http.HandlerFunc {
	index := filepath.Join(dist, "index.html")
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "*")
		if name != "" && !strings.Contains(name, "/") && name != "index.html" {
			if p := resolveUnder(dist, name); pathutil.IsFile(p) {
				http.ServeFile(w, r, p)
				return
			}
		}
		if !pathutil.IsFile(index) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, index)
	}
}
