package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/org-directory/internal/cache"
	"github.com/sells-group/org-directory/internal/checkpoint"
	"github.com/sells-group/org-directory/internal/model"
	"github.com/sells-group/org-directory/internal/monitoring"
	"github.com/sells-group/org-directory/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ckpt, err := openCheckpoints()
		if err != nil {
			return err
		}
		backend, err := openCache()
		if err != nil {
			return err
		}
		if backend != nil {
			defer backend.Close() //nolint:errcheck
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		mc := cfg.Monitoring
		api := &statusAPI{
			ckpt:      ckpt,
			cache:     backend,
			store:     st,
			collector: monitoring.NewCollector(st),
			alerter:   monitoring.NewAlerter(mc),
			lookback:  mc.LookbackWindowHours,
		}
		if mc.Enabled {
			go monitoring.NewChecker(api.collector, api.alerter, mc).Run(ctx)
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(api, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// statusAPI serves checkpoint, cache and run state. cache may be nil.
type statusAPI struct {
	ckpt      *checkpoint.Store
	cache     cache.Backend
	store     store.Store
	collector *monitoring.Collector
	alerter   *monitoring.Alerter
	lookback  int
}

func buildRouter(api *statusAPI, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", api.health)
	r.Route("/checkpoints", func(r chi.Router) {
		r.Get("/", api.listCheckpoints)
		r.Delete("/{name}", api.clearCheckpoint)
	})
	r.Delete("/cache/{source}", api.clearCache)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", api.listRuns)
		r.Get("/{id}", api.getRun)
	})
	r.Get("/monitoring", api.monitorStatus)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *statusAPI) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *statusAPI) listCheckpoints(w http.ResponseWriter, _ *http.Request) {
	infos, err := a.ckpt.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if infos == nil {
		infos = []checkpoint.Info{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (a *statusAPI) clearCheckpoint(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !a.ckpt.Exists(name) {
		writeError(w, http.StatusNotFound, eris.Errorf("checkpoint %q not found", name))
		return
	}
	if err := a.ckpt.Clear(name); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cleared": name})
}

func (a *statusAPI) clearCache(w http.ResponseWriter, r *http.Request) {
	if a.cache == nil {
		writeError(w, http.StatusConflict, eris.New("cache is disabled"))
		return
	}
	source := chi.URLParam(r, "source")
	n, err := a.cache.Clear(r.Context(), source)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "removed": n})
}

func (a *statusAPI) listRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{Status: model.RunStatus(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, eris.Errorf("invalid limit %q", v))
			return
		}
		filter.Limit = n
	}
	runs, err := a.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *statusAPI) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if eris.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	phases, err := a.store.ListPhases(r.Context(), run.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runDetail{Run: run, Phases: phases})
}

// monitorStatus reports the current run health snapshot and the alerts it
// would raise, without sending them.
func (a *statusAPI) monitorStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := a.collector.Collect(r.Context(), a.lookback)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	alerts := a.alerter.Evaluate(snap)
	if alerts == nil {
		alerts = []monitoring.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshot": snap, "alerts": alerts})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		zap.L().Error("status api", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
