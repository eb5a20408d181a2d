package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/DeafMist/gazette-radar/backend/internal/config"
	"github.com/DeafMist/gazette-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/gazette-radar/backend/internal/logger"
	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/postgres"
	"github.com/DeafMist/gazette-radar/backend/internal/territories"
)

func main() {
	_ = godotenv.Load()

	log := logger.New("api")
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	db, err := postgres.OpenDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("open database", slog.Any("err", err))
		os.Exit(1)
	}
	list, err := postgres.NewStore(db).LoadTerritories(ctx)
	db.Close()
	if err != nil {
		log.Error("load territories", slog.Any("err", err))
		os.Exit(1)
	}

	srv := newServer(log, cfg, esClient, territories.NewRegistry(list))
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

type searchBackend interface {
	Health(ctx context.Context) error
	SearchExcerpts(ctx context.Context, index string, params elasticsearch.ExcerptSearchParams) (*elasticsearch.ExcerptSearchResult, error)
}

type server struct {
	log      *slog.Logger
	cfg      *config.API
	es       searchBackend
	registry *territories.Registry
	themes   map[string]models.Theme
}

func newServer(log *slog.Logger, cfg *config.API, es searchBackend, registry *territories.Registry) *server {
	byName := make(map[string]models.Theme, len(cfg.Themes))
	for _, t := range cfg.Themes {
		byName[t.Name] = t
	}
	return &server{log: log, cfg: cfg, es: es, registry: registry, themes: byName}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/themes", s.handleThemes)
	r.Get("/themes/{theme}/excerpts", s.handleExcerpts)
	r.Get("/territories", s.handleTerritories)
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

type themeResponse struct {
	Name    string   `json:"name"`
	Queries []string `json:"queries"`
}

type excerptsResponse struct {
	Total int64            `json:"total"`
	Items []models.Excerpt `json:"items"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.es.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleThemes(w http.ResponseWriter, _ *http.Request) {
	out := make([]themeResponse, 0, len(s.cfg.Themes))
	for _, t := range s.cfg.Themes {
		out = append(out, themeResponse{Name: t.Name, Queries: t.NaturalLanguageQueries()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleExcerpts(w http.ResponseWriter, r *http.Request) {
	theme, ok := s.themes[chi.URLParam(r, "theme")]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown theme"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query()
	params := elasticsearch.ExcerptSearchParams{
		Query:       strings.TrimSpace(q.Get("q")),
		TerritoryID: strings.TrimSpace(q.Get("territory_id")),
		StateCode:   strings.TrimSpace(q.Get("state")),
		Subtheme:    strings.TrimSpace(q.Get("subtheme")),
		Start:       parseDate(q.Get("start")),
		End:         parseDate(q.Get("end")),
		MinScore:    parseScore(q.Get("min_score")),
		From:        clampInt(q.Get("from"), 0, 10_000),
		Size:        clampInt(q.Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage),
		Sort:        strings.TrimSpace(q.Get("sort")),
	}

	result, err := s.es.SearchExcerpts(ctx, theme.Index, params)
	if err != nil {
		s.log.Warn("excerpt search failed", slog.String("theme", theme.Name), slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	items := result.Items
	if items == nil {
		items = []models.Excerpt{}
	}
	writeJSON(w, http.StatusOK, excerptsResponse{Total: result.Total, Items: items})
}

func (s *server) handleTerritories(w http.ResponseWriter, r *http.Request) {
	state := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("state")))
	if state != "" {
		list := s.registry.ForState(state)
		if list == nil {
			list = []models.Territory{}
		}
		writeJSON(w, http.StatusOK, list)
		return
	}

	states := s.registry.States()
	sort.Strings(states)
	out := make([]models.Territory, 0, s.registry.Len())
	for _, st := range states {
		out = append(out, s.registry.ForState(st)...)
	}
	writeJSON(w, http.StatusOK, out)
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts
		}
	}
	return nil
}

func parseScore(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
