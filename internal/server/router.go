package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/l0p7/recipectl/internal/favorites"
	"github.com/l0p7/recipectl/internal/governor"
	"github.com/l0p7/recipectl/internal/recipe"
	"github.com/l0p7/recipectl/internal/session"
	"github.com/l0p7/recipectl/internal/storage"
	"github.com/l0p7/recipectl/internal/templates"
)

const maxBodyBytes = 1 << 20

// Searcher is the governor surface the router needs.
type Searcher interface {
	Search(ctx context.Context, query string, filters recipe.FilterSet) (governor.Result, error)
	Status() governor.Status
}

// FavoriteStore is the favorites surface the router needs.
type FavoriteStore interface {
	List(ctx context.Context, userID string) ([]recipe.Recipe, error)
	Count(ctx context.Context, userID string) (int, error)
	Toggle(ctx context.Context, userID string, r recipe.Recipe) (favorites.Toggle, error)
	IsFavorite(ctx context.Context, userID, uri string) (bool, error)
	Remove(ctx context.Context, userID, uri string) (bool, error)
}

// Handoff is the session surface the router needs.
type Handoff interface {
	Put(ctx context.Context, r recipe.Recipe) (string, error)
	Get(ctx context.Context, handle string) (recipe.Recipe, error)
	Release(ctx context.Context, handle string) error
}

type RouterOptions struct {
	Governor  Searcher
	Favorites FavoriteStore
	Sessions  Handoff
	Notices   *templates.Notices
	// Metrics serves /metrics when set.
	Metrics    http.Handler
	UserHeader string
	Logger     *slog.Logger
}

type router struct {
	governor   Searcher
	favorites  FavoriteStore
	sessions   Handoff
	notices    *templates.Notices
	userHeader string
	logger     *slog.Logger
}

// NewRouter mounts the search, favorites, handoff and diagnostics routes.
func NewRouter(opts RouterOptions) (http.Handler, error) {
	if opts.Governor == nil {
		return nil, errors.New("server: governor required")
	}
	if opts.Favorites == nil {
		return nil, errors.New("server: favorites required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("server: sessions required")
	}
	notices := opts.Notices
	if notices == nil {
		var err error
		if notices, err = templates.NewNotices(nil, templates.Options{}); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userHeader := strings.TrimSpace(opts.UserHeader)
	if userHeader == "" {
		userHeader = "X-User-Email"
	}

	rt := &router{
		governor:   opts.Governor,
		favorites:  opts.Favorites,
		sessions:   opts.Sessions,
		notices:    notices,
		userHeader: userHeader,
		logger:     logger.With(slog.String("agent", "http")),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(rt.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/search", rt.handleSearch)
	r.Route("/favorites", func(r chi.Router) {
		r.Get("/", rt.handleListFavorites)
		r.Delete("/", rt.handleRemoveFavorite)
		r.Post("/toggle", rt.handleToggleFavorite)
		r.Get("/check", rt.handleCheckFavorite)
		r.Get("/count", rt.handleCountFavorites)
	})
	r.Post("/handoff", rt.handlePutHandoff)
	r.Get("/handoff/{handle}", rt.handleGetHandoff)
	r.Delete("/handoff/{handle}", rt.handleReleaseHandoff)
	r.Get("/status", rt.handleStatus)
	r.Get("/healthz", rt.handleHealth)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rt.writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		rt.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r, nil
}

type searchResponse struct {
	Query     string       `json:"query"`
	Hits      []recipe.Hit `json:"hits"`
	FromCache bool         `json:"fromCache"`
	Remaining int          `json:"remaining"`
	Notice    string       `json:"notice"`
}

type errorResponse struct {
	Kind        string   `json:"kind"`
	Title       string   `json:"title,omitempty"`
	Message     string   `json:"message"`
	Tips        []string `json:"tips,omitempty"`
	WaitSeconds int      `json:"waitSeconds,omitempty"`
	Source      string   `json:"source,omitempty"`
	Status      int      `json:"status,omitempty"`
}

func (rt *router) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters, err := recipe.FilterSetFromMap(map[string]string{
		recipe.FilterDiet:     q.Get("diet"),
		recipe.FilterHealth:   q.Get("health"),
		recipe.FilterCuisine:  firstNonEmpty(q.Get("cuisine"), q.Get("cuisineType")),
		recipe.FilterMealType: q.Get("mealType"),
	})
	if err != nil {
		rt.writeError(w, http.StatusBadRequest, string(governor.KindInvalidInput), err.Error())
		return
	}

	query := q.Get("q")
	result, err := rt.governor.Search(r.Context(), query, filters)
	if err != nil {
		rt.writeSearchError(w, err)
		return
	}

	notice, err := rt.notices.Success(query, result)
	if err != nil {
		rt.logger.Warn("notice render failed", slog.Any("error", err))
	}
	remaining := result.Remaining
	if result.FromCache {
		remaining = rt.governor.Status().Remaining
	}
	hits := result.Hits
	if hits == nil {
		hits = []recipe.Hit{}
	}
	rt.writeJSON(w, http.StatusOK, searchResponse{
		Query:     strings.TrimSpace(query),
		Hits:      hits,
		FromCache: result.FromCache,
		Remaining: remaining,
		Notice:    notice,
	})
}

func (rt *router) writeSearchError(w http.ResponseWriter, err error) {
	var searchErr *governor.SearchError
	if !errors.As(err, &searchErr) {
		rt.logger.Error("search failed", slog.Any("error", err))
		rt.writeError(w, http.StatusInternalServerError, "internal", "search failed")
		return
	}

	resp := errorResponse{
		Kind:        string(searchErr.Kind),
		Message:     searchErr.Error(),
		WaitSeconds: searchErr.WaitSeconds,
		Source:      string(searchErr.Source),
		Status:      searchErr.Status,
	}
	if panel, renderErr := rt.notices.ForError(err); renderErr == nil {
		resp.Title = panel.Title
		resp.Message = panel.Detail
		resp.Tips = panel.Tips
	} else {
		rt.logger.Warn("error panel render failed", slog.Any("error", renderErr))
	}

	status := statusForKind(searchErr.Kind)
	if searchErr.Kind == governor.KindRateLimited && searchErr.WaitSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(searchErr.WaitSeconds))
	}
	rt.writeJSON(w, status, resp)
}

func statusForKind(kind governor.Kind) int {
	switch kind {
	case governor.KindInvalidInput:
		return http.StatusBadRequest
	case governor.KindRateLimited:
		return http.StatusTooManyRequests
	case governor.KindNetwork:
		return http.StatusServiceUnavailable
	default:
		// Authentication, missing endpoint and unexpected statuses are all
		// provider-side faults from the caller's point of view.
		return http.StatusBadGateway
	}
}

func (rt *router) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	user := rt.user(r)
	list, err := rt.favorites.List(r.Context(), user)
	if err != nil {
		rt.writeFavoritesError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{
		"favorites": list,
		"count":     len(list),
	})
}

func (rt *router) handleCountFavorites(w http.ResponseWriter, r *http.Request) {
	count, err := rt.favorites.Count(r.Context(), rt.user(r))
	if err != nil {
		rt.writeFavoritesError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (rt *router) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	item, ok := rt.decodeRecipe(w, r)
	if !ok {
		return
	}
	action, err := rt.favorites.Toggle(r.Context(), rt.user(r), item)
	if err != nil {
		rt.writeFavoritesError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{
		"uri":    item.URI,
		"action": action,
	})
}

func (rt *router) handleCheckFavorite(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	saved, err := rt.favorites.IsFavorite(r.Context(), rt.user(r), uri)
	if err != nil {
		rt.writeFavoritesError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{
		"uri":      uri,
		"favorite": saved,
	})
}

func (rt *router) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	removed, err := rt.favorites.Remove(r.Context(), rt.user(r), uri)
	if err != nil {
		rt.writeFavoritesError(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{
		"uri":     uri,
		"removed": removed,
	})
}

func (rt *router) writeFavoritesError(w http.ResponseWriter, err error) {
	var persistErr *favorites.PersistenceError
	switch {
	case errors.Is(err, favorites.ErrUserRequired):
		rt.writeError(w, http.StatusUnauthorized, "user_required", fmt.Sprintf("sign in required (%s header missing)", rt.userHeader))
	case errors.Is(err, favorites.ErrRecipeURIRequired):
		rt.writeError(w, http.StatusBadRequest, "invalid_input", "recipe uri required")
	case errors.As(err, &persistErr):
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrQuotaExceeded) {
			status = http.StatusInsufficientStorage
		}
		rt.logger.Warn("favorites write failed", slog.Any("error", err))
		rt.writeError(w, status, "persistence", "favorites could not be saved")
	default:
		rt.logger.Error("favorites failed", slog.Any("error", err))
		rt.writeError(w, http.StatusInternalServerError, "internal", "favorites unavailable")
	}
}

func (rt *router) handlePutHandoff(w http.ResponseWriter, r *http.Request) {
	item, ok := rt.decodeRecipe(w, r)
	if !ok {
		return
	}
	handle, err := rt.sessions.Put(r.Context(), item)
	if err != nil {
		rt.writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	rt.writeJSON(w, http.StatusCreated, map[string]string{"handle": handle})
}

func (rt *router) handleGetHandoff(w http.ResponseWriter, r *http.Request) {
	item, err := rt.sessions.Get(r.Context(), chi.URLParam(r, "handle"))
	if err != nil {
		if errors.Is(err, session.ErrHandleNotFound) {
			rt.writeError(w, http.StatusNotFound, "not_found", "handoff not found")
			return
		}
		rt.logger.Error("handoff lookup failed", slog.Any("error", err))
		rt.writeError(w, http.StatusInternalServerError, "internal", "handoff unavailable")
		return
	}
	rt.writeJSON(w, http.StatusOK, item)
}

// handleReleaseHandoff is idempotent; unknown handles also answer 204.
func (rt *router) handleReleaseHandoff(w http.ResponseWriter, r *http.Request) {
	if err := rt.sessions.Release(r.Context(), chi.URLParam(r, "handle")); err != nil {
		rt.logger.Error("handoff release failed", slog.Any("error", err))
		rt.writeError(w, http.StatusInternalServerError, "internal", "handoff unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *router) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := rt.governor.Status()
	rt.writeJSON(w, http.StatusOK, map[string]any{
		"remaining":       status.Remaining,
		"maxRequests":     status.MaxRequests,
		"windowSeconds":   int(status.Window / time.Second),
		"nextSlotSeconds": int(math.Ceil(status.NextSlot.Seconds())),
	})
}

func (rt *router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	rt.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *router) user(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(rt.userHeader))
}

func (rt *router) decodeRecipe(w http.ResponseWriter, r *http.Request) (recipe.Recipe, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		rt.writeError(w, http.StatusRequestEntityTooLarge, "invalid_input", "request body too large")
		return recipe.Recipe{}, false
	}
	var item recipe.Recipe
	if err := json.Unmarshal(body, &item); err != nil {
		rt.writeError(w, http.StatusBadRequest, "invalid_input", "request body must be a recipe object")
		return recipe.Recipe{}, false
	}
	return item, true
}

func (rt *router) writeError(w http.ResponseWriter, status int, kind, message string) {
	rt.writeJSON(w, status, errorResponse{Kind: kind, Message: message})
}

func (rt *router) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		rt.logger.Error("response encode failed", slog.Any("error", err))
	}
}

func (rt *router) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		rt.logger.Debug("request served",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
